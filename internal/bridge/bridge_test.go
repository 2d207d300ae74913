package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/oprelay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/oprelay/internal/pagebus"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
)

// fakeUpstream records dispatched messages. When answer is set every
// message is answered asynchronously; otherwise replies are held for the
// test to deliver.
type fakeUpstream struct {
	mu      sync.Mutex
	msgs    []protocol.BridgeMessage
	replies []func(protocol.BridgeReply)
	answer  func(protocol.BridgeMessage) protocol.BridgeReply
}

func (f *fakeUpstream) Dispatch(msg protocol.BridgeMessage, reply func(protocol.BridgeReply)) {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.replies = append(f.replies, reply)
	answer := f.answer
	f.mu.Unlock()

	if answer != nil {
		go reply(answer(msg))
	}
}

func (f *fakeUpstream) dispatched() []protocol.BridgeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.BridgeMessage(nil), f.msgs...)
}

func (f *fakeUpstream) reply(i int) func(protocol.BridgeReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replies[i]
}

func newTestBridge(t *testing.T, up *fakeUpstream, clk clock.Clock, m *monitoring.Metrics) *Bridge {
	t.Helper()
	b, err := New(Config{Upstream: up, Clock: clk, Metrics: m})
	require.NoError(t, err)
	return b
}

func okAnswer(protocol.BridgeMessage) protocol.BridgeReply {
	return protocol.BridgeReply{Result: "ok"}
}

func TestNew_RequiresUpstream(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestRegister_DuplicateNamesKeepEveryHandle(t *testing.T) {
	b := newTestBridge(t, &fakeUpstream{}, clock.NewMock(), nil)

	first, ok := b.Register("req_1", "widgetA", map[string]any{"width": 100})
	require.True(t, ok)
	second, ok := b.Register("req_2", "widgetA", nil)
	require.True(t, ok)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, b.Registry().ByName("widgetA"), 2)
	assert.Equal(t, 2, b.Registry().Len())

	latest, ok := b.Registry().Lookup("widgetA")
	require.True(t, ok)
	assert.Equal(t, second.ID, latest.ID)

	got, ok := b.Registry().Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, 100, got.Options["width"])
}

func TestRegister_AnswersRequestIDOnce(t *testing.T) {
	m := monitoring.NewMetrics()
	b := newTestBridge(t, &fakeUpstream{}, clock.NewMock(), m)

	_, ok := b.Register("req_1", "widgetA", nil)
	require.True(t, ok)
	h, ok := b.Register("req_1", "widgetA", nil)
	assert.False(t, ok)
	assert.Nil(t, h)

	assert.Equal(t, 1, b.Registry().Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Registrations))
}

func TestRelayInvoke_Success(t *testing.T) {
	up := &fakeUpstream{answer: okAnswer}
	b := newTestBridge(t, up, clock.New(), nil)
	b.Register("req_1", "widgetA", nil)

	env := protocol.NewRequest(protocol.KindInvoke, "widgetA", map[string]any{
		"method": "customMethod",
		"args":   []any{"x", 2},
	})
	resp := b.RelayInvoke(context.Background(), env)

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, env.RequestID, resp.RequestID)
	assert.Equal(t, "ok", resp.Result)

	msgs := up.dispatched()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.KindInvoke, msgs[0].Op)
	assert.Equal(t, "widgetA", msgs[0].AppletName)
	assert.Equal(t, "customMethod", msgs[0].Method)
	assert.Equal(t, []any{"x", 2}, msgs[0].Args)
	assert.Equal(t, env.RequestID, msgs[0].RequestID)
}

func TestRelayInvoke_LocalMethods(t *testing.T) {
	up := &fakeUpstream{answer: okAnswer}
	b := newTestBridge(t, up, clock.NewMock(), nil)

	tests := []struct {
		method string
		want   any
	}{
		{protocol.MethodIsSupported, false},
		{protocol.MethodThen, nil},
		{protocol.MethodCatch, nil},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			env := protocol.NewRequest(protocol.KindInvoke, "widgetA", map[string]any{"method": tt.method})
			resp := b.RelayInvoke(context.Background(), env)
			assert.True(t, resp.Success)
			assert.Equal(t, tt.want, resp.Result)
		})
	}

	assert.Empty(t, up.dispatched())
	assert.Zero(t, b.Registry().Len())
}

func TestRelayInvoke_UnknownTargetIsRegistered(t *testing.T) {
	m := monitoring.NewMetrics()
	b := newTestBridge(t, &fakeUpstream{answer: okAnswer}, clock.New(), m)

	env := protocol.NewRequest(protocol.KindInvoke, "ghost", map[string]any{"method": "getVersion"})
	resp := b.RelayInvoke(context.Background(), env)
	require.True(t, resp.Success)

	h, ok := b.Registry().Lookup("ghost")
	require.True(t, ok)
	assert.True(t, h.Auto)
	assert.Empty(t, h.Options)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AutoRegistered))
}

func TestRelayInvoke_RemoteError(t *testing.T) {
	up := &fakeUpstream{answer: func(protocol.BridgeMessage) protocol.BridgeReply {
		return protocol.BridgeReply{Error: "no such method", Code: protocol.CodeRemote}
	}}
	b := newTestBridge(t, up, clock.New(), nil)

	env := protocol.NewRequest(protocol.KindInvoke, "widgetA", map[string]any{"method": "nope"})
	resp := b.RelayInvoke(context.Background(), env)

	assert.False(t, resp.Success)
	assert.Equal(t, protocol.CodeRemote, resp.Code)
	var remote *protocol.RemoteError
	assert.ErrorAs(t, resp.Err(), &remote)
}

func TestRelayInvoke_TimeoutAndLateResponse(t *testing.T) {
	mock := clock.NewMock()
	m := monitoring.NewMetrics()
	up := &fakeUpstream{}
	b := newTestBridge(t, up, mock, m)

	env := protocol.NewRequest(protocol.KindInvoke, "widgetA", map[string]any{"method": "slowMethod"})
	done := make(chan *protocol.ResponseEnvelope, 1)
	go func() { done <- b.RelayInvoke(context.Background(), env) }()

	// the deadline is armed before the message is dispatched
	require.Eventually(t, func() bool { return len(up.dispatched()) == 1 }, time.Second, time.Millisecond)

	mock.Add(4999 * time.Millisecond)
	select {
	case resp := <-done:
		t.Fatalf("settled before the deadline: %+v", resp)
	default:
	}

	mock.Add(time.Millisecond)
	var resp *protocol.ResponseEnvelope
	require.Eventually(t, func() bool {
		select {
		case resp = <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	assert.False(t, resp.Success)
	assert.Equal(t, protocol.CodeTimeout, resp.Code)
	assert.ErrorIs(t, resp.Err(), protocol.ErrTimeout)

	// the backend finally answers; nothing changes
	up.reply(0)(protocol.BridgeReply{Result: "too late"})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StaleResponses.WithLabelValues("bridge")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.PendingCalls.WithLabelValues("bridge")))
}

func TestRelayInvoke_ContextCancelled(t *testing.T) {
	b := newTestBridge(t, &fakeUpstream{}, clock.NewMock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env := protocol.NewRequest(protocol.KindInvoke, "widgetA", map[string]any{"method": "m"})
	resp := b.RelayInvoke(ctx, env)
	assert.False(t, resp.Success)
}

func TestUnloadAll(t *testing.T) {
	up := &fakeUpstream{answer: func(msg protocol.BridgeMessage) protocol.BridgeReply {
		if msg.AppletName == "broken" {
			return protocol.BridgeReply{Error: "unload failed", Code: protocol.CodeRemote}
		}
		return protocol.BridgeReply{Result: "unloaded"}
	}}
	b := newTestBridge(t, up, clock.New(), nil)
	b.Register("req_1", "widgetA", nil)
	b.Register("req_2", "widgetA", nil)
	b.Register("req_3", "broken", nil)

	err := b.UnloadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unload failed")

	msgs := up.dispatched()
	require.Len(t, msgs, 2)
	names := []string{msgs[0].AppletName, msgs[1].AppletName}
	assert.ElementsMatch(t, []string{"widgetA", "broken"}, names)
	for _, msg := range msgs {
		assert.Equal(t, protocol.KindUnload, msg.Op)
		assert.NotEmpty(t, msg.RequestID)
	}
}

func TestServe(t *testing.T) {
	up := &fakeUpstream{answer: okAnswer}
	b := newTestBridge(t, up, clock.New(), nil)
	bus := pagebus.New(0, nil)
	defer bus.Close()

	page := bus.Subscribe()
	defer page.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Serve(ctx, bus)

	next := func(typ pagebus.MessageType) pagebus.Message {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case msg := <-page.C:
				if msg.Type == typ {
					return msg
				}
			case <-timeout:
				t.Fatalf("no %s message", typ)
			}
		}
	}

	next(pagebus.TypeReady)

	bus.Post(pagebus.Message{Type: pagebus.TypeRegisterRequest, RequestID: "reg_1", AppletName: "widgetA"})
	reg := next(pagebus.TypeRegisterResponse)
	assert.Equal(t, "reg_1", reg.RequestID)
	assert.True(t, reg.Success)
	assert.NotEmpty(t, reg.HandleID)

	bus.Post(pagebus.Message{
		Type:       pagebus.TypeInvokeRequest,
		RequestID:  "req_1",
		AppletName: "widgetA",
		Method:     "customMethod",
	})
	inv := next(pagebus.TypeInvokeResponse)
	assert.Equal(t, "req_1", inv.RequestID)
	assert.True(t, inv.Success)
	assert.Equal(t, "ok", inv.Result)
	assert.NoError(t, inv.Err())
}
