package ws

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/oprelay/internal/pagebus"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/relay"
	"github.com/GriffinCanCode/oprelay/internal/shared/id"
)

type recordingUpstream struct {
	mu   sync.Mutex
	msgs []protocol.BridgeMessage
}

func (u *recordingUpstream) Dispatch(msg protocol.BridgeMessage, reply func(protocol.BridgeReply)) {
	u.mu.Lock()
	u.msgs = append(u.msgs, msg)
	u.mu.Unlock()
	go reply(protocol.BridgeReply{Result: "ok"})
}

func (u *recordingUpstream) ops() []protocol.Kind {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]protocol.Kind, 0, len(u.msgs))
	for _, m := range u.msgs {
		out = append(out, m.Op)
	}
	return out
}

func startPageServer(t *testing.T, up *recordingUpstream) (*Handler, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewHandler(Config{Upstream: up})

	router := gin.New()
	router.GET("/page", h.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/page"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

// next reads until a message of type typ arrives.
func next(t *testing.T, conn *websocket.Conn, typ pagebus.MessageType) pagebus.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg pagebus.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestPageSession(t *testing.T) {
	up := &recordingUpstream{}
	h, url := startPageServer(t, up)

	conn := dial(t, url)
	next(t, conn, pagebus.TypeReady)
	assert.Equal(t, 1, h.Hub().Sessions())

	require.NoError(t, conn.WriteJSON(pagebus.Message{
		Type:       pagebus.TypeRegisterRequest,
		RequestID:  "reg_1",
		AppletName: "widgetA",
	}))
	reg := next(t, conn, pagebus.TypeRegisterResponse)
	assert.Equal(t, "reg_1", reg.RequestID)
	assert.NotEmpty(t, reg.HandleID)

	require.NoError(t, conn.WriteJSON(pagebus.Message{
		Type:       pagebus.TypeInvokeRequest,
		RequestID:  "req_1",
		AppletName: "widgetA",
		Method:     "customMethod",
		Args:       []any{42},
	}))
	inv := next(t, conn, pagebus.TypeInvokeResponse)
	assert.Equal(t, "req_1", inv.RequestID)
	assert.True(t, inv.Success)
	assert.Equal(t, "ok", inv.Result)

	// closing the page unloads what it registered
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool {
		return h.Hub().Sessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		ops := up.ops()
		return len(ops) == 2 && ops[1] == protocol.KindUnload
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPageSession_ControlMessages(t *testing.T) {
	_, url := startPageServer(t, &recordingUpstream{})
	conn := dial(t, url)
	defer conn.Close()
	next(t, conn, pagebus.TypeReady)

	require.NoError(t, conn.WriteJSON(pagebus.Message{Type: typePing}))
	next(t, conn, typePong)

	require.NoError(t, conn.WriteJSON(pagebus.Message{Type: "launch-rockets", RequestID: "x"}))
	e := next(t, conn, typeError)
	assert.Contains(t, e.Error, "launch-rockets")

	require.NoError(t, conn.WriteJSON(pagebus.Message{Type: pagebus.TypeInvokeRequest, Method: "m"}))
	e = next(t, conn, typeError)
	assert.Contains(t, e.Error, "requestId")
}

func TestHubRoutesResultsToIssuingPage(t *testing.T) {
	hub := NewHub()
	up := &recordingUpstream{}

	firstBus, secondBus := pagebus.New(0, nil), pagebus.New(0, nil)
	first, second := firstBus.Subscribe(), secondBus.Subscribe()
	firstPage, secondPage := id.NewPageID(), id.NewPageID()
	hub.add(firstPage, firstBus)
	hub.add(secondPage, secondBus)

	replies := make(chan protocol.BridgeReply, 1)
	hub.Upstream(firstPage, up).Dispatch(protocol.BridgeMessage{
		Op:         protocol.KindUnload,
		AppletName: "clock",
		RequestID:  "req_10",
	}, func(r protocol.BridgeReply) { replies <- r })
	<-replies
	assert.Equal(t, []protocol.Kind{protocol.KindUnload}, up.ops())

	hub.UnloadResult(relay.Result{Name: "clock", RequestID: "req_10", Success: false, Message: "not loaded"})
	hub.LoadResult(relay.Result{Name: "clock", RequestID: "req_api", Success: true, Message: "loaded"})

	require.Len(t, first.C, 1)
	unload := <-first.C
	assert.Equal(t, pagebus.TypeUnloadResult, unload.Type)
	assert.Equal(t, "clock", unload.AppletName)
	assert.False(t, unload.Success)
	assert.Equal(t, "not loaded", unload.Error)
	assert.Len(t, second.C, 0, "other pages must not see the result")

	// each result is delivered once
	hub.UnloadResult(relay.Result{Name: "clock", RequestID: "req_10", Success: true})
	assert.Len(t, first.C, 0)

	// results for a page that went away are dropped
	hub.Upstream(secondPage, up).Dispatch(protocol.BridgeMessage{
		Op:         protocol.KindLoad,
		AppletName: "clock",
		RequestID:  "req_11",
	}, func(r protocol.BridgeReply) { replies <- r })
	<-replies
	hub.remove(secondPage)
	hub.LoadResult(relay.Result{Name: "clock", RequestID: "req_11", Success: true})
	assert.Len(t, second.C, 0)
	assert.Len(t, first.C, 0)
}
