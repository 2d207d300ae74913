package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/settings"
)

func settingsFor(t *testing.T, rawURL string) settings.Settings {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	s := settings.Defaults()
	s.Host = u.Hostname()
	s.Port = port
	s.PersonalToken = "tkn"
	return s
}

func TestParseReply(t *testing.T) {
	reply, err := ParseReply([]byte(`{"message":"loaded","succeed":true,"errorcode":0}`))
	require.NoError(t, err)
	assert.True(t, reply.Succeed)
	assert.Equal(t, "loaded", reply.Value())
	assert.NoError(t, reply.Err())

	reply, err = ParseReply([]byte(`{"success":true,"result":"ok"}`))
	require.NoError(t, err)
	assert.True(t, reply.Succeed)
	assert.Equal(t, "ok", reply.Value())

	reply, err = ParseReply([]byte(`{"message":"no such applet","succeed":false,"errorcode":7000}`))
	require.NoError(t, err)
	var remote *protocol.RemoteError
	require.True(t, errors.As(reply.Err(), &remote))
	assert.Equal(t, CodeGeneralError, remote.Code)

	_, err = ParseReply([]byte(`<html>`))
	assert.ErrorIs(t, err, protocol.ErrTransportError)
}

func TestHTTPGatewaySend(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/oplauncher-op", r.URL.Path)
		assert.Equal(t, "tkn", r.Header.Get(TokenHeader))
		body, _ := io.ReadAll(r.Body)

		switch string(body) {
		case `{"op":"fail"}`:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"rejected","succeed":false,"errorcode":7005}`))
		case `{"op":"html"}`:
			w.Write([]byte(`<html>oops</html>`))
		default:
			w.Write([]byte(`{"message":"ok","succeed":true,"errorcode":0}`))
		}
	}))
	defer srv.Close()

	gw := NewHTTP(HTTPConfig{Timeout: time.Second})
	defer gw.Close()
	s := settingsFor(t, srv.URL)
	ctx := context.Background()

	reply, err := gw.Send(ctx, &Outbound{RequestID: "req_1", Body: []byte(`{"op":"invoke_method"}`), Settings: s})
	require.NoError(t, err)
	assert.True(t, reply.Succeed)
	assert.Equal(t, "req_1", reply.RequestID)

	reply, err = gw.Send(ctx, &Outbound{RequestID: "req_2", Body: []byte(`{"op":"fail"}`), Settings: s})
	require.NoError(t, err)
	assert.False(t, reply.Succeed)
	assert.Equal(t, CodeUnsupportedOpcode, reply.ErrorCode)

	_, err = gw.Send(ctx, &Outbound{RequestID: "req_3", Body: []byte(`{"op":"html"}`), Settings: s})
	assert.ErrorIs(t, err, protocol.ErrTransportError)

	assert.Equal(t, int32(3), hits.Load(), "exactly one attempt per call")
}

func TestHTTPGatewayNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	s := settingsFor(t, srv.URL)
	srv.Close()

	gw := NewHTTP(HTTPConfig{Timeout: time.Second})
	_, err := gw.Send(context.Background(), &Outbound{RequestID: "req_1", Body: []byte(`{}`), Settings: s})
	assert.ErrorIs(t, err, protocol.ErrTransportError)
	assert.ErrorIs(t, gw.Probe(context.Background(), s), protocol.ErrTransportError)
}

func TestHTTPGatewayProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oplauncher-hb", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	gw := NewHTTP(HTTPConfig{})
	s := settingsFor(t, srv.URL)

	assert.NoError(t, gw.Probe(context.Background(), s))

	status.Store(http.StatusServiceUnavailable)
	assert.ErrorIs(t, gw.Probe(context.Background(), s), protocol.ErrTransportError)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"op":"load_applet"}`)))
	assert.Equal(t, []byte{20, 0, 0, 0}, buf.Bytes()[:4])

	data, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"op":"load_applet"}`, string(data))

	_, err = ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

// fakeBackend is the far end of a pipe-backed StreamLink.
type fakeBackend struct {
	in  io.Reader
	out io.WriteCloser
}

func pipeDialer() (Dialer, chan *fakeBackend) {
	backends := make(chan *fakeBackend, 4)
	dial := func(context.Context, settings.Settings) (Link, error) {
		toBackendR, toBackendW := io.Pipe()
		fromBackendR, fromBackendW := io.Pipe()
		backends <- &fakeBackend{in: toBackendR, out: fromBackendW}
		return NewStreamLink(fromBackendR, toBackendW, func() error {
			toBackendW.Close()
			fromBackendR.Close()
			return nil
		}), nil
	}
	return dial, backends
}

func TestDuplexGatewayMatchesByRequestID(t *testing.T) {
	dial, backends := pipeDialer()
	gw := NewDuplex(DuplexConfig{Kind: "native", Dial: dial})
	defer gw.Close()

	type result struct {
		reply *Reply
		err   error
	}
	results := make(map[string]chan result)
	for _, id := range []string{"req_a", "req_b"} {
		ch := make(chan result, 1)
		results[id] = ch
		id := id
		go func() {
			reply, err := gw.Send(context.Background(), &Outbound{
				RequestID: id,
				Body:      []byte(`{"requestId":"` + id + `"}`),
				Settings:  settings.Defaults(),
			})
			ch <- result{reply, err}
		}()
	}

	backend := <-backends
	seen := map[string]bool{}
	for len(seen) < 2 {
		data, err := ReadFrame(backend.in)
		require.NoError(t, err)
		var msg struct{ RequestID string }
		require.NoError(t, protocol.Unmarshal(data, &msg))
		seen[msg.RequestID] = true
	}

	// answer out of order, plus one unknown id that must not disturb anything
	require.NoError(t, WriteFrame(backend.out, []byte(`{"requestId":"req_zzz","message":"stray","succeed":true}`)))
	require.NoError(t, WriteFrame(backend.out, []byte(`{"requestId":"req_b","message":"B","succeed":true}`)))
	require.NoError(t, WriteFrame(backend.out, []byte(`{"requestId":"req_a","message":"A","succeed":true}`)))

	for id, want := range map[string]string{"req_a": "A", "req_b": "B"} {
		select {
		case r := <-results[id]:
			require.NoError(t, r.err)
			assert.Equal(t, want, r.reply.Message)
		case <-time.After(time.Second):
			t.Fatalf("%s not settled", id)
		}
	}
}

func TestDuplexGatewayReplyWithoutIDGoesToOldest(t *testing.T) {
	dial, backends := pipeDialer()
	gw := NewDuplex(DuplexConfig{Kind: "native", Dial: dial})
	defer gw.Close()

	done := make(chan *Reply, 1)
	go func() {
		reply, err := gw.Send(context.Background(), &Outbound{RequestID: "req_1", Body: []byte(`{}`), Settings: settings.Defaults()})
		assert.NoError(t, err)
		done <- reply
	}()

	backend := <-backends
	_, err := ReadFrame(backend.in)
	require.NoError(t, err)
	require.NoError(t, WriteFrame(backend.out, []byte(`{"message":"legacy","succeed":true}`)))

	select {
	case reply := <-done:
		assert.Equal(t, "legacy", reply.Message)
	case <-time.After(time.Second):
		t.Fatal("not settled")
	}
}

func TestDuplexGatewayDisconnectRejectsAll(t *testing.T) {
	dial, backends := pipeDialer()
	gw := NewDuplex(DuplexConfig{Kind: "native", Dial: dial})
	defer gw.Close()

	var (
		mu       sync.Mutex
		dropped  error
		dropSeen = make(chan struct{})
	)
	gw.OnDisconnect(func(err error) {
		mu.Lock()
		dropped = err
		mu.Unlock()
		close(dropSeen)
	})

	const calls = 3
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		id := "req_" + strconv.Itoa(i)
		go func() {
			_, err := gw.Send(context.Background(), &Outbound{RequestID: id, Body: []byte(`{}`), Settings: settings.Defaults()})
			errs <- err
		}()
	}

	backend := <-backends
	for i := 0; i < calls; i++ {
		_, err := ReadFrame(backend.in)
		require.NoError(t, err)
	}
	backend.out.Close()

	for i := 0; i < calls; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, protocol.ErrTransportClosed)
		case <-time.After(time.Second):
			t.Fatal("pending call not rejected")
		}
	}
	<-dropSeen
	mu.Lock()
	assert.Error(t, dropped)
	mu.Unlock()
	assert.Zero(t, gw.Pending())

	// the next call dials a fresh link
	go gw.Send(context.Background(), &Outbound{RequestID: "req_next", Body: []byte(`{}`), Settings: settings.Defaults()})
	select {
	case <-backends:
	case <-time.After(time.Second):
		t.Fatal("gateway did not redial")
	}
}

func TestDuplexGatewayReplyTimeout(t *testing.T) {
	dial, backends := pipeDialer()
	mock := clock.NewMock()
	gw := NewDuplex(DuplexConfig{Kind: "native", Dial: dial, Clock: mock, ReplyTimeout: 5 * time.Second})
	defer gw.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := gw.Send(context.Background(), &Outbound{RequestID: "req_1", Body: []byte(`{}`), Settings: settings.Defaults()})
		errc <- err
	}()

	backend := <-backends
	_, err := ReadFrame(backend.in)
	require.NoError(t, err)
	require.Equal(t, 1, gw.Pending())

	mock.Add(5 * time.Second)
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, protocol.ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("timeout not reported")
	}

	// late reply is discarded without effect
	require.NoError(t, WriteFrame(backend.out, []byte(`{"requestId":"req_1","message":"late","succeed":true}`)))
	assert.Zero(t, gw.Pending())
}

func TestDuplexGatewayDialFailure(t *testing.T) {
	gw := NewDuplex(DuplexConfig{
		Kind: "native",
		Dial: func(context.Context, settings.Settings) (Link, error) {
			return nil, errors.New("host not installed")
		},
	})

	err := gw.Probe(context.Background(), settings.Defaults())
	assert.ErrorIs(t, err, protocol.ErrTransportError)

	_, err = gw.Send(context.Background(), &Outbound{RequestID: "req_1", Settings: settings.Defaults()})
	assert.ErrorIs(t, err, protocol.ErrTransportError)
}
