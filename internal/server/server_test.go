package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/oprelay/internal/backend"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/config"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/oprelay/internal/relay"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(backendURL, "http://"))
	require.NoError(t, err)
	cfg.Backend.Host = host
	cfg.Backend.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	cfg.Relay.ProbeInterval = 10 * time.Millisecond
	cfg.Relay.RetryAttempts = 100
	cfg.Relay.RetryInterval = 10 * time.Millisecond
	cfg.Relay.SendTimeout = 2 * time.Second
	return cfg
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestServerEndToEnd(t *testing.T) {
	be := httptest.NewServer(backend.New(backend.Config{}).Router())
	defer be.Close()

	cfg := testConfig(t, be.URL)
	cfg.Settings.Path = filepath.Join(t.TempDir(), "settings.db")

	srv, err := NewServer(cfg, logging.Nop())
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Core().Start(ctx)

	h := srv.Handler()

	w, body := do(t, h, http.MethodPost, "/applets/load", map[string]any{"appletName": "widgetA", "className": "Widget"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, relay.LoadedMessage, body["result"], "session key must stay in the relay")

	w, body = do(t, h, http.MethodPost, "/applets/widgetA/invoke", map[string]any{"method": "customMethod", "args": []any{42}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ok", body["result"])

	w, _ = do(t, h, http.MethodPost, "/applets/widgetA/move", map[string]any{"x": 5, "y": 6})
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = do(t, h, http.MethodGet, "/readiness", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["state"])

	w, body = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http", body["transport"])
	require.IsType(t, map[string]any{}, body["backend"])
	assert.Equal(t, true, body["backend"].(map[string]any)["session_active"])

	w, _ = do(t, h, http.MethodPost, "/applets/widgetA/unload", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "oprelay_calls_total")
}

func TestServerBackendDown(t *testing.T) {
	// a listener that is closed straight away gives a port nobody serves
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := "http://" + l.Addr().String()
	l.Close()

	cfg := testConfig(t, addr)
	cfg.Relay.RetryAttempts = 2

	srv, err := NewServer(cfg, nil)
	require.NoError(t, err)
	defer srv.Close()

	w, _ := do(t, srv.Handler(), http.MethodGet, "/readiness", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, body := do(t, srv.Handler(), http.MethodPost, "/applets/load", map[string]any{"appletName": "widgetA"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, body["success"])
}

func TestNewServerRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Transport = "carrier-pigeon"

	_, err := NewServer(cfg, nil)
	assert.Error(t, err)
}

func TestNewGateway(t *testing.T) {
	tests := []struct {
		transport string
		kind      string
	}{
		{config.TransportHTTP, "http"},
		{config.TransportNative, "native"},
		{config.TransportWebsocket, "websocket"},
	}

	for _, tt := range tests {
		t.Run(tt.transport, func(t *testing.T) {
			cfg := config.Default()
			cfg.Backend.Transport = tt.transport
			cfg.Backend.NativeHostPath = "/usr/local/bin/opbackend"

			gw, err := NewGateway(cfg, nil)
			require.NoError(t, err)
			defer gw.Close()
			assert.Equal(t, tt.kind, gw.Kind())
		})
	}

	cfg := config.Default()
	cfg.Backend.Transport = "smoke"
	_, err := NewGateway(cfg, nil)
	assert.Error(t, err)
}
