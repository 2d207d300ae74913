package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/bridge"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/oprelay/internal/pagebus"
	"github.com/GriffinCanCode/oprelay/internal/shared/id"
)

// Session control messages, outside the page bus vocabulary.
const (
	typePing  pagebus.MessageType = "ping"
	typePong  pagebus.MessageType = "pong"
	typeError pagebus.MessageType = "error"
)

// DefaultUnloadTimeout bounds the unload sweep when a page goes away.
const DefaultUnloadTimeout = 10 * time.Second

// Config wires a Handler.
type Config struct {
	Upstream      bridge.Dispatcher
	Hub           *Hub
	Logger        *zap.Logger
	Metrics       *monitoring.Metrics
	Clock         clock.Clock
	CallTimeout   time.Duration
	UnloadTimeout time.Duration
}

// Handler serves page sessions. Each websocket connection is one page: it
// gets its own page bus and context bridge, and the page speaks the page
// bus protocol over the socket.
type Handler struct {
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a page session handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Hub == nil {
		cfg.Hub = NewHub()
	}
	if cfg.UnloadTimeout <= 0 {
		cfg.UnloadTimeout = DefaultUnloadTimeout
	}
	return &Handler{
		cfg:    cfg,
		logger: logging.OrNop(cfg.Logger).Named("page"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // pages of any origin may attach
			},
		},
	}
}

// Hub returns the session hub.
func (h *Handler) Hub() *Hub {
	return h.cfg.Hub
}

// HandleConnection handles WebSocket upgrade and runs the page session
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.serve(conn)
}

func (h *Handler) serve(conn *websocket.Conn) {
	pageID := id.NewPageID()
	logger := h.logger.With(zap.String("page_id", pageID.String()))

	br, err := bridge.New(bridge.Config{
		Upstream: h.cfg.Hub.Upstream(pageID, h.cfg.Upstream),
		Clock:    h.cfg.Clock,
		Logger:   logger,
		Metrics:  h.cfg.Metrics,
		Timeout:  h.cfg.CallTimeout,
	})
	if err != nil {
		logger.Error("page bridge setup failed", zap.Error(err))
		conn.Close()
		return
	}

	bus := pagebus.New(0, logger)
	out := bus.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	go br.Serve(ctx, bus)

	h.cfg.Hub.add(pageID, bus)
	h.cfg.Metrics.IncPageSessions()
	logger.Info("page attached", zap.String("remote", conn.RemoteAddr().String()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range out.C {
			if !toPage(msg.Type) {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("page write failed", zap.Error(err))
				return
			}
			h.cfg.Metrics.RecordWSMessage("out", string(msg.Type))
		}
	}()

	for {
		var msg pagebus.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("page read failed", zap.Error(err))
			}
			break
		}
		h.cfg.Metrics.RecordWSMessage("in", string(msg.Type))

		switch msg.Type {
		case pagebus.TypeRegisterRequest, pagebus.TypeInvokeRequest:
			if msg.RequestID == "" {
				bus.Post(pagebus.Message{Type: typeError, Error: "requestId is required"})
				continue
			}
			bus.Post(msg)
		case typePing:
			bus.Post(pagebus.Message{Type: typePong, Success: true})
		default:
			bus.Post(pagebus.Message{
				Type:      typeError,
				RequestID: msg.RequestID,
				Error:     "unknown message type " + string(msg.Type),
			})
		}
	}

	// page teardown: stop answering, then unload what the page registered
	h.cfg.Hub.remove(pageID)
	cancel()

	unloadCtx, cancelUnload := context.WithTimeout(context.Background(), h.cfg.UnloadTimeout)
	if err := br.UnloadAll(unloadCtx); err != nil {
		logger.Warn("unload on page close failed", zap.Error(err))
	}
	cancelUnload()

	bus.Close()
	<-writerDone
	conn.Close()
	h.cfg.Metrics.DecPageSessions()
	logger.Info("page detached", zap.Int("instances", br.Registry().Len()))
}

// toPage reports whether messages of typ are written to the socket. Page
// requests are echoed on the bus and must not be sent back.
func toPage(typ pagebus.MessageType) bool {
	switch typ {
	case pagebus.TypeRegisterRequest, pagebus.TypeInvokeRequest:
		return false
	}
	return true
}
