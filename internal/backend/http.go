package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/gateway"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Router returns the HTTP surface: POST and websocket on the context root,
// GET on the heartbeat root.
func (b *Backend) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	op := "/" + strings.TrimPrefix(b.cfg.ContextRoot, "/")
	hb := "/" + strings.TrimPrefix(b.cfg.HeartbeatRoot, "/")

	router.POST(op, b.handlePost)
	router.GET(op, b.handleSocket)
	router.GET(hb, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	return router
}

func (b *Backend) handlePost(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, &gateway.Reply{Message: err.Error(), ErrorCode: gateway.CodeMalformedPayload})
		return
	}

	ctx := tracing.Extract(c.Request.Context(), c.Request.Header)
	reply := b.Handle(ctx, body, c.GetHeader(gateway.TokenHeader))
	status := http.StatusOK
	if !reply.Succeed {
		status = http.StatusBadRequest
	}
	c.Data(status, "application/json", encode(reply))
}

// handleSocket serves the websocket duplex transport: one JSON message in,
// one reply out, correlated by requestId.
func (b *Backend) handleSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	b.logger.Info("duplex client connected", zap.String("remote", conn.RemoteAddr().String()))

	ctx := c.Request.Context()
	token := c.GetHeader(gateway.TokenHeader)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn("duplex client dropped", zap.Error(err))
			}
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, encode(b.Handle(ctx, data, token))); err != nil {
			b.logger.Warn("duplex write failed", zap.Error(err))
			return
		}
	}
}

// ServeNative speaks native-messaging framing on r and w until r ends.
func (b *Backend) ServeNative(ctx context.Context, r io.Reader, w io.Writer) error {
	for {
		data, err := gateway.ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := gateway.WriteFrame(w, encode(b.Handle(ctx, data, ""))); err != nil {
			return err
		}
	}
}

func encode(reply *gateway.Reply) []byte {
	data, err := protocol.Marshal(reply)
	if err != nil {
		return []byte(`{"succeed":false,"errorcode":7000,"message":"encode reply"}`)
	}
	return data
}
