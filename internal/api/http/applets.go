package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/oprelay/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/relay"
)

// Relay is the part of the relay core the HTTP surface drives.
type Relay interface {
	Load(ctx context.Context, req relay.LoadRequest, opts relay.CallOptions) (any, error)
	Unload(ctx context.Context, name string) (any, error)
	Focus(ctx context.Context, name string) (any, error)
	Blur(ctx context.Context, name string) (any, error)
	Move(ctx context.Context, name string, x, y int) (any, error)
	Invoke(ctx context.Context, name, method string, args []any, opts relay.CallOptions) (any, error)
	Readiness() resilience.Snapshot
	SessionActive() bool
	Transport() string
}

// loadBody is a load request plus its wire options.
type loadBody struct {
	relay.LoadRequest
	Verbose   bool `json:"verbose"`
	Obfuscate bool `json:"obfuscate"`
}

type invokeBody struct {
	Method    string `json:"method" binding:"required"`
	Args      []any  `json:"args"`
	Verbose   bool   `json:"verbose"`
	Obfuscate bool   `json:"obfuscate"`
}

type moveBody struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// LoadApplet starts an instance in the backend.
func (h *Handlers) LoadApplet(c *gin.Context) {
	var body loadBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.relay.Load(c.Request.Context(), body.LoadRequest, relay.CallOptions{
		Verbose:   body.Verbose,
		Obfuscate: body.Obfuscate,
	})
	h.respond(c, body.Name, result, err)
}

// UnloadApplet stops an instance.
func (h *Handlers) UnloadApplet(c *gin.Context) {
	name := c.Param("name")
	result, err := h.relay.Unload(c.Request.Context(), name)
	h.respond(c, name, result, err)
}

// FocusApplet forwards a focus change.
func (h *Handlers) FocusApplet(c *gin.Context) {
	name := c.Param("name")
	result, err := h.relay.Focus(c.Request.Context(), name)
	h.respond(c, name, result, err)
}

// BlurApplet forwards a blur.
func (h *Handlers) BlurApplet(c *gin.Context) {
	name := c.Param("name")
	result, err := h.relay.Blur(c.Request.Context(), name)
	h.respond(c, name, result, err)
}

// MoveApplet forwards a position change.
func (h *Handlers) MoveApplet(c *gin.Context) {
	var body moveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	result, err := h.relay.Move(c.Request.Context(), name, body.X, body.Y)
	h.respond(c, name, result, err)
}

// InvokeApplet calls a method on an instance.
func (h *Handlers) InvokeApplet(c *gin.Context) {
	var body invokeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	if protocol.IsLocalMethod(body.Method) {
		h.respond(c, name, protocol.LocalResult(body.Method), nil)
		return
	}
	result, err := h.relay.Invoke(c.Request.Context(), name, body.Method, body.Args, relay.CallOptions{
		Verbose:   body.Verbose,
		Obfuscate: body.Obfuscate,
	})
	h.respond(c, name, result, err)
}

func (h *Handlers) respond(c *gin.Context, name string, result any, err error) {
	if err != nil {
		c.JSON(StatusFor(err), gin.H{
			"success": false,
			"applet":  name,
			"error":   err.Error(),
			"code":    protocol.CodeOf(err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"applet":  name,
		"result":  result,
	})
}

// StatusFor maps a relay error to an HTTP status.
func StatusFor(err error) int {
	var remote *protocol.RemoteError
	switch {
	case errors.Is(err, protocol.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, protocol.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, protocol.ErrTransportClosed),
		errors.Is(err, protocol.ErrTransportError),
		errors.As(err, &remote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
