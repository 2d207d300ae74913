package relay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/shared/id"
)

// LoadRequest describes one embedded object to start in the backend.
type LoadRequest struct {
	Name       string            `json:"appletName" binding:"required"`
	ClassName  string            `json:"className"`
	ArchiveURL string            `json:"archiveUrl"`
	Codebase   string            `json:"codebase"`
	BaseURL    string            `json:"baseUrl"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	PosX       int               `json:"posx"`
	PosY       int               `json:"posy"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Cookies    string            `json:"cookies,omitempty"`
}

func (r LoadRequest) payload() map[string]any {
	return map[string]any{
		"className":  r.ClassName,
		"archiveUrl": r.ArchiveURL,
		"codebase":   r.Codebase,
		"baseUrl":    r.BaseURL,
		"cookies":    r.Cookies,
		"parameters": r.Parameters,
		"attributes": r.Attributes,
		"w":          r.Width,
		"h":          r.Height,
		"px":         r.PosX,
		"py":         r.PosY,
	}
}

// Load starts the object described by req.
func (c *Core) Load(ctx context.Context, req LoadRequest, opts CallOptions) (any, error) {
	return c.do(ctx, protocol.NewRequest(protocol.KindLoad, req.Name, req.payload()), opts)
}

// Unload stops the named object.
func (c *Core) Unload(ctx context.Context, name string) (any, error) {
	return c.do(ctx, protocol.NewRequest(protocol.KindUnload, name, nil), CallOptions{})
}

// Focus tells the backend the page holding name gained focus.
func (c *Core) Focus(ctx context.Context, name string) (any, error) {
	return c.do(ctx, protocol.NewRequest(protocol.KindFocus, name, nil), CallOptions{})
}

// Blur tells the backend the page holding name lost focus.
func (c *Core) Blur(ctx context.Context, name string) (any, error) {
	return c.do(ctx, protocol.NewRequest(protocol.KindBlur, name, nil), CallOptions{})
}

// Move repositions the named object.
func (c *Core) Move(ctx context.Context, name string, x, y int) (any, error) {
	return c.do(ctx, protocol.NewRequest(protocol.KindMove, name, map[string]any{"px": x, "py": y}), CallOptions{})
}

// Invoke calls method on the named object.
func (c *Core) Invoke(ctx context.Context, name, method string, args []any, opts CallOptions) (any, error) {
	return c.do(ctx, invokeRequest("", name, method, args), opts)
}

func invokeRequest(requestID, name, method string, args []any) *protocol.RequestEnvelope {
	if args == nil {
		args = []any{}
	}
	req := protocol.NewRequest(protocol.KindInvoke, name, map[string]any{
		"method": method,
		"params": args,
	})
	if requestID != "" {
		req.RequestID = requestID
	}
	return req
}

func (c *Core) do(ctx context.Context, req *protocol.RequestEnvelope, opts CallOptions) (any, error) {
	reply, err := c.Call(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	return reply.Value(), nil
}

// Dispatch is the one-shot entry used by the bridge: it handles msg in the
// background and calls reply exactly once with either a result or an error.
func (c *Core) Dispatch(msg protocol.BridgeMessage, reply func(protocol.BridgeReply)) {
	started := c.spawn(func() {
		reply(c.dispatch(c.ctx, msg))
	})
	if !started {
		err := fmt.Errorf("%w: relay is shutting down", protocol.ErrTransportClosed)
		reply(protocol.BridgeReply{Error: err.Error(), Code: protocol.CodeOf(err)})
	}
}

func (c *Core) dispatch(ctx context.Context, msg protocol.BridgeMessage) protocol.BridgeReply {
	if !msg.Op.Valid() || msg.Op == protocol.KindRegister {
		c.logger.Warn("unsupported op from bridge", zap.Stringer("op", msg.Op))
		return protocol.BridgeReply{Error: "unsupported op " + msg.Op.String(), Code: protocol.CodeRemote}
	}

	requestID := msg.RequestID
	if requestID == "" {
		requestID = id.NewRequestID().String()
	}

	var req *protocol.RequestEnvelope
	if msg.Op == protocol.KindInvoke {
		req = invokeRequest(requestID, msg.AppletName, msg.Method, msg.Args)
	} else {
		req = protocol.NewRequest(msg.Op, msg.AppletName, msg.Params)
		req.RequestID = requestID
	}

	result, err := c.do(ctx, req, CallOptions{Verbose: msg.Verbose, Obfuscate: msg.Obfuscate})
	if err != nil {
		return protocol.BridgeReply{Error: err.Error(), Code: protocol.CodeOf(err)}
	}
	return protocol.BridgeReply{Result: result}
}
