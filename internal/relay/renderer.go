package relay

import (
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/gateway"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
)

// Result reports the outcome of a load or unload.
type Result struct {
	Name      string    `json:"appletName"`
	RequestID string    `json:"requestId"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Renderer receives load and unload outcomes, e.g. to update a placeholder.
type Renderer interface {
	LoadResult(Result)
	UnloadResult(Result)
}

// Renderers fans results out to several renderers.
type Renderers []Renderer

func (rs Renderers) LoadResult(r Result) {
	for _, x := range rs {
		x.LoadResult(r)
	}
}

func (rs Renderers) UnloadResult(r Result) {
	for _, x := range rs {
		x.UnloadResult(r)
	}
}

// LogRenderer logs results.
type LogRenderer struct {
	Logger *zap.Logger
}

func (l LogRenderer) LoadResult(r Result)   { l.log("load", r) }
func (l LogRenderer) UnloadResult(r Result) { l.log("unload", r) }

func (l LogRenderer) log(what string, r Result) {
	if l.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("applet", r.Name),
		zap.String("request_id", r.RequestID),
		zap.String("message", r.Message),
	}
	if r.Success {
		l.Logger.Info(what+" succeeded", fields...)
	} else {
		l.Logger.Warn(what+" failed", fields...)
	}
}

type nopRenderer struct{}

func (nopRenderer) LoadResult(Result)   {}
func (nopRenderer) UnloadResult(Result) {}

func (c *Core) notify(req *protocol.RequestEnvelope, reply *gateway.Reply, err error) {
	if req.Kind != protocol.KindLoad && req.Kind != protocol.KindUnload {
		return
	}
	res := Result{
		Name:      req.Target,
		RequestID: req.RequestID,
		Success:   err == nil,
		At:        c.clk.Now(),
	}
	switch {
	case err != nil:
		res.Message = err.Error()
	case reply != nil && req.Kind == protocol.KindUnload:
		res.Message = reply.Message
	}

	if req.Kind == protocol.KindLoad {
		c.renderer.LoadResult(res)
	} else {
		c.renderer.UnloadResult(res)
	}
}
