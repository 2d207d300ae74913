package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/pagebus"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
)

// Serve consumes register and invoke requests from bus until ctx is done or
// the bus closes. Invokes are handled concurrently; each posts exactly one
// invoke-response.
func (b *Bridge) Serve(ctx context.Context, bus *pagebus.Bus) {
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Post(pagebus.Message{Type: pagebus.TypeReady, Success: true})

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			switch msg.Type {
			case pagebus.TypeRegisterRequest:
				b.handleRegister(bus, msg)
			case pagebus.TypeInvokeRequest:
				go b.handleInvoke(ctx, bus, msg)
			}
		}
	}
}

func (b *Bridge) handleRegister(bus *pagebus.Bus, msg pagebus.Message) {
	h, ok := b.Register(msg.RequestID, msg.AppletName, msg.Options)
	if !ok {
		return
	}
	bus.Post(pagebus.Message{
		Type:       pagebus.TypeRegisterResponse,
		RequestID:  msg.RequestID,
		AppletName: h.Name,
		HandleID:   h.ID.String(),
		Options:    h.Options,
		Success:    true,
	})
}

func (b *Bridge) handleInvoke(ctx context.Context, bus *pagebus.Bus, msg pagebus.Message) {
	env := &protocol.RequestEnvelope{
		RequestID: msg.RequestID,
		Kind:      protocol.KindInvoke,
		Target:    msg.AppletName,
		Payload: map[string]any{
			"method": msg.Method,
			"args":   msg.Args,
		},
		IssuedAt: b.clk.Now(),
	}
	for _, flag := range []string{"verbose", "obfuscate"} {
		if v, ok := msg.Options[flag].(bool); ok {
			env.Payload[flag] = v
		}
	}

	resp := b.RelayInvoke(ctx, env)
	if resp.Error != "" {
		b.logger.Debug("invoke failed",
			zap.String("request_id", resp.RequestID),
			zap.String("method", msg.Method),
			zap.String("error", resp.Error),
		)
	}
	bus.Post(pagebus.Message{
		Type:       pagebus.TypeInvokeResponse,
		RequestID:  resp.RequestID,
		AppletName: msg.AppletName,
		Method:     msg.Method,
		Success:    resp.Success,
		Result:     resp.Result,
		Error:      resp.Error,
		Code:       resp.Code,
	})
}
