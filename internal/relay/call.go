package relay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/cipher"
	"github.com/GriffinCanCode/oprelay/internal/gateway"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/settings"
)

// LoadedMessage replaces the message of a load reply whose message was
// adopted as the session key.
const LoadedMessage = "loaded"

// CallOptions are per-call wire choices.
type CallOptions struct {
	// Verbose selects the legacy v1 envelope {payload, msgsize}.
	Verbose bool
	// Obfuscate attaches the magic number even with encryption off.
	Obfuscate bool
}

// Call sends req to the backend and returns its reply. It waits for
// readiness first and fails with protocol.ErrBackendUnavailable if the
// backend does not become ready in time. A reply with succeed=false is
// returned together with a *protocol.RemoteError.
func (c *Core) Call(ctx context.Context, req *protocol.RequestEnvelope, opts CallOptions) (*gateway.Reply, error) {
	timer := monitoring.NewTimer(c.metrics, req.Kind.String())
	var reply *gateway.Reply
	tags := map[string]string{"request_id": req.RequestID, "target": req.Target}
	err := tracing.Trace(ctx, c.tracer, "relay."+req.Kind.String(), tags, func(ctx context.Context) error {
		var err error
		reply, err = c.call(ctx, req, opts)
		return err
	})
	if err != nil {
		timer.Stop(string(protocol.CodeOf(err)))
	} else {
		timer.Stop("success")
	}
	c.notify(req, reply, err)
	return reply, err
}

func (c *Core) call(ctx context.Context, req *protocol.RequestEnvelope, opts CallOptions) (*gateway.Reply, error) {
	logger := c.logger.With(
		zap.String("request_id", req.RequestID),
		zap.Stringer("op", req.Kind),
		zap.String("target", req.Target),
	)

	if err := c.awaitReady(ctx); err != nil {
		logger.Warn("backend not ready", zap.Error(err))
		return nil, err
	}

	// settings are read on every call so edits apply without a restart
	s, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	body, err := c.encode(req, s, opts)
	if err != nil {
		return nil, err
	}

	sendCtx := ctx
	if c.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, c.opts.SendTimeout)
		defer cancel()
	}

	c.metrics.AddPending("relay", 1)
	reply, err := c.gw.Send(sendCtx, &gateway.Outbound{
		RequestID: req.RequestID,
		Kind:      req.Kind,
		Body:      body,
		Settings:  s,
	})
	c.metrics.AddPending("relay", -1)

	if err != nil {
		if errors.Is(err, protocol.ErrTransportError) || errors.Is(err, protocol.ErrTransportClosed) {
			c.handleDisconnect(err)
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: backend did not answer within %s", protocol.ErrTimeout, c.opts.SendTimeout)
		}
		logger.Warn("backend call failed", zap.Error(err))
		return nil, err
	}

	if err := reply.Err(); err != nil {
		logger.Info("backend reported failure",
			zap.String("message", reply.Message),
			zap.Int("error_code", reply.ErrorCode),
		)
		return reply, err
	}

	if req.Kind == protocol.KindLoad && c.adoptSession(reply.Message, logger) {
		// the key stays in the core; callers see a fixed message
		redacted := *reply
		redacted.Message = LoadedMessage
		reply = &redacted
	}
	logger.Debug("backend call succeeded")
	return reply, nil
}

// awaitReady checks readiness up to RetryAttempts times, kicking the probe
// loop whenever the backend is not ready.
func (c *Core) awaitReady(ctx context.Context) error {
	attempts, err := c.retry.Wait(ctx, func(int) bool {
		c.metrics.IncRetryAttempts()
		if c.readiness.Ready() {
			return true
		}
		c.StartProbe()
		return false
	})
	if errors.Is(err, resilience.ErrAttemptsExhausted) {
		return fmt.Errorf("%w: not ready after %d attempts", protocol.ErrBackendUnavailable, attempts)
	}
	return err
}

// encode builds the backend payload for req and applies the envelope.
func (c *Core) encode(req *protocol.RequestEnvelope, s settings.Settings, opts CallOptions) ([]byte, error) {
	payload := make(map[string]any, len(req.Payload)+4)
	for k, v := range req.Payload {
		payload[k] = v
	}
	payload["op"] = req.Kind.String()
	payload["applet_name"] = req.Target
	payload["requestId"] = req.RequestID
	payload["_tkn_"] = s.PersonalToken

	cfg := c.keyring.Config(s.CipherActive, s.CipherKey)
	wrapped, err := cipher.Wrap(payload, cfg, cipher.FormatFor(opts.Verbose), opts.Obfuscate, c.rand)
	if err != nil {
		return nil, err
	}
	return protocol.Marshal(wrapped)
}

// adoptSession installs the key issued by a successful load and reports
// whether it did. Messages that are not a usable key are ignored so
// encryption keeps working.
func (c *Core) adoptSession(token string, logger *zap.Logger) bool {
	if token == "" {
		return false
	}
	if _, err := cipher.DecodeKey(token); err != nil {
		logger.Debug("load reply carries no session key")
		return false
	}
	c.keyring.Adopt(token)
	logger.Info("session key adopted")
	return true
}
