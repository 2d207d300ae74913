// Package bridge implements the context bridge: it owns the instance
// registry of one page and multiplexes the page's calls onto the relay core,
// correlating each answer by request id.
package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/shared/id"
)

// DefaultTimeout is the ceiling on a forwarded call.
const DefaultTimeout = 5 * time.Second

// Dispatcher is the relay core as seen from the bridge: a one-shot send
// whose reply callback fires once.
type Dispatcher interface {
	Dispatch(msg protocol.BridgeMessage, reply func(protocol.BridgeReply))
}

// Config wires a Bridge.
type Config struct {
	Upstream Dispatcher
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  *monitoring.Metrics
	// Timeout bounds each forwarded call. Defaults to DefaultTimeout.
	Timeout time.Duration
	// AnsweredCacheSize bounds the set of register ids already answered.
	AnsweredCacheSize int
}

// Bridge is the context bridge of one page.
type Bridge struct {
	upstream Dispatcher
	clk      clock.Clock
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	timeout  time.Duration
	registry *Registry
	answered *lru.Cache[string, struct{}]
}

// New creates a bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.Upstream == nil {
		return nil, errors.New("bridge: upstream dispatcher is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AnsweredCacheSize <= 0 {
		cfg.AnsweredCacheSize = 1024
	}
	answered, err := lru.New[string, struct{}](cfg.AnsweredCacheSize)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		upstream: cfg.Upstream,
		clk:      cfg.Clock,
		logger:   logging.OrNop(cfg.Logger).Named("bridge"),
		metrics:  cfg.Metrics,
		timeout:  cfg.Timeout,
		registry: NewRegistry(),
		answered: answered,
	}, nil
}

// Registry exposes the instance registry.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Register creates a fresh handle for name. Each requestID is answered at
// most once: a repeated id returns (nil, false) and registers nothing.
func (b *Bridge) Register(requestID, name string, options map[string]any) (*Handle, bool) {
	if requestID != "" {
		if seen, _ := b.answered.ContainsOrAdd(requestID, struct{}{}); seen {
			b.logger.Warn("duplicate register request ignored",
				zap.String("request_id", requestID),
				zap.String("applet", name),
			)
			return nil, false
		}
	}

	h := b.registry.Add(name, options, false, b.clk.Now())
	b.metrics.IncRegistrations(false)
	b.logger.Info("instance registered",
		zap.String("request_id", requestID),
		zap.String("applet", name),
		zap.String("handle_id", h.ID.String()),
		zap.Int("handles_for_name", len(b.registry.ByName(name))),
	)
	return h, true
}

// RelayInvoke forwards an invoke envelope to the relay core and waits for
// the answer. Local methods are answered without forwarding. An unknown
// target is registered on the fly rather than failing the call.
func (b *Bridge) RelayInvoke(ctx context.Context, env *protocol.RequestEnvelope) *protocol.ResponseEnvelope {
	method, _ := env.Payload["method"].(string)
	args, _ := env.Payload["args"].([]any)

	if protocol.IsLocalMethod(method) {
		return protocol.Succeed(env.RequestID, protocol.LocalResult(method))
	}

	if _, ok := b.registry.Lookup(env.Target); !ok {
		h := b.registry.Add(env.Target, nil, true, b.clk.Now())
		b.metrics.IncRegistrations(true)
		b.logger.Warn("invoke on unregistered instance, registering it",
			zap.String("applet", env.Target),
			zap.String("method", method),
			zap.String("handle_id", h.ID.String()),
		)
	}

	verbose, _ := env.Payload["verbose"].(bool)
	obfuscate, _ := env.Payload["obfuscate"].(bool)
	result, err := b.forward(ctx, protocol.BridgeMessage{
		Op:         protocol.KindInvoke,
		AppletName: env.Target,
		Method:     method,
		Args:       args,
		RequestID:  env.RequestID,
		Verbose:    verbose,
		Obfuscate:  obfuscate,
	})
	if err != nil {
		return protocol.Fail(env.RequestID, err)
	}
	return protocol.Succeed(env.RequestID, result)
}

// forward sends msg upstream and waits up to the bridge timeout, counted
// from the moment of dispatch. The reply
// callback and the deadline race through one flag; the loser is discarded,
// so a reply arriving after the deadline is logged and dropped.
func (b *Bridge) forward(ctx context.Context, msg protocol.BridgeMessage) (any, error) {
	var continueProcessing atomic.Bool
	continueProcessing.Store(true)
	replies := make(chan protocol.BridgeReply, 1)

	b.metrics.AddPending("bridge", 1)
	defer b.metrics.AddPending("bridge", -1)

	deadline := b.clk.Timer(b.timeout)
	defer deadline.Stop()

	b.upstream.Dispatch(msg, func(r protocol.BridgeReply) {
		if !continueProcessing.CompareAndSwap(true, false) {
			b.metrics.IncStale("bridge")
			b.logger.Warn("late response ignored",
				zap.String("request_id", msg.RequestID),
				zap.String("applet", msg.AppletName),
				zap.Duration("max_wait", b.timeout),
			)
			return
		}
		replies <- r
	})

	r, err := protocol.AwaitTimer(ctx, deadline.C, replies)
	if err != nil {
		if continueProcessing.CompareAndSwap(true, false) {
			if errors.Is(err, protocol.ErrTimeout) {
				b.logger.Error("no response from the relay within the deadline",
					zap.String("request_id", msg.RequestID),
					zap.Stringer("op", msg.Op),
					zap.Duration("max_wait", b.timeout),
				)
			}
			return nil, err
		}
		// the reply won the race and is already on its way
		r = <-replies
	}

	if err := r.Err(); err != nil {
		return nil, err
	}
	return r.Result, nil
}

// UnloadAll asks the backend to unload every registered name. It is called
// when the page goes away.
func (b *Bridge) UnloadAll(ctx context.Context) error {
	var errs error
	for _, name := range b.registry.Names() {
		b.logger.Info("unloading instance", zap.String("applet", name))
		_, err := b.forward(ctx, protocol.BridgeMessage{
			Op:         protocol.KindUnload,
			AppletName: name,
			RequestID:  id.NewRequestID().String(),
		})
		errs = multierr.Append(errs, err)
	}
	return errs
}
