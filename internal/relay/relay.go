package relay

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/cipher"
	"github.com/GriffinCanCode/oprelay/internal/gateway"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/oprelay/internal/settings"
)

// Options tunes the relay policies.
type Options struct {
	// SendTimeout bounds one gateway round trip. Zero means no bound.
	SendTimeout time.Duration
	// ProbeInterval spaces health probes while disconnected.
	ProbeInterval time.Duration
	// RetryAttempts is the number of readiness checks a call makes.
	RetryAttempts int
	// RetryInterval spaces readiness checks.
	RetryInterval time.Duration
}

// DefaultOptions returns the stock policies.
func DefaultOptions() Options {
	return Options{
		SendTimeout:   10 * time.Second,
		ProbeInterval: 500 * time.Millisecond,
		RetryAttempts: 10,
		RetryInterval: time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = d.ProbeInterval
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = d.RetryAttempts
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = d.RetryInterval
	}
	return o
}

// Config wires a Core.
type Config struct {
	Gateway  gateway.Gateway
	Store    settings.Store
	Renderer Renderer
	Logger   *zap.Logger
	Metrics  *monitoring.Metrics
	Tracer   *tracing.Tracer
	Clock    clock.Clock
	Rand     io.Reader
	Options  Options
}

// Core is the relay core. It is safe for concurrent use.
type Core struct {
	gw       gateway.Gateway
	store    settings.Store
	renderer Renderer
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	clk      clock.Clock
	rand     io.Reader
	opts     Options

	readiness *resilience.Readiness
	probe     resilience.FixedInterval
	retry     resilience.Attempts
	keyring   cipher.Keyring

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a relay core. Call Start to begin probing.
func New(cfg Config) (*Core, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("relay: gateway is required")
	}
	if cfg.Store == nil {
		cfg.Store = settings.Static(settings.Defaults())
	}
	if cfg.Renderer == nil {
		cfg.Renderer = nopRenderer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	opts := cfg.Options.withDefaults()
	logger := logging.OrNop(cfg.Logger).Named("relay")

	ctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		gw:       cfg.Gateway,
		store:    cfg.Store,
		renderer: cfg.Renderer,
		logger:   logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		clk:      cfg.Clock,
		rand:     cfg.Rand,
		opts:     opts,
		probe:    resilience.FixedInterval{Interval: opts.ProbeInterval, Clock: cfg.Clock},
		retry:    resilience.Attempts{Max: opts.RetryAttempts, Interval: opts.RetryInterval, Clock: cfg.Clock},
		ctx:      ctx,
		cancel:   cancel,
	}
	c.readiness = resilience.NewReadiness(cfg.Gateway.Kind(), resilience.Settings{
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Info("backend readiness changed",
				zap.String("transport", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			c.metrics.SetBackendReady(to == resilience.StateReady)
		},
	})
	cfg.Gateway.OnDisconnect(c.handleDisconnect)

	return c, nil
}

// Start begins probing the backend. Probing also starts lazily on the first
// call. The core shuts down when ctx ends.
func (c *Core) Start(ctx context.Context) {
	c.StartProbe()

	c.spawn(func() {
		select {
		case <-ctx.Done():
			c.cancel()
		case <-c.ctx.Done():
		}
	})
}

// spawn runs fn on a goroutine Close waits for. It reports false, without
// running fn, once Close has begun.
func (c *Core) spawn(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

// StartProbe starts the probe loop unless one is already running or the
// backend is ready. It reports whether a loop was started.
func (c *Core) StartProbe() bool {
	if c.ctx.Err() != nil || !c.readiness.BeginProbe() {
		return false
	}
	if !c.spawn(func() { c.runProbe(c.ctx) }) {
		c.readiness.EndProbe()
		return false
	}
	return true
}

func (c *Core) runProbe(ctx context.Context) {
	err := c.probe.Run(ctx, func(attempt int) bool {
		s, err := c.store.Load(ctx)
		if err == nil {
			err = c.gw.Probe(ctx, s)
		}
		c.metrics.RecordProbe(err == nil)
		if err != nil {
			failures := c.readiness.ProbeFailed()
			c.logger.Debug("backend probe failed",
				zap.Int("attempt", attempt),
				zap.Uint32("consecutive_failures", failures),
				zap.Error(err),
			)
			return false
		}
		return true
	})

	if err != nil {
		c.readiness.EndProbe()
		return
	}
	c.readiness.MarkReady()
}

// handleDisconnect resets readiness and drops the session key.
func (c *Core) handleDisconnect(cause error) {
	wasReady := c.readiness.Reset()
	if c.keyring.Token() != "" {
		c.logger.Info("session key dropped")
	}
	c.keyring.Clear()
	if wasReady {
		c.logger.Warn("backend channel lost", zap.Error(cause))
	}
}

// Readiness returns the current backend readiness.
func (c *Core) Readiness() resilience.Snapshot {
	return c.readiness.Snapshot()
}

// SessionActive reports whether a session key is in effect.
func (c *Core) SessionActive() bool {
	return c.keyring.Token() != ""
}

// Transport names the gateway in use.
func (c *Core) Transport() string {
	return c.gw.Kind()
}

// Close stops probing and closes the gateway. Work already dispatched is
// waited for; later dispatches fail with protocol.ErrTransportClosed.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	err := c.gw.Close()
	c.wg.Wait()
	return err
}
