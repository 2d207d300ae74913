// Package stub is the page-facing end of the relay. A Stub turns method
// calls on named instances into page bus requests and settles each call
// with the matching response, a remote error, or a timeout.
package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/oprelay/internal/pagebus"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/shared/id"
)

// DefaultTimeout is the ceiling on every stub call.
const DefaultTimeout = 5 * time.Second

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("stub closed")

// Config wires a Stub.
type Config struct {
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	Timeout time.Duration
}

// Stub issues requests on a page bus.
type Stub struct {
	bus     *pagebus.Bus
	sub     *pagebus.Subscription
	pending *protocol.Pending[pagebus.Message]
	logger  *zap.Logger
	metrics *monitoring.Metrics
	timeout time.Duration

	mu        sync.RWMutex
	instances map[string]*Instance
	closed    bool

	wg sync.WaitGroup
}

// New subscribes a stub to bus.
func New(bus *pagebus.Bus, cfg Config) *Stub {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	s := &Stub{
		bus:       bus,
		sub:       bus.Subscribe(),
		pending:   protocol.NewPending[pagebus.Message](cfg.Clock),
		logger:    logging.OrNop(cfg.Logger).Named("stub"),
		metrics:   cfg.Metrics,
		timeout:   cfg.Timeout,
		instances: make(map[string]*Instance),
	}
	s.pending.OnExpire = func(rid string) {
		s.metrics.AddPending("stub", -1)
		s.logger.Error("no response within the deadline",
			zap.String("request_id", rid),
			zap.Duration("max_wait", s.timeout),
		)
	}

	s.wg.Add(1)
	go s.receive()
	return s
}

func (s *Stub) receive() {
	defer s.wg.Done()
	for msg := range s.sub.C {
		switch msg.Type {
		case pagebus.TypeRegisterResponse, pagebus.TypeInvokeResponse:
			if s.pending.Resolve(msg.RequestID, msg) {
				s.metrics.AddPending("stub", -1)
				continue
			}
			// not ours, or already settled
			s.logger.Debug("response ignored",
				zap.String("type", string(msg.Type)),
				zap.String("request_id", msg.RequestID),
			)
		}
	}
}

// Close detaches the stub from the bus and fails every outstanding call.
func (s *Stub) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.sub.Close()
	s.wg.Wait()
	if n := s.pending.RejectAll(ErrClosed); n > 0 {
		s.metrics.AddPending("stub", -n)
	}
}

// request posts msg and waits for the response carrying the same id.
func (s *Stub) request(ctx context.Context, msg pagebus.Message) (pagebus.Message, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return pagebus.Message{}, ErrClosed
	}

	call, err := s.pending.Add(msg.RequestID, s.timeout)
	if err != nil {
		return pagebus.Message{}, err
	}
	s.metrics.AddPending("stub", 1)
	s.bus.Post(msg)

	resp, err := call.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil && s.pending.Reject(msg.RequestID, err) {
			s.metrics.AddPending("stub", -1)
		}
		return pagebus.Message{}, err
	}
	if err := resp.Err(); err != nil {
		return resp, err
	}
	return resp, nil
}

// Register asks the bridge for a new instance handle.
func (s *Stub) Register(ctx context.Context, name string, options map[string]any) (*Instance, error) {
	if name == "" {
		return nil, errors.New("instance name is required")
	}
	if options == nil {
		options = map[string]any{}
	}

	resp, err := s.request(ctx, pagebus.Message{
		Type:       pagebus.TypeRegisterRequest,
		RequestID:  id.NewRegisterID().String(),
		AppletName: name,
		Options:    options,
	})
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}

	inst := &Instance{
		stub:     s,
		Name:     name,
		HandleID: resp.HandleID,
		Options:  options,
	}
	s.mu.Lock()
	s.instances[name] = inst
	s.mu.Unlock()

	s.logger.Info("instance registered",
		zap.String("request_id", resp.RequestID),
		zap.String("applet", name),
		zap.String("handle_id", resp.HandleID),
	)
	return inst, nil
}

// Instance returns the instance most recently registered under name.
func (s *Stub) Instance(name string) (*Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[name]
	return inst, ok
}

// Attach returns a handle-less instance for name. Calls through it still
// reach the backend; the bridge registers the name on first use.
func (s *Stub) Attach(name string) *Instance {
	return &Instance{stub: s, Name: name, Options: map[string]any{}}
}
