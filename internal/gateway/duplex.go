package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/settings"
)

// Link is one persistent, message-oriented connection to the backend.
// WriteMessage may be called concurrently with ReadMessage but not with
// itself; DuplexGateway serializes writes.
type Link interface {
	WriteMessage(data []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens a Link using the current settings.
type Dialer func(ctx context.Context, s settings.Settings) (Link, error)

// DuplexConfig configures a DuplexGateway.
type DuplexConfig struct {
	Kind         string
	Dial         Dialer
	ReplyTimeout time.Duration
	Clock        clock.Clock
	Logger       *zap.Logger
}

// DuplexGateway multiplexes calls over one persistent Link. Replies are
// matched by the echoed requestId; a reply without one settles the oldest
// outstanding call. When the link drops every outstanding call is rejected
// with protocol.ErrTransportClosed and the disconnect callback fires.
type DuplexGateway struct {
	kind    string
	dial    Dialer
	timeout time.Duration
	logger  *zap.Logger
	pending *protocol.Pending[*Reply]

	mu           sync.Mutex
	link         Link
	closed       bool
	onDisconnect func(error)

	writeMu sync.Mutex
}

// NewDuplex creates a duplex gateway. The link is dialed on first use.
func NewDuplex(cfg DuplexConfig) *DuplexGateway {
	if cfg.Kind == "" {
		cfg.Kind = "duplex"
	}
	return &DuplexGateway{
		kind:    cfg.Kind,
		dial:    cfg.Dial,
		timeout: cfg.ReplyTimeout,
		logger:  logging.OrNop(cfg.Logger).Named("gateway." + cfg.Kind),
		pending: protocol.NewPending[*Reply](cfg.Clock),
	}
}

// Kind implements Gateway.
func (g *DuplexGateway) Kind() string { return g.kind }

// OnDisconnect implements Gateway.
func (g *DuplexGateway) OnDisconnect(fn func(error)) {
	g.mu.Lock()
	g.onDisconnect = fn
	g.mu.Unlock()
}

// Pending returns the number of calls awaiting a reply.
func (g *DuplexGateway) Pending() int {
	return g.pending.Len()
}

func (g *DuplexGateway) connect(ctx context.Context, s settings.Settings) (Link, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, protocol.ErrTransportClosed
	}
	if g.link != nil {
		return g.link, nil
	}

	link, err := g.dial(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", protocol.ErrTransportError, g.kind, err)
	}
	g.link = link
	go g.readLoop(link)

	g.logger.Info("backend channel connected")
	return link, nil
}

// Send implements Gateway.
func (g *DuplexGateway) Send(ctx context.Context, msg *Outbound) (*Reply, error) {
	link, err := g.connect(ctx, msg.Settings)
	if err != nil {
		return nil, err
	}

	call, err := g.pending.Add(msg.RequestID, g.timeout)
	if err != nil {
		return nil, err
	}

	g.writeMu.Lock()
	err = link.WriteMessage(msg.Body)
	g.writeMu.Unlock()
	if err != nil {
		g.drop(link, err)
		return nil, fmt.Errorf("%w: write: %v", protocol.ErrTransportClosed, err)
	}

	reply, err := call.Wait(ctx)
	if err != nil && errors.Is(err, ctx.Err()) {
		if g.pending.Reject(msg.RequestID, err) {
			return nil, err
		}
		// settled concurrently with cancellation
		return call.Result()
	}
	return reply, err
}

// Probe dials the link if needed. A connected channel is a live backend.
func (g *DuplexGateway) Probe(ctx context.Context, s settings.Settings) error {
	_, err := g.connect(ctx, s)
	return err
}

func (g *DuplexGateway) readLoop(link Link) {
	for {
		data, err := link.ReadMessage()
		if err != nil {
			g.drop(link, err)
			return
		}

		reply, err := ParseReply(data)
		if err != nil {
			g.logger.Warn("discarding malformed backend message", zap.Error(err))
			continue
		}

		id := reply.RequestID
		if id == "" {
			var ok bool
			if id, ok = g.pending.Oldest(); !ok {
				g.logger.Warn("backend message with no outstanding call", zap.String("message", reply.Message))
				continue
			}
		}
		if !g.pending.Resolve(id, reply) {
			g.logger.Warn("stale backend reply discarded", zap.String("request_id", id))
		}
	}
}

// drop tears down link if it is still current.
func (g *DuplexGateway) drop(link Link, cause error) {
	g.mu.Lock()
	if g.link != link {
		g.mu.Unlock()
		return
	}
	g.link = nil
	cb := g.onDisconnect
	closed := g.closed
	g.mu.Unlock()

	link.Close()
	n := g.pending.RejectAll(protocol.ErrTransportClosed)

	if closed {
		return
	}
	g.logger.Warn("backend channel disconnected",
		zap.Error(cause),
		zap.Int("rejected_calls", n),
	)
	if cb != nil {
		cb(cause)
	}
}

// Close implements Gateway.
func (g *DuplexGateway) Close() error {
	g.mu.Lock()
	g.closed = true
	link := g.link
	g.mu.Unlock()

	if link != nil {
		g.drop(link, protocol.ErrTransportClosed)
	}
	g.pending.RejectAll(protocol.ErrTransportClosed)
	return nil
}
