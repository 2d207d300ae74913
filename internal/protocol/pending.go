package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Call is one outstanding request in a Pending table.
type Call[T any] struct {
	ID        string
	CreatedAt time.Time
	Deadline  time.Time

	seq   uint64
	timer *clock.Timer
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the call is settled.
func (c *Call[T]) Done() <-chan struct{} {
	return c.done
}

// Result returns the settled outcome. It is only meaningful after Done.
func (c *Call[T]) Result() (T, error) {
	return c.value, c.err
}

// Wait blocks until the call settles or ctx ends. A cancelled ctx does not
// settle the call; the deadline or a response still will.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (c *Call[T]) settle(v T, err error) bool {
	settled := false
	c.once.Do(func() {
		c.value = v
		c.err = err
		settled = true
		close(c.done)
	})
	return settled
}

// Pending correlates outstanding calls by request id. Each call is removed
// exactly once: by Resolve, by Reject, or by its deadline timer. Whichever
// path removes the entry from the map is the one that settles it.
type Pending[T any] struct {
	clk clock.Clock

	mu    sync.Mutex
	calls map[string]*Call[T]
	seq   uint64

	// OnExpire, if set, is called after a call times out.
	OnExpire func(id string)
}

// NewPending creates an empty table driven by clk.
func NewPending[T any](clk clock.Clock) *Pending[T] {
	if clk == nil {
		clk = clock.New()
	}
	return &Pending[T]{
		clk:   clk,
		calls: make(map[string]*Call[T]),
	}
}

// Add registers a call for id. A non-positive timeout means no deadline.
func (p *Pending[T]) Add(id string, timeout time.Duration) (*Call[T], error) {
	now := p.clk.Now()
	call := &Call[T]{
		ID:        id,
		CreatedAt: now,
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	if _, exists := p.calls[id]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}
	p.seq++
	call.seq = p.seq
	p.calls[id] = call
	if timeout > 0 {
		call.Deadline = now.Add(timeout)
		call.timer = p.clk.AfterFunc(timeout, func() { p.expire(call) })
	}
	p.mu.Unlock()

	return call, nil
}

func (p *Pending[T]) expire(call *Call[T]) {
	if !p.remove(call.ID, call) {
		return
	}
	var zero T
	call.settle(zero, ErrTimeout)
	if p.OnExpire != nil {
		p.OnExpire(call.ID)
	}
}

// remove deletes id from the table if it still maps to call (or to anything
// when call is nil) and reports whether this caller won the removal.
func (p *Pending[T]) remove(id string, call *Call[T]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.calls[id]
	if !ok || (call != nil && cur != call) {
		return false
	}
	delete(p.calls, id)
	return true
}

func (p *Pending[T]) take(id string) *Call[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[id]
	if !ok {
		return nil
	}
	delete(p.calls, id)
	return call
}

// Resolve settles id with v. It returns false when id is unknown, already
// settled or expired; such responses are stale and must be discarded.
func (p *Pending[T]) Resolve(id string, v T) bool {
	call := p.take(id)
	if call == nil {
		return false
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	return call.settle(v, nil)
}

// Reject settles id with err.
func (p *Pending[T]) Reject(id string, err error) bool {
	call := p.take(id)
	if call == nil {
		return false
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	var zero T
	return call.settle(zero, err)
}

// RejectAll settles every outstanding call with err and returns how many
// calls were rejected.
func (p *Pending[T]) RejectAll(err error) int {
	p.mu.Lock()
	calls := make([]*Call[T], 0, len(p.calls))
	for id, call := range p.calls {
		calls = append(calls, call)
		delete(p.calls, id)
	}
	p.mu.Unlock()

	var zero T
	n := 0
	for _, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
		if call.settle(zero, err) {
			n++
		}
	}
	return n
}

// Oldest returns the id of the longest outstanding call.
func (p *Pending[T]) Oldest() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var oldest *Call[T]
	for _, call := range p.calls {
		if oldest == nil || call.seq < oldest.seq {
			oldest = call
		}
	}
	if oldest == nil {
		return "", false
	}
	return oldest.ID, true
}

// Has reports whether id is outstanding.
func (p *Pending[T]) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.calls[id]
	return ok
}

// Len returns the number of outstanding calls.
func (p *Pending[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
