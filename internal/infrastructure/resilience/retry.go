package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrAttemptsExhausted is returned when an Attempts policy runs out.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// FixedInterval repeats an operation at a constant interval until it
// succeeds or ctx is cancelled. There is no attempt limit and no growth.
type FixedInterval struct {
	Interval time.Duration
	Clock    clock.Clock
}

// Run calls fn immediately and then once per interval until fn returns
// true. It returns ctx.Err() if ctx ends first.
func (p FixedInterval) Run(ctx context.Context, fn func(attempt int) bool) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fn(attempt) {
			return nil
		}

		timer := clk.Timer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Attempts checks a condition a bounded number of times with a constant
// spacing. The budget is per Wait call.
type Attempts struct {
	Max      int
	Interval time.Duration
	Clock    clock.Clock
}

// Wait evaluates cond up to Max times, sleeping Interval between
// evaluations. It returns the attempt number that succeeded, or
// ErrAttemptsExhausted after exactly Max failed evaluations.
func (p Attempts) Wait(ctx context.Context, cond func(attempt int) bool) (int, error) {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}

	for attempt := 1; attempt <= p.Max; attempt++ {
		if cond(attempt) {
			return attempt, nil
		}
		if attempt == p.Max {
			break
		}

		timer := clk.Timer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return p.Max, ErrAttemptsExhausted
}
