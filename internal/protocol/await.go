package protocol

import (
	"context"
	"time"
)

// AwaitTimer waits for the first value on ch. It fails with ErrTimeout once
// deadline fires, or with ctx.Err() if ctx ends first. A closed ch without a
// value is reported as ErrTransportClosed. The caller arms the deadline, so
// the clock can start before the request is issued.
func AwaitTimer[T any](ctx context.Context, deadline <-chan time.Time, ch <-chan T) (T, error) {
	var zero T
	select {
	case v, ok := <-ch:
		if !ok {
			return zero, ErrTransportClosed
		}
		return v, nil
	case <-deadline:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
