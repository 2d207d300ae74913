package protocol

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone[T any](t *testing.T, call *Call[T]) {
	t.Helper()
	select {
	case <-call.Done():
	case <-time.After(time.Second):
		t.Fatal("call was not settled")
	}
}

func TestPendingResolve(t *testing.T) {
	p := NewPending[string](clock.NewMock())

	call, err := p.Add("req_1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())

	assert.True(t, p.Resolve("req_1", "ok"))
	waitDone(t, call)

	v, err := call.Result()
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 0, p.Len())
}

func TestPendingDuplicateID(t *testing.T) {
	p := NewPending[string](clock.NewMock())

	_, err := p.Add("req_1", time.Second)
	require.NoError(t, err)

	_, err = p.Add("req_1", time.Second)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestPendingUnknownIDIgnored(t *testing.T) {
	p := NewPending[string](clock.NewMock())

	call, err := p.Add("req_1", time.Second)
	require.NoError(t, err)

	assert.False(t, p.Resolve("req_other", "nope"))
	assert.False(t, p.Reject("req_other", errors.New("nope")))
	assert.True(t, p.Has("req_1"))

	select {
	case <-call.Done():
		t.Fatal("unrelated response settled the call")
	default:
	}
}

func TestPendingDeadline(t *testing.T) {
	mock := clock.NewMock()
	p := NewPending[string](mock)

	var expired atomic.Value
	p.OnExpire = func(id string) { expired.Store(id) }

	call, err := p.Add("req_1", 5000*time.Millisecond)
	require.NoError(t, err)

	mock.Add(4999 * time.Millisecond)
	assert.True(t, p.Has("req_1"))

	mock.Add(time.Millisecond)
	waitDone(t, call)

	_, err = call.Result()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Eventually(t, func() bool { return expired.Load() == "req_1" }, time.Second, time.Millisecond)
}

func TestPendingLateResponseDiscarded(t *testing.T) {
	mock := clock.NewMock()
	p := NewPending[string](mock)

	call, err := p.Add("req_1", time.Second)
	require.NoError(t, err)

	mock.Add(time.Second)
	waitDone(t, call)

	assert.False(t, p.Resolve("req_1", "late"))

	v, err := call.Result()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, v)
}

func TestPendingSingleSettlement(t *testing.T) {
	mock := clock.NewMock()
	p := NewPending[int](mock)

	const calls = 50
	handles := make([]*Call[int], calls)
	for i := range handles {
		call, err := p.Add(string(rune('a'+i)), time.Second)
		require.NoError(t, err)
		handles[i] = call
	}

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := range handles {
		id := handles[i].ID
		wg.Add(3)
		go func() {
			defer wg.Done()
			if p.Resolve(id, 1) {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if p.Reject(id, errors.New("rejected")) {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if p.Resolve(id, 2) {
				wins.Add(1)
			}
		}()
	}
	mock.Add(time.Second)
	wg.Wait()

	for _, call := range handles {
		waitDone(t, call)
	}
	assert.LessOrEqual(t, wins.Load(), int64(calls))
	assert.Equal(t, 0, p.Len())
}

func TestPendingRejectAll(t *testing.T) {
	p := NewPending[string](clock.NewMock())

	a, err := p.Add("a", time.Second)
	require.NoError(t, err)
	b, err := p.Add("b", 0)
	require.NoError(t, err)

	assert.Equal(t, 2, p.RejectAll(ErrTransportClosed))
	waitDone(t, a)
	waitDone(t, b)

	_, err = a.Result()
	assert.ErrorIs(t, err, ErrTransportClosed)
	_, err = b.Result()
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.Equal(t, 0, p.RejectAll(ErrTransportClosed))
}

func TestPendingOldest(t *testing.T) {
	p := NewPending[string](clock.NewMock())

	_, ok := p.Oldest()
	assert.False(t, ok)

	for _, id := range []string{"first", "second", "third"} {
		_, err := p.Add(id, 0)
		require.NoError(t, err)
	}

	oldest, ok := p.Oldest()
	require.True(t, ok)
	assert.Equal(t, "first", oldest)

	p.Resolve("first", "")
	oldest, _ = p.Oldest()
	assert.Equal(t, "second", oldest)
}

func TestCallWaitContext(t *testing.T) {
	p := NewPending[string](clock.NewMock())
	call, err := p.Add("req_1", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = call.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, p.Has("req_1"), "cancelled wait must not settle the call")
}
