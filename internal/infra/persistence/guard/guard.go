// Package guard provides the bounded-wait mutual exclusion used to keep two
// callers off the same database session.
package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	domainerrors "shopdesk/internal/domain/errors"

	"golang.org/x/sync/semaphore"
)

// DefaultTimeout is used when a guard is created with a non-positive timeout.
const DefaultTimeout = 150 * time.Millisecond

// Guard is a binary semaphore whose acquisition gives up after a short
// timeout instead of queueing indefinitely. Waiters are served in FIFO order.
type Guard struct {
	name    string
	timeout time.Duration
	sem     *semaphore.Weighted
	closed  atomic.Bool
}

// New creates an idle guard.
func New(name string, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Guard{
		name:    name,
		timeout: timeout,
		sem:     semaphore.NewWeighted(1),
	}
}

// Name identifies the guard in logs and metrics.
func (g *Guard) Name() string {
	return g.name
}

// Timeout returns the maximum time Acquire waits.
func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

// Acquire waits at most the guard timeout for exclusive access. The returned
// release func is idempotent and must be deferred by the caller.
//
// It returns ErrBusy when the timeout elapses, ctx.Err() when the caller's
// context ends first, and ErrUnavailable once the guard is closed.
func (g *Guard) Acquire(ctx context.Context) (func(), error) {
	if g.closed.Load() {
		return nil, domainerrors.ErrUnavailable.WithDetails(g.name + " is closed")
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, domainerrors.ErrBusy.WithDetails(g.name)
	}

	if g.closed.Load() {
		g.sem.Release(1)

		return nil, domainerrors.ErrUnavailable.WithDetails(g.name + " is closed")
	}

	var once sync.Once

	return func() {
		once.Do(func() { g.sem.Release(1) })
	}, nil
}

// TryAcquire takes the guard only if it is idle right now.
func (g *Guard) TryAcquire() (func(), bool) {
	if g.closed.Load() || !g.sem.TryAcquire(1) {
		return nil, false
	}

	var once sync.Once

	return func() {
		once.Do(func() { g.sem.Release(1) })
	}, true
}

// Close makes every later Acquire fail. A current holder keeps the guard
// until it releases.
func (g *Guard) Close() {
	g.closed.Store(true)
}
