// Package gate bounds the number of simultaneous upstream calls. Admission is
// strictly first-in-first-out: excess callers queue and are woken in arrival
// order when a holder releases.
package gate

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate is a bounded-concurrency admission control. The zero value is not
// usable; construct with New.
type Gate struct {
	sem *semaphore.Weighted
	max int64
}

// New creates a gate admitting at most max callers at a time. Values below 1
// are coerced to 1.
func New(max int) *Gate {
	if max < 1 {
		max = 1
	}
	return &Gate{
		sem: semaphore.NewWeighted(int64(max)),
		max: int64(max),
	}
}

// Max returns the configured admission bound.
func (g *Gate) Max() int {
	return int(g.max)
}

// Acquire admits the caller, queuing FIFO behind earlier waiters when the
// gate is full. The returned release function must be called exactly once,
// typically via defer. Acquire only fails when ctx is done while waiting.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}

// Run executes fn under the gate, releasing on every exit path.
func (g *Gate) Run(ctx context.Context, fn func(context.Context) error) error {
	release, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
