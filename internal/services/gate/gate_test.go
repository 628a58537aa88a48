package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGate(t *testing.T) {
	t.Run("never_admits_more_than_max", func(t *testing.T) {
		g := New(1)
		ctx := context.Background()

		var inFlight, maxInFlight atomic.Int64
		var wg sync.WaitGroup

		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := g.Run(ctx, func(context.Context) error {
					n := inFlight.Add(1)
					for {
						cur := maxInFlight.Load()
						if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
							break
						}
					}
					time.Sleep(10 * time.Millisecond)
					inFlight.Add(-1)
					return nil
				})
				if err != nil {
					t.Errorf("Run failed: %v", err)
				}
			}()
		}
		wg.Wait()

		if got := maxInFlight.Load(); got != 1 {
			t.Fatalf("max concurrent admissions = %d, want 1", got)
		}
	})

	t.Run("wakes_waiters_in_arrival_order", func(t *testing.T) {
		g := New(1)
		ctx := context.Background()

		// Hold the only slot so every subsequent caller queues.
		release, err := g.Acquire(ctx)
		if err != nil {
			t.Fatalf("initial acquire failed: %v", err)
		}

		const waiters = 5
		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup

		for i := range waiters {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rel, err := g.Acquire(ctx)
				if err != nil {
					t.Errorf("waiter %d acquire failed: %v", i, err)
					return
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				rel()
			}()
			// Give each waiter time to reach the queue before launching the
			// next so arrival order is deterministic.
			time.Sleep(20 * time.Millisecond)
		}

		release()
		wg.Wait()

		for i, got := range order {
			if got != i {
				t.Fatalf("admission order = %v, want sequential arrival order", order)
			}
		}
	})

	t.Run("coerces_max_below_one", func(t *testing.T) {
		g := New(0)
		if g.Max() != 1 {
			t.Fatalf("Max() = %d, want 1", g.Max())
		}
	})

	t.Run("acquire_respects_context_cancellation", func(t *testing.T) {
		g := New(1)
		release, err := g.Acquire(context.Background())
		if err != nil {
			t.Fatalf("initial acquire failed: %v", err)
		}
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		if _, err := g.Acquire(ctx); err == nil {
			t.Fatal("expected acquire to fail when context expires while queued")
		}
	})
}
