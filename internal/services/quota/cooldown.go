// Package quota implements the process-wide cooldown guard that suppresses
// upstream calls after the provider reports exhausted daily quota.
package quota

import (
	"sync"
	"time"

	"github.com/quickmeds/gemini-relay/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

const defaultCooldown = time.Hour

// Guard is a single-service circuit: once tripped, every call fails fast
// until the resume instant passes, at which point the guard clears itself.
type Guard struct {
	mu       sync.Mutex
	active   bool
	resumeAt time.Time
	cooldown time.Duration
	now      func() time.Time
}

// New creates a guard with the given cooldown window. Non-positive values
// default to one hour.
func New(cooldown time.Duration) *Guard {
	return NewWithClock(cooldown, time.Now)
}

// NewWithClock creates a guard with an injected clock for simulated time in
// tests. All state is owned by the returned instance, so isolated guards can
// coexist in one process.
func NewWithClock(cooldown time.Duration, now func() time.Time) *Guard {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Guard{
		cooldown: cooldown,
		now:      now,
	}
}

// Check returns nil when calls may proceed. An expired cooldown is cleared on
// the way through; an active one yields a cooldown-active error carrying the
// resume instant.
func (g *Guard) Check() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.active {
		return nil
	}

	if !g.now().Before(g.resumeAt) {
		g.active = false
		g.resumeAt = time.Time{}
		fiberlog.Info("QuotaGuard: cooldown elapsed, resuming upstream calls")
		return nil
	}

	return models.NewCooldownActiveError(g.resumeAt)
}

// Trip activates the cooldown and returns the resume instant.
func (g *Guard) Trip() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.active = true
	g.resumeAt = g.now().Add(g.cooldown)
	fiberlog.Warnf("QuotaGuard: daily quota exhausted, suppressing upstream calls until %s", g.resumeAt.Format(time.RFC3339))
	return g.resumeAt
}

// Active reports whether the cooldown currently suppresses calls.
func (g *Guard) Active() bool {
	return g.Check() != nil
}
