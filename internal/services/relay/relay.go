// Package relay is the call-reliability wrapper for the Gemini API: a FIFO
// concurrency gate, exact-key result caching with in-flight de-duplication,
// classified retries with exponential jittered backoff, and a process-wide
// quota cooldown.
package relay

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/quickmeds/gemini-relay/internal/models"
	"github.com/quickmeds/gemini-relay/internal/services/cache"
	"github.com/quickmeds/gemini-relay/internal/services/gate"
	"github.com/quickmeds/gemini-relay/internal/services/quota"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"
)

// Upstream abstracts the generative API client behind the relay.
type Upstream interface {
	GenerateText(ctx context.Context, model, systemInstruction string, parts []models.Part) (string, error)
}

// Service coordinates all reliability concerns for upstream calls. Construct
// one per process and share it: the cooldown guard, cache, and in-flight
// registry are deliberately process-wide.
type Service struct {
	upstream Upstream
	store    cache.Store
	gate     *gate.Gate
	guard    *quota.Guard
	group    singleflight.Group
	cfg      models.RelayConfig

	sleep    func(context.Context, time.Duration) error
	jitterMs func(int) int
}

// New creates the relay service.
func New(upstream Upstream, store cache.Store, g *gate.Gate, guard *quota.Guard, cfg models.RelayConfig) *Service {
	return &Service{
		upstream: upstream,
		store:    store,
		gate:     g,
		guard:    guard,
		cfg:      cfg,
		sleep:    sleepContext,
		jitterMs: rand.IntN,
	}
}

// BuildCacheKey returns the deterministic key for a payload:
// namespace + ":" + sha256 hex of its canonical string form.
func BuildCacheKey(namespace, payload string) string {
	return cache.Key(namespace, payload)
}

// CallWithGate runs fn under the concurrency gate, without any caching or
// retry semantics.
func (s *Service) CallWithGate(ctx context.Context, fn func(context.Context) error) error {
	return s.gate.Run(ctx, fn)
}

// GenerateText performs the full reliable call: cooldown check, cache lookup,
// in-flight de-duplication, then a gated retrying upstream call whose result
// is cached. The returned text is trimmed and non-empty.
func (s *Service) GenerateText(ctx context.Context, req models.GenerateRequest) (string, error) {
	if len(req.Parts) == 0 {
		return "", models.NewValidationError("at least one content part is required", nil)
	}

	if err := s.guard.Check(); err != nil {
		return "", err
	}

	if req.CacheKey == "" {
		// Keyless calls are fully independent: no cache, no de-duplication.
		return s.generate(ctx, req)
	}

	if value, ok, err := s.store.Get(ctx, req.CacheKey); err != nil {
		fiberlog.Warnf("[%s] cache lookup failed: %v", req.Operation(), err)
	} else if ok {
		fiberlog.Debugf("[%s] cache hit", req.Operation())
		return value, nil
	}

	// singleflight is the in-flight registry: one initiator per key, every
	// concurrent caller shares its result or failure, and the registration
	// is removed when the call settles regardless of outcome.
	v, err, shared := s.group.Do(req.CacheKey, func() (any, error) {
		// A prior initiator may have settled and populated the cache between
		// our lookup and winning the flight.
		if value, ok, err := s.store.Get(ctx, req.CacheKey); err == nil && ok {
			return value, nil
		}
		return s.generate(ctx, req)
	})
	if err != nil {
		return "", err
	}
	if shared {
		fiberlog.Debugf("[%s] joined in-flight call", req.Operation())
	}
	return v.(string), nil
}

// generate runs the gated attempt loop and stores the result when keyed.
func (s *Service) generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	var text string
	err := s.gate.Run(ctx, func(ctx context.Context) error {
		result, err := s.attempt(ctx, req)
		if err != nil {
			return err
		}
		text = result
		return nil
	})
	if err != nil {
		return "", err
	}

	if req.CacheKey != "" {
		ttl := req.TTL
		if ttl <= 0 {
			ttl = s.cfg.CacheTTL()
		}
		if err := s.store.Set(ctx, req.CacheKey, text, ttl); err != nil {
			// Serving the fresh result matters more than caching it.
			fiberlog.Warnf("[%s] failed to cache result: %v", req.Operation(), err)
		}
	}
	return text, nil
}

// attempt is the retry loop: classify each failure, back off on transient
// ones while budget remains, trip the cooldown on quota exhaustion, and fail
// fast on everything else.
func (s *Service) attempt(ctx context.Context, req models.GenerateRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = s.cfg.DefaultModelName()
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.cfg.Retries()
	}
	op := req.Operation()

	for attempt := 0; ; attempt++ {
		if err := s.guard.Check(); err != nil {
			return "", err
		}

		text, err := s.upstream.GenerateText(ctx, model, req.SystemInstruction, req.Parts)
		if err == nil {
			trimmed := strings.TrimSpace(text)
			if trimmed != "" {
				if attempt > 0 {
					fiberlog.Infof("[%s] succeeded on attempt %d", op, attempt+1)
				}
				return trimmed, nil
			}
			// An empty result fails the attempt and goes through the same
			// classifier. It matches no transient signal, so the loop exits
			// after this attempt no matter the retry budget.
			err = models.NewEmptyResponseError(model)
		}

		class, status := classify(err)
		switch class {
		case verdictQuotaExceeded:
			resumeAt := s.guard.Trip()
			fiberlog.Errorf("[%s] daily quota exhausted, cooling down until %s", op, resumeAt.Format(time.RFC3339))
			return "", models.NewQuotaExceededError(op, truncateMessage(err.Error()))

		case verdictRetryable:
			if attempt < maxRetries {
				delay := backoffDelay(attempt, status, s.jitterMs)
				fiberlog.Warnf("[%s] attempt %d/%d failed (%s), retrying in %v",
					op, attempt+1, maxRetries+1, truncateMessage(err.Error()), delay)
				if err := s.sleep(ctx, delay); err != nil {
					return "", err
				}
				continue
			}
			fiberlog.Errorf("[%s] exhausted %d attempts: %v", op, attempt+1, err)
			return "", models.NewExhaustedAttemptsError(op, attempt+1, truncateMessage(err.Error()))

		default:
			fiberlog.Errorf("[%s] non-retryable failure on attempt %d: %v", op, attempt+1, err)
			return "", models.NewUpstreamError(op, attempt+1, truncateMessage(err.Error()), err)
		}
	}
}

// sleepContext pauses for d unless ctx settles first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
