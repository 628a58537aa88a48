package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quickmeds/gemini-relay/internal/models"
	"github.com/quickmeds/gemini-relay/internal/services/cache"
	"github.com/quickmeds/gemini-relay/internal/services/gate"
	"github.com/quickmeds/gemini-relay/internal/services/quota"

	"google.golang.org/genai"
)

// fakeUpstream counts calls and delegates per-call behavior to fn, which
// receives the 1-based call number.
type fakeUpstream struct {
	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	delay       time.Duration
	fn          func(call int64) (string, error)
}

func (f *fakeUpstream) GenerateText(context.Context, string, string, []models.Part) (string, error) {
	call := f.calls.Add(1)

	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.fn(call)
}

// testService wires a relay over a fake upstream with instant sleeps, zero
// jitter, and a simulated clock shared by guard and cache.
type testService struct {
	svc      *Service
	upstream *fakeUpstream
	store    *cache.MemoryStore
	delays   []time.Duration
	now      time.Time
}

func newTestService(t *testing.T, upstream *fakeUpstream) *testService {
	t.Helper()

	ts := &testService{
		upstream: upstream,
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return ts.now }
	ts.store = cache.NewMemoryStoreWithClock(clock)

	ts.svc = New(upstream, ts.store, gate.New(1), quota.NewWithClock(time.Hour, clock), models.RelayConfig{})
	ts.svc.jitterMs = func(int) int { return 0 }
	ts.svc.sleep = func(_ context.Context, d time.Duration) error {
		ts.delays = append(ts.delays, d)
		return nil
	}
	return ts
}

func quotaErr() error {
	return genai.APIError{
		Code:    429,
		Message: "You exceeded your current quota, please check your plan and billing details.",
	}
}

func TestGenerateTextDeduplication(t *testing.T) {
	t.Run("concurrent_same_key_calls_upstream_once", func(t *testing.T) {
		up := &fakeUpstream{
			delay: 50 * time.Millisecond,
			fn:    func(int64) (string, error) { return "advice", nil },
		}
		ts := newTestService(t, up)

		req := models.GenerateRequest{
			Parts:    []models.Part{{Text: "interactions of ibuprofen"}},
			CacheKey: BuildCacheKey("chat", "interactions of ibuprofen"),
		}

		var wg sync.WaitGroup
		results := make([]string, 5)
		errs := make([]error, 5)
		for i := range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = ts.svc.GenerateText(context.Background(), req)
			}()
		}
		wg.Wait()

		if got := up.calls.Load(); got != 1 {
			t.Fatalf("upstream calls = %d, want 1", got)
		}
		for i := range 5 {
			if errs[i] != nil {
				t.Fatalf("caller %d failed: %v", i, errs[i])
			}
			if results[i] != "advice" {
				t.Fatalf("caller %d result = %q, want advice", i, results[i])
			}
		}
	})

	t.Run("concurrent_failure_shared_by_all_callers", func(t *testing.T) {
		up := &fakeUpstream{
			delay: 50 * time.Millisecond,
			fn:    func(int64) (string, error) { return "", genai.APIError{Code: 400, Message: "invalid request"} },
		}
		ts := newTestService(t, up)

		req := models.GenerateRequest{
			Parts:    []models.Part{{Text: "p"}},
			CacheKey: "chat:deadbeef",
		}

		var wg sync.WaitGroup
		errs := make([]error, 3)
		for i := range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = ts.svc.GenerateText(context.Background(), req)
			}()
		}
		wg.Wait()

		if got := up.calls.Load(); got != 1 {
			t.Fatalf("upstream calls = %d, want 1", got)
		}
		for i := range 3 {
			if errs[i] == nil {
				t.Fatalf("caller %d unexpectedly succeeded", i)
			}
		}
	})

	t.Run("keyless_calls_never_deduplicate_or_cache", func(t *testing.T) {
		up := &fakeUpstream{fn: func(int64) (string, error) { return "r", nil }}
		ts := newTestService(t, up)

		req := models.GenerateRequest{Parts: []models.Part{{Text: "identical"}}}
		for range 2 {
			if _, err := ts.svc.GenerateText(context.Background(), req); err != nil {
				t.Fatalf("GenerateText failed: %v", err)
			}
		}

		if got := up.calls.Load(); got != 2 {
			t.Fatalf("upstream calls = %d, want 2 independent calls", got)
		}
		if ts.store.Len() != 0 {
			t.Fatal("keyless call populated the cache")
		}
	})
}

func TestGenerateTextCaching(t *testing.T) {
	t.Run("second_call_within_ttl_hits_cache", func(t *testing.T) {
		up := &fakeUpstream{fn: func(int64) (string, error) { return "cached answer", nil }}
		ts := newTestService(t, up)

		req := models.GenerateRequest{
			Parts:    []models.Part{{Text: "p"}},
			CacheKey: "chat:abc",
		}

		for range 2 {
			text, err := ts.svc.GenerateText(context.Background(), req)
			if err != nil {
				t.Fatalf("GenerateText failed: %v", err)
			}
			if text != "cached answer" {
				t.Fatalf("text = %q", text)
			}
		}

		if got := up.calls.Load(); got != 1 {
			t.Fatalf("upstream calls = %d, want 1", got)
		}
	})

	t.Run("expired_entry_triggers_fresh_upstream_call", func(t *testing.T) {
		up := &fakeUpstream{fn: func(int64) (string, error) { return "answer", nil }}
		ts := newTestService(t, up)

		req := models.GenerateRequest{
			Parts:    []models.Part{{Text: "p"}},
			CacheKey: "chat:abc",
			TTL:      time.Hour,
		}

		if _, err := ts.svc.GenerateText(context.Background(), req); err != nil {
			t.Fatalf("GenerateText failed: %v", err)
		}

		ts.now = ts.now.Add(time.Hour)
		if _, err := ts.svc.GenerateText(context.Background(), req); err != nil {
			t.Fatalf("GenerateText after expiry failed: %v", err)
		}

		if got := up.calls.Load(); got != 2 {
			t.Fatalf("upstream calls = %d, want 2", got)
		}
	})

	t.Run("result_is_trimmed_before_caching", func(t *testing.T) {
		up := &fakeUpstream{fn: func(int64) (string, error) { return "  spaced out \n", nil }}
		ts := newTestService(t, up)

		text, err := ts.svc.GenerateText(context.Background(), models.GenerateRequest{
			Parts:    []models.Part{{Text: "p"}},
			CacheKey: "chat:abc",
		})
		if err != nil {
			t.Fatalf("GenerateText failed: %v", err)
		}
		if text != "spaced out" {
			t.Fatalf("text = %q, want trimmed", text)
		}

		cached, ok, _ := ts.store.Get(context.Background(), "chat:abc")
		if !ok || cached != "spaced out" {
			t.Fatalf("cached = (%q, %t), want trimmed value", cached, ok)
		}
	})
}

func TestGenerateTextRetry(t *testing.T) {
	t.Run("transient_failures_retried_until_success", func(t *testing.T) {
		up := &fakeUpstream{fn: func(call int64) (string, error) {
			if call <= 2 {
				return "", genai.APIError{Code: 503, Message: "The service is currently unavailable."}
			}
			return "recovered", nil
		}}
		ts := newTestService(t, up)

		text, err := ts.svc.GenerateText(context.Background(), models.GenerateRequest{
			Parts: []models.Part{{Text: "p"}},
		})
		if err != nil {
			t.Fatalf("GenerateText failed: %v", err)
		}
		if text != "recovered" {
			t.Fatalf("text = %q", text)
		}
		if got := up.calls.Load(); got != 3 {
			t.Fatalf("upstream calls = %d, want 3", got)
		}

		// Exponential backoff from a 1s base with zero jitter.
		want := []time.Duration{1 * time.Second, 2 * time.Second}
		if len(ts.delays) != len(want) {
			t.Fatalf("recorded delays = %v, want %v", ts.delays, want)
		}
		for i := range want {
			if ts.delays[i] != want[i] {
				t.Fatalf("delay[%d] = %v, want %v", i, ts.delays[i], want[i])
			}
		}
	})

	t.Run("rate_limited_failures_back_off_from_3s_base", func(t *testing.T) {
		up := &fakeUpstream{fn: func(call int64) (string, error) {
			if call == 1 {
				return "", genai.APIError{Code: 429, Message: "Too many requests."}
			}
			return "ok", nil
		}}
		ts := newTestService(t, up)

		if _, err := ts.svc.GenerateText(context.Background(), models.GenerateRequest{
			Parts: []models.Part{{Text: "p"}},
		}); err != nil {
			t.Fatalf("GenerateText failed: %v", err)
		}

		if len(ts.delays) != 1 || ts.delays[0] != 3*time.Second {
			t.Fatalf("delays = %v, want [3s]", ts.delays)
		}
	})

	t.Run("exhausts_budget_after_initial_plus_max_retries", func(t *testing.T) {
		up := &fakeUpstream{fn: func(int64) (string, error) {
			return "", genai.APIError{Code: 503, Message: "The service is currently unavailable."}
		}}
		ts := newTestService(t, up)

		_, err := ts.svc.GenerateText(context.Background(), models.GenerateRequest{
			Parts:      []models.Part{{Text: "p"}},
			MaxRetries: 3,
			Label:      "product-description",
		})
		if err == nil {
			t.Fatal("expected failure after exhausting attempts")
		}

		var appErr *models.AppError
		if !errors.As(err, &appErr) || appErr.Type != models.ErrorTypeExhaustedAttempts {
			t.Fatalf("error = %v, want exhausted_attempts", err)
		}
		if !strings.Contains(err.Error(), "product-description") || !strings.Contains(err.Error(), "4 attempts") {
			t.Fatalf("error %q should name the operation and the attempt count", err)
		}
		if got := up.calls.Load(); got != 4 {
			t.Fatalf("upstream calls = %d, want 4 (initial + 3 retries)", got)
		}
	})

	t.Run("non_retryable_failure_surfaces_after_one_attempt", func(t *testing.T) {
		up := &fakeUpstream{fn: func(int64) (string, error) {
			return "", genai.APIError{Code: 400, Message: "Invalid request: unsupported content."}
		}}
		ts := newTestService(t, up)

		_, err := ts.svc.GenerateText(context.Background(), models.GenerateRequest{
			Parts:      []models.Part{{Text: "p"}},
			MaxRetries: 3,
		})
		if err == nil {
			t.Fatal("expected failure")
		}

		var appErr *models.AppError
		if !errors.As(err, &appErr) || appErr.Type != models.ErrorTypeUpstream {
			t.Fatalf("error = %v, want upstream error", err)
		}
		if !strings.Contains(err.Error(), "1 attempts") {
			t.Fatalf("error %q should report a single attempt", err)
		}
		if got := up.calls.Load(); got != 1 {
			t.Fatalf("upstream calls = %d, want 1", got)
		}
	})

	t.Run("empty_response_fails_fast_despite_retry_budget", func(t *testing.T) {
		up := &fakeUpstream{fn: func(int64) (string, error) { return "   \n", nil }}
		ts := newTestService(t, up)

		_, err := ts.svc.GenerateText(context.Background(), models.GenerateRequest{
			Parts:      []models.Part{{Text: "p"}},
			MaxRetries: 3,
		})
		if err == nil {
			t.Fatal("expected failure on empty response")
		}
		if !strings.Contains(err.Error(), "empty response") {
			t.Fatalf("error %q should mention the empty response", err)
		}
		if got := up.calls.Load(); got != 1 {
			t.Fatalf("upstream calls = %d, want 1 (empty response is not retried)", got)
		}
		if len(ts.delays) != 0 {
			t.Fatalf("no backoff expected, got %v", ts.delays)
		}
	})

	t.Run("long_upstream_messages_truncated_in_errors", func(t *testing.T) {
		up := &fakeUpstream{fn: func(int64) (string, error) {
			return "", genai.APIError{Code: 400, Message: strings.Repeat("x", 500)}
		}}
		ts := newTestService(t, up)

		_, err := ts.svc.GenerateText(context.Background(), models.GenerateRequest{
			Parts: []models.Part{{Text: "p"}},
		})
		if err == nil {
			t.Fatal("expected failure")
		}

		var appErr *models.AppError
		if !errors.As(err, &appErr) {
			t.Fatalf("error = %v, want AppError", err)
		}
		if len(appErr.Message) > 300 {
			t.Fatalf("surfaced message length = %d, upstream text should be truncated to 200 chars", len(appErr.Message))
		}
	})
}

func TestGenerateTextQuotaCooldown(t *testing.T) {
	t.Run("quota_exhaustion_trips_cooldown_then_recovers", func(t *testing.T) {
		up := &fakeUpstream{fn: func(call int64) (string, error) {
			if call == 1 {
				return "", quotaErr()
			}
			return "back in business", nil
		}}
		ts := newTestService(t, up)
		req := models.GenerateRequest{Parts: []models.Part{{Text: "p"}}}

		_, err := ts.svc.GenerateText(context.Background(), req)
		var appErr *models.AppError
		if !errors.As(err, &appErr) || appErr.Type != models.ErrorTypeQuotaExceeded {
			t.Fatalf("error = %v, want quota_exceeded", err)
		}
		if !strings.HasPrefix(appErr.Message, "quota exceeded") {
			t.Fatalf("message %q should carry the quota exceeded prefix", appErr.Message)
		}

		// Every call inside the window fails fast without touching upstream.
		ts.now = ts.now.Add(59 * time.Minute)
		_, err = ts.svc.GenerateText(context.Background(), req)
		if !errors.As(err, &appErr) || appErr.Type != models.ErrorTypeCooldownActive {
			t.Fatalf("error = %v, want cooldown_active", err)
		}
		if got := up.calls.Load(); got != 1 {
			t.Fatalf("upstream calls during cooldown = %d, want 1", got)
		}

		// Past the resume instant the wrapper works again.
		ts.now = ts.now.Add(2 * time.Minute)
		text, err := ts.svc.GenerateText(context.Background(), req)
		if err != nil {
			t.Fatalf("GenerateText after cooldown failed: %v", err)
		}
		if text != "back in business" {
			t.Fatalf("text = %q", text)
		}
	})

	t.Run("quota_error_is_never_retried", func(t *testing.T) {
		up := &fakeUpstream{fn: func(int64) (string, error) { return "", quotaErr() }}
		ts := newTestService(t, up)

		_, err := ts.svc.GenerateText(context.Background(), models.GenerateRequest{
			Parts:      []models.Part{{Text: "p"}},
			MaxRetries: 3,
		})
		if err == nil {
			t.Fatal("expected quota failure")
		}
		if got := up.calls.Load(); got != 1 {
			t.Fatalf("upstream calls = %d, want 1", got)
		}
		if len(ts.delays) != 0 {
			t.Fatalf("no backoff expected for quota exhaustion, got %v", ts.delays)
		}
	})
}

func TestGateSerialization(t *testing.T) {
	t.Run("five_keyless_calls_reach_upstream_one_at_a_time", func(t *testing.T) {
		up := &fakeUpstream{
			delay: 20 * time.Millisecond,
			fn:    func(int64) (string, error) { return "r", nil },
		}
		ts := newTestService(t, up)

		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := ts.svc.GenerateText(context.Background(), models.GenerateRequest{
					Parts: []models.Part{{Text: "p"}},
				})
				if err != nil {
					t.Errorf("GenerateText failed: %v", err)
				}
			}()
		}
		wg.Wait()

		if got := up.calls.Load(); got != 5 {
			t.Fatalf("upstream calls = %d, want 5", got)
		}
		if got := up.maxInFlight.Load(); got != 1 {
			t.Fatalf("max concurrent upstream calls = %d, want 1", got)
		}
	})
}

func TestCallWithGate(t *testing.T) {
	up := &fakeUpstream{fn: func(int64) (string, error) { return "r", nil }}
	ts := newTestService(t, up)

	ran := false
	err := ts.svc.CallWithGate(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("CallWithGate = %v (ran=%t), want nil and executed", err, ran)
	}
}

func TestGenerateTextValidation(t *testing.T) {
	up := &fakeUpstream{fn: func(int64) (string, error) { return "r", nil }}
	ts := newTestService(t, up)

	_, err := ts.svc.GenerateText(context.Background(), models.GenerateRequest{})
	var appErr *models.AppError
	if !errors.As(err, &appErr) || appErr.Type != models.ErrorTypeValidation {
		t.Fatalf("error = %v, want validation error for missing parts", err)
	}
	if up.calls.Load() != 0 {
		t.Fatal("validation failure must not reach upstream")
	}
}
