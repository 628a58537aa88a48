package relay

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"google.golang.org/genai"
)

// verdict is the closed classification of an upstream failure.
type verdict int

const (
	verdictNonRetryable verdict = iota
	verdictRetryable
	verdictQuotaExceeded
)

const (
	backoffBase        = 1 * time.Second
	backoffBase429     = 3 * time.Second
	backoffMaxExponent = 6
	jitterBoundMs      = 250

	maxUpstreamMessageLen = 200
)

// quotaPhrases mark a 429 as exhausted daily quota rather than transient rate
// limiting. The first is the Gemini API's literal wording.
var quotaPhrases = []string{
	"exceeded your current quota",
	"quota exceeded",
}

// transientPhrases flag overload and network-level failures that carry no
// usable status code.
var transientPhrases = []string{
	"overloaded",
	"service unavailable",
	"service is currently unavailable",
	"try again later",
	"network error",
	"fetch failed",
}

// classify maps an upstream failure to a verdict plus the HTTP status it
// carried (0 when none).
func classify(err error) (verdict, int) {
	status := upstreamStatus(err)
	msg := strings.ToLower(err.Error())

	if status == http.StatusTooManyRequests {
		for _, phrase := range quotaPhrases {
			if strings.Contains(msg, phrase) {
				return verdictQuotaExceeded, status
			}
		}
		return verdictRetryable, status
	}

	if status >= http.StatusInternalServerError {
		return verdictRetryable, status
	}

	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return verdictRetryable, status
		}
	}

	if isNetworkError(err) {
		return verdictRetryable, status
	}

	return verdictNonRetryable, status
}

// upstreamStatus extracts the HTTP status from a genai API error.
func upstreamStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// isNetworkError matches connection-reset/timeout/refused and DNS-not-found
// failures from the transport.
func isNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound || dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// backoffDelay computes the delay before retrying the 0-based attempt:
// base x 2^min(attempt, 6) plus jitter in [0, 250) ms. Rate-limited failures
// back off from a 3s base, everything else from 1s.
func backoffDelay(attempt, status int, jitterMs func(int) int) time.Duration {
	base := backoffBase
	if status == http.StatusTooManyRequests {
		base = backoffBase429
	}
	exp := min(attempt, backoffMaxExponent)
	return base<<exp + time.Duration(jitterMs(jitterBoundMs))*time.Millisecond
}

// truncateMessage caps upstream messages embedded in surfaced errors.
func truncateMessage(msg string) string {
	if len(msg) <= maxUpstreamMessageLen {
		return msg
	}
	return msg[:maxUpstreamMessageLen]
}
