package models

import "time"

const (
	// DefaultModel is used when neither config nor request name one.
	DefaultModel = "gemini-2.0-flash"
	// DefaultMaxRetries bounds retries of transient failures beyond the first attempt.
	DefaultMaxRetries = 3
	// DefaultMaxConcurrency admits one upstream call at a time.
	DefaultMaxConcurrency = 1

	defaultCacheTTLMinutes      = 24 * 60
	defaultQuotaCooldownMinutes = 60
)

// RelayConfig holds the upstream call-reliability settings.
type RelayConfig struct {
	// APIKey authenticates against the Gemini API. Required to perform any call.
	APIKey string `yaml:"api_key"`
	// Model is the default model name.
	Model string `yaml:"model"`
	// MaxConcurrency bounds simultaneous upstream calls (default 1).
	MaxConcurrency int `yaml:"max_concurrency"`
	// MaxRetries bounds retries of transient failures (default 3).
	MaxRetries int `yaml:"max_retries"`
	// CacheTTLMinutes is the default result cache lifetime (default 1440).
	CacheTTLMinutes int `yaml:"cache_ttl_minutes"`
	// QuotaCooldownMinutes suppresses upstream calls after daily-quota
	// exhaustion (default 60).
	QuotaCooldownMinutes int `yaml:"quota_cooldown_minutes"`
}

// DefaultModelName returns the configured model or the package default.
func (c *RelayConfig) DefaultModelName() string {
	if c.Model != "" {
		return c.Model
	}
	return DefaultModel
}

// Concurrency returns the configured gate size, coerced to at least 1.
func (c *RelayConfig) Concurrency() int {
	if c.MaxConcurrency < 1 {
		return DefaultMaxConcurrency
	}
	return c.MaxConcurrency
}

// Retries returns the configured retry budget or the default.
func (c *RelayConfig) Retries() int {
	if c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// CacheTTL returns the default result cache lifetime.
func (c *RelayConfig) CacheTTL() time.Duration {
	minutes := c.CacheTTLMinutes
	if minutes <= 0 {
		minutes = defaultCacheTTLMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// QuotaCooldown returns how long upstream calls stay suppressed after
// daily-quota exhaustion.
func (c *RelayConfig) QuotaCooldown() time.Duration {
	minutes := c.QuotaCooldownMinutes
	if minutes <= 0 {
		minutes = defaultQuotaCooldownMinutes
	}
	return time.Duration(minutes) * time.Minute
}
