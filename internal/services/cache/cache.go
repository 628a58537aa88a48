// Package cache provides the exact-key result cache for upstream generations.
// Two backends implement the same Store interface: an in-process map for
// single-instance deployments and Redis for shared ones.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/quickmeds/gemini-relay/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Store is the result cache. Implementations must be safe for concurrent use
// and must never return an entry at or past its expiry.
type Store interface {
	// Get returns the cached value and whether a live entry exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key until now + ttl, overwriting any prior entry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Close releases backend resources.
	Close() error
}

// Key builds the deterministic cache key for a payload:
// namespace + ":" + sha256 hex of the payload's canonical string form.
func Key(namespace, payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return namespace + ":" + hex.EncodeToString(sum[:])
}

// New creates the Store selected by the configuration. An empty backend
// defaults to memory.
func New(cfg models.CacheConfig) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = models.CacheBackendMemory
	}

	switch backend {
	case models.CacheBackendMemory:
		fiberlog.Debug("Cache: using in-memory store")
		return NewMemoryStore(), nil
	case models.CacheBackendRedis:
		fiberlog.Debugf("Cache: using Redis store at %s", cfg.RedisURL)
		return NewRedisStore(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s (supported: memory, redis)", backend)
	}
}
