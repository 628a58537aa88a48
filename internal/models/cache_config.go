package models

const (
	// CacheBackendMemory selects the in-process store.
	CacheBackendMemory = "memory"
	// CacheBackendRedis selects the shared Redis store.
	CacheBackendRedis = "redis"
)

// CacheConfig selects and configures the result cache backend.
type CacheConfig struct {
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
}
