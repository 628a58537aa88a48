package gemini

import (
	"context"
	"sync"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"
)

// Pool caches Gemini clients by credential fingerprint, using singleflight so
// concurrent callers never build the same client twice.
type Pool struct {
	clients sync.Map
	group   singleflight.Group
}

// NewPool creates an empty client pool.
func NewPool() *Pool {
	return &Pool{}
}

// Get returns the cached client for apiKey, building one on first use.
func (p *Pool) Get(ctx context.Context, apiKey string) (*Client, error) {
	key := configHash(apiKey)

	if cached, ok := p.clients.Load(key); ok {
		return cached.(*Client), nil
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		// Double-check after winning the singleflight slot.
		if cached, ok := p.clients.Load(key); ok {
			return cached.(*Client), nil
		}

		fiberlog.Debugf("Creating new Gemini client (config hash: %s)", key[:8])
		client, err := NewClient(ctx, apiKey)
		if err != nil {
			return nil, err
		}

		p.clients.Store(key, client)
		return client, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Client), nil
}

// Evict drops the cached client for apiKey.
func (p *Pool) Evict(apiKey string) {
	p.clients.Delete(configHash(apiKey))
}
