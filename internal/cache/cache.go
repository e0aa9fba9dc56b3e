package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/config"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("cache closed")
)

// Cache holds every piece of server-side session state: sessions, pending
// re-auth markers, reveal slots, gate view state, OIDC state and CSRF
// tokens. Keys are namespaced by the caller ("session:", "pending:", ...).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Take returns the value and removes the key in one step. Concurrent
	// callers racing on the same key see the value at most once.
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryCache(), nil
	case "redis":
		if cfg.Redis == nil {
			return nil, errors.New("redis config is required for redis cache type")
		}
		return NewRedisCache(*cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
