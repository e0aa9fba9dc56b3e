package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const sweepInterval = time.Minute

// MemoryCache keeps entries in process. It serves single-instance
// deployments and tests; expiry follows the injected clock.
type MemoryCache struct {
	data      map[string]*cacheItem
	mu        sync.RWMutex
	clock     clockwork.Clock
	stopCh    chan struct{}
	closeOnce sync.Once
}

type cacheItem struct {
	value     []byte
	expiresAt time.Time
}

type MemoryOption func(*MemoryCache)

// WithClock makes expiry and the sweep loop follow clock.
func WithClock(clock clockwork.Clock) MemoryOption {
	return func(mc *MemoryCache) { mc.clock = clock }
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	mc := &MemoryCache{
		data:   make(map[string]*cacheItem),
		clock:  clockwork.NewRealClock(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(mc)
	}

	go mc.sweep()

	return mc
}

func (mc *MemoryCache) live(key string) (*cacheItem, bool) {
	item, exists := mc.data[key]
	if !exists || !mc.clock.Now().Before(item.expiresAt) {
		return nil, false
	}
	return item, true
}

func (mc *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	item, ok := mc.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	return clone(item.value), nil
}

func (mc *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.data[key] = &cacheItem{
		value:     clone(value),
		expiresAt: mc.clock.Now().Add(ttl),
	}
	return nil
}

// Take holds the write lock across lookup and delete, so of several
// concurrent callers only one gets the value.
func (mc *MemoryCache) Take(ctx context.Context, key string) ([]byte, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, ok := mc.live(key)
	delete(mc.data, key)
	if !ok {
		return nil, ErrNotFound
	}
	return item.value, nil
}

func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.data, key)
	return nil
}

func (mc *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	_, ok := mc.live(key)
	return ok, nil
}

func (mc *MemoryCache) Ping(ctx context.Context) error {
	select {
	case <-mc.stopCh:
		return ErrClosed
	default:
		return nil
	}
}

func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() { close(mc.stopCh) })
	return nil
}

func (mc *MemoryCache) sweep() {
	for {
		select {
		case <-mc.clock.After(sweepInterval):
			mc.removeExpired()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MemoryCache) removeExpired() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.clock.Now()
	for key, item := range mc.data {
		if !now.Before(item.expiresAt) {
			delete(mc.data, key)
		}
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
