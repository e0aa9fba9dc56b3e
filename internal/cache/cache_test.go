package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return NewRedisCacheFromClient(client, "kc:"), mr
}

func backends(t *testing.T) map[string]Cache {
	t.Helper()

	mem := NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	rc, _ := newTestRedisCache(t)

	return map[string]Cache{
		"memory": mem,
		"redis":  rc,
	}
}

func TestCacheRoundTrip(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := c.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

			got, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)

			ok, err := c.Exists(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, c.Delete(ctx, "k"))
			ok, err = c.Exists(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)

			assert.NoError(t, c.Ping(ctx))
		})
	}
}

func TestCacheTakeRemovesKey(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.Set(ctx, "slot", []byte("secret"), time.Minute))

			got, err := c.Take(ctx, "slot")
			require.NoError(t, err)
			assert.Equal(t, []byte("secret"), got)

			_, err = c.Take(ctx, "slot")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = c.Get(ctx, "slot")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCacheTakeIsSingleReader(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.Set(ctx, "slot", []byte("secret"), time.Minute))

			var hits atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := c.Take(ctx, "slot"); err == nil {
						hits.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mc := NewMemoryCache(WithClock(clock))
	defer mc.Close()

	ctx := context.Background()
	require.NoError(t, mc.Set(ctx, "short", []byte("x"), time.Second))

	ok, err := mc.Exists(ctx, "short")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(time.Second)

	_, err = mc.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mc.Take(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCachePingAfterClose(t *testing.T) {
	mc := NewMemoryCache()
	require.NoError(t, mc.Ping(context.Background()))

	require.NoError(t, mc.Close())
	require.NoError(t, mc.Close())
	assert.ErrorIs(t, mc.Ping(context.Background()), ErrClosed)
}

func TestRedisKeysArePrefixed(t *testing.T) {
	rc, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "session:sid", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("kc:session:sid"))
	assert.False(t, mr.Exists("session:sid"))

	_, err := rc.Take(ctx, "session:sid")
	require.NoError(t, err)
	assert.False(t, mr.Exists("kc:session:sid"))
}

func TestRedisCacheExpiry(t *testing.T) {
	rc, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "short", []byte("x"), time.Second))
	mr.FastForward(2 * time.Second)

	_, err := rc.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}
