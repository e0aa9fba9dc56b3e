package reveal

import (
	"context"
	"testing"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSlot(t *testing.T) *Slot {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	return NewSlot(mem, time.Hour)
}

func TestPeekAndClearReadsOnce(t *testing.T) {
	slot := newSlot(t)
	ctx := context.Background()

	_, ok, err := slot.PeekAndClear(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, slot.Put(ctx, "s1", "orb_secret"))

	got, ok, err := slot.PeekAndClear(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "orb_secret", got)

	_, ok, err = slot.PeekAndClear(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutOverwritesUnread(t *testing.T) {
	slot := newSlot(t)
	ctx := context.Background()

	require.NoError(t, slot.Put(ctx, "s1", "first"))
	require.NoError(t, slot.Put(ctx, "s1", "second"))

	got, ok, err := slot.PeekAndClear(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", got)
}

func TestSlotsAreScopedBySession(t *testing.T) {
	slot := newSlot(t)
	ctx := context.Background()

	require.NoError(t, slot.Put(ctx, "s1", "mine"))

	_, ok, err := slot.PeekAndClear(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, slot.Discard(ctx, "s1"))
	_, ok, err = slot.PeekAndClear(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}
