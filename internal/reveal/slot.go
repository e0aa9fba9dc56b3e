// Package reveal holds a freshly issued API key until the key-management
// view shows it once.
package reveal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/cache"
)

const keyPrefix = "reveal:"

type Slot struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewSlot(c cache.Cache, ttl time.Duration) *Slot {
	return &Slot{cache: c, ttl: ttl}
}

// Put stores secret for the session, replacing any unread one.
func (s *Slot) Put(ctx context.Context, sessionID, secret string) error {
	if err := s.cache.Set(ctx, keyPrefix+sessionID, []byte(secret), s.ttl); err != nil {
		return fmt.Errorf("failed to store one-time secret: %w", err)
	}
	return nil
}

// PeekAndClear returns the unread secret, if any, and deletes it in the
// same step. There is no way to read it twice.
func (s *Slot) PeekAndClear(ctx context.Context, sessionID string) (string, bool, error) {
	data, err := s.cache.Take(ctx, keyPrefix+sessionID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read one-time secret: %w", err)
	}
	return string(data), true, nil
}

// Discard drops any unread secret, e.g. on sign-out.
func (s *Slot) Discard(ctx context.Context, sessionID string) error {
	return s.cache.Delete(ctx, keyPrefix+sessionID)
}
