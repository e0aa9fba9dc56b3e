package reauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/cache"
)

const pendingKeyPrefix = "pending:"

// PendingAction records which operation to run once the user is back from
// the federated identity provider.
type PendingAction struct {
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

type PendingStore struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewPendingStore(c cache.Cache, ttl time.Duration) *PendingStore {
	return &PendingStore{cache: c, ttl: ttl}
}

func (s *PendingStore) Put(ctx context.Context, sessionID string, action PendingAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal pending action: %w", err)
	}
	if err := s.cache.Set(ctx, pendingKeyPrefix+sessionID, data, s.ttl); err != nil {
		return fmt.Errorf("failed to store pending action: %w", err)
	}
	return nil
}

// Take removes and returns the marker. A marker is handed out at most once.
func (s *PendingStore) Take(ctx context.Context, sessionID string) (*PendingAction, error) {
	data, err := s.cache.Take(ctx, pendingKeyPrefix+sessionID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to take pending action: %w", err)
	}

	var action PendingAction
	if err := json.Unmarshal(data, &action); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending action: %w", err)
	}
	if _, err := ParseKind(string(action.Kind)); err != nil {
		return nil, err
	}
	return &action, nil
}

func (s *PendingStore) Clear(ctx context.Context, sessionID string) error {
	return s.cache.Delete(ctx, pendingKeyPrefix+sessionID)
}
