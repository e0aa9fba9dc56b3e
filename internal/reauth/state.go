package reauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/cache"
)

var ErrInvalidTransition = errors.New("invalid gate transition")

type State string

const (
	Idle             State = "idle"
	ActionSelected   State = "action_selected"
	Confirming       State = "confirming"
	Reauthenticating State = "reauthenticating"
	Completed        State = "completed"
)

type Path string

const (
	PasswordPath  Path = "password"
	FederatedPath Path = "federated"
)

var transitions = map[State][]State{
	Idle:             {ActionSelected},
	ActionSelected:   {Confirming, Idle},
	Confirming:       {Reauthenticating, Idle},
	Reauthenticating: {Completed, Confirming, Idle},
	Completed:        {Idle},
}

// View is the gate's volatile, per-page state. It does not survive a
// federated redirect; PendingAction does.
type View struct {
	State  State  `json:"state"`
	Kind   Kind   `json:"kind,omitempty"`
	Path   Path   `json:"path,omitempty"`
	Notice string `json:"notice,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (v *View) to(next State) error {
	current := v.State
	if current == "" {
		current = Idle
	}
	for _, allowed := range transitions[current] {
		if allowed == next {
			v.State = next
			if next == Idle {
				v.Kind = ""
				v.Path = ""
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

// Consequence describes what confirming will do, empty outside Confirming.
func (v View) Consequence() string {
	if v.State != Confirming {
		return ""
	}
	return v.Kind.Consequence()
}

const viewKeyPrefix = "gate:"

type viewStore struct {
	cache cache.Cache
	ttl   time.Duration
}

func (s *viewStore) load(ctx context.Context, sessionID string) (View, error) {
	data, err := s.cache.Get(ctx, viewKeyPrefix+sessionID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return View{State: Idle}, nil
		}
		return View{}, fmt.Errorf("failed to load gate state: %w", err)
	}

	var v View
	if err := json.Unmarshal(data, &v); err != nil {
		return View{}, fmt.Errorf("failed to unmarshal gate state: %w", err)
	}
	return v, nil
}

func (s *viewStore) save(ctx context.Context, sessionID string, v View) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal gate state: %w", err)
	}
	if err := s.cache.Set(ctx, viewKeyPrefix+sessionID, data, s.ttl); err != nil {
		return fmt.Errorf("failed to save gate state: %w", err)
	}
	return nil
}

func (s *viewStore) reset(ctx context.Context, sessionID string) error {
	return s.cache.Delete(ctx, viewKeyPrefix+sessionID)
}
