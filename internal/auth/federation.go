package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/keyconsole/internal/cache"
)

const stateKeyPrefix = "oidc:state:"

var ErrInvalidState = errors.New("invalid or expired federated sign-in state")

// CallbackError is a failed callback whose state was recovered, so the
// caller still knows which flow it belonged to.
type CallbackError struct {
	Intent Intent
	Err    error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("federated %s failed: %v", e.Intent, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Federation stores in-flight redirect state and hands the browser to the
// provider. It is the single entry point for federated login and
// federated re-authentication.
type Federation struct {
	provider    Provider
	cache       cache.Cache
	callbackURL string
	logger      *slog.Logger
}

func NewFederation(provider Provider, c cache.Cache, baseURL string, logger *slog.Logger) *Federation {
	return &Federation{
		provider:    provider,
		cache:       c,
		callbackURL: baseURL + "/auth/oidc/callback",
		logger:      logger,
	}
}

func (f *Federation) Name() string {
	return f.provider.Name()
}

func (f *Federation) CallbackURL() string {
	return f.callbackURL
}

func (f *Federation) BeginLogin(ctx context.Context) (string, error) {
	return f.begin(ctx, IntentLogin, "")
}

// BeginReauth starts a forced re-prompt for an existing session.
func (f *Federation) BeginReauth(ctx context.Context, sessionID string) (string, error) {
	return f.begin(ctx, IntentReauth, sessionID)
}

func (f *Federation) begin(ctx context.Context, intent Intent, sessionID string) (string, error) {
	redirect, err := f.provider.InitiateAuth(ctx, f.callbackURL, intent)
	if err != nil {
		return "", fmt.Errorf("failed to initiate auth: %w", err)
	}

	redirect.CacheData.SessionID = sessionID
	data, err := json.Marshal(redirect.CacheData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth state: %w", err)
	}

	if err := f.cache.Set(ctx, stateKeyPrefix+redirect.State, data, redirect.CacheTTL); err != nil {
		return "", fmt.Errorf("failed to cache auth state: %w", err)
	}

	f.logger.Debug("federated redirect issued", "provider", f.provider.ID(), "intent", intent)
	return redirect.URL, nil
}

// Complete verifies the callback. The state is consumed whether or not
// verification succeeds.
func (f *Federation) Complete(ctx context.Context, req *http.Request) (*Assertion, error) {
	return f.provider.HandleCallback(ctx, req)
}

// TakeState is used by providers to consume the stored state exactly once.
func TakeState(ctx context.Context, c cache.Cache, state string) (*OIDCState, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: missing state parameter", ErrInvalidState)
	}

	data, err := c.Take(ctx, stateKeyPrefix+state)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("failed to load auth state: %w", err)
	}

	var s OIDCState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &s, nil
}
