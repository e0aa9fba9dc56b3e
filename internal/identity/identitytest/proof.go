package identitytest

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/cache"
	"github.com/marcogenualdo/keyconsole/internal/identity"
)

// Harness wires the fake into a real store, TokenProvider and Authenticator.
type Harness struct {
	Fake   *Fake
	Cache  *cache.MemoryCache
	Store  *identity.Store
	Tokens *identity.TokenProvider
	Auth   *identity.Authenticator
}

func NewHarness(f *Fake) *Harness {
	mem := cache.NewMemoryCache()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := identity.NewStore(mem, time.Hour)
	tokens := identity.NewTokenProvider(f, store, identity.TokenProviderOptions{
		RefreshSkew:  time.Minute,
		ReauthMaxAge: 5 * time.Minute,
		Clock:        f.Clock,
	}, logger)

	return &Harness{
		Fake:   f,
		Cache:  mem,
		Store:  store,
		Tokens: tokens,
		Auth:   identity.NewAuthenticator(f, store, tokens, "google.com", logger),
	}
}

func (h *Harness) Close() {
	_ = h.Cache.Close()
}

// Proof signs the user in and returns a fresh re-authentication proof.
func (h *Harness) Proof(ctx context.Context, email, password string) (identity.Proof, *identity.Session, error) {
	sess, err := h.Auth.SignIn(ctx, email, password)
	if err != nil {
		return identity.Proof{}, nil, err
	}
	proof, err := h.Tokens.Reauthenticated(ctx, sess)
	return proof, sess, err
}
