package identity_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/marcogenualdo/keyconsole/internal/cache"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/identity/identitytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = identitytest.User{
	UserID:   "uid-alice",
	Email:    "alice@example.com",
	Password: "correct-horse",
	Verified: true,
	IDPToken: "google-alice",
}

type fixture struct {
	clock clockwork.FakeClock
	idp   *identitytest.Fake
	store *identity.Store
	auth  *identity.Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	idp := identitytest.NewFake(clock, alice)
	store := identity.NewStore(mem, time.Hour)
	tokens := identity.NewTokenProvider(idp, store, identity.TokenProviderOptions{
		RefreshSkew:  time.Minute,
		ReauthMaxAge: 5 * time.Minute,
		Clock:        clock,
	}, logger)

	return &fixture{
		clock: clock,
		idp:   idp,
		store: store,
		auth:  identity.NewAuthenticator(idp, store, tokens, "google.com", logger),
	}
}

func TestTokenRequiresSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.Tokens().Token(context.Background(), nil, false)
	assert.ErrorIs(t, err, identity.ErrNotAuthenticated)
}

func TestTokenReusesCachedUntilNearExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.auth.SignIn(ctx, alice.Email, alice.Password)
	require.NoError(t, err)
	first := sess.IDToken

	got, err := f.auth.Tokens().Token(ctx, sess, false)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.Equal(t, []string{"signin"}, f.idp.Events())

	f.clock.Advance(59*time.Minute + 30*time.Second)
	got, err = f.auth.Tokens().Token(ctx, sess, false)
	require.NoError(t, err)
	assert.NotEqual(t, first, got)
	assert.Equal(t, []string{"signin", "refresh"}, f.idp.Events())
}

func TestTokenForceRefreshPersistsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.auth.SignIn(ctx, alice.Email, alice.Password)
	require.NoError(t, err)

	got, err := f.auth.Tokens().Token(ctx, sess, true)
	require.NoError(t, err)
	assert.Equal(t, f.idp.LastIssued(), got)

	stored, err := f.store.Load(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored.IDToken)
}

func TestTokenRefreshRejectedIsNotAuthenticated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.auth.SignIn(ctx, alice.Email, alice.Password)
	require.NoError(t, err)

	f.idp.FailNextRefresh(&identity.APIError{Status: 400, Message: "TOKEN_EXPIRED"})
	_, err = f.auth.Tokens().Token(ctx, sess, true)
	assert.ErrorIs(t, err, identity.ErrNotAuthenticated)
}

func TestReauthenticatedRequiresRecentSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.auth.SignIn(ctx, alice.Email, alice.Password)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	_, err = f.auth.Tokens().Reauthenticated(ctx, sess)
	assert.ErrorIs(t, err, identity.ErrReauthRequired)

	require.NoError(t, f.auth.Reauthenticate(ctx, sess, alice.Password))
	proof, err := f.auth.Tokens().Reauthenticated(ctx, sess)
	require.NoError(t, err)

	assert.True(t, proof.Valid())
	assert.Equal(t, alice.UserID, proof.UserID())
	assert.Equal(t, f.idp.LastIssued(), proof.Token())

	events := f.idp.Events()
	assert.Equal(t, []string{"signin", "refresh", "signin", "refresh"}, events)
}

func TestReauthenticateWrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.auth.SignIn(ctx, alice.Email, alice.Password)
	require.NoError(t, err)
	before := sess.IDToken

	err = f.auth.Reauthenticate(ctx, sess, "wrong")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	assert.Equal(t, before, sess.IDToken)
}

func TestReauthenticateFederatedRejectsOtherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bob := identitytest.User{UserID: "uid-bob", Email: "bob@example.com", IDPToken: "google-bob"}
	f.idp = identitytest.NewFake(f.clock, alice, bob)
	f.auth = identity.NewAuthenticator(f.idp, f.store, identity.NewTokenProvider(f.idp, f.store, identity.TokenProviderOptions{
		ReauthMaxAge: 5 * time.Minute,
		Clock:        f.clock,
	}, slog.New(slog.NewTextHandler(io.Discard, nil))), "google.com", slog.New(slog.NewTextHandler(io.Discard, nil)))

	sess, err := f.auth.SignIn(ctx, alice.Email, alice.Password)
	require.NoError(t, err)

	err = f.auth.ReauthenticateFederated(ctx, sess, "google-bob", "http://localhost/auth/oidc/callback")
	assert.ErrorIs(t, err, identity.ErrIdentityMismatch)

	require.NoError(t, f.auth.ReauthenticateFederated(ctx, sess, "google-alice", "http://localhost/auth/oidc/callback"))
}

func TestSignUpSendsVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.auth.SignUp(ctx, "carol@example.com", "s3cret!")
	require.NoError(t, err)
	assert.False(t, sess.EmailVerified)
	assert.Equal(t, []string{"carol@example.com"}, f.idp.VerificationsSent())

	_, err = f.auth.SignUp(ctx, "carol@example.com", "s3cret!")
	assert.ErrorIs(t, err, identity.ErrEmailExists)

	f.idp.SetVerified("carol@example.com", true)
	require.NoError(t, f.auth.Reload(ctx, sess))
	assert.True(t, sess.EmailVerified)
}

func TestStoreLoadMissingSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Load(context.Background(), "nope")
	assert.True(t, errors.Is(err, identity.ErrNotAuthenticated))

	_, err = f.store.Load(context.Background(), "")
	assert.ErrorIs(t, err, identity.ErrNotAuthenticated)
}
