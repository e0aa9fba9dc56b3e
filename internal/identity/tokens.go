package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Proof is a bearer assertion minted by a forced refresh right after a
// successful re-authentication. Only this package can construct a valid one.
type Proof struct {
	token    string
	userID   string
	authTime time.Time
}

func (p Proof) Token() string       { return p.token }
func (p Proof) UserID() string      { return p.userID }
func (p Proof) AuthTime() time.Time { return p.authTime }
func (p Proof) Valid() bool         { return p.token != "" }

// TokenProvider supplies bearer assertions for outbound backend calls.
type TokenProvider struct {
	idp    Identity
	store  *Store
	clock  clockwork.Clock
	skew   time.Duration
	maxAge time.Duration
	logger *slog.Logger
}

type TokenProviderOptions struct {
	// RefreshSkew forces a refresh when the cached token expires within it.
	RefreshSkew time.Duration
	// ReauthMaxAge bounds how old auth_time may be for a Proof.
	ReauthMaxAge time.Duration
	Clock        clockwork.Clock
}

func NewTokenProvider(idp Identity, store *Store, opts TokenProviderOptions, logger *slog.Logger) *TokenProvider {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &TokenProvider{
		idp:    idp,
		store:  store,
		clock:  clock,
		skew:   opts.RefreshSkew,
		maxAge: opts.ReauthMaxAge,
		logger: logger,
	}
}

// Token returns a bearer assertion for sess. The cached token is reused
// unless forceRefresh is set or it is about to expire.
func (p *TokenProvider) Token(ctx context.Context, sess *Session, forceRefresh bool) (string, error) {
	if sess == nil || sess.RefreshToken == "" {
		return "", ErrNotAuthenticated
	}

	if !forceRefresh && sess.IDToken != "" && p.clock.Now().Add(p.skew).Before(sess.TokenExpiry) {
		return sess.IDToken, nil
	}

	tokens, err := p.idp.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		return "", err
	}

	if err := sess.apply(tokens); err != nil {
		return "", err
	}

	if err := p.store.Save(ctx, sess); err != nil {
		p.logger.Warn("failed to persist refreshed session", "session_id", sess.ID, "error", err)
	}

	p.logger.Debug("identity token refreshed", "session_id", sess.ID, "forced", forceRefresh)
	return sess.IDToken, nil
}

// Reauthenticated force-refreshes and returns a Proof if the identity was
// re-proven within the configured window.
func (p *TokenProvider) Reauthenticated(ctx context.Context, sess *Session) (Proof, error) {
	token, err := p.Token(ctx, sess, true)
	if err != nil {
		return Proof{}, err
	}

	if sess.AuthTime.IsZero() || p.clock.Since(sess.AuthTime) > p.maxAge {
		return Proof{}, fmt.Errorf("%w: last sign-in at %s", ErrReauthRequired, sess.AuthTime.Format(time.RFC3339))
	}

	return Proof{token: token, userID: sess.UserID, authTime: sess.AuthTime}, nil
}
