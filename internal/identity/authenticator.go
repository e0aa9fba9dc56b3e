package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Authenticator runs the sign-in, sign-up and re-authentication exchanges
// and keeps the session store in step with their results.
type Authenticator struct {
	idp        Identity
	store      *Store
	tokens     *TokenProvider
	providerID string
	clock      clockwork.Clock
	logger     *slog.Logger
}

func NewAuthenticator(idp Identity, store *Store, tokens *TokenProvider, federatedProviderID string, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		idp:        idp,
		store:      store,
		tokens:     tokens,
		providerID: federatedProviderID,
		clock:      tokens.clock,
		logger:     logger,
	}
}

func (a *Authenticator) Tokens() *TokenProvider {
	return a.tokens
}

func (a *Authenticator) SignIn(ctx context.Context, email, password string) (*Session, error) {
	tokens, err := a.idp.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return a.newSession(ctx, tokens)
}

// SignUp registers the account and sends the verification email. The
// returned session is unverified until the user follows the link.
func (a *Authenticator) SignUp(ctx context.Context, email, password string) (*Session, error) {
	tokens, err := a.idp.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}

	sess, err := a.newSession(ctx, tokens)
	if err != nil {
		return nil, err
	}

	if err := a.idp.SendEmailVerification(ctx, sess.IDToken); err != nil {
		a.logger.Warn("failed to send verification email", "session_id", sess.ID, "error", err)
	}
	return sess, nil
}

func (a *Authenticator) SignInFederated(ctx context.Context, idpToken, requestURI string) (*Session, error) {
	tokens, err := a.idp.SignInWithIDP(ctx, a.providerID, idpToken, requestURI)
	if err != nil {
		return nil, err
	}
	return a.newSession(ctx, tokens)
}

// Reauthenticate re-proves the session's identity with its own email and
// the supplied password.
func (a *Authenticator) Reauthenticate(ctx context.Context, sess *Session, password string) error {
	if sess == nil {
		return ErrNotAuthenticated
	}

	tokens, err := a.idp.SignInWithPassword(ctx, sess.Email, password)
	if err != nil {
		return err
	}
	return a.replaceTokens(ctx, sess, tokens)
}

func (a *Authenticator) ReauthenticateFederated(ctx context.Context, sess *Session, idpToken, requestURI string) error {
	if sess == nil {
		return ErrNotAuthenticated
	}

	tokens, err := a.idp.SignInWithIDP(ctx, a.providerID, idpToken, requestURI)
	if err != nil {
		return err
	}
	return a.replaceTokens(ctx, sess, tokens)
}

func (a *Authenticator) SendVerification(ctx context.Context, sess *Session) error {
	token, err := a.tokens.Token(ctx, sess, false)
	if err != nil {
		return err
	}
	return a.idp.SendEmailVerification(ctx, token)
}

// Reload force-refreshes so the session picks up a changed verification status.
func (a *Authenticator) Reload(ctx context.Context, sess *Session) error {
	_, err := a.tokens.Token(ctx, sess, true)
	return err
}

func (a *Authenticator) SignOut(ctx context.Context, sessionID string) error {
	return a.store.Delete(ctx, sessionID)
}

func (a *Authenticator) newSession(ctx context.Context, tokens *Tokens) (*Session, error) {
	sess := &Session{
		ID:        uuid.New().String(),
		CreatedAt: a.clock.Now(),
	}
	if err := sess.apply(tokens); err != nil {
		return nil, err
	}

	if err := a.store.Save(ctx, sess); err != nil {
		return nil, err
	}

	a.logger.Info("session created", "session_id", sess.ID, "user_id", sess.UserID)
	return sess, nil
}

func (a *Authenticator) replaceTokens(ctx context.Context, sess *Session, tokens *Tokens) error {
	claims, err := ParseClaims(tokens.IDToken)
	if err != nil {
		return err
	}
	if claims.UserID != sess.UserID {
		return fmt.Errorf("%w: expected %s", ErrIdentityMismatch, sess.UserID)
	}

	if err := sess.apply(tokens); err != nil {
		return err
	}
	if err := a.store.Save(ctx, sess); err != nil {
		return err
	}

	a.logger.Info("session re-authenticated", "session_id", sess.ID)
	return nil
}
