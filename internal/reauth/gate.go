// Package reauth guards destructive credential operations behind a fresh
// re-authentication, including across a federated identity-provider redirect.
package reauth

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/marcogenualdo/keyconsole/internal/cache"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/reveal"
)

var (
	ErrReauthFailed         = errors.New("re-authentication failed")
	ErrOperationFailed      = errors.New("credential operation failed")
	ErrFederatedUnavailable = errors.New("federated re-authentication is not configured")
)

const (
	msgReauthFailed     = "Re-authentication failed. Check your password and try again."
	msgReauthUnreached  = "Could not reach the sign-in service. Please try again."
	msgResumeFailed     = "Re-authentication did not complete. Your key was not changed."
	msgRedirectFailed   = "Could not start sign-in with your provider. Please try again."
	msgRevoked          = "Your API key has been revoked."
	msgRegenerated      = "A new API key was issued. Copy it now, it will not be shown again."
	msgRevokeFailed     = "Could not revoke your key. Please try again."
	msgRegenerateFailed = "Could not regenerate your key. Please try again."
)

// Credentials is the part of the credential service the gate drives.
type Credentials interface {
	Regenerate(ctx context.Context, proof identity.Proof, plan string) (string, error)
	Revoke(ctx context.Context, proof identity.Proof) error
}

// Redirector starts a federated re-authentication and returns the URL to
// send the browser to.
type Redirector interface {
	BeginReauth(ctx context.Context, sessionID string) (string, error)
}

type Recorder interface {
	ReauthOutcome(path, kind, result string)
}

type Options struct {
	// Plan is sent with regenerate requests.
	Plan       string
	ViewTTL    time.Duration
	Federation Redirector
	Recorder   Recorder
	Clock      clockwork.Clock
}

// Outcome is the result of a dispatched operation, ready for display.
type Outcome struct {
	Kind     Kind
	OK       bool
	Revealed bool
	Message  string
}

type Gate struct {
	auth     *identity.Authenticator
	tokens   *identity.TokenProvider
	creds    Credentials
	secrets  *reveal.Slot
	pending  *PendingStore
	views    *viewStore
	plan     string
	fed      Redirector
	recorder Recorder
	clock    clockwork.Clock
	logger   *slog.Logger

	locks [64]sync.Mutex
}

func NewGate(auth *identity.Authenticator, creds Credentials, secrets *reveal.Slot, pending *PendingStore, c cache.Cache, opts Options, logger *slog.Logger) *Gate {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Gate{
		auth:     auth,
		tokens:   auth.Tokens(),
		creds:    creds,
		secrets:  secrets,
		pending:  pending,
		views:    &viewStore{cache: c, ttl: opts.ViewTTL},
		plan:     opts.Plan,
		fed:      opts.Federation,
		recorder: opts.Recorder,
		clock:    clock,
		logger:   logger,
	}
}

func (g *Gate) FederatedAvailable() bool {
	return g.fed != nil
}

// View returns the current gate state for rendering.
func (g *Gate) View(ctx context.Context, sessionID string) (View, error) {
	return g.views.load(ctx, sessionID)
}

// Flash returns the gate state and clears its messages so they show once.
func (g *Gate) Flash(ctx context.Context, sessionID string) (View, error) {
	unlock := g.lock(sessionID)
	defer unlock()

	v, err := g.views.load(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	if v.Notice == "" && v.Error == "" {
		return v, nil
	}

	cleared := v
	cleared.Notice, cleared.Error = "", ""
	if err := g.views.save(ctx, sessionID, cleared); err != nil {
		return v, err
	}
	return v, nil
}

// Forget drops everything the gate holds for a session that is ending:
// gate state, any pending marker and any unread secret. All three are
// attempted; the first failure is returned.
func (g *Gate) Forget(ctx context.Context, sessionID string) error {
	unlock := g.lock(sessionID)
	defer unlock()

	return errors.Join(
		g.views.reset(ctx, sessionID),
		g.pending.Clear(ctx, sessionID),
		g.secrets.Discard(ctx, sessionID),
	)
}

// Select records the operation the user picked. Valid only from Idle.
func (g *Gate) Select(ctx context.Context, sess *identity.Session, kind Kind) (View, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return View{}, err
	}

	unlock := g.lock(sess.ID)
	defer unlock()

	v, err := g.views.load(ctx, sess.ID)
	if err != nil {
		return View{}, err
	}
	if err := v.to(ActionSelected); err != nil {
		return v, err
	}
	v.Kind = kind
	v.Notice, v.Error = "", ""

	return v, g.views.save(ctx, sess.ID, v)
}

// Confirm moves to the confirmation step where Consequence is shown.
func (g *Gate) Confirm(ctx context.Context, sess *identity.Session) (View, error) {
	unlock := g.lock(sess.ID)
	defer unlock()

	v, err := g.views.load(ctx, sess.ID)
	if err != nil {
		return View{}, err
	}
	if v.State != ActionSelected {
		return v, fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, v.State)
	}
	if err := v.to(Confirming); err != nil {
		return v, err
	}

	return v, g.views.save(ctx, sess.ID, v)
}

// Cancel discards the selection from ActionSelected or Confirming.
func (g *Gate) Cancel(ctx context.Context, sess *identity.Session) (View, error) {
	unlock := g.lock(sess.ID)
	defer unlock()

	v, err := g.views.load(ctx, sess.ID)
	if err != nil {
		return View{}, err
	}
	if v.State != ActionSelected && v.State != Confirming {
		return v, fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, v.State)
	}
	if err := v.to(Idle); err != nil {
		return v, err
	}
	v.Notice, v.Error = "", ""

	return v, g.views.save(ctx, sess.ID, v)
}

// ReauthenticateWithPassword re-proves the user's identity with the
// session's own email and password, then runs the confirmed operation.
func (g *Gate) ReauthenticateWithPassword(ctx context.Context, sess *identity.Session, password string) (Outcome, error) {
	unlock := g.lock(sess.ID)
	defer unlock()

	v, err := g.views.load(ctx, sess.ID)
	if err != nil {
		return Outcome{}, err
	}
	if v.State != Confirming {
		return Outcome{}, fmt.Errorf("%w: password re-authentication from %s", ErrInvalidTransition, v.State)
	}
	kind := v.Kind
	if err := v.to(Reauthenticating); err != nil {
		return Outcome{}, err
	}
	v.Path = PasswordPath
	if err := g.views.save(ctx, sess.ID, v); err != nil {
		return Outcome{}, err
	}

	proof, err := g.reauthenticate(ctx, sess, password)
	if err != nil {
		g.logger.Warn("password re-authentication failed", "session_id", sess.ID, "kind", kind, "error", err)
		g.record(PasswordPath, kind, "reauth_failed")

		msg := msgReauthFailed
		if !errors.Is(err, identity.ErrInvalidCredentials) && !errors.Is(err, identity.ErrReauthRequired) {
			msg = msgReauthUnreached
		}
		v.State, v.Path, v.Error = Confirming, "", msg
		if saveErr := g.views.save(ctx, sess.ID, v); saveErr != nil {
			g.logger.Error("failed to restore gate state", "session_id", sess.ID, "error", saveErr)
		}
		return Outcome{Kind: kind, Message: msg}, fmt.Errorf("%w: %w", ErrReauthFailed, err)
	}

	out, opErr := g.dispatch(ctx, sess, kind, proof)
	g.record(PasswordPath, kind, result(opErr))

	if opErr == nil {
		if err := v.to(Completed); err != nil {
			return out, err
		}
	}
	if err := v.to(Idle); err != nil {
		return out, err
	}
	if out.OK {
		v.Notice = out.Message
	} else {
		v.Error = out.Message
	}
	if err := g.views.save(ctx, sess.ID, v); err != nil {
		g.logger.Error("failed to save gate state", "session_id", sess.ID, "error", err)
	}

	return out, opErr
}

func (g *Gate) reauthenticate(ctx context.Context, sess *identity.Session, password string) (identity.Proof, error) {
	if err := g.auth.Reauthenticate(ctx, sess, password); err != nil {
		return identity.Proof{}, err
	}
	return g.tokens.Reauthenticated(ctx, sess)
}

// BeginFederated records the confirmed operation as a pending marker and
// returns the identity-provider URL. The marker is written before the
// redirect URL is handed out; the volatile view does not survive.
func (g *Gate) BeginFederated(ctx context.Context, sess *identity.Session) (string, error) {
	if g.fed == nil {
		return "", ErrFederatedUnavailable
	}

	unlock := g.lock(sess.ID)
	defer unlock()

	v, err := g.views.load(ctx, sess.ID)
	if err != nil {
		return "", err
	}
	if v.State != Confirming {
		return "", fmt.Errorf("%w: federated re-authentication from %s", ErrInvalidTransition, v.State)
	}
	kind := v.Kind
	if err := v.to(Reauthenticating); err != nil {
		return "", err
	}
	v.Path = FederatedPath

	if err := g.pending.Put(ctx, sess.ID, PendingAction{Kind: kind, CreatedAt: g.clock.Now()}); err != nil {
		return "", g.abortFederated(ctx, sess.ID, v, err)
	}

	url, err := g.fed.BeginReauth(ctx, sess.ID)
	if err != nil {
		if clearErr := g.pending.Clear(ctx, sess.ID); clearErr != nil {
			g.logger.Error("failed to clear pending action", "session_id", sess.ID, "error", clearErr)
		}
		return "", g.abortFederated(ctx, sess.ID, v, err)
	}

	if err := g.views.reset(ctx, sess.ID); err != nil {
		g.logger.Warn("failed to reset gate state", "session_id", sess.ID, "error", err)
	}

	g.logger.Info("federated re-authentication started", "session_id", sess.ID, "kind", kind)
	return url, nil
}

func (g *Gate) abortFederated(ctx context.Context, sessionID string, v View, cause error) error {
	g.logger.Error("failed to start federated re-authentication", "session_id", sessionID, "error", cause)
	g.record(FederatedPath, v.Kind, "redirect_failed")

	v.State, v.Path, v.Error = Confirming, "", msgRedirectFailed
	if err := g.views.save(ctx, sessionID, v); err != nil {
		g.logger.Error("failed to restore gate state", "session_id", sessionID, "error", err)
	}
	return fmt.Errorf("failed to begin federated re-authentication: %w", cause)
}

// Resume runs an operation left pending by a federated redirect. It is the
// first thing the key page does. The marker is consumed whatever the
// outcome, so an operation runs at most once. A nil Outcome means nothing
// was pending.
func (g *Gate) Resume(ctx context.Context, sess *identity.Session) (*Outcome, error) {
	unlock := g.lock(sess.ID)
	defer unlock()

	action, err := g.pending.Take(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, nil
	}

	if err := g.views.reset(ctx, sess.ID); err != nil {
		g.logger.Warn("failed to reset gate state", "session_id", sess.ID, "error", err)
	}

	proof, err := g.tokens.Reauthenticated(ctx, sess)
	if err == nil && proof.AuthTime().Before(action.CreatedAt.Truncate(time.Second)) {
		err = fmt.Errorf("%w: sign-in predates the pending action", identity.ErrReauthRequired)
	}
	if err != nil {
		g.logger.Warn("pending action dropped without re-authentication", "session_id", sess.ID, "kind", action.Kind, "error", err)
		g.record(FederatedPath, action.Kind, "reauth_failed")
		return &Outcome{Kind: action.Kind, Message: msgResumeFailed}, fmt.Errorf("%w: %w", ErrReauthFailed, err)
	}

	out, opErr := g.dispatch(ctx, sess, action.Kind, proof)
	g.record(FederatedPath, action.Kind, result(opErr))
	return &out, opErr
}

func (g *Gate) dispatch(ctx context.Context, sess *identity.Session, kind Kind, proof identity.Proof) (Outcome, error) {
	switch kind {
	case Revoke:
		if err := g.creds.Revoke(ctx, proof); err != nil {
			g.logger.Error("revoke failed", "session_id", sess.ID, "error", err)
			return Outcome{Kind: kind, Message: msgRevokeFailed}, fmt.Errorf("%w: %w", ErrOperationFailed, err)
		}
		g.logger.Info("api key revoked", "session_id", sess.ID, "user_id", proof.UserID())
		return Outcome{Kind: kind, OK: true, Message: msgRevoked}, nil

	case Regenerate:
		key, err := g.creds.Regenerate(ctx, proof, g.plan)
		if err != nil {
			g.logger.Error("regenerate failed", "session_id", sess.ID, "error", err)
			return Outcome{Kind: kind, Message: msgRegenerateFailed}, fmt.Errorf("%w: %w", ErrOperationFailed, err)
		}
		if err := g.secrets.Put(ctx, sess.ID, key); err != nil {
			g.logger.Error("failed to stage regenerated key", "session_id", sess.ID, "error", err)
			return Outcome{Kind: kind, Message: msgRegenerateFailed}, fmt.Errorf("%w: %w", ErrOperationFailed, err)
		}
		g.logger.Info("api key regenerated", "session_id", sess.ID, "user_id", proof.UserID())
		return Outcome{Kind: kind, OK: true, Revealed: true, Message: msgRegenerated}, nil

	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func (g *Gate) lock(sessionID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	mu := &g.locks[h.Sum32()%uint32(len(g.locks))]
	mu.Lock()
	return mu.Unlock
}

func (g *Gate) record(path Path, kind Kind, outcome string) {
	if g.recorder != nil {
		g.recorder.ReauthOutcome(string(path), string(kind), outcome)
	}
}

func result(err error) string {
	if err != nil {
		return "operation_failed"
	}
	return "ok"
}
