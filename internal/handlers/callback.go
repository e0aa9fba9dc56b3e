package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/keyconsole/internal/auth"
	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/pkg/security"
)

// CallbackHandler completes a federated redirect. Login callbacks create a
// session; re-authentication callbacks refresh the existing one and hand
// over to the key page, which runs the pending operation.
type CallbackHandler struct {
	cfg    config.ServerConfig
	fed    *auth.Federation
	auth   *identity.Authenticator
	store  *identity.Store
	logger *slog.Logger
}

func NewCallbackHandler(cfg config.ServerConfig, fed *auth.Federation, authenticator *identity.Authenticator, store *identity.Store, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		cfg:    cfg,
		fed:    fed,
		auth:   authenticator,
		store:  store,
		logger: logger,
	}
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assertion, err := h.fed.Complete(r.Context(), r)
	if err != nil {
		var cbErr *auth.CallbackError
		if errors.As(err, &cbErr) && cbErr.Intent == auth.IntentReauth {
			h.logger.Warn("federated re-authentication failed", "error", err)
			http.Redirect(w, r, "/keys", http.StatusFound)
			return
		}
		h.logger.Error("federated callback failed", "error", err)
		http.Redirect(w, r, "/login?error=federated", http.StatusFound)
		return
	}

	switch assertion.Intent {
	case auth.IntentReauth:
		h.handleReauth(w, r, assertion)
	default:
		h.handleLogin(w, r, assertion)
	}
}

func (h *CallbackHandler) handleLogin(w http.ResponseWriter, r *http.Request, assertion *auth.Assertion) {
	sess, err := h.auth.SignInFederated(r.Context(), assertion.IDToken, assertion.RedirectURL)
	if err != nil {
		h.logger.Error("federated sign-in rejected", "error", err)
		http.Redirect(w, r, "/login?error=federated", http.StatusFound)
		return
	}

	http.SetCookie(w, security.CreateSessionCookie(h.cfg, sess.ID))

	h.logger.Info("federated authentication successful", "session_id", sess.ID)
	http.Redirect(w, r, landingFor(sess), http.StatusFound)
}

// handleReauth only refreshes the session. Whether the refresh counts as a
// re-authentication is decided when the key page resumes the pending
// operation, so failures here just go back there.
func (h *CallbackHandler) handleReauth(w http.ResponseWriter, r *http.Request, assertion *auth.Assertion) {
	cookie, err := security.GetSessionCookie(r, h.cfg.CookieName)
	if err != nil || cookie.Value != assertion.SessionID {
		h.logger.Warn("re-authentication callback for another session")
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	sess, err := h.store.Load(r.Context(), assertion.SessionID)
	if err != nil {
		h.logger.Warn("session gone before re-authentication completed", "error", err)
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	if err := h.auth.ReauthenticateFederated(r.Context(), sess, assertion.IDToken, assertion.RedirectURL); err != nil {
		h.logger.Warn("federated re-authentication rejected", "session_id", sess.ID, "error", err)
	}

	http.Redirect(w, r, "/keys", http.StatusFound)
}
