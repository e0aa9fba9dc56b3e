package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/keyview"
	"github.com/marcogenualdo/keyconsole/internal/middleware"
	"github.com/marcogenualdo/keyconsole/internal/reauth"
)

type KeysPageData struct {
	Page      *keyview.Page
	Federated bool
}

// KeysHandler serves the key-management page and the gate's form posts.
// Every post redirects back to the page, which reads the outcome from the
// gate and the reveal slot.
type KeysHandler struct {
	loader *keyview.Loader
	gate   *reauth.Gate
	render *Renderer
	logger *slog.Logger
}

func NewKeysHandler(loader *keyview.Loader, gate *reauth.Gate, render *Renderer, logger *slog.Logger) *KeysHandler {
	return &KeysHandler{
		loader: loader,
		gate:   gate,
		render: render,
		logger: logger,
	}
}

func (h *KeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())

	page, err := h.loader.Load(r.Context(), sess)
	if err != nil {
		if errors.Is(err, identity.ErrNotAuthenticated) {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		h.logger.Error("failed to load key page", "session_id", sess.ID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.render.Render(w, r, http.StatusOK, "keys.html", KeysPageData{
		Page:      page,
		Federated: h.gate.FederatedAvailable(),
	})
}

func (h *KeysHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())

	kind, err := reauth.ParseKind(r.PostFormValue("kind"))
	if err != nil {
		http.Error(w, "Unknown action", http.StatusBadRequest)
		return
	}

	_, err = h.gate.Select(r.Context(), sess, kind)
	h.back(w, r, sess, err)
}

func (h *KeysHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())
	_, err := h.gate.Confirm(r.Context(), sess)
	h.back(w, r, sess, err)
}

func (h *KeysHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())
	_, err := h.gate.Cancel(r.Context(), sess)
	h.back(w, r, sess, err)
}

func (h *KeysHandler) HandlePassword(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())
	_, err := h.gate.ReauthenticateWithPassword(r.Context(), sess, r.PostFormValue("password"))
	h.back(w, r, sess, err)
}

// HandleFederated sends the browser to the identity provider. The
// operation resumes on the next key-page load after the callback.
func (h *KeysHandler) HandleFederated(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())

	url, err := h.gate.BeginFederated(r.Context(), sess)
	if err != nil {
		h.back(w, r, sess, err)
		return
	}

	http.Redirect(w, r, url, http.StatusSeeOther)
}

// back returns to the key page. Expected failures are already reflected in
// the gate's view; a stale form simply re-renders the current state.
func (h *KeysHandler) back(w http.ResponseWriter, r *http.Request, sess *identity.Session, err error) {
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrNotAuthenticated):
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	case errors.Is(err, reauth.ErrInvalidTransition):
		h.logger.Debug("stale gate form", "session_id", sess.ID, "error", err)
	case errors.Is(err, reauth.ErrReauthFailed), errors.Is(err, reauth.ErrOperationFailed):
		h.logger.Info("guarded operation did not complete", "session_id", sess.ID, "error", err)
	default:
		h.logger.Error("gate request failed", "session_id", sess.ID, "error", err)
	}

	http.Redirect(w, r, "/keys", http.StatusSeeOther)
}
