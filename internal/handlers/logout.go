package handlers

import (
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/reauth"
	"github.com/marcogenualdo/keyconsole/pkg/security"
)

type LogoutHandler struct {
	cfg    config.ServerConfig
	auth   *identity.Authenticator
	gate   *reauth.Gate
	logger *slog.Logger
}

func NewLogoutHandler(cfg config.ServerConfig, authenticator *identity.Authenticator, gate *reauth.Gate, logger *slog.Logger) *LogoutHandler {
	return &LogoutHandler{
		cfg:    cfg,
		auth:   authenticator,
		gate:   gate,
		logger: logger,
	}
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cookie, err := security.GetSessionCookie(r, h.cfg.CookieName)
	if err == nil {
		if err := h.gate.Forget(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("failed to drop session key state", "error", err)
		}
		if err := h.auth.SignOut(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("failed to delete session", "error", err)
		}
	}

	http.SetCookie(w, security.ClearSessionCookie(h.cfg))

	h.logger.Info("user logged out")

	http.Redirect(w, r, "/", http.StatusSeeOther)
}
