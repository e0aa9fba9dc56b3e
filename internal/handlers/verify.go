package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/middleware"
)

const (
	msgVerificationSent = "Verification email sent. Check your inbox."
	msgResendFailed     = "Could not send the verification email. Please try again in a moment."
	msgStillUnverified  = "Your email is not verified yet. Open the link we sent you, then try again."
)

type VerifyPageData struct {
	MaskedEmail string
	Notice      string
	Error       string
}

// VerifyHandler holds signed-in but unverified users until their email is
// confirmed.
type VerifyHandler struct {
	auth   *identity.Authenticator
	render *Renderer
	logger *slog.Logger
}

func NewVerifyHandler(authenticator *identity.Authenticator, render *Renderer, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{
		auth:   authenticator,
		render: render,
		logger: logger,
	}
}

func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())
	if sess.EmailVerified {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}

	data := VerifyPageData{MaskedEmail: maskEmail(sess.Email)}
	switch r.URL.Query().Get("status") {
	case "sent":
		data.Notice = msgVerificationSent
	case "send_failed":
		data.Error = msgResendFailed
	case "unverified":
		data.Error = msgStillUnverified
	}

	h.render.Render(w, r, http.StatusOK, "verify_email.html", data)
}

func (h *VerifyHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())

	if err := h.auth.SendVerification(r.Context(), sess); err != nil {
		h.logger.Warn("failed to resend verification email", "session_id", sess.ID, "error", err)
		http.Redirect(w, r, "/verify-email?status=send_failed", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, "/verify-email?status=sent", http.StatusSeeOther)
}

// HandleCheck reloads the session from the identity provider to pick up a
// completed verification.
func (h *VerifyHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())

	if err := h.auth.Reload(r.Context(), sess); err != nil {
		h.logger.Warn("failed to reload session", "session_id", sess.ID, "error", err)
	}

	if sess.EmailVerified {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/verify-email?status=unverified", http.StatusSeeOther)
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return email
	}
	return local[:1] + "***@" + domain
}
