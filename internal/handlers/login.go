package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/marcogenualdo/keyconsole/internal/auth"
	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/middleware"
	"github.com/marcogenualdo/keyconsole/pkg/security"
)

const (
	msgInvalidCredentials = "Invalid email or password."
	msgEmailExists        = "An account with this email already exists. Sign in instead."
	msgWeakPassword       = "Password must be at least 6 characters."
	msgMissingFields      = "Email and password are required."
	msgSignInFailed       = "Sign-in failed. Please try again."
	msgFederatedFailed    = "Sign-in with your provider did not complete. Please try again."
)

type LoginPageData struct {
	SignUp bool
	Email  string
	Error  string
}

type LoginHandler struct {
	cfg    config.ServerConfig
	auth   *identity.Authenticator
	fed    *auth.Federation
	mw     *middleware.AuthMiddleware
	render *Renderer
	logger *slog.Logger
}

// NewLoginHandler builds the sign-in page. fed may be nil when no federated
// provider is configured.
func NewLoginHandler(cfg config.ServerConfig, authenticator *identity.Authenticator, fed *auth.Federation, mw *middleware.AuthMiddleware, render *Renderer, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{
		cfg:    cfg,
		auth:   authenticator,
		fed:    fed,
		mw:     mw,
		render: render,
		logger: logger,
	}
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPost:
		h.handlePost(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *LoginHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if sess, ok := h.mw.Session(r); ok {
		http.Redirect(w, r, landingFor(sess), http.StatusFound)
		return
	}

	data := LoginPageData{SignUp: r.URL.Query().Get("mode") == "signup"}
	if r.URL.Query().Get("error") == "federated" {
		data.Error = msgFederatedFailed
	}
	h.render.Render(w, r, http.StatusOK, "login.html", data)
}

func (h *LoginHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	data := LoginPageData{
		SignUp: r.PostFormValue("mode") == "signup",
		Email:  strings.TrimSpace(r.PostFormValue("email")),
	}
	password := r.PostFormValue("password")

	if data.Email == "" || password == "" {
		data.Error = msgMissingFields
		h.render.Render(w, r, http.StatusBadRequest, "login.html", data)
		return
	}

	var (
		sess *identity.Session
		err  error
	)
	if data.SignUp {
		sess, err = h.auth.SignUp(r.Context(), data.Email, password)
	} else {
		sess, err = h.auth.SignIn(r.Context(), data.Email, password)
	}
	if err != nil {
		h.logger.Warn("password sign-in failed", "signup", data.SignUp, "error", err)
		data.Error = signInMessage(err)
		h.render.Render(w, r, http.StatusUnauthorized, "login.html", data)
		return
	}

	http.SetCookie(w, security.CreateSessionCookie(h.cfg, sess.ID))
	http.Redirect(w, r, landingFor(sess), http.StatusSeeOther)
}

// HandleFederated starts a federated login.
func (h *LoginHandler) HandleFederated(w http.ResponseWriter, r *http.Request) {
	if h.fed == nil {
		http.NotFound(w, r)
		return
	}

	url, err := h.fed.BeginLogin(r.Context())
	if err != nil {
		h.logger.Error("failed to initiate federated login", "error", err)
		http.Redirect(w, r, "/login?error=federated", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, url, http.StatusSeeOther)
}

func signInMessage(err error) string {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return msgInvalidCredentials
	case errors.Is(err, identity.ErrEmailExists):
		return msgEmailExists
	case errors.Is(err, identity.ErrWeakPassword):
		return msgWeakPassword
	default:
		return msgSignInFailed
	}
}

// landingFor is where a freshly signed-in session goes next.
func landingFor(sess *identity.Session) string {
	if !sess.EmailVerified {
		return "/verify-email"
	}
	return "/dashboard"
}
