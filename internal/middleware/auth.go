package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/pkg/security"
)

type contextKey string

const SessionContextKey contextKey = "session"

type AuthMiddleware struct {
	cfg    config.ServerConfig
	store  *identity.Store
	logger *slog.Logger
}

func NewAuthMiddleware(cfg config.ServerConfig, store *identity.Store, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
}

// Session resolves the browser's session cookie, if any.
func (am *AuthMiddleware) Session(r *http.Request) (*identity.Session, bool) {
	cookie, err := security.GetSessionCookie(r, am.cfg.CookieName)
	if err != nil {
		return nil, false
	}

	sess, err := am.store.Load(r.Context(), cookie.Value)
	if err != nil {
		am.logger.Debug("session not found", "error", err)
		return nil, false
	}
	return sess, true
}

// RequireSession sends anonymous visitors to the login page.
func (am *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := am.Session(r)
		if !ok {
			am.logger.Debug("no session", "path", r.URL.Path)
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth additionally holds back users whose email is unverified.
func (am *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return am.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := GetSession(r.Context())
		if !sess.EmailVerified {
			http.Redirect(w, r, "/verify-email", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func GetSession(ctx context.Context) (*identity.Session, bool) {
	session, ok := ctx.Value(SessionContextKey).(*identity.Session)
	return session, ok
}
