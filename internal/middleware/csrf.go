package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/cache"
	"github.com/marcogenualdo/keyconsole/pkg/security"
)

const csrfTTL = time.Hour

// CSRFMiddleware checks that state-changing requests carry a token issued
// to the same browser session. Tokens stay valid for their TTL so a page
// can post more than once.
type CSRFMiddleware struct {
	cookieName string
	cache      cache.Cache
	logger     *slog.Logger
}

func NewCSRFMiddleware(cookieName string, cache cache.Cache, logger *slog.Logger) *CSRFMiddleware {
	return &CSRFMiddleware{
		cookieName: cookieName,
		cache:      cache,
		logger:     logger,
	}
}

func (cm *CSRFMiddleware) ValidateCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete {
			token := r.Header.Get("X-CSRF-Token")
			if token == "" {
				token = r.FormValue("csrf_token")
			}

			if token == "" {
				cm.logger.Warn("missing CSRF token", "path", r.URL.Path)
				http.Error(w, "Missing CSRF token", http.StatusForbidden)
				return
			}

			owner, err := cm.cache.Get(r.Context(), "csrf:"+token)
			if err != nil {
				if errors.Is(err, cache.ErrNotFound) {
					cm.logger.Warn("invalid CSRF token", "path", r.URL.Path)
					http.Error(w, "Invalid or expired CSRF token", http.StatusForbidden)
					return
				}
				cm.logger.Error("failed to check CSRF token", "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			if !security.SameSession(string(owner), cm.sessionID(r)) {
				cm.logger.Warn("CSRF token issued to another session", "path", r.URL.Path)
				http.Error(w, "Invalid or expired CSRF token", http.StatusForbidden)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// GenerateCSRFToken issues a token bound to the request's session cookie,
// or to no session for anonymous pages.
func (cm *CSRFMiddleware) GenerateCSRFToken(ctx context.Context, r *http.Request) (string, error) {
	token, err := security.GenerateCSRFToken()
	if err != nil {
		return "", err
	}

	if err := cm.cache.Set(ctx, "csrf:"+token, []byte(cm.sessionID(r)), csrfTTL); err != nil {
		return "", err
	}

	return token, nil
}

func (cm *CSRFMiddleware) sessionID(r *http.Request) string {
	cookie, err := security.GetSessionCookie(r, cm.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
