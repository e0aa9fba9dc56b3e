package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity/identitytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cookieName = "keyconsole-session"

var (
	verified   = identitytest.User{UserID: "uid-v", Email: "v@example.com", Password: "password1", Verified: true}
	unverified = identitytest.User{UserID: "uid-u", Email: "u@example.com", Password: "password2"}
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ok(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func newHarness(t *testing.T) *identitytest.Harness {
	t.Helper()
	h := identitytest.NewHarness(identitytest.NewFake(clockwork.NewFakeClock(), verified, unverified))
	t.Cleanup(h.Close)
	return h
}

func withSession(r *http.Request, id string) *http.Request {
	r.AddCookie(&http.Cookie{Name: cookieName, Value: id})
	return r
}

func TestRequireAuth(t *testing.T) {
	h := newHarness(t)
	am := NewAuthMiddleware(config.ServerConfig{CookieName: cookieName}, h.Store, discard())
	guarded := am.RequireAuth(http.HandlerFunc(ok))

	good, err := h.Auth.SignIn(context.Background(), verified.Email, verified.Password)
	require.NoError(t, err)
	pending, err := h.Auth.SignIn(context.Background(), unverified.Email, unverified.Password)
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      *http.Request
		status   int
		location string
	}{
		{"no cookie", httptest.NewRequest(http.MethodGet, "/keys", nil), http.StatusFound, "/login"},
		{"unknown session", withSession(httptest.NewRequest(http.MethodGet, "/keys", nil), "gone"), http.StatusFound, "/login"},
		{"unverified email", withSession(httptest.NewRequest(http.MethodGet, "/keys", nil), pending.ID), http.StatusFound, "/verify-email"},
		{"verified", withSession(httptest.NewRequest(http.MethodGet, "/keys", nil), good.ID), http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			guarded.ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.location, rec.Header().Get("Location"))
		})
	}
}

func TestRequireSessionAllowsUnverified(t *testing.T) {
	h := newHarness(t)
	am := NewAuthMiddleware(config.ServerConfig{CookieName: cookieName}, h.Store, discard())

	sess, err := h.Auth.SignIn(context.Background(), unverified.Email, unverified.Password)
	require.NoError(t, err)

	var seen string
	handler := am.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := GetSession(r.Context())
		require.True(t, ok)
		seen = s.Email
	}))

	handler.ServeHTTP(httptest.NewRecorder(), withSession(httptest.NewRequest(http.MethodGet, "/verify-email", nil), sess.ID))
	assert.Equal(t, unverified.Email, seen)
}

func TestCSRFTokenIsBoundToSession(t *testing.T) {
	h := newHarness(t)
	cm := NewCSRFMiddleware(cookieName, h.Cache, discard())
	protected := cm.ValidateCSRF(http.HandlerFunc(ok))

	issuedFor := withSession(httptest.NewRequest(http.MethodGet, "/keys", nil), "sid-a")
	token, err := cm.GenerateCSRFToken(context.Background(), issuedFor)
	require.NoError(t, err)

	post := func(sid, token string) int {
		form := url.Values{"csrf_token": {token}}.Encode()
		req := httptest.NewRequest(http.MethodPost, "/keys/select", strings.NewReader(form))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if sid != "" {
			withSession(req, sid)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, post("sid-a", token))
	assert.Equal(t, http.StatusNoContent, post("sid-a", token), "token is reusable within its TTL")
	assert.Equal(t, http.StatusForbidden, post("sid-b", token))
	assert.Equal(t, http.StatusForbidden, post("", token))
	assert.Equal(t, http.StatusForbidden, post("sid-a", ""))
	assert.Equal(t, http.StatusForbidden, post("sid-a", "forged"))

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/keys", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCSRFHeaderToken(t *testing.T) {
	h := newHarness(t)
	cm := NewCSRFMiddleware(cookieName, h.Cache, discard())

	token, err := cm.GenerateCSRFToken(context.Background(), withSession(httptest.NewRequest(http.MethodGet, "/payment", nil), "sid-a"))
	require.NoError(t, err)

	req := withSession(httptest.NewRequest(http.MethodPost, "/payment/order", strings.NewReader(`{"plan":"monthly"}`)), "sid-a")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", token)

	rec := httptest.NewRecorder()
	cm.ValidateCSRF(http.HandlerFunc(ok)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryAndLogging(t *testing.T) {
	handler := Logging(discard())(Recovery(discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
