package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "c***@example.com", maskEmail("carol@example.com"))
	assert.Equal(t, "not-an-email", maskEmail("not-an-email"))
	assert.Equal(t, "@example.com", maskEmail("@example.com"))
}

func TestSignInMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&identity.APIError{Status: 400, Message: "INVALID_LOGIN_CREDENTIALS"}, msgInvalidCredentials},
		{&identity.APIError{Status: 400, Message: "EMAIL_EXISTS"}, msgEmailExists},
		{&identity.APIError{Status: 400, Message: "WEAK_PASSWORD : too short"}, msgWeakPassword},
		{errors.New("connection refused"), msgSignInFailed},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, signInMessage(tt.err))
	}
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func TestHealthReportsDegradedDependency(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"cache":   pinger{},
		"backend": pinger{err: errors.New("dial tcp: connection refused")},
	}, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, map[string]string{"cache": "ok", "backend": "unreachable"}, resp.Checks)
}

func TestDateFormatsExpiry(t *testing.T) {
	date := funcs["date"].(func(*time.Time) string)
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "1 Apr 2026", date(&at))
	assert.Equal(t, "", date(nil))
}

func TestTemplatesParse(t *testing.T) {
	r, err := NewRenderer(config.UIConfig{Title: "Orbmem Console"}, nil, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Len(t, r.templates, len(pages))
}
