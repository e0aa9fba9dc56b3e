package identity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/identity/identitytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIDToken(uid string) string {
	return identitytest.Mint(identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID:        uid,
		Email:         uid + "@example.com",
		EmailVerified: true,
		AuthTime:      time.Now().Unix(),
	})
}

func newFirebaseServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-key", r.URL.Query().Get("key"))

		switch r.URL.Path {
		case "/v1/accounts:signInWithPassword":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["password"] != "pw" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":{"code":400,"message":"INVALID_LOGIN_CREDENTIALS"}}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"idToken":      testIDToken("uid-1"),
				"refreshToken": "refresh-1",
				"expiresIn":    "3600",
			})

		case "/v1/accounts:signInWithIdp":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			postBody, err := url.ParseQuery(body["postBody"].(string))
			assert.NoError(t, err)
			assert.Equal(t, "google.com", postBody.Get("providerId"))
			assert.Equal(t, "idp-token", postBody.Get("id_token"))
			json.NewEncoder(w).Encode(map[string]string{
				"idToken":      testIDToken("uid-1"),
				"refreshToken": "refresh-2",
				"expiresIn":    "3600",
			})

		case "/v1/accounts:sendOobCode":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "VERIFY_EMAIL", body["requestType"])
			w.Write([]byte(`{"email":"uid-1@example.com"}`))

		case "/token":
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			if r.PostForm.Get("refresh_token") != "refresh-1" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant","error_description":"INVALID_REFRESH_TOKEN"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{
				"access_token":  "access",
				"id_token":      testIDToken("uid-1"),
				"refresh_token": "refresh-1b",
				"expires_in":    "3600",
				"token_type":    "Bearer",
				"user_id":       "uid-1",
			})

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFirebaseClient(srv *httptest.Server) *identity.FirebaseClient {
	return identity.NewFirebaseClient(config.IdentityConfig{
		APIKey:         "api-key",
		IdentityURL:    srv.URL + "/v1",
		SecureTokenURL: srv.URL + "/token",
		Timeout:        5 * time.Second,
	}, srv.Client())
}

func TestFirebaseSignInWithPassword(t *testing.T) {
	srv := newFirebaseServer(t)
	client := newFirebaseClient(srv)

	tokens, err := client.SignInWithPassword(context.Background(), "uid-1@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tokens.Expiry, time.Minute)

	claims, err := identity.ParseClaims(tokens.IDToken)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", claims.UserID)
	assert.True(t, claims.EmailVerified)

	_, err = client.SignInWithPassword(context.Background(), "uid-1@example.com", "bad")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	var apiErr *identity.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestFirebaseSignInWithIDP(t *testing.T) {
	srv := newFirebaseServer(t)
	client := newFirebaseClient(srv)

	tokens, err := client.SignInWithIDP(context.Background(), "google.com", "idp-token", "http://localhost/auth/oidc/callback")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", tokens.RefreshToken)
}

func TestFirebaseSendEmailVerification(t *testing.T) {
	srv := newFirebaseServer(t)
	client := newFirebaseClient(srv)

	require.NoError(t, client.SendEmailVerification(context.Background(), "id-token"))
}

func TestFirebaseRefresh(t *testing.T) {
	srv := newFirebaseServer(t)
	client := newFirebaseClient(srv)

	tokens, err := client.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1b", tokens.RefreshToken)

	claims, err := identity.ParseClaims(tokens.IDToken)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", claims.UserID)

	_, err = client.Refresh(context.Background(), "revoked")
	assert.ErrorIs(t, err, identity.ErrNotAuthenticated)

	_, err = client.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, identity.ErrNotAuthenticated)
}

func TestFirebasePing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client := newFirebaseClient(srv)

	assert.NoError(t, client.Ping(context.Background()))

	srv.Close()
	assert.Error(t, client.Ping(context.Background()))
}
