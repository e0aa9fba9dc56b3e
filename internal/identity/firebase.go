package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/config"
	"golang.org/x/oauth2"
)

// Tokens is what the identity provider hands back after any sign-in or refresh.
type Tokens struct {
	IDToken      string
	RefreshToken string
	Expiry       time.Time
}

// Identity is the identity provider as seen by the dashboard.
type Identity interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Tokens, error)
	SignUp(ctx context.Context, email, password string) (*Tokens, error)
	SignInWithIDP(ctx context.Context, providerID, idpToken, requestURI string) (*Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
	SendEmailVerification(ctx context.Context, idToken string) error
}

// FirebaseClient talks to the Firebase Authentication REST surface.
type FirebaseClient struct {
	cfg        config.IdentityConfig
	httpClient *http.Client
	oauth2     oauth2.Config
}

func NewFirebaseClient(cfg config.IdentityConfig, httpClient *http.Client) *FirebaseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &FirebaseClient{
		cfg:        cfg,
		httpClient: httpClient,
		oauth2: oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.SecureTokenURL + "?key=" + url.QueryEscape(cfg.APIKey),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

func (r signInResponse) tokens() *Tokens {
	t := &Tokens{
		IDToken:      r.IDToken,
		RefreshToken: r.RefreshToken,
	}
	if secs, err := time.ParseDuration(r.ExpiresIn + "s"); err == nil {
		t.Expiry = time.Now().Add(secs)
	}
	return t
}

func (c *FirebaseClient) SignInWithPassword(ctx context.Context, email, password string) (*Tokens, error) {
	var resp signInResponse
	err := c.call(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.tokens(), nil
}

func (c *FirebaseClient) SignUp(ctx context.Context, email, password string) (*Tokens, error) {
	var resp signInResponse
	err := c.call(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.tokens(), nil
}

func (c *FirebaseClient) SignInWithIDP(ctx context.Context, providerID, idpToken, requestURI string) (*Tokens, error) {
	postBody := url.Values{}
	postBody.Set("id_token", idpToken)
	postBody.Set("providerId", providerID)

	var resp signInResponse
	err := c.call(ctx, "accounts:signInWithIdp", map[string]any{
		"postBody":            postBody.Encode(),
		"requestUri":          requestURI,
		"returnSecureToken":   true,
		"returnIdpCredential": false,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.tokens(), nil
}

func (c *FirebaseClient) SendEmailVerification(ctx context.Context, idToken string) error {
	body := map[string]any{
		"requestType": "VERIFY_EMAIL",
		"idToken":     idToken,
	}
	if c.cfg.ContinueURL != "" {
		body["continueUrl"] = c.cfg.ContinueURL
	}
	return c.call(ctx, "accounts:sendOobCode", body, nil)
}

// Refresh exchanges a refresh token at the Secure Token endpoint. The
// endpoint speaks the OAuth 2.0 refresh grant, so the exchange goes through
// oauth2 rather than a hand-built request.
func (c *FirebaseClient) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, ErrNotAuthenticated
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tokenSource := c.oauth2.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
	})

	newToken, err := tokenSource.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
			return nil, fmt.Errorf("%w: refresh rejected: %s", ErrNotAuthenticated, retrieveErr.ErrorCode)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	idToken, _ := newToken.Extra("id_token").(string)
	if idToken == "" {
		idToken = newToken.AccessToken
	}

	return &Tokens{
		IDToken:      idToken,
		RefreshToken: newToken.RefreshToken,
		Expiry:       newToken.Expiry,
	}, nil
}

// Ping reports whether the identity endpoint answers; any HTTP status counts.
func (c *FirebaseClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.IdentityURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *FirebaseClient) call(ctx context.Context, method string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	endpoint := strings.TrimRight(c.cfg.IdentityURL, "/") + "/" + method + "?key=" + url.QueryEscape(c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiErrorBody
		_ = json.Unmarshal(data, &apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}
