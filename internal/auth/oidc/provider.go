package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/marcogenualdo/keyconsole/internal/auth"
	"github.com/marcogenualdo/keyconsole/internal/cache"
	"github.com/marcogenualdo/keyconsole/internal/config"
	"golang.org/x/oauth2"
)

type Provider struct {
	id    string
	name  string
	cfg   config.FederatedConfig
	cache cache.Cache
	now   func() time.Time

	provider     *oidc.Provider
	oauth2Config oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

type idClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	AuthTime      int64  `json:"auth_time"`
}

func NewProvider(ctx context.Context, cfg config.FederatedConfig, cache cache.Cache) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	oauth2Config := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       cfg.Scopes,
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	return &Provider{
		id:           "oidc",
		name:         cfg.Name,
		cfg:          cfg,
		cache:        cache,
		now:          time.Now,
		provider:     provider,
		oauth2Config: oauth2Config,
		verifier:     verifier,
	}, nil
}

func (p *Provider) ID() string {
	return p.id
}

func (p *Provider) Name() string {
	return p.name
}

// InitiateAuth builds the authorization URL. Re-authentication asks the
// provider to prompt for credentials again even if it holds a session.
func (p *Provider) InitiateAuth(ctx context.Context, redirectURL string, intent auth.Intent) (*auth.AuthRedirect, error) {
	codeVerifier := oauth2.GenerateVerifier()
	state := uuid.New().String()
	nonce := uuid.New().String()

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(codeVerifier),
		oidc.Nonce(nonce),
	}
	if p.cfg.HD != "" {
		opts = append(opts, oauth2.SetAuthURLParam("hd", p.cfg.HD))
	}
	if intent == auth.IntentReauth {
		opts = append(opts,
			oauth2.SetAuthURLParam("prompt", p.cfg.ReauthPrompt),
			oauth2.SetAuthURLParam("max_age", "0"),
		)
	}

	oauth2Config := p.oauth2Config
	oauth2Config.RedirectURL = redirectURL

	return &auth.AuthRedirect{
		URL:   oauth2Config.AuthCodeURL(state, opts...),
		State: state,
		CacheData: &auth.OIDCState{
			State:        state,
			Nonce:        nonce,
			ProviderID:   p.id,
			CodeVerifier: codeVerifier,
			RedirectURL:  redirectURL,
			Intent:       intent,
			CreatedAt:    p.now(),
		},
		CacheTTL: 5 * time.Minute,
	}, nil
}

func (p *Provider) HandleCallback(ctx context.Context, req *http.Request) (*auth.Assertion, error) {
	query := req.URL.Query()

	state, err := auth.TakeState(ctx, p.cache, query.Get("state"))
	if err != nil {
		return nil, err
	}

	assertion, err := p.exchange(ctx, query, state)
	if err != nil {
		return nil, &auth.CallbackError{Intent: state.Intent, Err: err}
	}
	return assertion, nil
}

func (p *Provider) exchange(ctx context.Context, query url.Values, state *auth.OIDCState) (*auth.Assertion, error) {
	if e := query.Get("error"); e != "" {
		return nil, fmt.Errorf("provider returned %s: %s", e, query.Get("error_description"))
	}

	code := query.Get("code")
	if code == "" {
		return nil, fmt.Errorf("missing code parameter")
	}

	if state.ProviderID != p.id {
		return nil, fmt.Errorf("provider mismatch")
	}

	oauth2Config := p.oauth2Config
	oauth2Config.RedirectURL = state.RedirectURL

	oauth2Token, err := oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(state.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	if idToken.Nonce != state.Nonce {
		return nil, fmt.Errorf("nonce mismatch")
	}

	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	// Providers that honour max_age report when the user last signed in.
	if state.Intent == auth.IntentReauth && claims.AuthTime != 0 {
		if p.now().Sub(time.Unix(claims.AuthTime, 0)) > 5*time.Minute {
			return nil, fmt.Errorf("provider did not re-authenticate the user")
		}
	}

	return &auth.Assertion{
		IDToken:     rawIDToken,
		Email:       claims.Email,
		Intent:      state.Intent,
		SessionID:   state.SessionID,
		RedirectURL: state.RedirectURL,
	}, nil
}
