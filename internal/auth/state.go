package auth

import (
	"fmt"
	"time"
)

// Intent says what a federated round trip is for.
type Intent string

const (
	IntentLogin  Intent = "login"
	IntentReauth Intent = "reauth"
)

func ParseIntent(s string) (Intent, error) {
	switch Intent(s) {
	case IntentLogin, IntentReauth:
		return Intent(s), nil
	default:
		return "", fmt.Errorf("unknown intent: %q", s)
	}
}

type OIDCState struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	ProviderID   string    `json:"provider_id"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURL  string    `json:"redirect_url"`
	Intent       Intent    `json:"intent"`
	SessionID    string    `json:"session_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type AuthRedirect struct {
	URL       string
	State     string
	CacheData *OIDCState
	CacheTTL  time.Duration
}

// Assertion is the verified outcome of a callback.
type Assertion struct {
	IDToken     string
	Email       string
	Intent      Intent
	SessionID   string
	RedirectURL string
}
