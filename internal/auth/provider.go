package auth

import (
	"context"
	"net/http"
)

// Provider runs the browser redirect round trip with a federated identity
// provider and yields the provider's ID token.
type Provider interface {
	ID() string
	Name() string

	InitiateAuth(ctx context.Context, redirectURL string, intent Intent) (*AuthRedirect, error)
	HandleCallback(ctx context.Context, req *http.Request) (*Assertion, error)
}
