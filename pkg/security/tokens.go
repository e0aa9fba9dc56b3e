package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const csrfTokenBytes = 32

// RandomToken returns n random bytes, URL-safe encoded without padding.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func GenerateCSRFToken() (string, error) {
	token, err := RandomToken(csrfTokenBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}
	return token, nil
}

// SameSession reports whether a token's recorded owner is the session
// presenting it. Anonymous tokens only match anonymous requests.
func SameSession(owner, sessionID string) bool {
	return subtle.ConstantTimeCompare([]byte(owner), []byte(sessionID)) == 1
}
