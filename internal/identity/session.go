package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the dashboard's handle on a signed-in identity. The cookie
// only carries ID; everything else stays server-side.
type Session struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	IDToken       string    `json:"id_token"`
	RefreshToken  string    `json:"refresh_token"`
	TokenExpiry   time.Time `json:"token_expiry"`
	AuthTime      time.Time `json:"auth_time"`
	CreatedAt     time.Time `json:"created_at"`
}

// Claims are the identity token fields the dashboard reads. Signatures are
// checked by the backend, not here.
type Claims struct {
	jwt.RegisteredClaims
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	AuthTime      int64  `json:"auth_time"`
}

func ParseClaims(raw string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse identity token: %w", err)
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return &claims, nil
}

// apply copies freshly issued tokens and their claims into the session.
func (s *Session) apply(tokens *Tokens) error {
	claims, err := ParseClaims(tokens.IDToken)
	if err != nil {
		return err
	}

	s.IDToken = tokens.IDToken
	if tokens.RefreshToken != "" {
		s.RefreshToken = tokens.RefreshToken
	}

	s.UserID = claims.UserID
	if claims.Email != "" {
		s.Email = claims.Email
	}
	s.EmailVerified = claims.EmailVerified

	switch {
	case claims.ExpiresAt != nil:
		s.TokenExpiry = claims.ExpiresAt.Time
	case !tokens.Expiry.IsZero():
		s.TokenExpiry = tokens.Expiry
	}

	if claims.AuthTime > 0 {
		s.AuthTime = time.Unix(claims.AuthTime, 0)
	}

	return nil
}
