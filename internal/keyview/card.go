package keyview

import (
	"strings"
	"time"

	"github.com/marcogenualdo/keyconsole/internal/backend"
)

type Status string

const (
	Active  Status = "Active"
	Expired Status = "Expired"
)

// Card is the masked, displayable form of the stored credential.
type Card struct {
	Masked    string
	Status    Status
	ExpiresAt *time.Time
}

func (c *Card) Expired() bool {
	return c != nil && c.Status == Expired
}

// Mask keeps the first eight and last four characters. Short keys are
// hidden entirely.
func Mask(key string) string {
	r := []rune(key)
	if len(r) <= 12 {
		return strings.Repeat("•", len(r))
	}
	return string(r[:8]) + "...." + string(r[len(r)-4:])
}

func NewCard(cred *backend.Credential, now time.Time) *Card {
	if cred == nil || cred.Key == "" {
		return nil
	}

	status := Active
	if cred.ExpiresAt != nil && cred.ExpiresAt.Before(now) {
		status = Expired
	}

	return &Card{
		Masked:    Mask(cred.Key),
		Status:    status,
		ExpiresAt: cred.ExpiresAt,
	}
}
