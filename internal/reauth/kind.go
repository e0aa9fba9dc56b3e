package reauth

import (
	"errors"
	"fmt"
)

var ErrUnknownKind = errors.New("unknown credential action")

// Kind is the destructive credential operation a user asked for.
type Kind string

const (
	Revoke     Kind = "revoke"
	Regenerate Kind = "regenerate"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Revoke, Regenerate:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Consequence is the confirmation text shown before re-authentication.
func (k Kind) Consequence() string {
	switch k {
	case Revoke:
		return "Revoking disables your current API key immediately. This cannot be undone."
	case Regenerate:
		return "Regenerating issues a new API key and permanently invalidates the current one."
	default:
		return ""
	}
}

func (k Kind) Label() string {
	switch k {
	case Revoke:
		return "Revoke key"
	case Regenerate:
		return "Regenerate key"
	default:
		return string(k)
	}
}
