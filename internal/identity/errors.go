package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailExists        = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password too weak")
	ErrReauthRequired     = errors.New("recent re-authentication required")
	ErrIdentityMismatch   = errors.New("re-authenticated as a different user")
)

// APIError is a rejection returned by the identity provider's REST API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identity provider returned status %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.code() == "INVALID_PASSWORD" ||
			e.code() == "EMAIL_NOT_FOUND" ||
			e.code() == "INVALID_LOGIN_CREDENTIALS" ||
			e.code() == "USER_DISABLED" ||
			e.code() == "INVALID_EMAIL" ||
			e.code() == "INVALID_IDP_RESPONSE"
	case ErrNotAuthenticated:
		return e.code() == "TOKEN_EXPIRED" ||
			e.code() == "INVALID_REFRESH_TOKEN" ||
			e.code() == "INVALID_ID_TOKEN" ||
			e.code() == "USER_NOT_FOUND" ||
			e.code() == "CREDENTIAL_TOO_OLD_LOGIN_AGAIN"
	case ErrEmailExists:
		return e.code() == "EMAIL_EXISTS"
	case ErrWeakPassword:
		return e.code() == "WEAK_PASSWORD"
	}
	return false
}

// code strips the optional " : detail" suffix the provider appends to messages.
func (e *APIError) code() string {
	code, _, _ := strings.Cut(e.Message, " ")
	return code
}
