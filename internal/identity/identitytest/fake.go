// Package identitytest provides an in-memory identity provider that mints
// realistic unsigned-for-trust identity tokens for tests.
package identitytest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/marcogenualdo/keyconsole/internal/identity"
)

type User struct {
	UserID   string
	Email    string
	Password string
	Verified bool
	// IDPToken is the federated token that signs this user in.
	IDPToken string
}

type grant struct {
	userID   string
	authTime time.Time
}

// Fake implements identity.Identity. Every issued token is unique, so tests
// can tell which exchange produced the token a collaborator received.
type Fake struct {
	Clock clockwork.Clock

	mu       sync.Mutex
	users    map[string]*User
	grants   map[string]grant
	seq      int
	events   []string
	issued   []string
	failNext error
	sentTo   []string
}

func NewFake(clock clockwork.Clock, users ...User) *Fake {
	f := &Fake{
		Clock:  clock,
		users:  make(map[string]*User),
		grants: make(map[string]grant),
	}
	for i := range users {
		u := users[i]
		f.users[u.Email] = &u
	}
	return f
}

// Events lists the exchanges performed, in order ("signin", "refresh", ...).
func (f *Fake) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// LastIssued returns the most recently minted identity token.
func (f *Fake) LastIssued() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.issued) == 0 {
		return ""
	}
	return f.issued[len(f.issued)-1]
}

func (f *Fake) VerificationsSent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sentTo...)
}

// FailNextRefresh makes the next Refresh return err.
func (f *Fake) FailNextRefresh(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

func (f *Fake) SetVerified(email string, verified bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[email]; ok {
		u.Verified = verified
	}
}

func (f *Fake) SignInWithPassword(ctx context.Context, email, password string) (*identity.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, "signin")
	u, ok := f.users[email]
	if !ok || u.Password != password {
		return nil, &identity.APIError{Status: 400, Message: "INVALID_LOGIN_CREDENTIALS"}
	}
	return f.grantLocked(u), nil
}

func (f *Fake) SignUp(ctx context.Context, email, password string) (*identity.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, "signup")
	if _, exists := f.users[email]; exists {
		return nil, &identity.APIError{Status: 400, Message: "EMAIL_EXISTS"}
	}
	if len(password) < 6 {
		return nil, &identity.APIError{Status: 400, Message: "WEAK_PASSWORD : Password should be at least 6 characters"}
	}

	u := &User{UserID: "uid-" + strconv.Itoa(len(f.users)+1), Email: email, Password: password}
	f.users[email] = u
	return f.grantLocked(u), nil
}

func (f *Fake) SignInWithIDP(ctx context.Context, providerID, idpToken, requestURI string) (*identity.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, "signin_idp")
	for _, u := range f.users {
		if u.IDPToken != "" && u.IDPToken == idpToken {
			return f.grantLocked(u), nil
		}
	}
	return nil, &identity.APIError{Status: 400, Message: "INVALID_IDP_RESPONSE"}
}

func (f *Fake) Refresh(ctx context.Context, refreshToken string) (*identity.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, "refresh")
	if err := f.failNext; err != nil {
		f.failNext = nil
		return nil, err
	}

	g, ok := f.grants[refreshToken]
	if !ok {
		return nil, &identity.APIError{Status: 400, Message: "INVALID_REFRESH_TOKEN"}
	}

	var user *User
	for _, u := range f.users {
		if u.UserID == g.userID {
			user = u
		}
	}
	if user == nil {
		return nil, &identity.APIError{Status: 400, Message: "USER_NOT_FOUND"}
	}

	return &identity.Tokens{
		IDToken:      f.mintLocked(user, g.authTime),
		RefreshToken: refreshToken,
		Expiry:       f.Clock.Now().Add(time.Hour),
	}, nil
}

func (f *Fake) SendEmailVerification(ctx context.Context, idToken string) error {
	claims, err := identity.ParseClaims(idToken)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "send_verification")
	f.sentTo = append(f.sentTo, claims.Email)
	return nil
}

func (f *Fake) grantLocked(u *User) *identity.Tokens {
	now := f.Clock.Now()
	f.seq++
	refresh := fmt.Sprintf("rt-%s-%d", u.UserID, f.seq)
	f.grants[refresh] = grant{userID: u.UserID, authTime: now}

	return &identity.Tokens{
		IDToken:      f.mintLocked(u, now),
		RefreshToken: refresh,
		Expiry:       now.Add(time.Hour),
	}
}

func (f *Fake) mintLocked(u *User, authTime time.Time) string {
	f.seq++
	now := f.Clock.Now()
	token := Mint(identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UserID,
			ID:        strconv.Itoa(f.seq),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		UserID:        u.UserID,
		Email:         u.Email,
		EmailVerified: u.Verified,
		AuthTime:      authTime.Unix(),
	})
	f.issued = append(f.issued, token)
	return token
}

// Mint signs claims with a throwaway key; consumers parse without verifying.
func Mint(claims identity.Claims) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("identitytest"))
	if err != nil {
		panic(err)
	}
	return token
}

// IsEvent reports whether events contains name.
func IsEvent(events []string, name string) bool {
	for _, e := range events {
		if strings.EqualFold(e, name) {
			return true
		}
	}
	return false
}
