// Package keyview assembles the key-management page: pending operations
// first, then a one-time secret, then the masked stored key.
package keyview

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/marcogenualdo/keyconsole/internal/backend"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/reauth"
	"github.com/marcogenualdo/keyconsole/internal/reveal"
)

const msgLoadFailed = "Could not load your API key. Please refresh the page."

type Fetcher interface {
	FetchCurrent(ctx context.Context, token string) (*backend.Credential, error)
}

// Page is everything the key-management template needs.
type Page struct {
	// Secret is set only on the single render that reveals a new key.
	Secret string
	Card   *Card
	Notice string
	Error  string
	Gate   reauth.View
}

func (p *Page) Revealing() bool {
	return p.Secret != ""
}

type Loader struct {
	gate    *reauth.Gate
	secrets *reveal.Slot
	tokens  *identity.TokenProvider
	fetcher Fetcher
	clock   clockwork.Clock
	logger  *slog.Logger
}

func NewLoader(gate *reauth.Gate, secrets *reveal.Slot, tokens *identity.TokenProvider, fetcher Fetcher, clock clockwork.Clock, logger *slog.Logger) *Loader {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loader{gate: gate, secrets: secrets, tokens: tokens, fetcher: fetcher, clock: clock, logger: logger}
}

func (l *Loader) Load(ctx context.Context, sess *identity.Session) (*Page, error) {
	if sess == nil {
		return nil, identity.ErrNotAuthenticated
	}

	page := &Page{}

	out, err := l.gate.Resume(ctx, sess)
	if out != nil {
		if out.OK {
			page.Notice = out.Message
		} else {
			page.Error = out.Message
		}
	} else if err != nil {
		l.logger.Error("failed to resume pending action", "session_id", sess.ID, "error", err)
	}

	secret, ok, err := l.secrets.PeekAndClear(ctx, sess.ID)
	if err != nil {
		l.logger.Error("failed to read one-time secret", "session_id", sess.ID, "error", err)
	}
	if ok {
		page.Secret = secret
		return page, nil
	}

	view, err := l.gate.Flash(ctx, sess.ID)
	if err != nil {
		l.logger.Warn("failed to load gate state", "session_id", sess.ID, "error", err)
		view = reauth.View{State: reauth.Idle}
	}
	page.Gate = view
	if page.Notice == "" {
		page.Notice = view.Notice
	}
	if page.Error == "" {
		page.Error = view.Error
	}

	token, err := l.tokens.Token(ctx, sess, false)
	if err != nil {
		if errors.Is(err, identity.ErrNotAuthenticated) {
			return nil, err
		}
		l.logger.Error("failed to obtain identity token", "session_id", sess.ID, "error", err)
		page.Error = msgLoadFailed
		return page, nil
	}

	cred, err := l.fetcher.FetchCurrent(ctx, token)
	if err != nil {
		l.logger.Error("failed to fetch api key", "session_id", sess.ID, "error", err)
		page.Error = msgLoadFailed
		return page, nil
	}

	page.Card = NewCard(cred, l.clock.Now())
	return page, nil
}
