// Package provisioning turns a plan choice into a paid, issued API key:
// order creation with bounded retry, checkout hand-off, verification.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/marcogenualdo/keyconsole/internal/backend"
	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/retry"
	"github.com/marcogenualdo/keyconsole/internal/reveal"
	gocache "github.com/patrickmn/go-cache"
)

var (
	ErrAuth                = errors.New("payment request rejected by the backend")
	ErrProvisioningTimeout = errors.New("could not create a payment order")
	ErrAttemptInFlight     = errors.New("a payment is already in progress")
	ErrUnknownPlan         = errors.New("unknown plan")
)

// ErrRequestRejected accompanies ErrAuth when the backend refused the
// request itself (400) rather than the caller's credentials.
var ErrRequestRejected = errors.New("payment request malformed")

const MsgPendingActivation = "Payment received. Your key is being activated and will appear here shortly."

type AttemptState string

const (
	Idle             AttemptState = "idle"
	CreatingOrder    AttemptState = "creating_order"
	AwaitingCheckout AttemptState = "awaiting_checkout"
	Verifying        AttemptState = "verifying"
)

// Busy reports whether a new attempt must wait. An order awaiting checkout
// does not block: it was never paid and a reload abandons it.
func (s AttemptState) Busy() bool {
	return s == CreatingOrder || s == Verifying
}

// Payments is the part of the credential service that handles payment.
type Payments interface {
	CreateOrder(ctx context.Context, token, plan string) (*backend.PaymentOrder, error)
	VerifyPayment(ctx context.Context, token string, payload backend.VerifyPayload) (string, error)
}

type Recorder interface {
	OrderAttempt(result string)
	ProvisioningOutcome(result string)
}

// Result reports how checkout completion went. Verified false is not a
// failure: the payment may still complete asynchronously.
type Result struct {
	Verified bool
	Message  string
}

type inflightAttempt struct {
	state     AttemptState
	plan      string
	orderID   string
	expiresAt time.Time
}

// Orchestrator tracks one attempt per user in a go-cache table. Expiry is
// decided by the injected clock; go-cache's own TTL only evicts storage.
type Orchestrator struct {
	tokens   *identity.TokenProvider
	payments Payments
	secrets  *reveal.Slot
	cfg      config.PaymentsConfig
	clock    clockwork.Clock
	recorder Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	inflight *gocache.Cache
}

type Options struct {
	Clock    clockwork.Clock
	Recorder Recorder
}

func NewOrchestrator(tokens *identity.TokenProvider, payments Payments, secrets *reveal.Slot, cfg config.PaymentsConfig, opts Options, logger *slog.Logger) *Orchestrator {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Orchestrator{
		tokens:   tokens,
		payments: payments,
		secrets:  secrets,
		cfg:      cfg,
		clock:    clock,
		recorder: recorder,
		logger:   logger,
		inflight: gocache.New(cfg.CheckoutTimeout, time.Minute),
	}
}

// Provision creates a payment order for plan and returns the checkout
// options. A user has at most one order being created or verified; an
// order still awaiting checkout is replaced.
func (o *Orchestrator) Provision(ctx context.Context, sess *identity.Session, plan string) (*Checkout, error) {
	if sess == nil {
		return nil, identity.ErrNotAuthenticated
	}
	if !o.knownPlan(plan) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}

	o.mu.Lock()
	if current, ok := o.attempt(sess.UserID); ok {
		if current.state.Busy() {
			o.mu.Unlock()
			return nil, ErrAttemptInFlight
		}
		o.logger.Info("replacing unpaid order", "user_id", sess.UserID, "order_id", current.orderID)
	}
	o.store(sess.UserID, &inflightAttempt{state: CreatingOrder, plan: plan})
	o.mu.Unlock()

	order, err := o.createOrder(ctx, sess, plan)
	if err != nil {
		o.release(sess.UserID, CreatingOrder)
		o.recorder.ProvisioningOutcome("order_failed")
		o.logger.Error("order creation failed", "user_id", sess.UserID, "plan", plan, "error", err)
		return nil, err
	}

	o.mu.Lock()
	o.store(sess.UserID, &inflightAttempt{state: AwaitingCheckout, plan: plan, orderID: order.OrderID})
	o.mu.Unlock()

	o.logger.Info("payment order created", "user_id", sess.UserID, "plan", plan, "order_id", order.OrderID)
	return newCheckout(o.cfg, order, sess.Email), nil
}

// createOrder runs the retry loop under ProvisionTimeout, each attempt
// under AttemptTimeout, and maps the outcome onto the package errors.
func (o *Orchestrator) createOrder(ctx context.Context, sess *identity.Session, plan string) (*backend.PaymentOrder, error) {
	loopCtx := ctx
	if o.cfg.ProvisionTimeout > 0 {
		var cancel context.CancelFunc
		loopCtx, cancel = context.WithTimeout(ctx, o.cfg.ProvisionTimeout)
		defer cancel()
	}

	order, err := retry.Do(loopCtx, retry.Policy{
		MaxAttempts: o.cfg.MaxAttempts,
		Backoff:     retry.Fixed(o.cfg.RetryBackoff),
		Classify:    classify,
		Clock:       o.clock,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			o.logger.Warn("order creation failed, retrying", "user_id", sess.UserID, "attempt", attempt, "wait", wait, "error", err)
		},
	}, func(ctx context.Context, attempt int) (*backend.PaymentOrder, error) {
		if o.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
			defer cancel()
		}

		token, err := o.tokens.Token(ctx, sess, true)
		if err != nil {
			o.recorder.OrderAttempt("token_error")
			return nil, err
		}
		order, err := o.payments.CreateOrder(ctx, token, plan)
		if err != nil {
			o.recorder.OrderAttempt("error")
			return nil, err
		}
		o.recorder.OrderAttempt("ok")
		return order, nil
	})
	if err == nil {
		return order, nil
	}

	var failed *backend.RequestFailed
	switch {
	case errors.Is(err, retry.ErrExhausted):
		return nil, fmt.Errorf("%w: %w", ErrProvisioningTimeout, err)
	case ctx.Err() == nil && loopCtx.Err() != nil:
		return nil, fmt.Errorf("%w: no order within %s: %w", ErrProvisioningTimeout, o.cfg.ProvisionTimeout, err)
	case errors.Is(err, identity.ErrNotAuthenticated):
		return nil, err
	case errors.As(err, &failed) && failed.Status == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %w: %w", ErrAuth, ErrRequestRejected, err)
	case classify(err) == retry.Fatal:
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	default:
		return nil, err
	}
}

// Complete forwards the widget's success payload for verification. The
// charge already happened at the gateway, so the payload is forwarded even
// when no attempt is recorded here (restart, another instance, expiry):
// the backend is the authority on the order. On success the issued key is
// staged for one-time reveal.
func (o *Orchestrator) Complete(ctx context.Context, sess *identity.Session, payload backend.VerifyPayload) (Result, error) {
	if sess == nil {
		return Result{}, identity.ErrNotAuthenticated
	}

	o.mu.Lock()
	current, ok := o.attempt(sess.UserID)
	if ok && current.state == Verifying {
		o.mu.Unlock()
		o.logger.Info("verification already running", "user_id", sess.UserID, "order_id", current.orderID)
		return Result{Verified: false, Message: MsgPendingActivation}, nil
	}
	orderID, plan := "", ""
	if ok {
		orderID, plan = current.orderID, current.plan
	} else {
		o.logger.Warn("no recorded checkout, forwarding payment for verification", "user_id", sess.UserID)
	}
	o.store(sess.UserID, &inflightAttempt{state: Verifying, plan: plan, orderID: orderID})
	o.mu.Unlock()

	defer o.release(sess.UserID, Verifying)

	key, err := o.verify(ctx, sess, payload)
	if err != nil {
		o.recorder.ProvisioningOutcome("verify_uncertain")
		o.logger.Warn("payment verification did not confirm", "user_id", sess.UserID, "order_id", orderID, "error", err)
		return Result{Verified: false, Message: MsgPendingActivation}, nil
	}

	if err := o.secrets.Put(ctx, sess.ID, key); err != nil {
		o.recorder.ProvisioningOutcome("verify_uncertain")
		o.logger.Error("failed to stage issued key", "user_id", sess.UserID, "error", err)
		return Result{Verified: false, Message: MsgPendingActivation}, nil
	}

	o.recorder.ProvisioningOutcome("ok")
	o.logger.Info("payment verified, key issued", "user_id", sess.UserID, "order_id", orderID)
	return Result{Verified: true}, nil
}

func (o *Orchestrator) verify(ctx context.Context, sess *identity.Session, payload backend.VerifyPayload) (string, error) {
	token, err := o.tokens.Token(ctx, sess, true)
	if err != nil {
		return "", err
	}
	return o.payments.VerifyPayment(ctx, token, payload)
}

// Dismiss abandons an attempt whose checkout was closed without paying.
func (o *Orchestrator) Dismiss(sess *identity.Session) {
	if sess == nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if current, ok := o.attempt(sess.UserID); ok && current.state == AwaitingCheckout {
		o.inflight.Delete(sess.UserID)
		o.recorder.ProvisioningOutcome("dismissed")
		o.logger.Info("checkout dismissed", "user_id", sess.UserID, "order_id", current.orderID)
	}
}

// State is the user's current attempt state, Idle when none is recorded.
func (o *Orchestrator) State(userID string) AttemptState {
	o.mu.Lock()
	defer o.mu.Unlock()

	if current, ok := o.attempt(userID); ok {
		return current.state
	}
	return Idle
}

// attempt returns the live attempt for userID. Callers hold o.mu.
func (o *Orchestrator) attempt(userID string) (*inflightAttempt, bool) {
	v, ok := o.inflight.Get(userID)
	if !ok {
		return nil, false
	}
	a, ok := v.(*inflightAttempt)
	if !ok {
		return nil, false
	}
	if !a.expiresAt.IsZero() && !o.clock.Now().Before(a.expiresAt) {
		o.inflight.Delete(userID)
		return nil, false
	}
	return a, true
}

// store records a. Callers hold o.mu.
func (o *Orchestrator) store(userID string, a *inflightAttempt) {
	if o.cfg.CheckoutTimeout > 0 {
		a.expiresAt = o.clock.Now().Add(o.cfg.CheckoutTimeout)
	}
	o.inflight.Set(userID, a, gocache.DefaultExpiration)
}

// release drops the attempt if it is still in state, leaving one that a
// later call replaced untouched.
func (o *Orchestrator) release(userID string, state AttemptState) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if current, ok := o.attempt(userID); ok && current.state == state {
		o.inflight.Delete(userID)
	}
}

func (o *Orchestrator) knownPlan(id string) bool {
	for _, p := range o.cfg.Plans {
		if p.ID == id {
			return true
		}
	}
	return false
}

type nopRecorder struct{}

func (nopRecorder) OrderAttempt(string)        {}
func (nopRecorder) ProvisioningOutcome(string) {}

// classify treats authorization and validation rejections as final and
// everything else as worth another attempt.
func classify(err error) retry.Class {
	if errors.Is(err, identity.ErrNotAuthenticated) {
		return retry.Fatal
	}

	var failed *backend.RequestFailed
	if errors.As(err, &failed) {
		switch failed.Status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return retry.Fatal
		}
	}
	return retry.Transient
}
