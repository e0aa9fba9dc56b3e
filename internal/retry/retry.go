// Package retry runs a fallible call with an attempt ceiling, a backoff
// schedule and a caller-supplied classification of errors into retryable
// and fatal.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrExhausted is matched by the error Do returns when every attempt failed
// with a retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

type Class int

const (
	Transient Class = iota
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Backoff returns the wait before the given attempt (2 for the first retry).
type Backoff func(attempt int) time.Duration

func Fixed(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

func Exponential(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base
		for i := 2; i < attempt; i++ {
			d *= 2
			if max > 0 && d >= max {
				return max
			}
		}
		return d
	}
}

type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	Classify    func(error) Class
	Clock       clockwork.Clock
	// OnRetry, when set, is called after a transient failure and before the wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// Do calls op until it succeeds, fails fatally, the attempts run out or ctx
// is canceled. Attempts never overlap. A fatal error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	classify := p.Classify
	if classify == nil {
		classify = func(error) Class { return Transient }
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			var wait time.Duration
			if p.Backoff != nil {
				wait = p.Backoff(attempt)
			}
			if p.OnRetry != nil {
				p.OnRetry(attempt-1, lastErr, wait)
			}
			if wait > 0 {
				select {
				case <-ctx.Done():
					return zero, ctx.Err()
				case <-clock.After(wait):
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if classify(err) == Fatal {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: maxAttempts, Last: lastErr}
}
