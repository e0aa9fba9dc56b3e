package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errFlaky = errors.New("flaky")
	errFatal = errors.New("fatal")
)

func classify(err error) Class {
	if errors.Is(err, errFatal) {
		return Fatal
	}
	return Transient
}

// failing returns an op that fails n times with err and then succeeds.
func failing(n int, err error, calls *int) func(context.Context, int) (string, error) {
	return func(_ context.Context, attempt int) (string, error) {
		*calls++
		if attempt <= n {
			return "", err
		}
		return "ok", nil
	}
}

func TestDoSucceedsBeforeCeiling(t *testing.T) {
	var calls int
	got, err := Do(context.Background(), Policy{
		MaxAttempts: 5,
		Classify:    classify,
	}, failing(4, errFlaky, &calls))

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 5, calls)
}

func TestDoExhaustsAtCeiling(t *testing.T) {
	var calls int
	_, err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Classify:    classify,
	}, failing(3, errFlaky, &calls))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestDoStopsOnFatal(t *testing.T) {
	var calls int
	_, err := Do(context.Background(), Policy{
		MaxAttempts: 10,
		Classify:    classify,
	}, failing(10, errFatal, &calls))

	assert.Equal(t, errFatal, err)
	assert.Equal(t, 1, calls)
}

func TestDoWaitsBackoffBetweenAttempts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var waits []time.Duration

	var calls int
	done := make(chan error, 1)
	go func() {
		_, err := Do(context.Background(), Policy{
			MaxAttempts: 4,
			Backoff:     Fixed(3 * time.Second),
			Classify:    classify,
			Clock:       clock,
			OnRetry: func(_ int, _ error, wait time.Duration) {
				waits = append(waits, wait)
			},
		}, failing(2, errFlaky, &calls))
		done <- err
	}()

	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		select {
		case <-done:
			t.Fatal("returned before backoff elapsed")
		default:
		}
		clock.Advance(3 * time.Second)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not finish")
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, waits)
}

func TestDoHonoursCancellationDuringBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, Policy{
			MaxAttempts: 5,
			Backoff:     Fixed(time.Minute),
			Clock:       clock,
		}, failing(5, errFlaky, &calls))
		done <- err
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not observe cancellation")
	}
	assert.Equal(t, 1, calls)
}

func TestExponentialBackoff(t *testing.T) {
	b := Exponential(time.Second, 5*time.Second)

	assert.Equal(t, time.Second, b(2))
	assert.Equal(t, 2*time.Second, b(3))
	assert.Equal(t, 4*time.Second, b(4))
	assert.Equal(t, 5*time.Second, b(5))
	assert.Equal(t, 5*time.Second, b(9))
}
