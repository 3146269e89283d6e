package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quickRetry(attempts uint64) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialInterval:   time.Millisecond,
		MaxInterval:       2 * time.Millisecond,
		PerAttemptTimeout: 100 * time.Millisecond,
	}
}

func TestRetry_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), quickRetry(3), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_EventualSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), quickRetry(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_Exhausted(t *testing.T) {
	last := errors.New("still broken")
	calls := 0
	err := Retry(context.Background(), quickRetry(3), func(context.Context) error {
		calls++
		return last
	})

	assert.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, uint64(3), exhausted.Attempts)
	assert.ErrorIs(t, err, last, "the final cause must stay unwrappable")
}

func TestRetry_CancelledContextStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Retry(ctx, quickRetry(10), func(context.Context) error {
		calls++
		cancel()
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation must not burn remaining attempts")

	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestRetry_PerAttemptTimeout(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:       2,
		InitialInterval:   time.Millisecond,
		MaxInterval:       2 * time.Millisecond,
		PerAttemptTimeout: 10 * time.Millisecond,
	}

	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	// Each attempt times out individually; the budget is still spent.
	assert.Equal(t, 2, calls)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, exhausted.Last, context.DeadlineExceeded)
}

func TestRetry_SingleAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), quickRetry(1), func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	assert.Equal(t, 1, calls)
	var exhausted *ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}
