package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
)

// RetryConfig bounds the retry loop around a transient-failure-prone call.
type RetryConfig struct {
	// MaxAttempts is the total attempt count, including the first call.
	MaxAttempts uint64
	// InitialInterval is the first backoff delay; subsequent delays grow
	// exponentially up to MaxInterval.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// PerAttemptTimeout bounds each individual attempt. Exceeding it counts
	// as a failure for retry and breaker accounting. Zero disables it.
	PerAttemptTimeout time.Duration
}

// DefaultRetryConfig mirrors the production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialInterval:   100 * time.Millisecond,
		MaxInterval:       time.Second,
		PerAttemptTimeout: 2 * time.Second,
	}
}

// ExhaustedError reports that every attempt failed. Last is the error from
// the final attempt.
type ExhaustedError struct {
	Attempts uint64
	Last     error
}

func (e *ExhaustedError) Error() string {
	return "retries exhausted: " + e.Last.Error()
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Retry runs op with exponential backoff until it succeeds, the attempt
// budget is spent, or ctx is cancelled. Each attempt gets its own deadline;
// the backoff sleep happens between attempts with no locks held.
//
// Context cancellation is permanent: a cancelled caller never burns the
// remaining attempts.
func Retry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval

	maxRetries := uint64(0)
	if cfg.MaxAttempts > 0 {
		maxRetries = cfg.MaxAttempts - 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)

	attempt := func() error {
		attemptCtx := ctx
		if cfg.PerAttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.PerAttemptTimeout)
			defer cancel()
		}
		if err := op(attemptCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(attempt, policy); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &ExhaustedError{Attempts: cfg.MaxAttempts, Last: err}
	}
	return nil
}
