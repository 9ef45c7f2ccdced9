package evaluator

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds how often a transport failure is retried. The caller
// owns the policy; nothing in this package retries on its own.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff computes a deterministic capped exponential delay. attempt is the
// number of attempts already made.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 1 {
		return base
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out. Only retryable *TransportError values are retried.
// onRetry, if set, is called before each wait.
func Do[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error), onRetry func(attempt int, err error, wait time.Duration)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &CancelledError{Err: err}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		var terr *TransportError
		if !errors.As(err, &terr) || !terr.Retryable() || attempt == attempts {
			return zero, err
		}

		wait := Backoff(attempt, p.BaseDelay, p.MaxDelay)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &CancelledError{Err: ctx.Err()}
		case <-timer.C:
		}
	}
	return zero, lastErr
}
