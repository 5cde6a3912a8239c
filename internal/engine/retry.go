package engine

import (
	"context"
	"time"

	"github.com/factgate/factgate/internal/model"
)

// retrySleep is the sleep function used between attempts (injectable for tests)
var retrySleep = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// RetryPolicy drives the generic call-with-retry wrapper. Only
// transient failures are retried; permanent rejections and cancellation
// propagate immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the standard exponential backoff:
// 3 attempts, 100ms doubling, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
	}
}

// delay computes the backoff before the given (0-based) retry
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// callWithRetry wraps any external-collaborator call with the policy.
// Every call site gets identical retry semantics instead of hand-rolled
// loops.
func callWithRetry[T any](ctx context.Context, policy RetryPolicy, call func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := call(ctx)
		if err == nil {
			return result, nil
		}
		if !model.IsTransient(err) {
			return zero, err
		}
		lastErr = err

		if attempt < attempts-1 {
			if err := retrySleep(ctx, policy.delay(attempt)); err != nil {
				return zero, err
			}
		}
	}

	return zero, lastErr
}
