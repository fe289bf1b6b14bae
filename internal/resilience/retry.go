// Package resilience adapts libs/go/core/resilience's hand-rolled retry and
// circuit-breaker primitives rather than reaching for a third-party
// resilience framework, since no pack repo imports one — retry-with-backoff
// and an adaptive circuit breaker are this organization's idiomatic answer
// to the spec's "Transient errors (retriable)" category (persistence and
// notification port failures).
package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy configures Retry's backoff schedule.
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy mirrors dag_engine.go's default retry shape.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialWait: 200 * time.Millisecond, MaxWait: 60 * time.Second, Multiplier: 2}
}

// Retry runs fn up to policy.MaxAttempts times, applying exponential backoff
// with full jitter between attempts, and returns the first success or the
// final error.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	wait := policy.InitialWait

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}

		jittered := time.Duration(rand.Int63n(int64(wait)))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(jittered):
		}

		wait = time.Duration(float64(wait) * policy.Multiplier)
		if wait > policy.MaxWait {
			wait = policy.MaxWait
		}
	}
	return zero, lastErr
}
