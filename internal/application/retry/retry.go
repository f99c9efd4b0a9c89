// Package retry provides an opt-in bounded retry with exponential backoff for
// calls to the portal. A policy with MaxAttempts <= 1 makes exactly one call.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Policy holds retry configuration.
type Policy struct {
	MaxAttempts int           // total calls including the first; <= 1 disables retry
	InitialWait time.Duration // wait before the second call
	MaxWait     time.Duration // cap on any single wait
	Multiplier  float64       // backoff growth per attempt
	Jitter      float64       // jitter factor (0-1)
}

// Disabled returns the single-attempt policy.
func Disabled() Policy {
	return Policy{MaxAttempts: 1}
}

// DefaultPolicy returns the backoff used when retry is switched on without tuning.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Enabled reports whether the policy makes more than one call.
func (p Policy) Enabled() bool {
	return p.MaxAttempts > 1
}

// RetryableError wraps an error that should be retried.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return e.Err.Error()
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// Retryable wraps an error to mark it as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// wait returns the backoff before attempt+1.
func (p Policy) wait(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	w := float64(p.InitialWait) * math.Pow(mult, float64(attempt-1))
	if p.MaxWait > 0 && w > float64(p.MaxWait) {
		w = float64(p.MaxWait)
	}
	if p.Jitter > 0 {
		w += w * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(w)
}

// DoWithResult calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done.
// PRE: fn is non-nil
// POST: fn was called at least once and at most max(1, p.MaxAttempts) times
func DoWithResult[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(p.MaxAttempts, 1)
	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = fn(ctx)
		if err == nil || !IsRetryable(err) || attempt == attempts {
			return result, err
		}
		timer := time.NewTimer(p.wait(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, err
		case <-timer.C:
		}
	}
	return result, err
}
