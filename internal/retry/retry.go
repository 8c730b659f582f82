// Package retry provides a small retry policy shared by the generation
// client callers and the batch engine: bounded attempts, a pluggable
// backoff function, and a retryable-error predicate.
//
// The zero-value-friendly Policy replaces ad hoc retry-with-sleep loops so
// every caller classifies errors and paces attempts the same way.
package retry

import (
	"context"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values < 1 are treated as 1 (no retry).
	MaxAttempts int
	// Backoff returns the sleep before attempt n (n starts at 1 for the
	// first retry). Nil means no sleep between attempts.
	Backoff func(n int) time.Duration
	// Retryable reports whether an error is worth another attempt. Nil
	// means every error is retryable.
	Retryable func(error) bool
}

// FixedBackoff returns a backoff function sleeping d between every attempt.
func FixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Do runs fn until it succeeds, the policy is exhausted, the error is not
// retryable, or ctx is done. It returns the last error observed.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for n := 1; n <= attempts; n++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if n == attempts {
			break
		}
		if p.Backoff != nil {
			if d := p.Backoff(n); d > 0 {
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
