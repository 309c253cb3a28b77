package pipeline

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy wraps a single stage call. A zero policy runs the call once.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the wait before the given retry (attempt starts at 1).
	Backoff func(attempt int) time.Duration
	// Retryable filters errors worth retrying; nil retries everything except
	// context cancellation.
	Retryable func(err error) bool
}

// NoRetry runs each stage exactly once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// ExponentialBackoff doubles base per attempt, capped at max. A non-positive
// max caps at the largest representable duration.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	limit := max
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	return func(attempt int) time.Duration {
		if base <= 0 {
			return 0
		}
		wait := base
		for i := 1; i < attempt; i++ {
			if wait > limit/2 {
				return limit
			}
			wait *= 2
		}
		if wait > limit {
			return limit
		}
		return wait
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

// Do runs fn until it succeeds, the error is not retryable, attempts are
// exhausted or ctx is done. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) (int, error) {
	max := p.attempts()
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if attempt == max || !p.retryable(err) {
			return attempt, err
		}
		if p.Backoff != nil {
			if wait := p.Backoff(attempt); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return attempt, err
				case <-timer.C:
				}
			}
		}
	}
	return max, err
}
