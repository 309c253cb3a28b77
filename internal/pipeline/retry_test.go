package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffCaps(t *testing.T) {
	backoff := ExponentialBackoff(100*time.Millisecond, time.Second)
	require.Equal(t, 100*time.Millisecond, backoff(1))
	require.Equal(t, 200*time.Millisecond, backoff(2))
	require.Equal(t, 800*time.Millisecond, backoff(4))
	require.Equal(t, time.Second, backoff(5))
	require.Equal(t, time.Second, backoff(30))
	require.Zero(t, ExponentialBackoff(0, time.Second)(3))
}

func TestExponentialBackoffUncappedSaturates(t *testing.T) {
	backoff := ExponentialBackoff(time.Second, 0)
	require.Equal(t, 8*time.Second, backoff(4))
	prev := backoff(1)
	for attempt := 2; attempt <= 200; attempt++ {
		wait := backoff(attempt)
		require.Positive(t, wait, "attempt %d", attempt)
		require.GreaterOrEqual(t, wait, prev, "attempt %d", attempt)
		prev = wait
	}
	require.Equal(t, time.Duration(math.MaxInt64), backoff(200))
}

func TestRetryDoStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	policy := RetryPolicy{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}
	calls := 0
	attempts, err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}

func TestRetryDoHonoursCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 3, Backoff: func(int) time.Duration { return time.Hour }}
	calls := 0
	attempts, err := policy.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}

func TestZeroPolicyRunsOnce(t *testing.T) {
	calls := 0
	attempts, err := RetryPolicy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}
