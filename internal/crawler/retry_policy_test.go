package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Second)

	transient := &FetchError{PageIndex: 7, Cause: CauseTransient, Err: errors.New("boom")}
	require.True(t, p.ShouldRetry(transient, 1))
	require.True(t, p.ShouldRetry(transient, 2))
	require.False(t, p.ShouldRetry(transient, 3), "attempt budget exhausted")

	permanent := &FetchError{PageIndex: 7, Cause: CausePermanent}
	require.False(t, p.ShouldRetry(permanent, 1))

	rateLimited := &FetchError{PageIndex: 7, Cause: CauseRateLimited}
	require.True(t, p.ShouldRetry(rateLimited, 1))

	degraded := &FetchError{PageIndex: 7, Cause: CauseDegraded}
	require.True(t, p.ShouldRetry(degraded, 1))

	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
}

func TestExponentialRetryPolicy_BackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, time.Second)

	for attempt := 1; attempt <= 4; attempt++ {
		delay := p.Backoff(attempt)
		require.Greater(t, delay, time.Duration(0))
		require.LessOrEqual(t, delay, time.Second)
	}
}

func TestFetchError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := &FetchError{PageIndex: 3, Cause: CauseTransient, Attempt: 2, Err: cause}

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "page 3")
	require.Contains(t, err.Error(), "transient")
}
