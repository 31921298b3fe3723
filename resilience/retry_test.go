package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/cogniflow/core"
)

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustionWrapsMaxRetriesExceeded(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(2), func() error {
		calls++
		return errors.New("always")
	})
	assert.ErrorIs(t, err, core.ErrMaxRetriesExceeded)
	assert.Equal(t, 2, calls)
}

func TestRetry_ContextCancellationStopsAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetryConfig(5), func() error {
		return errors.New("never reached after cancel")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryExecutor_ExecutePropagatesSuccess(t *testing.T) {
	e := NewRetryExecutor(fastRetryConfig(3))
	calls := 0
	err := e.Execute(context.Background(), "unit", func() error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryWithCircuitBreaker_OpenBreakerShortCircuits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "short-circuit"
	cfg.VolumeThreshold = 1
	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)
	cb.RecordFailure() // 1/1 failures opens immediately

	calls := 0
	err = RetryWithCircuitBreaker(context.Background(), fastRetryConfig(2), cb, func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, core.ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, core.ErrCircuitBreakerOpen)
	assert.Zero(t, calls, "the protected function never runs while the breaker is open")
}
