package helper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestRetryPolicyDo(t *testing.T) {
	ctx := context.Background()

	t.Run("Succeeds after transient failures", func(t *testing.T) {
		var calls int32
		err := fastPolicy(3).Do(ctx, func(ctx context.Context) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("transient")
			}
			return nil
		})
		assert.NoError(t, err, "Expected third attempt to succeed")
		assert.Equal(t, int32(3), calls)
	})

	t.Run("Stops after max attempts with the last error", func(t *testing.T) {
		var calls int32
		err := fastPolicy(3).Do(ctx, func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("provider down")
		})
		require.Error(t, err)
		assert.Equal(t, "provider down", err.Error())
		assert.Equal(t, int32(3), calls, "Expected exactly three attempts")
	})

	t.Run("Non retryable errors stop immediately", func(t *testing.T) {
		permanent := errors.New("bad request")
		policy := fastPolicy(5)
		policy.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

		var calls int32
		err := policy.Do(ctx, func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, int32(1), calls)
	})

	t.Run("Attempt timeout is applied", func(t *testing.T) {
		policy := fastPolicy(1)
		policy.AttemptTimeout = 10 * time.Millisecond

		err := policy.Do(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Cancelled context stops retrying", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		var calls int32
		err := fastPolicy(10).Do(cctx, func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			cancel()
			return errors.New("fails")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(1), calls)
	})

	t.Run("Limiter throttles attempts", func(t *testing.T) {
		assert.Nil(t, NewLimiter(0), "Expected no limiter for zero rate")
		policy := fastPolicy(1)
		policy.Limiter = NewLimiter(1000)
		assert.NoError(t, policy.Do(ctx, func(ctx context.Context) error { return nil }))
	})
}
