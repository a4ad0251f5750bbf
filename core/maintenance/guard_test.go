package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/siherrmann/newsgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("Second acquire fails while held", func(t *testing.T) {
		guard := NewLocalGuard()
		release, err := guard.TryAcquire(ctx)
		require.NoError(t, err, "Expected first acquire to succeed")

		_, err = guard.TryAcquire(ctx)
		assert.ErrorIs(t, err, model.ErrMaintenanceRunning)

		release()
		release()
		release, err = guard.TryAcquire(ctx)
		require.NoError(t, err, "Expected guard to be free after release")
		release()
	})

	t.Run("Cancelled context does not acquire", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewLocalGuard().TryAcquire(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Run allows at most one job at a time", func(t *testing.T) {
		guard := NewLocalGuard()
		var running, maxRunning, rejected int32
		start := make(chan struct{})
		var wg sync.WaitGroup

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				err := Run(ctx, guard, func(ctx context.Context) error {
					n := atomic.AddInt32(&running, 1)
					for {
						m := atomic.LoadInt32(&maxRunning)
						if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
							break
						}
					}
					atomic.AddInt32(&running, -1)
					return nil
				})
				if errors.Is(err, model.ErrMaintenanceRunning) {
					atomic.AddInt32(&rejected, 1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), maxRunning, "Expected jobs to never overlap")
	})

	t.Run("Run returns the job error and releases", func(t *testing.T) {
		guard := NewLocalGuard()
		boom := errors.New("boom")
		assert.ErrorIs(t, Run(ctx, guard, func(ctx context.Context) error { return boom }), boom)
		assert.NoError(t, Run(ctx, guard, func(ctx context.Context) error { return nil }))
	})

	t.Run("Wait blocks until the running job releases", func(t *testing.T) {
		guard := NewLocalGuard()
		release, err := guard.TryAcquire(ctx)
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			defer close(done)
			assert.NoError(t, Wait(ctx, guard, func(ctx context.Context) error { return nil }))
		}()

		select {
		case <-done:
			t.Fatal("Wait returned while the guard was held")
		case <-time.After(20 * time.Millisecond):
		}
		release()
		<-done
	})

	t.Run("Wait gives up when the context ends", func(t *testing.T) {
		guard := NewLocalGuard()
		release, err := guard.TryAcquire(ctx)
		require.NoError(t, err)
		defer release()

		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		err = Wait(cctx, guard, func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
