package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/siherrmann/newsgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type answer struct {
	Text string `json:"text"`
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }

	t.Run("Stored values are returned until they expire", func(t *testing.T) {
		require.NoError(t, SetJSON(ctx, c, "k", answer{Text: "Sequoia"}, 0))

		var got answer
		ok, err := GetJSON(ctx, c, "k", &got)
		require.NoError(t, err)
		assert.True(t, ok, "Expected a hit before expiry")
		assert.Equal(t, "Sequoia", got.Text)

		now = now.Add(time.Minute)
		ok, err = GetJSON(ctx, c, "k", &got)
		require.NoError(t, err)
		assert.False(t, ok, "Expected a miss after the ttl")
		assert.Equal(t, 0, c.Len(), "Expected the expired entry to be dropped")
	})

	t.Run("Explicit ttl overrides the default", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Second))
		now = now.Add(2 * time.Second)
		_, ok, err := c.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Clear drops everything", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
		require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
		require.NoError(t, c.Clear(ctx))
		assert.Equal(t, 0, c.Len())
	})

	t.Run("Returned bytes are copies", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "copy", []byte("abc"), 0))
		raw, _, _ := c.Get(ctx, "copy")
		raw[0] = 'x'
		again, _, _ := c.Get(ctx, "copy")
		assert.Equal(t, "abc", string(again))
	})

	t.Run("Undecodable value is a cache error", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "broken", []byte("{"), 0))
		var got answer
		_, err := GetJSON(ctx, c, "broken", &got)
		var cacheErr *model.CacheError
		assert.ErrorAs(t, err, &cacheErr)
	})
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err, "Expected NewRedisClient to not return an error")

	config := model.DefaultEngineConfig().Cache
	return mr, NewRedisCache(client, config, nil)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Set and get with prefix and ttl", func(t *testing.T) {
		mr, c := setupTestRedis(t)
		defer mr.Close()
		defer c.Close()

		require.NoError(t, c.Set(ctx, "k", []byte("value"), 0))
		assert.True(t, mr.Exists("newsgraph:answer:k"), "Expected the prefixed key")

		raw, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "value", string(raw))

		mr.FastForward(11 * time.Minute)
		_, ok, err = c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok, "Expected the default ttl to apply")
	})

	t.Run("Clear only deletes prefixed keys", func(t *testing.T) {
		mr, c := setupTestRedis(t)
		defer mr.Close()
		defer c.Close()

		require.NoError(t, mr.Set("foreign", "keep"))
		for _, k := range []string{"a", "b", "c"} {
			require.NoError(t, c.Set(ctx, k, []byte(k), 0))
		}
		require.NoError(t, c.Clear(ctx))

		assert.True(t, mr.Exists("foreign"))
		assert.False(t, mr.Exists("newsgraph:answer:a"))
		_, ok, err := c.Get(ctx, "b")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Unavailable backend returns a cache error", func(t *testing.T) {
		mr, c := setupTestRedis(t)
		defer c.Close()
		mr.Close()

		_, _, err := c.Get(ctx, "k")
		var cacheErr *model.CacheError
		require.ErrorAs(t, err, &cacheErr, "Expected a cache error")
		assert.Equal(t, "get", cacheErr.Op)
	})
}

func TestGroup(t *testing.T) {
	t.Run("Concurrent callers share one execution", func(t *testing.T) {
		var g Group[string]
		var calls int32
		started := make(chan struct{})
		release := make(chan struct{})
		fn := func(ctx context.Context) (string, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(started)
			}
			<-release
			return "answer", nil
		}

		results := make([]string, 5)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[0], _, _ = g.Do(context.Background(), "q", fn)
		}()
		<-started
		for i := 1; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _, _ = g.Do(context.Background(), "q", fn)
			}(i)
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "Expected one execution")
		for _, r := range results {
			assert.Equal(t, "answer", r)
		}
	})

	t.Run("Cancelled caller stops waiting without failing the others", func(t *testing.T) {
		var g Group[string]
		started := make(chan struct{})
		release := make(chan struct{})
		var innerErr atomic.Value
		fn := func(ctx context.Context) (string, error) {
			close(started)
			<-release
			innerErr.Store(ctx.Err() == nil)
			return "answer", nil
		}

		leaderCtx, cancel := context.WithCancel(context.Background())
		leaderDone := make(chan error, 1)
		go func() {
			_, _, err := g.Do(leaderCtx, "q", fn)
			leaderDone <- err
		}()
		<-started

		followerDone := make(chan string, 1)
		go func() {
			v, _, _ := g.Do(context.Background(), "q", fn)
			followerDone <- v
		}()
		time.Sleep(50 * time.Millisecond)

		cancel()
		assert.ErrorIs(t, <-leaderDone, context.Canceled, "Expected the cancelled caller to return")

		close(release)
		assert.Equal(t, "answer", <-followerDone)
		assert.Equal(t, true, innerErr.Load(), "Expected the shared call to outlive the cancelled caller")
	})

	t.Run("Already cancelled context does not start work", func(t *testing.T) {
		var g Group[int]
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := g.Do(ctx, "q", func(ctx context.Context) (int, error) {
			t.Error("Expected fn to not run")
			return 0, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("ForgetAll starts a new execution for a running key", func(t *testing.T) {
		var g Group[int]
		var calls int32
		started := make(chan struct{}, 2)
		release := make(chan struct{})
		fn := func(ctx context.Context) (int, error) {
			n := atomic.AddInt32(&calls, 1)
			started <- struct{}{}
			<-release
			return int(n), nil
		}

		first := make(chan int, 1)
		go func() {
			v, _, _ := g.Do(context.Background(), "q", fn)
			first <- v
		}()
		<-started

		g.ForgetAll()
		second := make(chan int, 1)
		go func() {
			v, _, _ := g.Do(context.Background(), "q", fn)
			second <- v
		}()
		<-started

		close(release)
		assert.Equal(t, 1, <-first)
		assert.Equal(t, 2, <-second, "Expected the call after ForgetAll to run on its own")
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})
}
