package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Group collapses concurrent calls with the same key into one execution.
type Group[T any] struct {
	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]int
}

// Do runs fn once for all concurrent callers of key and reports whether the
// result was shared. fn runs detached from the cancellation of the caller
// that started it, so one caller giving up does not fail the others. A
// caller whose ctx ends stops waiting and gets ctx.Err().
func (g *Group[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	detached := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (any, error) {
		g.track(key)
		defer g.untrack(key)
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		v, _ := res.Val.(T)
		return v, res.Shared, nil
	}
}

// Forget drops key so the next call starts a new execution.
func (g *Group[T]) Forget(key string) {
	g.group.Forget(key)
}

// ForgetAll forgets every key that is executing. Callers already waiting
// still get the running result.
func (g *Group[T]) ForgetAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.inflight {
		g.Forget(key)
	}
}

func (g *Group[T]) track(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight == nil {
		g.inflight = map[string]int{}
	}
	g.inflight[key]++
}

func (g *Group[T]) untrack(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight[key]--
	if g.inflight[key] <= 0 {
		delete(g.inflight, key)
	}
}
