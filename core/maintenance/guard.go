// Package maintenance serializes the jobs that rewrite the graph.
package maintenance

import (
	"context"
	"sync"

	"github.com/siherrmann/newsgraph/model"
	"golang.org/x/sync/semaphore"
)

// Guard allows at most one graph writer at a time. TryAcquire never blocks:
// a busy guard returns model.ErrMaintenanceRunning. Acquire waits until the
// guard is free or ctx is done. The returned release function may be called
// more than once; only the first call releases.
type Guard interface {
	TryAcquire(ctx context.Context) (release func(), err error)
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalGuard is an in-process guard.
type LocalGuard struct {
	sem *semaphore.Weighted
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{sem: semaphore.NewWeighted(1)}
}

func (g *LocalGuard) TryAcquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !g.sem.TryAcquire(1) {
		return nil, model.ErrMaintenanceRunning
	}
	return g.release(), nil
}

func (g *LocalGuard) Acquire(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return g.release(), nil
}

func (g *LocalGuard) release() func() {
	var once sync.Once
	return func() { once.Do(func() { g.sem.Release(1) }) }
}

// Run executes a maintenance job while holding guard. It fails with
// model.ErrMaintenanceRunning instead of waiting.
func Run(ctx context.Context, guard Guard, job func(ctx context.Context) error) error {
	release, err := guard.TryAcquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return job(ctx)
}

// Wait executes a write job once guard is free. Ingestion uses it so a batch
// never interleaves with a merge or a rescoring run.
func Wait(ctx context.Context, guard Guard, job func(ctx context.Context) error) error {
	release, err := guard.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return job(ctx)
}
