package index

import (
	"context"
	"sync"
)

// Checkpoint remembers which items were embedded so a build can resume
// without recomputing them.
type Checkpoint interface {
	Done(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// MemoryCheckpoint keeps checkpoints for the lifetime of the process.
type MemoryCheckpoint struct {
	mu   sync.RWMutex
	done map[string]bool
}

func NewMemoryCheckpoint() *MemoryCheckpoint {
	return &MemoryCheckpoint{done: map[string]bool{}}
}

func (c *MemoryCheckpoint) Done(ctx context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done[key], nil
}

func (c *MemoryCheckpoint) Mark(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done[key] = true
	return nil
}

// Len returns the number of marked items.
func (c *MemoryCheckpoint) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.done)
}

// Reset forgets every checkpoint.
func (c *MemoryCheckpoint) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = map[string]bool{}
	return nil
}

// Resetter is implemented by checkpoints that can be cleared before a full
// rebuild.
type Resetter interface {
	Reset(ctx context.Context) error
}
