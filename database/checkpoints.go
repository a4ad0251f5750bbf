package database

import (
	"context"
	"fmt"
	"time"

	"github.com/siherrmann/newsgraph/helper"
	loader "github.com/siherrmann/newsgraph/sql"
)

// CheckpointsDBHandler persists embedding index checkpoints so an
// interrupted build resumes in a new process.
type CheckpointsDBHandler struct {
	db *helper.Database
}

// NewCheckpointsDBHandler creates a new checkpoints database handler.
func NewCheckpointsDBHandler(db *helper.Database, force bool) (*CheckpointsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	h := &CheckpointsDBHandler{db: db}

	err := loader.LoadCheckpointsSql(h.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load checkpoints sql", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = h.db.Instance.ExecContext(ctx, `SELECT init_checkpoints();`)
	if err != nil {
		return nil, helper.NewError("init checkpoints", err)
	}

	db.Logger.Info("Initialized CheckpointsDBHandler")

	return h, nil
}

// Done reports whether key was already embedded.
func (h *CheckpointsDBHandler) Done(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := h.db.Instance.QueryRowContext(ctx, `SELECT select_checkpoint_exists($1)`, key).Scan(&exists)
	if err != nil {
		return false, helper.NewError("scan", err)
	}
	return exists, nil
}

// Mark records key as embedded.
func (h *CheckpointsDBHandler) Mark(ctx context.Context, key string) error {
	_, err := h.db.Instance.ExecContext(ctx, `SELECT insert_checkpoint($1)`, key)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// Reset forgets every checkpoint so the next build embeds everything again.
func (h *CheckpointsDBHandler) Reset(ctx context.Context) error {
	_, err := h.db.Instance.ExecContext(ctx, `SELECT delete_checkpoints()`)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
