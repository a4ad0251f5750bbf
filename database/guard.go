package database

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/siherrmann/newsgraph/core/maintenance"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// MaintenanceLockKey is the advisory lock id shared by every process
// running maintenance jobs against the same database.
const MaintenanceLockKey int64 = 0x6e657773 // "news"

// AdvisoryGuard is a maintenance guard backed by a Postgres session level
// advisory lock, so graph writers are exclusive across processes.
type AdvisoryGuard struct {
	db  *helper.Database
	key int64
}

var _ maintenance.Guard = (*AdvisoryGuard)(nil)

// NewAdvisoryGuard creates a guard on key.
func NewAdvisoryGuard(db *helper.Database, key int64) *AdvisoryGuard {
	return &AdvisoryGuard{db: db, key: key}
}

// TryAcquire takes the lock on a dedicated connection without waiting.
func (g *AdvisoryGuard) TryAcquire(ctx context.Context) (func(), error) {
	conn, err := g.db.Instance.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("acquire connection", err)
	}

	var locked bool
	err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, g.key).Scan(&locked)
	if err != nil {
		_ = conn.Close()
		return nil, helper.NewError("try advisory lock", err)
	}
	if !locked {
		_ = conn.Close()
		return nil, model.ErrMaintenanceRunning
	}
	return g.release(conn), nil
}

// Acquire waits for the lock on a dedicated connection. Cancelling ctx
// cancels the waiting statement.
func (g *AdvisoryGuard) Acquire(ctx context.Context) (func(), error) {
	conn, err := g.db.Instance.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("acquire connection", err)
	}

	_, err = conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, g.key)
	if err != nil {
		_ = conn.Close()
		return nil, helper.NewError("advisory lock", err)
	}
	return g.release(conn), nil
}

func (g *AdvisoryGuard) release(conn *sql.Conn) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			_, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, g.key)
			if err != nil {
				g.db.Logger.Warn("Releasing advisory lock failed", slog.String("error", err.Error()))
			}
			_ = conn.Close()
		})
	}
}
