package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/siherrmann/newsgraph/helper"
)

// IndexType names a pgvector index method.
type IndexType string

const (
	IndexHNSW    IndexType = "hnsw"
	IndexIVFFlat IndexType = "ivfflat"
)

// ChangeIndexType rebuilds the chunk embedding index.
// params:
//   - For HNSW: "m" (int, default 16), "ef_construction" (int, default 64)
//   - For IVFFlat: "lists" (int, default 100)
func (h *ChunksDBHandler) ChangeIndexType(ctx context.Context, indexType IndexType, params map[string]interface{}) error {
	return changeIndexType(ctx, h.db, "chunks", indexType, params)
}

// ChangeIndexType rebuilds the entity embedding index. See
// ChunksDBHandler.ChangeIndexType for params.
func (h *EntitiesDBHandler) ChangeIndexType(ctx context.Context, indexType IndexType, params map[string]interface{}) error {
	return changeIndexType(ctx, h.db, "entities", indexType, params)
}

func changeIndexType(ctx context.Context, db *helper.Database, table string, indexType IndexType, params map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	indexName := "idx_" + table + "_embedding"

	var createIndexSQL string
	switch indexType {
	case IndexHNSW:
		m := intParam(params, "m", 16)
		efConstruction := intParam(params, "ef_construction", 64)
		createIndexSQL = fmt.Sprintf(
			`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);`,
			indexName, table, m, efConstruction,
		)
	case IndexIVFFlat:
		lists := intParam(params, "lists", 100)
		createIndexSQL = fmt.Sprintf(
			`CREATE INDEX %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d);`,
			indexName, table, lists,
		)
	default:
		return helper.NewError("change index type", fmt.Errorf("unsupported index type: %s (use 'hnsw' or 'ivfflat')", indexType))
	}

	tx, err := db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s;`, indexName))
	if err != nil {
		return helper.NewError("drop index", err)
	}
	_, err = tx.ExecContext(ctx, createIndexSQL)
	if err != nil {
		return helper.NewError("create index", err)
	}
	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit", err)
	}

	db.Logger.Info("Changed vector index", slog.String("table", table), slog.String("type", string(indexType)), slog.Any("params", params))

	return nil
}

// intParam reads a positive integer parameter. Values decoded from JSON or
// YAML arrive as float64.
func intParam(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}
