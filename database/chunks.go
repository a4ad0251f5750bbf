package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
	loader "github.com/siherrmann/newsgraph/sql"
)

// ChunksDBHandlerFunctions defines the interface for Chunks database operations.
type ChunksDBHandlerFunctions interface {
	InsertChunk(ctx context.Context, chunk *model.Chunk) (bool, error)
	SelectChunk(ctx context.Context, id uuid.UUID) (*model.Chunk, error)
	SelectChunks(ctx context.Context) ([]*model.Chunk, error)
	SelectChunksBySimilarity(ctx context.Context, embedding []float32, limit int) ([]model.ScoredChunk, error)
	UpdateChunkEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
}

// ChunksDBHandler handles chunk-related database operations
type ChunksDBHandler struct {
	db *helper.Database
}

// NewChunksDBHandler creates a new chunks database handler.
// If force is true, it will reload the SQL functions even if they already exist.
func NewChunksDBHandler(db *helper.Database, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	chunksDbHandler := &ChunksDBHandler{
		db: db,
	}

	err := loader.LoadChunksSql(chunksDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = chunksDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ChunksDBHandler")

	return chunksDbHandler, nil
}

// CreateTable creates the 'chunks' table and its indexes if missing.
func (h *ChunksDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_chunks($1);`, h.db.EmbeddingDimension)
	if err != nil {
		return helper.NewError("init chunks", err)
	}

	h.db.Logger.Info("Checked/created table chunks")

	return nil
}

// InsertChunk stores a chunk once and reports whether it was new. Existing
// chunks are never modified.
func (h *ChunksDBHandler) InsertChunk(ctx context.Context, chunk *model.Chunk) (bool, error) {
	if chunk.Metadata == nil {
		chunk.Metadata = model.Metadata{}
	}
	row := h.db.Instance.QueryRowContext(ctx,
		`SELECT * FROM insert_chunk($1, $2, $3, $4, $5)`,
		chunk.ID,
		chunk.DocumentID,
		chunk.Text,
		chunk.Position,
		chunk.Metadata,
	)

	var inserted bool
	err := row.Scan(&inserted, &chunk.CreatedAt)
	if err != nil {
		return false, helper.NewError("scan", err)
	}
	return inserted, nil
}

// SelectChunk retrieves a chunk by ID
func (h *ChunksDBHandler) SelectChunk(ctx context.Context, id uuid.UUID) (*model.Chunk, error) {
	row := h.db.Instance.QueryRowContext(ctx, `SELECT * FROM select_chunk($1)`, id)

	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("select chunk "+id.String(), model.ErrNotFound)
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}
	return chunk, nil
}

// SelectChunks lists every chunk ordered by document and position.
func (h *ChunksDBHandler) SelectChunks(ctx context.Context) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM select_chunks()`)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	chunks := []*model.Chunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}
	return chunks, nil
}

// SelectChunksBySimilarity returns the nearest chunks by cosine similarity.
func (h *ChunksDBHandler) SelectChunksBySimilarity(ctx context.Context, embedding []float32, limit int) ([]model.ScoredChunk, error) {
	rows, err := h.db.Instance.QueryContext(ctx,
		`SELECT * FROM select_chunks_by_similarity($1, $2)`,
		pgvector.NewVector(embedding),
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	results := []model.ScoredChunk{}
	for rows.Next() {
		var similarity float64
		chunk, err := scanChunk(rows, &similarity)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		results = append(results, model.ScoredChunk{Chunk: chunk, Similarity: similarity})
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}
	return results, nil
}

// UpdateChunkEmbedding stores the embedding of a chunk. The chunk text is
// never changed.
func (h *ChunksDBHandler) UpdateChunkEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	var found bool
	err := h.db.Instance.QueryRowContext(ctx,
		`SELECT update_chunk_embedding($1, $2)`,
		id,
		pgvector.NewVector(embedding),
	).Scan(&found)
	if err != nil {
		return helper.NewError("exec", err)
	}
	if !found {
		return helper.NewError("update chunk embedding "+id.String(), model.ErrNotFound)
	}
	return nil
}

func scanChunk(s scanner, extra ...any) (*model.Chunk, error) {
	chunk := &model.Chunk{}
	var embedding *pgvector.Vector

	dest := []any{
		&chunk.ID,
		&chunk.DocumentID,
		&chunk.Text,
		&chunk.Position,
		&embedding,
		&chunk.Metadata,
		&chunk.CreatedAt,
	}
	err := s.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	if embedding != nil {
		chunk.Embedding = embedding.Slice()
	}
	return chunk, nil
}
