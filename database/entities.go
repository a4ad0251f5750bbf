package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
	loader "github.com/siherrmann/newsgraph/sql"
)

// querier is implemented by *sql.DB and *sql.Tx so handler queries can run
// inside the merge transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// EntitiesDBHandlerFunctions defines the interface for Entities database operations.
type EntitiesDBHandlerFunctions interface {
	UpsertEntity(ctx context.Context, entity *model.Entity) error
	SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error)
	SelectEntities(ctx context.Context, entityType *model.EntityType, normalizedName string, withEmbedding bool) ([]*model.Entity, error)
	SelectEntitiesBySimilarity(ctx context.Context, embedding []float32, limit int, entityType *model.EntityType) ([]model.ScoredEntity, error)
	UpdateEntityEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	DeleteEntity(ctx context.Context, id uuid.UUID) error
}

// EntitiesDBHandler handles entity-related database operations
type EntitiesDBHandler struct {
	db *helper.Database
}

// NewEntitiesDBHandler creates a new entities database handler.
// It loads the entity SQL functions and creates the table with the
// configured embedding dimension. If force is true, the SQL functions are
// reloaded even if they already exist.
func NewEntitiesDBHandler(db *helper.Database, force bool) (*EntitiesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	entitiesDbHandler := &EntitiesDBHandler{
		db: db,
	}

	err := loader.LoadEntitiesSql(entitiesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load entities sql", err)
	}

	err = entitiesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EntitiesDBHandler")

	return entitiesDbHandler, nil
}

// CreateTable creates the 'entities' table and its indexes if missing.
func (h *EntitiesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_entities($1);`, h.db.EmbeddingDimension)
	if err != nil {
		return helper.NewError("init entities", err)
	}

	h.db.Logger.Info("Checked/created table entities")

	return nil
}

// UpsertEntity inserts the entity or replaces its mutable fields. The
// embedding is left untouched.
func (h *EntitiesDBHandler) UpsertEntity(ctx context.Context, entity *model.Entity) error {
	return upsertEntity(ctx, h.db.Instance, entity)
}

func upsertEntity(ctx context.Context, q querier, entity *model.Entity) error {
	if entity.Metadata == nil {
		entity.Metadata = model.Metadata{}
	}
	row := q.QueryRowContext(ctx,
		`SELECT * FROM upsert_entity($1, $2, $3, $4, $5, $6, $7, $8)`,
		entity.ID,
		entity.Name,
		entity.NormalizedName,
		string(entity.Type),
		entity.Description,
		pq.Array(entity.SourceDocumentIDs),
		entity.MentionCount,
		entity.Metadata,
	)

	err := row.Scan(&entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return helper.NewError("scan", err)
	}
	return nil
}

// SelectEntity retrieves an entity by ID
func (h *EntitiesDBHandler) SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	row := h.db.Instance.QueryRowContext(ctx, `SELECT * FROM select_entity($1)`, id)

	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("select entity "+id.String(), model.ErrNotFound)
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}
	return entity, nil
}

// SelectEntities lists entities filtered by type, normalized name and
// presence of an embedding. Nil and empty filters match everything.
func (h *EntitiesDBHandler) SelectEntities(ctx context.Context, entityType *model.EntityType, normalizedName string, withEmbedding bool) ([]*model.Entity, error) {
	rows, err := h.db.Instance.QueryContext(ctx,
		`SELECT * FROM select_entities($1, $2, $3)`,
		nullType(entityType),
		sql.NullString{String: normalizedName, Valid: normalizedName != ""},
		withEmbedding,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	entities := []*model.Entity{}
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		entities = append(entities, entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}
	return entities, nil
}

// SelectEntitiesBySimilarity returns the nearest entities by cosine similarity.
func (h *EntitiesDBHandler) SelectEntitiesBySimilarity(ctx context.Context, embedding []float32, limit int, entityType *model.EntityType) ([]model.ScoredEntity, error) {
	rows, err := h.db.Instance.QueryContext(ctx,
		`SELECT * FROM select_entities_by_similarity($1, $2, $3)`,
		pgvector.NewVector(embedding),
		limit,
		nullType(entityType),
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	results := []model.ScoredEntity{}
	for rows.Next() {
		var similarity float64
		entity, err := scanEntity(rows, &similarity)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		results = append(results, model.ScoredEntity{Entity: entity, Similarity: similarity})
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}
	return results, nil
}

// UpdateEntityEmbedding stores the embedding of an entity.
func (h *EntitiesDBHandler) UpdateEntityEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	var found bool
	err := h.db.Instance.QueryRowContext(ctx,
		`SELECT update_entity_embedding($1, $2)`,
		id,
		pgvector.NewVector(embedding),
	).Scan(&found)
	if err != nil {
		return helper.NewError("exec", err)
	}
	if !found {
		return helper.NewError("update entity embedding "+id.String(), model.ErrNotFound)
	}
	return nil
}

// DeleteEntity deletes an entity and, by cascade, its relationships.
func (h *EntitiesDBHandler) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	return deleteEntity(ctx, h.db.Instance, id)
}

func deleteEntity(ctx context.Context, q querier, id uuid.UUID) error {
	_, err := q.ExecContext(ctx, `SELECT delete_entity($1)`, id)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

func scanEntity(s scanner, extra ...any) (*model.Entity, error) {
	entity := &model.Entity{}
	var entityType string
	var embedding *pgvector.Vector

	dest := []any{
		&entity.ID,
		&entity.Name,
		&entity.NormalizedName,
		&entityType,
		&entity.Description,
		&embedding,
		pq.Array(&entity.SourceDocumentIDs),
		&entity.MentionCount,
		&entity.Metadata,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	}
	err := s.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	entity.Type = model.EntityType(entityType)
	if embedding != nil {
		entity.Embedding = embedding.Slice()
	}
	return entity, nil
}

func nullType(entityType *model.EntityType) sql.NullString {
	if entityType == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*entityType), Valid: true}
}
