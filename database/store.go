package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
	loader "github.com/siherrmann/newsgraph/sql"
)

// Store is the Postgres graph store. It composes the table handlers and
// adds nearest neighbour search through pgvector.
type Store struct {
	db            *helper.Database
	Entities      *EntitiesDBHandler
	Relationships *RelationshipsDBHandler
	Chunks        *ChunksDBHandler
	Checkpoints   *CheckpointsDBHandler
}

var (
	_ graph.Store          = (*Store)(nil)
	_ graph.VectorSearcher = (*Store)(nil)
)

// NewStore enables the vector extension and creates every table in
// dependency order.
func NewStore(db *helper.Database, force bool) (*Store, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	err := loader.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("init extensions", err)
	}

	s := &Store{db: db}
	s.Entities, err = NewEntitiesDBHandler(db, force)
	if err != nil {
		return nil, err
	}
	s.Relationships, err = NewRelationshipsDBHandler(db, force)
	if err != nil {
		return nil, err
	}
	s.Chunks, err = NewChunksDBHandler(db, force)
	if err != nil {
		return nil, err
	}
	s.Checkpoints, err = NewCheckpointsDBHandler(db, force)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Instance.Close()
}

func (s *Store) UpsertEntity(ctx context.Context, entity *model.Entity) error {
	if entity == nil || entity.ID == uuid.Nil {
		return helper.NewError("upsert entity", fmt.Errorf("entity id is required"))
	}
	return s.Entities.UpsertEntity(ctx, entity)
}

func (s *Store) GetEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	return s.Entities.SelectEntity(ctx, id)
}

func (s *Store) ListEntities(ctx context.Context, filter graph.EntityFilter) ([]*model.Entity, error) {
	return s.Entities.SelectEntities(ctx, filter.Type, filter.NormalizedName, filter.WithEmbedding)
}

func (s *Store) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	return s.Entities.DeleteEntity(ctx, id)
}

func (s *Store) SetEntityEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	return s.Entities.UpdateEntityEmbedding(ctx, id, embedding)
}

func (s *Store) UpsertRelationship(ctx context.Context, relationship *model.Relationship) error {
	if relationship == nil || relationship.ID == uuid.Nil {
		return helper.NewError("upsert relationship", fmt.Errorf("relationship id is required"))
	}
	return s.Relationships.UpsertRelationship(ctx, relationship)
}

func (s *Store) GetRelationship(ctx context.Context, id uuid.UUID) (*model.Relationship, error) {
	return s.Relationships.SelectRelationship(ctx, id)
}

func (s *Store) ListRelationships(ctx context.Context) ([]*model.Relationship, error) {
	return s.Relationships.SelectRelationships(ctx)
}

func (s *Store) RelationshipsOf(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error) {
	return s.Relationships.SelectRelationshipsOfEntity(ctx, entityID)
}

// MergeEntities applies plan in one transaction. Both entities are locked
// first so concurrent merges of the same pair serialize.
func (s *Store) MergeEntities(ctx context.Context, plan graph.MergePlan) error {
	if plan.Survivor == nil {
		return helper.NewError("merge entities", fmt.Errorf("survivor is required"))
	}
	if plan.Survivor.ID == plan.RemovedID {
		return helper.NewError("merge entities", fmt.Errorf("survivor and removed entity are the same"))
	}

	tx, err := s.db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range []uuid.UUID{plan.Survivor.ID, plan.RemovedID} {
		var locked uuid.UUID
		err := tx.QueryRowContext(ctx, `SELECT id FROM entities WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return helper.NewError("merge entity "+id.String(), model.ErrNotFound)
		}
		if err != nil {
			return helper.NewError("lock entity", err)
		}
	}

	for _, id := range plan.DeleteRelationshipIDs {
		if err := deleteRelationship(ctx, tx, id); err != nil {
			return err
		}
	}
	if err := deleteEntity(ctx, tx, plan.RemovedID); err != nil {
		return err
	}
	if err := upsertEntity(ctx, tx, plan.Survivor); err != nil {
		return err
	}
	for _, r := range plan.UpsertRelationships {
		if r.SourceID == plan.RemovedID || r.TargetID == plan.RemovedID {
			return helper.NewError("merge entities", fmt.Errorf("relationship %s still references the removed entity", r.ID))
		}
		if err := upsertRelationship(ctx, tx, r); err != nil {
			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit", err)
	}
	return nil
}

func (s *Store) InsertChunk(ctx context.Context, chunk *model.Chunk) (bool, error) {
	if chunk == nil || chunk.ID == uuid.Nil {
		return false, helper.NewError("insert chunk", fmt.Errorf("chunk id is required"))
	}
	return s.Chunks.InsertChunk(ctx, chunk)
}

func (s *Store) GetChunk(ctx context.Context, id uuid.UUID) (*model.Chunk, error) {
	return s.Chunks.SelectChunk(ctx, id)
}

func (s *Store) ListChunks(ctx context.Context) ([]*model.Chunk, error) {
	return s.Chunks.SelectChunks(ctx)
}

func (s *Store) SetChunkEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	return s.Chunks.UpdateChunkEmbedding(ctx, id, embedding)
}

func (s *Store) SearchEntities(ctx context.Context, embedding []float32, limit int, entityType *model.EntityType) ([]model.ScoredEntity, error) {
	return s.Entities.SelectEntitiesBySimilarity(ctx, embedding, limit, entityType)
}

func (s *Store) SearchChunks(ctx context.Context, embedding []float32, limit int) ([]model.ScoredChunk, error) {
	return s.Chunks.SelectChunksBySimilarity(ctx, embedding, limit)
}
