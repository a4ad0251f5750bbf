package graph

import (
	"context"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/model"
)

// EntityFilter narrows ListEntities. Zero values match everything.
type EntityFilter struct {
	Type           *model.EntityType
	NormalizedName string
	WithEmbedding  bool
}

// Matches reports whether e passes the filter.
func (f EntityFilter) Matches(e *model.Entity) bool {
	if f.Type != nil && e.Type != *f.Type {
		return false
	}
	if f.NormalizedName != "" && e.NormalizedName != f.NormalizedName {
		return false
	}
	if f.WithEmbedding && len(e.Embedding) == 0 {
		return false
	}
	return true
}

// MergePlan describes one entity merge. Stores apply it atomically: readers
// see either the state before or after the whole plan.
type MergePlan struct {
	Survivor              *model.Entity
	RemovedID             uuid.UUID
	DeleteRelationshipIDs []uuid.UUID
	UpsertRelationships   []*model.Relationship
}

// Store is the graph storage contract shared by the in-memory, Postgres and
// Neo4j backends. Getters return ErrNotFound wrapped errors for unknown ids and
// never hand out internal state.
type Store interface {
	UpsertEntity(ctx context.Context, entity *model.Entity) error
	GetEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]*model.Entity, error)
	DeleteEntity(ctx context.Context, id uuid.UUID) error
	SetEntityEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error

	UpsertRelationship(ctx context.Context, relationship *model.Relationship) error
	GetRelationship(ctx context.Context, id uuid.UUID) (*model.Relationship, error)
	ListRelationships(ctx context.Context) ([]*model.Relationship, error)
	RelationshipsOf(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error)
	MergeEntities(ctx context.Context, plan MergePlan) error

	// InsertChunk stores a chunk once. It returns false if the chunk already
	// existed; existing chunks are never modified.
	InsertChunk(ctx context.Context, chunk *model.Chunk) (bool, error)
	GetChunk(ctx context.Context, id uuid.UUID) (*model.Chunk, error)
	ListChunks(ctx context.Context) ([]*model.Chunk, error)
	SetChunkEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
}

// VectorSearcher is implemented by stores with native nearest neighbour search.
type VectorSearcher interface {
	SearchEntities(ctx context.Context, embedding []float32, limit int, entityType *model.EntityType) ([]model.ScoredEntity, error)
	SearchChunks(ctx context.Context, embedding []float32, limit int) ([]model.ScoredChunk, error)
}

// PathFinder is implemented by stores with native variable-length path queries.
type PathFinder interface {
	Paths(ctx context.Context, from uuid.UUID, to uuid.UUID, maxHops int, limit int) ([]model.Path, error)
}
