package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// MemoryStore is an in-process Store. It is used by tests, the example and
// small deployments without a database. All methods are safe for concurrent
// use and return copies.
type MemoryStore struct {
	mu            sync.RWMutex
	entities      map[uuid.UUID]*model.Entity
	relationships map[uuid.UUID]*model.Relationship
	adjacency     map[uuid.UUID]map[uuid.UUID]bool
	chunks        map[uuid.UUID]*model.Chunk
	now           func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:      map[uuid.UUID]*model.Entity{},
		relationships: map[uuid.UUID]*model.Relationship{},
		adjacency:     map[uuid.UUID]map[uuid.UUID]bool{},
		chunks:        map[uuid.UUID]*model.Chunk{},
		now:           time.Now,
	}
}

func (m *MemoryStore) UpsertEntity(ctx context.Context, entity *model.Entity) error {
	if entity == nil || entity.ID == uuid.Nil {
		return helper.NewError("upsert entity", fmt.Errorf("entity id is required"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.putEntity(entity)
	return nil
}

func (m *MemoryStore) putEntity(entity *model.Entity) {
	now := m.now()
	stored := entity.Clone()
	if existing, ok := m.entities[entity.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
		stored.Embedding = existing.Embedding
	} else {
		stored.CreatedAt = now
		stored.Embedding = nil
	}
	stored.UpdatedAt = now
	m.entities[entity.ID] = stored

	entity.CreatedAt = stored.CreatedAt
	entity.UpdatedAt = stored.UpdatedAt
}

func (m *MemoryStore) GetEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[id]
	if !ok {
		return nil, helper.NewError("get entity "+id.String(), model.ErrNotFound)
	}
	return e.Clone(), nil
}

func (m *MemoryStore) ListEntities(ctx context.Context, filter EntityFilter) ([]*model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entities := []*model.Entity{}
	for _, e := range m.entities {
		if filter.Matches(e) {
			entities = append(entities, e.Clone())
		}
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].NormalizedName != entities[j].NormalizedName {
			return entities[i].NormalizedName < entities[j].NormalizedName
		}
		return entities[i].Type < entities[j].Type
	})
	return entities, nil
}

func (m *MemoryStore) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteEntity(id)
	return nil
}

func (m *MemoryStore) deleteEntity(id uuid.UUID) {
	for relID := range m.adjacency[id] {
		m.deleteRelationship(relID)
	}
	delete(m.adjacency, id)
	delete(m.entities, id)
}

func (m *MemoryStore) SetEntityEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[id]
	if !ok {
		return helper.NewError("set entity embedding "+id.String(), model.ErrNotFound)
	}
	e.Embedding = append([]float32(nil), embedding...)
	e.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) UpsertRelationship(ctx context.Context, relationship *model.Relationship) error {
	if relationship == nil || relationship.ID == uuid.Nil {
		return helper.NewError("upsert relationship", fmt.Errorf("relationship id is required"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkEndpoints(relationship, uuid.Nil); err != nil {
		return err
	}
	m.putRelationship(relationship)
	return nil
}

func (m *MemoryStore) checkEndpoints(r *model.Relationship, removed uuid.UUID) error {
	for _, id := range []uuid.UUID{r.SourceID, r.TargetID} {
		if _, ok := m.entities[id]; !ok || id == removed {
			return helper.NewError("relationship endpoint "+id.String(), model.ErrNotFound)
		}
	}
	return nil
}

func (m *MemoryStore) putRelationship(relationship *model.Relationship) {
	now := m.now()
	stored := relationship.Clone()
	stored.Strength = model.ClampStrength(stored.Strength)
	if existing, ok := m.relationships[relationship.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.relationships[stored.ID] = stored

	for _, id := range []uuid.UUID{stored.SourceID, stored.TargetID} {
		if m.adjacency[id] == nil {
			m.adjacency[id] = map[uuid.UUID]bool{}
		}
		m.adjacency[id][stored.ID] = true
	}

	relationship.CreatedAt = stored.CreatedAt
	relationship.UpdatedAt = stored.UpdatedAt
}

func (m *MemoryStore) deleteRelationship(id uuid.UUID) {
	r, ok := m.relationships[id]
	if !ok {
		return
	}
	delete(m.adjacency[r.SourceID], id)
	delete(m.adjacency[r.TargetID], id)
	delete(m.relationships, id)
}

func (m *MemoryStore) GetRelationship(ctx context.Context, id uuid.UUID) (*model.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.relationships[id]
	if !ok {
		return nil, helper.NewError("get relationship "+id.String(), model.ErrNotFound)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListRelationships(ctx context.Context) ([]*model.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rels := make([]*model.Relationship, 0, len(m.relationships))
	for _, r := range m.relationships {
		rels = append(rels, r.Clone())
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID.String() < rels[j].ID.String() })
	return rels, nil
}

func (m *MemoryStore) RelationshipsOf(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rels := make([]*model.Relationship, 0, len(m.adjacency[entityID]))
	for id := range m.adjacency[entityID] {
		rels = append(rels, m.relationships[id].Clone())
	}
	SortByStrength(rels)
	return rels, nil
}

// SortByStrength orders relationships by strength descending, then by id.
func SortByStrength(rels []*model.Relationship) {
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].Strength != rels[j].Strength {
			return rels[i].Strength > rels[j].Strength
		}
		return rels[i].ID.String() < rels[j].ID.String()
	})
}

// MergeEntities validates the whole plan before changing anything, so a
// rejected plan leaves the store untouched.
func (m *MemoryStore) MergeEntities(ctx context.Context, plan MergePlan) error {
	if plan.Survivor == nil {
		return helper.NewError("merge entities", fmt.Errorf("survivor is required"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[plan.Survivor.ID]; !ok {
		return helper.NewError("merge survivor "+plan.Survivor.ID.String(), model.ErrNotFound)
	}
	if _, ok := m.entities[plan.RemovedID]; !ok {
		return helper.NewError("merge removed "+plan.RemovedID.String(), model.ErrNotFound)
	}
	if plan.Survivor.ID == plan.RemovedID {
		return helper.NewError("merge entities", fmt.Errorf("survivor and removed entity are the same"))
	}
	for _, r := range plan.UpsertRelationships {
		if err := m.checkEndpoints(r, plan.RemovedID); err != nil {
			return helper.NewError("merge entities", err)
		}
	}

	for _, id := range plan.DeleteRelationshipIDs {
		m.deleteRelationship(id)
	}
	m.deleteEntity(plan.RemovedID)
	m.putEntity(plan.Survivor)
	for _, r := range plan.UpsertRelationships {
		m.putRelationship(r)
	}
	return nil
}

func (m *MemoryStore) InsertChunk(ctx context.Context, chunk *model.Chunk) (bool, error) {
	if chunk == nil || chunk.ID == uuid.Nil {
		return false, helper.NewError("insert chunk", fmt.Errorf("chunk id is required"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.chunks[chunk.ID]; ok {
		chunk.CreatedAt = existing.CreatedAt
		return false, nil
	}
	stored := chunk.Clone()
	stored.Embedding = nil
	stored.CreatedAt = m.now()
	m.chunks[chunk.ID] = stored
	chunk.CreatedAt = stored.CreatedAt
	return true, nil
}

func (m *MemoryStore) GetChunk(ctx context.Context, id uuid.UUID) (*model.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chunks[id]
	if !ok {
		return nil, helper.NewError("get chunk "+id.String(), model.ErrNotFound)
	}
	return c.Clone(), nil
}

func (m *MemoryStore) ListChunks(ctx context.Context) ([]*model.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chunks := make([]*model.Chunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		chunks = append(chunks, c.Clone())
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].DocumentID != chunks[j].DocumentID {
			return chunks[i].DocumentID < chunks[j].DocumentID
		}
		return chunks[i].Position < chunks[j].Position
	})
	return chunks, nil
}

func (m *MemoryStore) SetChunkEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chunks[id]
	if !ok {
		return helper.NewError("set chunk embedding "+id.String(), model.ErrNotFound)
	}
	c.Embedding = append([]float32(nil), embedding...)
	return nil
}
