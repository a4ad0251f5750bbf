package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitiesNewEntitiesDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewEntitiesDBHandler", func(t *testing.T) {
		entitiesDbHandler, err := NewEntitiesDBHandler(database, true)
		assert.NoError(t, err, "Expected NewEntitiesDBHandler to not return an error")
		require.NotNil(t, entitiesDbHandler, "Expected NewEntitiesDBHandler to return a non-nil instance")
		require.NotNil(t, entitiesDbHandler.db, "Expected NewEntitiesDBHandler to have a non-nil database instance")
	})

	t.Run("Invalid call NewEntitiesDBHandler with nil database", func(t *testing.T) {
		_, err := NewEntitiesDBHandler(nil, false)
		assert.Error(t, err, "Expected error when creating EntitiesDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})
}

func TestEntitiesUpsertAndSelect(t *testing.T) {
	ctx := context.Background()
	database := initDB(t)

	entitiesDbHandler, err := NewEntitiesDBHandler(database, true)
	require.NoError(t, err, "Expected NewEntitiesDBHandler to not return an error")

	entity := model.NewEntity("Acme Corp", model.EntityTypeCompany, "AI infrastructure")
	entity.MentionCount = 2
	entity.AddSourceDocument("doc-1")
	entity.Metadata["ticker"] = "ACME"

	t.Run("Upsert new entity", func(t *testing.T) {
		err := entitiesDbHandler.UpsertEntity(ctx, entity)
		assert.NoError(t, err, "Expected UpsertEntity to not return an error")
		assert.WithinDuration(t, time.Now(), entity.CreatedAt, 5*time.Second, "Expected CreatedAt to be set")
	})

	t.Run("Upsert existing entity keeps created at", func(t *testing.T) {
		created := entity.CreatedAt
		entity.MentionCount = 3
		entity.AddSourceDocument("doc-2")
		require.NoError(t, entitiesDbHandler.UpsertEntity(ctx, entity))
		assert.True(t, created.Equal(entity.CreatedAt), "Expected CreatedAt to be preserved")

		selected, err := entitiesDbHandler.SelectEntity(ctx, entity.ID)
		require.NoError(t, err, "Expected SelectEntity to not return an error")
		assert.Equal(t, "Acme Corp", selected.Name)
		assert.Equal(t, "acme corp", selected.NormalizedName)
		assert.Equal(t, model.EntityTypeCompany, selected.Type)
		assert.Equal(t, 3, selected.MentionCount)
		assert.Equal(t, []string{"doc-1", "doc-2"}, selected.SourceDocumentIDs)
		assert.Equal(t, "ACME", selected.Metadata["ticker"])
		assert.Nil(t, selected.Embedding, "Expected no embedding before indexing")
	})

	t.Run("Select unknown entity", func(t *testing.T) {
		_, err := entitiesDbHandler.SelectEntity(ctx, uuid.New())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("Select entities by filter", func(t *testing.T) {
		investor := model.NewEntity("Sequoia Capital", model.EntityTypeInvestor, "")
		require.NoError(t, entitiesDbHandler.UpsertEntity(ctx, investor))

		all, err := entitiesDbHandler.SelectEntities(ctx, nil, "", false)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		entityType := model.EntityTypeInvestor
		investors, err := entitiesDbHandler.SelectEntities(ctx, &entityType, "", false)
		require.NoError(t, err)
		require.Len(t, investors, 1)
		assert.Equal(t, investor.ID, investors[0].ID)

		byName, err := entitiesDbHandler.SelectEntities(ctx, nil, "acme corp", false)
		require.NoError(t, err)
		require.Len(t, byName, 1)

		embedded, err := entitiesDbHandler.SelectEntities(ctx, nil, "", true)
		require.NoError(t, err)
		assert.Empty(t, embedded)
	})
}

func TestEntitiesEmbeddings(t *testing.T) {
	ctx := context.Background()
	database := initDB(t)

	entitiesDbHandler, err := NewEntitiesDBHandler(database, true)
	require.NoError(t, err)

	acme := model.NewEntity("Acme Corp", model.EntityTypeCompany, "")
	beta := model.NewEntity("Beta Labs", model.EntityTypeCompany, "")
	sequoia := model.NewEntity("Sequoia Capital", model.EntityTypeInvestor, "")
	for _, e := range []*model.Entity{acme, beta, sequoia} {
		require.NoError(t, entitiesDbHandler.UpsertEntity(ctx, e))
	}

	require.NoError(t, entitiesDbHandler.UpdateEntityEmbedding(ctx, acme.ID, []float32{1, 0, 0, 0, 0, 0, 0, 0}))
	require.NoError(t, entitiesDbHandler.UpdateEntityEmbedding(ctx, beta.ID, []float32{0.8, 0.6, 0, 0, 0, 0, 0, 0}))
	require.NoError(t, entitiesDbHandler.UpdateEntityEmbedding(ctx, sequoia.ID, []float32{0, 1, 0, 0, 0, 0, 0, 0}))

	t.Run("Embedding is returned on select", func(t *testing.T) {
		selected, err := entitiesDbHandler.SelectEntity(ctx, acme.ID)
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0, 0, 0, 0, 0, 0, 0}, selected.Embedding)
	})

	t.Run("Upsert keeps the embedding", func(t *testing.T) {
		acme.Description = "changed"
		require.NoError(t, entitiesDbHandler.UpsertEntity(ctx, acme))
		selected, err := entitiesDbHandler.SelectEntity(ctx, acme.ID)
		require.NoError(t, err)
		assert.Len(t, selected.Embedding, 8)
	})

	t.Run("Similarity search orders by cosine similarity", func(t *testing.T) {
		results, err := entitiesDbHandler.SelectEntitiesBySimilarity(ctx, []float32{1, 0, 0, 0, 0, 0, 0, 0}, 2, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, acme.ID, results[0].Entity.ID)
		assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
		assert.Equal(t, beta.ID, results[1].Entity.ID)
		assert.InDelta(t, 0.8, results[1].Similarity, 1e-6)
	})

	t.Run("Similarity search filters by type", func(t *testing.T) {
		entityType := model.EntityTypeInvestor
		results, err := entitiesDbHandler.SelectEntitiesBySimilarity(ctx, []float32{1, 0, 0, 0, 0, 0, 0, 0}, 5, &entityType)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, sequoia.ID, results[0].Entity.ID)
	})

	t.Run("Embedding of unknown entity", func(t *testing.T) {
		err := entitiesDbHandler.UpdateEntityEmbedding(ctx, uuid.New(), []float32{1, 0, 0, 0, 0, 0, 0, 0})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("Delete entity", func(t *testing.T) {
		require.NoError(t, entitiesDbHandler.DeleteEntity(ctx, beta.ID))
		_, err := entitiesDbHandler.SelectEntity(ctx, beta.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}
