package database

import (
	"context"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeo4jConfigValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("Missing uri", func(t *testing.T) {
		_, err := NewNeo4jGraph(ctx, Neo4jConfig{EmbeddingDimension: 8}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "uri is required")
	})

	t.Run("Missing dimension", func(t *testing.T) {
		_, err := NewNeo4jGraph(ctx, Neo4jConfig{URI: "neo4j://localhost:7687"}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "embedding dimension must be positive")
	})
}

func TestNeo4jVectorIndexStatement(t *testing.T) {
	statement := vectorIndexStatement("entity_embedding", "Entity", 384)
	assert.Contains(t, statement, "CREATE VECTOR INDEX entity_embedding IF NOT EXISTS FOR (n:Entity)")
	assert.Contains(t, statement, "`vector.dimensions`: 384")
	assert.Contains(t, statement, "'cosine'")
}

func TestNeo4jDecoding(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	acme := model.NewEntity("Acme Corp", model.EntityTypeCompany, "AI infrastructure")
	sequoia := model.NewEntity("Sequoia Capital", model.EntityTypeInvestor, "")

	t.Run("Entity from record", func(t *testing.T) {
		record := &neo4j.Record{
			Keys: []string{"e"},
			Values: []any{map[string]any{
				"id":                  acme.ID.String(),
				"name":                "Acme Corp",
				"normalized_name":     "acme corp",
				"type":                "Company",
				"description":         "AI infrastructure",
				"embedding":           []any{0.5, 0.25},
				"source_document_ids": []any{"doc-1", "doc-2"},
				"mention_count":       int64(3),
				"metadata":            `{"ticker":"ACME"}`,
				"created_at":          created,
			}},
		}

		e, err := entityFromRecord(record, "e")
		require.NoError(t, err, "Expected entityFromRecord to not return an error")
		assert.Equal(t, acme.ID, e.ID)
		assert.Equal(t, model.EntityTypeCompany, e.Type)
		assert.Equal(t, []float32{0.5, 0.25}, e.Embedding)
		assert.Equal(t, []string{"doc-1", "doc-2"}, e.SourceDocumentIDs)
		assert.Equal(t, 3, e.MentionCount)
		assert.Equal(t, "ACME", e.Metadata["ticker"])
		assert.True(t, created.Equal(e.CreatedAt))
		assert.True(t, e.UpdatedAt.IsZero())
	})

	t.Run("Entity without embedding", func(t *testing.T) {
		e, err := entityFromProps(map[string]any{"id": acme.ID.String()})
		require.NoError(t, err)
		assert.Nil(t, e.Embedding)
		assert.NotNil(t, e.Metadata)
	})

	t.Run("Invalid id", func(t *testing.T) {
		_, err := entityFromProps(map[string]any{"id": "not-a-uuid"})
		assert.Error(t, err)
	})

	t.Run("Record without map", func(t *testing.T) {
		record := &neo4j.Record{Keys: []string{"e"}, Values: []any{"oops"}}
		_, err := entityFromRecord(record, "e")
		assert.Error(t, err)
	})

	t.Run("Relationship from props", func(t *testing.T) {
		funding := model.NewRelationship(acme.ID, model.RelationshipFundedBy, sequoia.ID)
		r, err := relationshipFromProps(map[string]any{
			"id":                  funding.ID.String(),
			"source_id":           acme.ID.String(),
			"target_id":           sequoia.ID.String(),
			"type":                "FUNDED_BY",
			"strength":            7.5,
			"supporting_mentions": int64(2),
			"last_mention_at":     created,
			"direct_quote":        true,
		})
		require.NoError(t, err)
		assert.Equal(t, funding.ID, r.ID)
		assert.Equal(t, model.RelationshipFundedBy, r.Type)
		assert.Equal(t, 7.5, r.Strength)
		assert.Equal(t, 2, r.SupportingMentions)
		assert.True(t, created.Equal(r.LastMentionAt))
		assert.True(t, r.DirectQuote)
		assert.False(t, r.Contradicted)
	})

	t.Run("Chunk from props", func(t *testing.T) {
		chunk := model.NewChunk("doc-1", 2, "Acme Corp raised $50M.")
		c, err := chunkFromProps(map[string]any{
			"id":          chunk.ID.String(),
			"document_id": "doc-1",
			"text":        "Acme Corp raised $50M.",
			"position":    int64(2),
		})
		require.NoError(t, err)
		assert.Equal(t, chunk.ID, c.ID)
		assert.Equal(t, 2, c.Position)
	})
}

func TestNeo4jPathFromRecord(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()

	acme := model.NewEntity("Acme Corp", model.EntityTypeCompany, "")
	sequoia := model.NewEntity("Sequoia Capital", model.EntityTypeInvestor, "")
	require.NoError(t, store.UpsertEntity(ctx, acme))
	require.NoError(t, store.UpsertEntity(ctx, sequoia))
	funding := model.NewRelationship(acme.ID, model.RelationshipFundedBy, sequoia.ID)

	record := &neo4j.Record{
		Keys: []string{"ids", "rels"},
		Values: []any{
			[]any{sequoia.ID.String(), acme.ID.String()},
			[]any{map[string]any{
				"id":        funding.ID.String(),
				"source_id": acme.ID.String(),
				"target_id": sequoia.ID.String(),
				"type":      "FUNDED_BY",
				"strength":  6.0,
			}},
		},
	}

	path, err := pathFromRecord(ctx, graph.NewEntityCache(store), record)
	require.NoError(t, err, "Expected pathFromRecord to not return an error")
	assert.Equal(t, 1, path.Length())
	assert.Equal(t, sequoia.ID, path.EntityIDs[0])
	require.Len(t, path.Facts, 1)
	assert.Equal(t, "Acme Corp", path.Facts[0].SourceName)
	assert.Equal(t, 1, path.Facts[0].Hops)
}

func TestCosineFromScore(t *testing.T) {
	assert.InDelta(t, 1.0, cosineFromScore(1), 1e-9)
	assert.InDelta(t, 0.0, cosineFromScore(0.5), 1e-9)
	assert.InDelta(t, -1.0, cosineFromScore(0), 1e-9)
}
