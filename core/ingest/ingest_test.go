package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/core/maintenance"
	"github.com/siherrmann/newsgraph/core/scorer"
	"github.com/siherrmann/newsgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestIngester(t *testing.T) (*Ingester, *graph.MemoryStore) {
	t.Helper()
	config := model.DefaultEngineConfig()
	store := graph.NewMemoryStore()
	clock := func() time.Time { return testNow }
	s := scorer.NewScorer(store, nil, config.Scoring, nil, scorer.WithClock(clock))
	return NewIngester(store, s, model.NewNamePolicy(config.Policy), nil, WithClock(clock), WithChunker(SentenceChunker(2))), store
}

func strength(v float64) *float64 { return &v }

func TestIngestEntitiesAndRelationships(t *testing.T) {
	ctx := context.Background()
	ingester, store := newTestIngester(t)

	batch := &model.Batch{
		Entities: []model.EntityInput{
			{ID: "e1", Name: "Acme Corp", Type: "company", SourceDocumentID: "doc-1", Mentions: 2},
			{Name: "Sequoia Capital", Type: "Investor", SourceDocumentID: "doc-1"},
			{Name: "Unknown", Type: "Company"},
			{Name: "Starship", Type: "spaceship"},
		},
		Relationships: []model.RelationshipInput{
			{Source: "e1", Target: "Sequoia Capital", Type: "funded by", Strength: strength(8), SourceDocumentID: "doc-1"},
			{Source: "Acme Corp", Target: "sequoia capital", Type: "FUNDED_BY", DirectQuote: true},
			{Source: "Acme Corp", Target: "Nobody", Type: "FUNDED_BY"},
			{Source: "Acme Corp", Target: "Sequoia Capital", Type: "likes"},
			{Source: "Acme Corp", Target: "e1", Type: "PARTNERS_WITH"},
		},
	}

	stats, err := ingester.Ingest(ctx, batch)
	require.NoError(t, err, "Expected Ingest to not return an error")
	assert.Equal(t, 2, stats.EntitiesCreated)
	assert.Equal(t, 0, stats.EntitiesUpdated)
	assert.Equal(t, 1, stats.RelationshipsCreated)
	assert.Equal(t, 1, stats.RelationshipsMerged)
	require.Len(t, stats.Skipped, 5, "Expected every malformed item to be reported")
	assert.Equal(t, "placeholder name", stats.Skipped[0].Reason)
	assert.Equal(t, "unknown entity type", stats.Skipped[1].Reason)
	assert.Contains(t, stats.Skipped[2].Reason, "unknown entity")
	assert.Equal(t, "unknown relationship type", stats.Skipped[3].Reason)
	assert.Contains(t, stats.Skipped[4].Reason, "same entity")

	acme := model.NewEntity("Acme Corp", model.EntityTypeCompany, "")
	sequoia := model.NewEntity("Sequoia Capital", model.EntityTypeInvestor, "")
	stored, err := store.GetEntity(ctx, acme.ID)
	require.NoError(t, err, "Expected the entity to be stored under its derived id")
	assert.Equal(t, 2, stored.MentionCount)
	assert.Equal(t, []string{"doc-1"}, stored.SourceDocumentIDs)

	funding, err := store.GetRelationship(ctx, model.RelationshipID(acme.ID, model.RelationshipFundedBy, sequoia.ID))
	require.NoError(t, err, "Expected both mentions to land on one edge")
	assert.Equal(t, 2, funding.SupportingMentions)
	assert.True(t, funding.DirectQuote)
	assert.GreaterOrEqual(t, funding.Strength, 8.0, "Expected the provided strength to be kept")
	assert.LessOrEqual(t, funding.Strength, model.MaxStrength)
	assert.True(t, funding.LastMentionAt.Equal(testNow))

	t.Run("Reingesting an entity merges mentions and documents", func(t *testing.T) {
		stats, err := ingester.Ingest(ctx, &model.Batch{Entities: []model.EntityInput{
			{Name: "  ACME corp ", Type: "COMPANY", SourceDocumentID: "doc-2", Description: "AI infrastructure"},
		}})
		require.NoError(t, err)
		assert.Equal(t, 0, stats.EntitiesCreated)
		assert.Equal(t, 1, stats.EntitiesUpdated)

		stored, err := store.GetEntity(ctx, acme.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, stored.MentionCount)
		assert.Equal(t, []string{"doc-1", "doc-2"}, stored.SourceDocumentIDs)
		assert.Equal(t, "AI infrastructure", stored.Description)
		assert.Equal(t, "Acme Corp", stored.Name, "Expected the first spelling to be kept")
	})

	t.Run("Stored entities are referenced by id in later batches", func(t *testing.T) {
		stats, err := ingester.Ingest(ctx, &model.Batch{Relationships: []model.RelationshipInput{
			{Source: sequoia.ID.String(), Target: acme.ID.String(), Type: "invests_in"},
		}})
		require.NoError(t, err)
		assert.Equal(t, 1, stats.RelationshipsCreated)
		assert.Empty(t, stats.Skipped)
	})
}

func TestIngestAmbiguousNames(t *testing.T) {
	ctx := context.Background()
	ingester, _ := newTestIngester(t)

	stats, err := ingester.Ingest(ctx, &model.Batch{
		Entities: []model.EntityInput{
			{Name: "Apple", Type: "Company"},
			{Name: "Apple", Type: "Product"},
			{Name: "Tim Cook", Type: "Person"},
		},
		Relationships: []model.RelationshipInput{
			{Source: "Tim Cook", Target: "Apple", Type: "LEADS"},
			{Source: "Tim Cook", Target: "Apple", TargetType: "company", Type: "LEADS"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.EntitiesCreated)
	assert.Equal(t, 1, stats.RelationshipsCreated, "Expected the typed reference to resolve")
	require.Len(t, stats.Skipped, 1)
	assert.Contains(t, stats.Skipped[0].Reason, "a type is required")
}

func TestIngestDocuments(t *testing.T) {
	ctx := context.Background()
	ingester, store := newTestIngester(t)
	published := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)

	batch := &model.Batch{
		Entities: []model.EntityInput{
			{Name: "Acme Corp", Type: "Company"},
			{Name: "Beta Labs", Type: "Company"},
		},
		Documents: []model.DocumentInput{
			{DocumentID: "doc-1", Title: "Acme raises", PublishedAt: &published, Chunks: []model.ChunkInput{
				{Text: "Acme Corp raised $50M.", Position: 0},
				{Text: "Beta Labs competes with Acme.", Position: 1},
				{Text: "   ", Position: 2},
			}},
			{DocumentID: "doc-2", Text: "First sentence. Second sentence. Third sentence."},
			{DocumentID: ""},
			{DocumentID: "doc-3"},
		},
		Relationships: []model.RelationshipInput{
			{Source: "Beta Labs", Target: "Acme Corp", Type: "competes with", SourceDocumentID: "doc-1"},
		},
	}

	stats, err := ingester.Ingest(ctx, batch)
	require.NoError(t, err, "Expected Ingest to not return an error")
	assert.Equal(t, 4, stats.ChunksInserted, "Expected two given chunks and two sentence chunks")
	assert.Equal(t, 0, stats.ChunksExisting)
	assert.Len(t, stats.Skipped, 3, "Expected the blank chunk and both empty documents to be skipped")

	chunk, err := store.GetChunk(ctx, model.ChunkID("doc-1", 0))
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp raised $50M.", chunk.Text)
	assert.Equal(t, "Acme raises", chunk.Metadata["title"])

	split, err := store.GetChunk(ctx, model.ChunkID("doc-2", 1))
	require.NoError(t, err)
	assert.Equal(t, "Third sentence.", split.Text)

	beta := model.NewEntity("Beta Labs", model.EntityTypeCompany, "")
	acme := model.NewEntity("Acme Corp", model.EntityTypeCompany, "")
	rel, err := store.GetRelationship(ctx, model.RelationshipID(beta.ID, model.RelationshipCompetesWith, acme.ID))
	require.NoError(t, err)
	assert.True(t, rel.LastMentionAt.Equal(published), "Expected the publication time as mention time")

	t.Run("Chunks are never rewritten", func(t *testing.T) {
		stats, err := ingester.Ingest(ctx, &model.Batch{Documents: []model.DocumentInput{
			{DocumentID: "doc-1", Chunks: []model.ChunkInput{{Text: "Edited text.", Position: 0}}},
		}})
		require.NoError(t, err)
		assert.Equal(t, 0, stats.ChunksInserted)
		assert.Equal(t, 1, stats.ChunksExisting)

		chunk, err := store.GetChunk(ctx, model.ChunkID("doc-1", 0))
		require.NoError(t, err)
		assert.Equal(t, "Acme Corp raised $50M.", chunk.Text)
	})
}

func TestIngestCancelled(t *testing.T) {
	ingester, _ := newTestIngester(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ingester.Ingest(ctx, &model.Batch{Entities: []model.EntityInput{{Name: "Acme Corp", Type: "Company"}}})
	assert.ErrorIs(t, err, context.Canceled)

	stats, err := ingester.Ingest(context.Background(), nil)
	assert.NoError(t, err, "Expected a nil batch to be a no-op")
	assert.Equal(t, model.IngestStats{}, stats)
}

func TestIngestWithRescoring(t *testing.T) {
	ctx := context.Background()
	config := model.DefaultEngineConfig()
	store := graph.NewMemoryStore()
	guard := maintenance.NewLocalGuard()
	clock := func() time.Time { return testNow }
	s := scorer.NewScorer(store, guard, config.Scoring, nil, scorer.WithClock(clock))
	ingester := NewIngester(store, s, model.NewNamePolicy(config.Policy), nil, WithClock(clock), WithGuard(guard))

	mention := func() *model.Batch {
		return &model.Batch{
			Entities: []model.EntityInput{
				{Name: "Acme Corp", Type: "Company"},
				{Name: "Sequoia Capital", Type: "Investor"},
			},
			Relationships: []model.RelationshipInput{
				{Source: "Acme Corp", Target: "Sequoia Capital", Type: "FUNDED_BY"},
			},
		}
	}
	acme := model.NewEntity("Acme Corp", model.EntityTypeCompany, "")
	sequoia := model.NewEntity("Sequoia Capital", model.EntityTypeInvestor, "")
	fundingID := model.RelationshipID(acme.ID, model.RelationshipFundedBy, sequoia.ID)
	mentions := func() int {
		r, err := store.GetRelationship(ctx, fundingID)
		require.NoError(t, err)
		return r.SupportingMentions
	}

	_, err := ingester.Ingest(ctx, mention())
	require.NoError(t, err, "Expected Ingest to not return an error")
	require.Equal(t, 1, mentions())

	t.Run("Batch waits for a running rescoring", func(t *testing.T) {
		release, err := guard.TryAcquire(ctx)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := ingester.Ingest(ctx, mention())
			done <- err
		}()

		select {
		case err := <-done:
			t.Fatalf("Ingest finished while the guard was held: %v", err)
		case <-time.After(20 * time.Millisecond):
		}
		assert.Equal(t, 1, mentions(), "Expected no write while the guard is held")

		release()
		require.NoError(t, <-done)
		assert.Equal(t, 2, mentions())
	})

	t.Run("Concurrent batches and rescoring keep every mention", func(t *testing.T) {
		const batches = 8
		var wg sync.WaitGroup
		for n := 0; n < batches; n++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := ingester.Ingest(ctx, mention())
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				_, err := s.RescanAndUpdateAll(ctx)
				if err != nil {
					assert.ErrorIs(t, err, model.ErrMaintenanceRunning)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 2+batches, mentions(), "Expected no mention to be lost to a stale rescore")
	})
}
