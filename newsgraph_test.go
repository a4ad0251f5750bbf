package newsgraph

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode"

	"github.com/siherrmann/newsgraph/core/embedding"
	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/core/llm"
	"github.com/siherrmann/newsgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAnswer = "Acme Corp was funded by Sequoia Capital [F1]."

// testVocabulary spans the test embedding space. Each dimension counts one
// word so similarities are easy to reason about.
var testVocabulary = []string{"ai", "startup", "acme", "funded", "sequoia", "beta"}

func testEmbedder() *embedding.FuncProvider {
	return embedding.NewFuncProvider("test", len(testVocabulary), func(ctx context.Context, text string) ([]float32, error) {
		vec := make([]float32, len(testVocabulary))
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			for i, v := range testVocabulary {
				if w == v {
					vec[i]++
				}
			}
		}
		return vec, nil
	})
}

// countingLLM answers every prompt with answer, or testAnswer when unset,
// and counts the calls.
type countingLLM struct {
	calls  atomic.Int32
	answer string
	// gate blocks every call until it is closed when set.
	gate chan struct{}
}

func (c *countingLLM) provider() llm.Provider {
	return llm.NewFuncProvider(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		c.calls.Add(1)
		if c.gate != nil {
			select {
			case <-c.gate:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if c.answer != "" {
			return c.answer, nil
		}
		return testAnswer, nil
	})
}

func testBatch() *model.Batch {
	mentioned := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)
	return &model.Batch{
		Entities: []model.EntityInput{
			{Name: "Acme Corp", Type: "Company", Description: "industrial robotics maker", SourceDocumentID: "doc-1", Mentions: 3},
			{Name: "Beta Labs", Type: "Company", Description: "developer tools", SourceDocumentID: "doc-2"},
			{Name: "Sequoia Capital", Type: "Investor", Description: "venture capital firm", SourceDocumentID: "doc-1"},
			{Name: "Cortex AI", Type: "Company", Description: "AI chip startup"},
			{Name: "Neural Labs", Type: "Company", Description: "AI startup"},
			{Name: "Vision Works", Type: "Company", Description: "computer vision software built on AI"},
			{Name: "Green Farms", Type: "Company", Description: "organic agriculture"},
		},
		Relationships: []model.RelationshipInput{
			{Source: "Acme Corp", Target: "Sequoia Capital", Type: "FUNDED_BY", SourceDocumentID: "doc-1", MentionedAt: &mentioned, DirectQuote: true},
			{Source: "Beta Labs", Target: "Sequoia Capital", Type: "FUNDED_BY", SourceDocumentID: "doc-2", MentionedAt: &mentioned},
			{Source: "Beta Labs", Target: "Acme Corp", Type: "COMPETES_WITH", SourceDocumentID: "doc-2"},
		},
		Documents: []model.DocumentInput{
			{DocumentID: "doc-1", Chunks: []model.ChunkInput{{Text: "Acme Corp raised $50M led by Sequoia Capital.", Position: 0}}},
			{DocumentID: "doc-2", Chunks: []model.ChunkInput{{Text: "Beta Labs competes with Acme Corp in developer tooling.", Position: 0}}},
		},
	}
}

func testConfig() model.EngineConfig {
	config := model.DefaultEngineConfig()
	config.Retry.InitialInterval = time.Millisecond
	config.Retry.MaxInterval = time.Millisecond
	return config
}

func initGrapher(t *testing.T, completer *countingLLM) *Grapher {
	t.Helper()
	ctx := context.Background()

	g, err := New(Options{
		Config:   testConfig(),
		Store:    graph.NewMemoryStore(),
		Embedder: testEmbedder(),
		LLM:      completer.provider(),
	})
	require.NoError(t, err, "Expected New to not return an error")
	t.Cleanup(func() {
		assert.NoError(t, g.Close())
	})

	stats, err := g.Ingest(ctx, testBatch())
	require.NoError(t, err, "Expected Ingest to not return an error")
	require.Empty(t, stats.Skipped, "Expected the test batch to be valid")

	buildStats, err := g.BuildIndex(ctx, false)
	require.NoError(t, err, "Expected BuildIndex to not return an error")
	require.Zero(t, buildStats.Failed)
	return g
}

func TestNew(t *testing.T) {
	completer := &countingLLM{}

	t.Run("Valid call New", func(t *testing.T) {
		g, err := New(Options{
			Config:   testConfig(),
			Store:    graph.NewMemoryStore(),
			Embedder: testEmbedder(),
			LLM:      completer.provider(),
		})
		require.NoError(t, err, "Expected New to not return an error")
		require.NotNil(t, g, "Expected New to return a non-nil instance")
		assert.NotNil(t, g.Index, "Expected grapher to have an embedding index")
		assert.NotNil(t, g.Retrieval, "Expected grapher to have a retrieval engine")
		assert.NotNil(t, g.Sessions, "Expected grapher to have a session store")
		assert.NoError(t, g.Close(), "Expected Close to not return an error")
	})

	t.Run("Invalid call New without store", func(t *testing.T) {
		_, err := New(Options{Config: testConfig(), Embedder: testEmbedder(), LLM: completer.provider()})
		assert.Error(t, err, "Expected error when creating a grapher without store")
		assert.Contains(t, err.Error(), "store is required")
	})

	t.Run("Invalid call New with invalid config", func(t *testing.T) {
		config := testConfig()
		config.Fusion.RRFK = 0
		_, err := New(Options{Config: config, Store: graph.NewMemoryStore(), Embedder: testEmbedder(), LLM: completer.provider()})
		assert.Error(t, err, "Expected error for an invalid configuration")
		assert.Contains(t, err.Error(), "rrf_k")
	})
}

func TestQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("Answer with citations", func(t *testing.T) {
		completer := &countingLLM{}
		g := initGrapher(t, completer)

		resp := g.Query(ctx, "Who funded Acme Corp?", "", model.QueryOptions{IncludeContext: true})
		require.NotNil(t, resp)
		assert.Equal(t, model.StatusAnswered, resp.Status, "Warnings: %v", resp.Warnings)
		assert.Equal(t, model.StageReturned, resp.Stage)
		assert.Equal(t, model.IntentRelationship, resp.Intent)
		assert.Equal(t, testAnswer, resp.Answer)
		assert.NotEmpty(t, resp.Sources, "Expected the cited fact as source")
		assert.NotEmpty(t, resp.Context, "Expected the fused context to be included")
		assert.Contains(t, resp.Entities, "Acme Corp")
		assert.False(t, resp.Degraded)
		assert.EqualValues(t, 1, completer.calls.Load())
	})

	t.Run("Repeated question is served from cache", func(t *testing.T) {
		completer := &countingLLM{}
		g := initGrapher(t, completer)

		first := g.Query(ctx, "Who funded Acme Corp?", "", model.QueryOptions{})
		second := g.Query(ctx, "who funded  Acme Corp?", "", model.QueryOptions{})
		assert.False(t, first.Cached)
		assert.True(t, second.Cached, "Expected the normalized question to hit the cache")
		assert.Equal(t, first.Answer, second.Answer)
		assert.EqualValues(t, 1, completer.calls.Load())

		_, err := g.Ingest(ctx, &model.Batch{Entities: []model.EntityInput{{Name: "Delta Robotics", Type: "Company"}}})
		require.NoError(t, err)
		third := g.Query(ctx, "Who funded Acme Corp?", "", model.QueryOptions{})
		assert.False(t, third.Cached, "Expected ingestion to invalidate cached answers")
		assert.EqualValues(t, 2, completer.calls.Load())
	})

	t.Run("Entity without relationships is answered from its description", func(t *testing.T) {
		completer := &countingLLM{answer: "Neural Labs is an AI startup [F1]."}
		g := initGrapher(t, completer)

		resp := g.Query(ctx, "Tell me about the AI startup Neural Labs", "", model.QueryOptions{IncludeContext: true})
		assert.Equal(t, model.StatusAnswered, resp.Status, "Warnings: %v", resp.Warnings)
		assert.Equal(t, model.IntentEntityLookup, resp.Intent)
		require.NotEmpty(t, resp.Context, "Expected the matching entity in the context")
		assert.Equal(t, "Neural Labs (Company): AI startup", resp.Context[0].Text)
		for _, item := range resp.Context {
			assert.NotContains(t, item.Text, "Acme Corp", "Expected no unrelated facts or excerpts")
		}
		assert.EqualValues(t, 1, completer.calls.Load())
	})

	t.Run("Graph change during a running query is not cached", func(t *testing.T) {
		completer := &countingLLM{gate: make(chan struct{})}
		g := initGrapher(t, completer)

		done := make(chan *model.QueryResponse, 1)
		go func() {
			done <- g.Query(ctx, "Who funded Acme Corp?", "", model.QueryOptions{})
		}()
		require.Eventually(t, func() bool { return completer.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

		_, err := g.Ingest(ctx, &model.Batch{Entities: []model.EntityInput{{Name: "Delta Robotics", Type: "Company"}}})
		require.NoError(t, err)
		close(completer.gate)
		require.Equal(t, model.StatusAnswered, (<-done).Status)

		again := g.Query(ctx, "Who funded Acme Corp?", "", model.QueryOptions{})
		assert.False(t, again.Cached, "Expected the answer computed before the ingest to be dropped")
		assert.EqualValues(t, 2, completer.calls.Load())
	})

	t.Run("No matching context answers without the LLM", func(t *testing.T) {
		completer := &countingLLM{}
		g := initGrapher(t, completer)

		resp := g.Query(ctx, "What is the weather on Mars?", "", model.QueryOptions{})
		assert.Equal(t, model.StatusNoContext, resp.Status)
		assert.Equal(t, model.NoContextAnswer, resp.Answer)
		assert.Empty(t, resp.Sources)
		assert.Zero(t, completer.calls.Load(), "Expected no LLM call for an empty context")
	})

	t.Run("Empty question is invalid", func(t *testing.T) {
		completer := &countingLLM{}
		g := initGrapher(t, completer)

		resp := g.Query(ctx, "   ", "", model.QueryOptions{})
		assert.Equal(t, model.StatusInvalid, resp.Status)
		assert.NotEmpty(t, resp.Answer)
		assert.Zero(t, completer.calls.Load())
	})

	t.Run("Cancelled context", func(t *testing.T) {
		completer := &countingLLM{}
		g := initGrapher(t, completer)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		resp := g.Query(cancelled, "Who funded Acme Corp?", "", model.QueryOptions{})
		assert.Equal(t, model.StatusCancelled, resp.Status)
		assert.Zero(t, completer.calls.Load())
	})

	t.Run("Follow-up is rewritten against the last turn", func(t *testing.T) {
		completer := &countingLLM{}
		g := initGrapher(t, completer)
		sessionID := "session-1"

		first := g.Query(ctx, "Who funded Acme Corp?", sessionID, model.QueryOptions{})
		require.Equal(t, model.StatusAnswered, first.Status)

		followUp := g.Query(ctx, "What about its competitors?", sessionID, model.QueryOptions{})
		assert.Contains(t, followUp.ResolvedQuestion, "Acme Corp", "Expected the pronoun to be resolved to the last subject")
		assert.Equal(t, model.IntentRelationship, followUp.Intent)
		assert.Equal(t, "What about its competitors?", followUp.Question)

		session, ok := g.Sessions.Get(sessionID)
		require.True(t, ok)
		assert.Len(t, session.Turns, 2)
	})
}

func TestQuerySingleFlight(t *testing.T) {
	ctx := context.Background()
	completer := &countingLLM{gate: make(chan struct{})}
	g := initGrapher(t, completer)

	const callers = 8
	responses := make([]string, callers)
	statuses := make([]model.QueryStatus, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := g.Query(ctx, "Who funded Acme Corp?", "", model.QueryOptions{})
			responses[i] = resp.Answer
			statuses[i] = resp.Status
		}(i)
	}

	require.Eventually(t, func() bool { return completer.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond, "Expected the generator to be called")
	close(completer.gate)
	wg.Wait()

	assert.EqualValues(t, 1, completer.calls.Load(), "Expected exactly one generator call for identical concurrent queries")
	for i := 0; i < callers; i++ {
		assert.Equal(t, model.StatusAnswered, statuses[i])
		assert.Equal(t, testAnswer, responses[i])
	}
}

func TestSemanticSearch(t *testing.T) {
	ctx := context.Background()
	g := initGrapher(t, &countingLLM{})

	t.Run("AI startups by similarity", func(t *testing.T) {
		found, err := g.SemanticSearch(ctx, "AI startup", 5, nil)
		require.NoError(t, err, "Expected SemanticSearch to not return an error")
		require.Len(t, found, 3, "Expected only the AI companies")
		assert.Equal(t, "Neural Labs", found[0].Entity.Name)
		assert.Equal(t, "Cortex AI", found[1].Entity.Name)
		assert.Equal(t, "Vision Works", found[2].Entity.Name)
		for i := 1; i < len(found); i++ {
			assert.GreaterOrEqual(t, found[i-1].Similarity, found[i].Similarity)
		}
	})

	t.Run("Type filter", func(t *testing.T) {
		investor := model.EntityTypeInvestor
		found, err := g.SemanticSearch(ctx, "AI startup", 5, &investor)
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("Empty text", func(t *testing.T) {
		_, err := g.SemanticSearch(ctx, "", 5, nil)
		assert.ErrorIs(t, err, model.ErrEmptyQuestion)
	})
}

func TestCompareEntities(t *testing.T) {
	ctx := context.Background()
	completer := &countingLLM{}
	g := initGrapher(t, completer)

	t.Run("Shared investor and direct relationship", func(t *testing.T) {
		comparison, err := g.CompareEntities(ctx, "Acme Corp", "Beta Labs")
		require.NoError(t, err, "Expected CompareEntities to not return an error")
		assert.Equal(t, model.StatusAnswered, comparison.Status, "Warnings: %v", comparison.Warnings)
		require.NotNil(t, comparison.A)
		require.NotNil(t, comparison.B)

		sequoia, err := g.Retrieval.Graph.FindByName(ctx, "Sequoia Capital")
		require.NoError(t, err)
		assert.Equal(t, []string{sequoia.ID.String()}, comparison.SharedIDs)
		require.Len(t, comparison.Direct, 1)
		assert.Equal(t, model.RelationshipCompetesWith, comparison.Direct[0].Type)
		assert.Equal(t, testAnswer, comparison.Answer)
	})

	t.Run("Unknown entity", func(t *testing.T) {
		calls := completer.calls.Load()
		comparison, err := g.CompareEntities(ctx, "Acme Corp", "Omega Dynamics")
		require.NoError(t, err)
		assert.Equal(t, model.StatusNoContext, comparison.Status)
		assert.Equal(t, []string{"Omega Dynamics"}, comparison.MissingNames)
		assert.Equal(t, calls, completer.calls.Load(), "Expected no LLM call for an unknown entity")
	})
}

func TestMultiHopReasoning(t *testing.T) {
	ctx := context.Background()
	g := initGrapher(t, &countingLLM{})

	t.Run("Paths between named entities", func(t *testing.T) {
		result, err := g.MultiHopReasoning(ctx, "How is Beta Labs connected to Acme Corp?", 2)
		require.NoError(t, err, "Expected MultiHopReasoning to not return an error")
		require.Len(t, result.Anchors, 2)
		require.NotEmpty(t, result.Paths)
		assert.Equal(t, 1, result.Paths[0].Length(), "Expected the direct relationship first")
		for _, p := range result.Paths {
			assert.LessOrEqual(t, p.Length(), 2)
		}
		assert.Equal(t, model.StatusAnswered, result.Status, "Warnings: %v", result.Warnings)
	})

	t.Run("Hop limit", func(t *testing.T) {
		result, err := g.MultiHopReasoning(ctx, "How is Beta Labs connected to Acme Corp?", 1)
		require.NoError(t, err)
		require.Len(t, result.Paths, 1)
		assert.Equal(t, model.RelationshipCompetesWith, result.Paths[0].Facts[0].Type)
	})

	t.Run("Empty question", func(t *testing.T) {
		_, err := g.MultiHopReasoning(ctx, " ", 2)
		assert.ErrorIs(t, err, model.ErrEmptyQuestion)
	})
}

func TestResolveEntities(t *testing.T) {
	ctx := context.Background()
	g := initGrapher(t, &countingLLM{})

	_, err := g.Ingest(ctx, &model.Batch{
		Entities: []model.EntityInput{{Name: "Acme Corporation", Type: "Company", Description: "robotics", SourceDocumentID: "doc-3"}},
		Relationships: []model.RelationshipInput{
			{Source: "Acme Corporation", Target: "Sequoia Capital", Type: "FUNDED_BY", SourceDocumentID: "doc-3"},
		},
	})
	require.NoError(t, err)

	count := func() int {
		entities, err := g.Store.ListEntities(ctx, graph.EntityFilter{})
		require.NoError(t, err)
		return len(entities)
	}
	before := count()

	t.Run("Dry run reports without merging", func(t *testing.T) {
		stats, err := g.ResolveEntities(ctx, 0, true)
		require.NoError(t, err, "Expected a dry run to not return an error")
		assert.True(t, stats.DryRun)
		assert.Equal(t, 1, stats.EntitiesMerged)
		assert.Equal(t, before, count(), "Expected a dry run to never mutate the graph")
	})

	t.Run("Merge duplicates", func(t *testing.T) {
		stats, err := g.ResolveEntities(ctx, 0, false)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.EntitiesMerged)
		assert.Equal(t, before-1, count())

		acme, err := g.Retrieval.Graph.FindByName(ctx, "Acme Corp")
		require.NoError(t, err)
		rels, err := g.Store.RelationshipsOf(ctx, acme.ID)
		require.NoError(t, err)
		funding := 0
		for _, r := range rels {
			if r.Type == model.RelationshipFundedBy {
				funding++
			}
		}
		assert.Equal(t, 1, funding, "Expected the two funding edges to collapse into one")
	})

	t.Run("Second run changes nothing", func(t *testing.T) {
		stats, err := g.ResolveEntities(ctx, 0, false)
		require.NoError(t, err)
		assert.Zero(t, stats.EntitiesMerged)
		assert.Equal(t, before-1, count())
	})
}

func TestRescoreRelationships(t *testing.T) {
	ctx := context.Background()
	g := initGrapher(t, &countingLLM{})

	stats, err := g.RescoreRelationships(ctx)
	require.NoError(t, err, "Expected RescoreRelationships to not return an error")
	assert.Equal(t, 3, stats.Scanned)

	rels, err := g.Store.ListRelationships(ctx)
	require.NoError(t, err)
	for _, r := range rels {
		assert.GreaterOrEqual(t, r.Strength, 0.0)
		assert.LessOrEqual(t, r.Strength, model.MaxStrength)
	}
}

func TestBuildIndexResume(t *testing.T) {
	ctx := context.Background()
	g := initGrapher(t, &countingLLM{})

	stats, err := g.BuildIndex(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, stats.Embedded, "Expected a resumed build to skip embedded items")
	assert.Equal(t, stats.Total, stats.Skipped)

	require.NoError(t, g.ResetIndex(ctx))
	stats, err = g.BuildIndex(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, stats.Total, stats.Embedded, "Expected a reset to embed everything again")
}
