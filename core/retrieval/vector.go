package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// VectorRetriever finds the chunks closest to a query vector. It uses the
// store's native search when available and a brute force cosine scan over
// embedded chunks otherwise, so chunks embedded by an incremental build are
// visible immediately.
type VectorRetriever struct {
	store  graph.Store
	config model.RetrievalConfig
	logger *slog.Logger
}

// NewVectorRetriever creates a vector retriever.
func NewVectorRetriever(store graph.Store, config model.RetrievalConfig, logger *slog.Logger) *VectorRetriever {
	return &VectorRetriever{
		store:  store,
		config: config,
		logger: helper.OrDiscard(logger).With(slog.String("component", "vector_retriever")),
	}
}

// Retrieve returns up to topK chunks by similarity descending, ties broken by
// chunk id.
func (r *VectorRetriever) Retrieve(ctx context.Context, vec []float32, topK int) ([]model.ScoredChunk, error) {
	if topK <= 0 || helper.IsZeroVector(vec) {
		return []model.ScoredChunk{}, nil
	}

	var scored []model.ScoredChunk
	if vs, ok := r.store.(graph.VectorSearcher); ok {
		found, err := vs.SearchChunks(ctx, vec, topK)
		if err != nil {
			return nil, helper.NewError("search chunks", err)
		}
		scored = found
	} else {
		chunks, err := r.store.ListChunks(ctx)
		if err != nil {
			return nil, helper.NewError("list chunks", err)
		}
		scored = make([]model.ScoredChunk, 0, len(chunks))
		for _, c := range chunks {
			if len(c.Embedding) == 0 {
				continue
			}
			scored = append(scored, model.ScoredChunk{Chunk: c, Similarity: helper.CosineSimilarity(vec, c.Embedding)})
		}
	}

	filtered := scored[:0]
	for _, s := range scored {
		if matches(s.Similarity, r.config.MinSimilarity) {
			filtered = append(filtered, s)
		}
	}
	SortChunks(filtered)
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered, nil
}

// SortChunks orders by similarity then chunk id.
func SortChunks(chunks []model.ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Similarity != chunks[j].Similarity {
			return chunks[i].Similarity > chunks[j].Similarity
		}
		return chunks[i].Chunk.ID.String() < chunks[j].Chunk.ID.String()
	})
}

// ChunksMentioning returns chunks whose text mentions any of the names, used
// to profile entities without a query vector.
func (r *VectorRetriever) ChunksMentioning(ctx context.Context, names []string, limit int) ([]model.ScoredChunk, error) {
	chunks, err := r.store.ListChunks(ctx)
	if err != nil {
		return nil, helper.NewError("list chunks", err)
	}

	keys := make([]string, 0, len(names))
	for _, n := range names {
		if k := lexicalKey(n); k != "" {
			keys = append(keys, " "+k+" ")
		}
	}

	found := []model.ScoredChunk{}
	for _, c := range chunks {
		text := " " + lexicalKey(c.Text) + " "
		hits := 0
		for _, k := range keys {
			if strings.Contains(text, k) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		found = append(found, model.ScoredChunk{Chunk: c, Similarity: float64(hits) / float64(len(keys))})
	}

	SortChunks(found)
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}
