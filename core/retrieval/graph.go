package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// GraphRetriever finds the entities closest to a query and the facts around
// them.
type GraphRetriever struct {
	store  graph.Store
	config model.RetrievalConfig
	logger *slog.Logger
}

// NewGraphRetriever creates a graph retriever.
func NewGraphRetriever(store graph.Store, config model.RetrievalConfig, logger *slog.Logger) *GraphRetriever {
	return &GraphRetriever{
		store:  store,
		config: config,
		logger: helper.OrDiscard(logger).With(slog.String("component", "graph_retriever")),
	}
}

// Retrieve ranks embedded entities by cosine similarity to vec, keeps the
// topK and expands hops relationships around them.
func (r *GraphRetriever) Retrieve(ctx context.Context, vec []float32, topK int, hops int) (*model.GraphResult, error) {
	entities, err := r.SearchEntities(ctx, vec, topK, nil, r.config.MinSimilarity)
	if err != nil {
		return nil, err
	}

	facts, err := r.FactsFor(ctx, entities, hops)
	if err != nil {
		return nil, err
	}
	return &model.GraphResult{Entities: entities, Facts: facts}, nil
}

// SearchEntities returns up to topK embedded entities by similarity
// descending, ties broken by mention count then id. A nil entityType matches
// every type.
func (r *GraphRetriever) SearchEntities(ctx context.Context, vec []float32, topK int, entityType *model.EntityType, minSimilarity float64) ([]model.ScoredEntity, error) {
	if topK <= 0 || helper.IsZeroVector(vec) {
		return []model.ScoredEntity{}, nil
	}

	var scored []model.ScoredEntity
	if vs, ok := r.store.(graph.VectorSearcher); ok {
		found, err := vs.SearchEntities(ctx, vec, topK, entityType)
		if err != nil {
			return nil, helper.NewError("search entities", err)
		}
		scored = found
	} else {
		entities, err := r.store.ListEntities(ctx, graph.EntityFilter{Type: entityType, WithEmbedding: true})
		if err != nil {
			return nil, helper.NewError("list entities", err)
		}
		scored = make([]model.ScoredEntity, 0, len(entities))
		for _, e := range entities {
			scored = append(scored, model.ScoredEntity{Entity: e, Similarity: helper.CosineSimilarity(vec, e.Embedding)})
		}
	}

	filtered := scored[:0]
	for _, s := range scored {
		if matches(s.Similarity, minSimilarity) {
			filtered = append(filtered, s)
		}
	}
	SortEntities(filtered)
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered, nil
}

// matches reports whether similarity reaches min. A similarity of zero or
// less never matches, even with a threshold of zero.
func matches(similarity float64, min float64) bool {
	if min <= 0 {
		return similarity > 0
	}
	return similarity >= min
}

// SortEntities orders by similarity, mention count and id.
func SortEntities(entities []model.ScoredEntity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Entity.MentionCount != b.Entity.MentionCount {
			return a.Entity.MentionCount > b.Entity.MentionCount
		}
		return a.Entity.ID.String() < b.Entity.ID.String()
	})
}

// FactsFor expands hops relationships around seeds. A fact's relevance is the
// similarity of the seed it was reached from divided by its hop distance.
// Facts are deduplicated by (source, type, target), ordered by relevance then
// strength and capped at the configured maximum.
func (r *GraphRetriever) FactsFor(ctx context.Context, seeds []model.ScoredEntity, hops int) ([]model.Fact, error) {
	if len(seeds) == 0 || hops < 1 {
		return []model.Fact{}, nil
	}

	ids := make([]uuid.UUID, 0, len(seeds))
	similarity := make(map[uuid.UUID]float64, len(seeds))
	for _, s := range seeds {
		ids = append(ids, s.Entity.ID)
		similarity[s.Entity.ID] = s.Similarity
	}

	expanded, err := graph.Expand(ctx, r.store, ids, hops)
	if err != nil {
		return nil, err
	}

	names := graph.NewEntityCache(r.store)
	seen := map[string]bool{}
	facts := make([]model.Fact, 0, len(expanded))
	for _, h := range expanded {
		fact, err := names.Fact(ctx, h.Relationship, h.Depth)
		if err != nil {
			if graph.IsNotFound(err) {
				r.logger.Warn("Skipping fact with missing endpoint", slog.String("relationship", h.Relationship.ID.String()))
				continue
			}
			return nil, err
		}
		if seen[fact.Key()] {
			continue
		}
		seen[fact.Key()] = true
		fact.Relevance = similarity[h.Seed] / float64(h.Depth)
		facts = append(facts, fact)
	}

	SortFacts(facts)
	if r.config.MaxFacts > 0 && len(facts) > r.config.MaxFacts {
		facts = facts[:r.config.MaxFacts]
	}
	return facts, nil
}

// SortFacts orders by relevance, strength and key.
func SortFacts(facts []model.Fact) {
	sort.SliceStable(facts, func(i, j int) bool {
		a, b := facts[i], facts[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if a.Strength != b.Strength {
			return a.Strength > b.Strength
		}
		return a.Key() < b.Key()
	})
}

// MentionedEntities returns the entities whose full name occurs in text as a
// whole word sequence. It does not need embeddings and serves as anchor
// detection and as fallback when the embedding provider is down. Longer names
// come first.
func (r *GraphRetriever) MentionedEntities(ctx context.Context, text string) ([]model.ScoredEntity, error) {
	haystack := " " + lexicalKey(text) + " "
	if strings.TrimSpace(haystack) == "" {
		return []model.ScoredEntity{}, nil
	}

	entities, err := r.store.ListEntities(ctx, graph.EntityFilter{})
	if err != nil {
		return nil, helper.NewError("list entities", err)
	}

	found := []model.ScoredEntity{}
	for _, e := range entities {
		name := lexicalKey(e.Name)
		if name == "" || !strings.Contains(haystack, " "+name+" ") {
			continue
		}
		found = append(found, model.ScoredEntity{Entity: e, Similarity: 1})
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i].Entity, found[j].Entity
		if len(a.NormalizedName) != len(b.NormalizedName) {
			return len(a.NormalizedName) > len(b.NormalizedName)
		}
		if a.MentionCount != b.MentionCount {
			return a.MentionCount > b.MentionCount
		}
		return a.ID.String() < b.ID.String()
	})
	return found, nil
}

// FindByName resolves a user supplied name to one entity: an exact
// normalized name match first, then the best lexical mention.
func (r *GraphRetriever) FindByName(ctx context.Context, name string) (*model.Entity, error) {
	exact, err := r.store.ListEntities(ctx, graph.EntityFilter{NormalizedName: model.NormalizeName(name)})
	if err != nil {
		return nil, helper.NewError("list entities", err)
	}
	if len(exact) > 0 {
		sort.SliceStable(exact, func(i, j int) bool { return exact[i].MentionCount > exact[j].MentionCount })
		return exact[0], nil
	}

	mentioned, err := r.MentionedEntities(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(mentioned) == 0 {
		return nil, helper.NewError("find entity "+name, model.ErrNotFound)
	}
	return mentioned[0].Entity, nil
}

func lexicalKey(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
