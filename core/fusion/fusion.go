// Package fusion merges the ranked outputs of the graph and the vector
// channel into one context with reciprocal rank fusion.
package fusion

import (
	"log/slog"
	"sort"
	"strconv"

	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// Engine fuses ranked lists of context items.
type Engine struct {
	k       float64
	budget  int
	counter TokenCounter
	logger  *slog.Logger
}

// NewEngine creates a fusion engine. A nil counter uses the heuristic.
func NewEngine(config model.FusionConfig, counter TokenCounter, logger *slog.Logger) *Engine {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	k := config.RRFK
	if k <= 0 {
		k = 60
	}
	return &Engine{
		k:       k,
		budget:  config.TokenBudget,
		counter: counter,
		logger:  helper.OrDiscard(logger).With(slog.String("component", "fusion")),
	}
}

// RRF is the reciprocal rank contribution of a 1-based rank.
func RRF(k float64, rank int) float64 {
	return 1 / (k + float64(rank))
}

// Fuse ranks the graph channel with GraphItems and chunks in their retrieval
// order, then fuses both channels. Graph items and chunks never match each
// other, so every item keeps its own channel score and the two channels
// interleave by it.
func (e *Engine) Fuse(graph *model.GraphResult, chunks []model.ScoredChunk, budget int) []model.ContextItem {
	docs := make([]model.ContextItem, 0, len(chunks))
	for _, c := range chunks {
		if c.Chunk == nil {
			continue
		}
		docs = append(docs, model.ChunkItem(c))
	}

	return e.FuseLists(budget, GraphItems(graph), docs)
}

// GraphItems ranks the seed entities and facts of a graph result in one
// list. Entities rank by similarity and facts by relevance; an entity comes
// before the facts that tie with it.
func GraphItems(graph *model.GraphResult) []model.ContextItem {
	if graph == nil {
		return nil
	}

	type ranked struct {
		item      model.ContextItem
		relevance float64
	}
	all := make([]ranked, 0, len(graph.Entities)+len(graph.Facts))
	for _, s := range graph.Entities {
		if s.Entity == nil {
			continue
		}
		all = append(all, ranked{item: model.EntityItem(s), relevance: s.Similarity})
	}
	for _, f := range graph.Facts {
		all = append(all, ranked{item: model.FactItem(f), relevance: f.Relevance})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].relevance > all[j].relevance })

	items := make([]model.ContextItem, 0, len(all))
	for _, r := range all {
		items = append(items, r.item)
	}
	return items
}

// FuseLists sums the RRF score of every item over the lists it appears in,
// matched by key. Within a list only the best rank of a key counts. The
// result is ordered by fused score, then strength for facts and similarity
// for chunks, then facts before chunks, then key. Items are taken greedily
// until the token budget is spent; an item that does not fit is skipped and
// smaller ones after it may still be taken. Refs are assigned in the final
// order: F1, F2, ... for facts and D1, D2, ... for chunks. A budget of zero
// or less uses the configured budget.
func (e *Engine) FuseLists(budget int, lists ...[]model.ContextItem) []model.ContextItem {
	if budget <= 0 {
		budget = e.budget
	}

	byKey := map[string]*model.ContextItem{}
	order := []string{}
	for _, list := range lists {
		seen := map[string]bool{}
		rank := 0
		for _, item := range list {
			if item.Key == "" || seen[item.Key] {
				continue
			}
			seen[item.Key] = true
			rank++

			existing, ok := byKey[item.Key]
			if !ok {
				copied := item
				copied.Score = 0
				copied.Ref = ""
				byKey[item.Key] = &copied
				order = append(order, item.Key)
				existing = &copied
			}
			existing.Score += RRF(e.k, rank)
			if item.Strength > existing.Strength {
				existing.Strength = item.Strength
			}
			if item.Similarity > existing.Similarity {
				existing.Similarity = item.Similarity
			}
		}
	}

	fused := make([]model.ContextItem, 0, len(order))
	for _, key := range order {
		fused = append(fused, *byKey[key])
	}
	Sort(fused)

	selected := make([]model.ContextItem, 0, len(fused))
	used := 0
	dropped := 0
	for _, item := range fused {
		item.Tokens = e.counter.Count(item.Text)
		if budget > 0 && used+item.Tokens > budget {
			dropped++
			continue
		}
		used += item.Tokens
		selected = append(selected, item)
	}
	if dropped > 0 {
		e.logger.Debug("Context truncated to token budget", slog.Int("budget", budget), slog.Int("dropped", dropped))
	}

	factRef, chunkRef := 0, 0
	for i := range selected {
		switch selected[i].Kind {
		case model.ContextKindFact:
			factRef++
			selected[i].Ref = "F" + strconv.Itoa(factRef)
		default:
			chunkRef++
			selected[i].Ref = "D" + strconv.Itoa(chunkRef)
		}
	}
	return selected
}

// Sort orders fused items deterministically.
func Sort(items []model.ContextItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Kind == b.Kind {
			if a.Kind == model.ContextKindFact && a.Strength != b.Strength {
				return a.Strength > b.Strength
			}
			if a.Kind == model.ContextKindChunk && a.Similarity != b.Similarity {
				return a.Similarity > b.Similarity
			}
		} else {
			return a.Kind == model.ContextKindFact
		}
		return a.Key < b.Key
	})
}

// Tokens sums the token counts of items.
func Tokens(items []model.ContextItem) int {
	total := 0
	for _, item := range items {
		total += item.Tokens
	}
	return total
}
