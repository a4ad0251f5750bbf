package newsgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/core/cache"
	"github.com/siherrmann/newsgraph/core/fusion"
	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/core/retrieval"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

const (
	invalidQuestionAnswer = "Please ask a question."
	cancelledAnswer       = "The query was cancelled."
	// compareFactsPerEntity caps the profile of each side of a comparison.
	compareFactsPerEntity = 15
)

// Query answers question. It never fails: every outcome, including invalid
// input, cancellation and provider outages, is reported through the status
// of the returned response. Identical concurrent queries share one
// computation and cacheable results are served from the answer cache.
func (g *Grapher) Query(ctx context.Context, question string, sessionID string, opts model.QueryOptions) *model.QueryResponse {
	resp := &model.QueryResponse{
		Question:  question,
		SessionID: sessionID,
		Sources:   []model.Source{},
		Stage:     model.StageReceived,
	}

	if strings.TrimSpace(question) == "" {
		return g.finish(resp, model.StatusInvalid, invalidQuestionAnswer)
	}

	history := g.Sessions.History(sessionID)
	classification, err := g.Understanding.Classify(ctx, question, history)
	if err != nil {
		if errors.Is(err, model.ErrEmptyQuestion) {
			return g.finish(resp, model.StatusInvalid, invalidQuestionAnswer)
		}
		return g.finish(resp, model.StatusCancelled, cancelledAnswer)
	}
	resp.ResolvedQuestion = classification.Rewritten
	resp.Intent = classification.Intent
	resp.Stage = model.StageClassified

	if classification.Intent == model.IntentAmbiguous {
		resp.Stage = model.StageClarify
		resp.Status = model.StatusClarify
		resp.Confidence = classification.Confidence
		resp.Answer = classification.Clarification
		g.log.Debug("Asking for clarification", slog.String("question", question))
		return resp
	}

	key := opts.CacheKey(classification.Rewritten)
	if cached := g.lookup(ctx, key, opts); cached != nil {
		return g.deliver(cached, resp)
	}

	result, shared, err := g.flights.Do(ctx, key, func(ctx context.Context) (*model.QueryResponse, error) {
		epoch := g.epoch.Load()
		if cached := g.lookup(ctx, key, opts); cached != nil {
			return cached, nil
		}
		computed := g.answerQuery(ctx, classification, history, opts)
		if g.epoch.Load() == epoch {
			g.store(ctx, key, computed, opts)
		}
		return computed, nil
	})
	if err != nil {
		return g.finish(resp, model.StatusCancelled, cancelledAnswer)
	}
	if shared {
		g.log.Debug("Shared in-flight query", slog.String("question", classification.Rewritten))
	}
	return g.deliver(result, resp)
}

// answerQuery runs retrieval, fusion and generation for a classified
// question. The returned response carries no caller specific fields.
func (g *Grapher) answerQuery(ctx context.Context, c model.Classification, history []model.Turn, opts model.QueryOptions) *model.QueryResponse {
	resp := &model.QueryResponse{
		ResolvedQuestion: c.Rewritten,
		Intent:           c.Intent,
		Sources:          []model.Source{},
		Stage:            model.StageClassified,
	}
	plan := retrieval.PlanFor(c.Intent, g.config.Retrieval, opts)

	var result retrieval.Result
	vec, err := g.Index.Embed(ctx, c.Expanded)
	if err != nil {
		if ctx.Err() != nil {
			return g.finish(resp, model.StatusCancelled, cancelledAnswer)
		}
		g.log.Warn("Query embedding failed, falling back to lexical retrieval", slog.String("error", err.Error()))
		resp.Degraded = true
		resp.Warn("embedding unavailable: %v", err)
		result = g.Retrieval.RetrieveText(ctx, c.Rewritten, plan)
	} else {
		result = g.Retrieval.Retrieve(ctx, vec, plan)
	}
	for _, e := range result.Errors {
		resp.Degraded = true
		resp.Warn("%v", e)
	}
	if ctx.Err() != nil {
		return g.finish(resp, model.StatusCancelled, cancelledAnswer)
	}

	mentioned, err := g.Retrieval.Graph.MentionedEntities(ctx, c.Rewritten)
	if err != nil {
		mentioned = nil
	}
	resp.Entities = entityNames(mentioned, result.Graph)

	var paths []model.Path
	if c.Intent == model.IntentPath || c.Intent == model.IntentMultiHop {
		paths, err = g.pathsBetween(ctx, mentioned, plan.Hops)
		if err != nil {
			resp.Degraded = true
			resp.Warn("path search failed: %v", err)
		}
	}
	resp.Stage = model.StageRetrieved

	budget := opts.TokenBudget
	var items []model.ContextItem
	if len(paths) > 0 {
		items = g.Fusion.FuseLists(budget, pathItems(paths), fusion.GraphItems(result.Graph), chunkItems(result.Chunks))
	} else {
		items = g.Fusion.Fuse(result.Graph, result.Chunks, budget)
	}
	resp.Stage = model.StageFused
	if opts.IncludeContext {
		resp.Context = items
	}

	a, err := g.Generator.Generate(ctx, c.Rewritten, items, history)
	var genErr *model.GenerationError
	switch {
	case errors.As(err, &genErr):
		resp.Stage = model.StageGenerated
		resp.Sources = a.Sources
		resp.Degraded = true
		resp.Warn("%v", err)
		return g.finish(resp, model.StatusGenerationFailed, a.Text)
	case err != nil:
		return g.finish(resp, model.StatusCancelled, cancelledAnswer)
	}
	resp.Stage = model.StageGenerated
	resp.Sources = a.Sources

	if len(items) == 0 {
		resp.Confidence = 0
		return g.finish(resp, model.StatusNoContext, a.Text)
	}

	resp.Confidence = a.Confidence
	if a.Degraded {
		resp.Degraded = true
		resp.Warn("answer mentions names missing from context: %s", strings.Join(a.MissingEntities, ", "))
	}
	if resp.Degraded {
		return g.finish(resp, model.StatusDegraded, a.Text)
	}
	return g.finish(resp, model.StatusAnswered, a.Text)
}

func (g *Grapher) finish(resp *model.QueryResponse, status model.QueryStatus, text string) *model.QueryResponse {
	resp.Status = status
	resp.Answer = text
	resp.Stage = model.StageReturned
	return resp
}

// deliver copies a possibly shared response for one caller and records the
// turn in the caller's session.
func (g *Grapher) deliver(shared *model.QueryResponse, caller *model.QueryResponse) *model.QueryResponse {
	out := *shared
	out.Question = caller.Question
	out.SessionID = caller.SessionID
	out.Warnings = append([]string(nil), shared.Warnings...)

	switch out.Status {
	case model.StatusAnswered, model.StatusDegraded, model.StatusNoContext, model.StatusGenerationFailed:
		refs := make([]string, 0, len(out.Sources))
		for _, s := range out.Sources {
			refs = append(refs, s.Ref)
		}
		g.Sessions.Append(out.SessionID, model.Turn{
			Question:    out.Question,
			Resolved:    out.ResolvedQuestion,
			Answer:      out.Answer,
			Entities:    out.Entities,
			ContextRefs: refs,
		})
	}
	return &out
}

// lookup returns the cached response for key. Cache failures are logged and
// treated as misses.
func (g *Grapher) lookup(ctx context.Context, key string, opts model.QueryOptions) *model.QueryResponse {
	if g.cache == nil || opts.SkipCache {
		return nil
	}

	var cached model.QueryResponse
	ok, err := cache.GetJSON(ctx, g.cache, key, &cached)
	if err != nil {
		g.log.Warn("Answer cache read failed", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	cached.Cached = true
	return &cached
}

// store caches complete answers. Degraded answers are never cached so a
// recovered provider is used on the next call.
func (g *Grapher) store(ctx context.Context, key string, resp *model.QueryResponse, opts model.QueryOptions) {
	if g.cache == nil || opts.SkipCache || !resp.Status.Cacheable() || resp.Degraded {
		return
	}
	if err := cache.SetJSON(ctx, g.cache, key, resp, g.config.Cache.TTL); err != nil {
		g.log.Warn("Answer cache write failed", slog.String("error", err.Error()))
	}
}

// SemanticSearch returns up to topK entities by similarity to text,
// optionally restricted to one type. When the embedding provider is down the
// entities named in text are returned instead.
func (g *Grapher) SemanticSearch(ctx context.Context, text string, topK int, entityType *model.EntityType) ([]model.ScoredEntity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, helper.NewError("semantic search", model.ErrEmptyQuestion)
	}
	if topK <= 0 {
		topK = g.config.Retrieval.TopKEntities
	}

	vec, err := g.Index.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.log.Warn("Search embedding failed, falling back to name matching", slog.String("error", err.Error()))
		return g.lexicalSearch(ctx, text, topK, entityType)
	}

	found, err := g.Retrieval.Graph.SearchEntities(ctx, vec, topK, entityType, g.config.Retrieval.MinSimilarity)
	if err != nil {
		return nil, &model.RetrievalError{Channel: "graph", Err: err}
	}
	return found, nil
}

func (g *Grapher) lexicalSearch(ctx context.Context, text string, topK int, entityType *model.EntityType) ([]model.ScoredEntity, error) {
	mentioned, err := g.Retrieval.Graph.MentionedEntities(ctx, text)
	if err != nil {
		return nil, &model.RetrievalError{Channel: "graph", Err: err}
	}
	found := make([]model.ScoredEntity, 0, len(mentioned))
	for _, m := range mentioned {
		if entityType != nil && m.Entity.Type != *entityType {
			continue
		}
		found = append(found, m)
		if len(found) == topK {
			break
		}
	}
	return found, nil
}

// CompareEntities profiles a and b from their facts and mentioning chunks,
// finds direct relationships and shared neighbors, and asks the LLM for a
// grounded comparison. Unknown names are reported in MissingNames with
// status no_context.
func (g *Grapher) CompareEntities(ctx context.Context, a string, b string) (*model.Comparison, error) {
	result := &model.Comparison{Sources: []model.Source{}}

	entityA, errA := g.Retrieval.Graph.FindByName(ctx, a)
	entityB, errB := g.Retrieval.Graph.FindByName(ctx, b)
	for _, lookup := range []struct {
		name string
		err  error
	}{{a, errA}, {b, errB}} {
		switch {
		case lookup.err == nil:
		case errors.Is(lookup.err, model.ErrNotFound):
			result.MissingNames = append(result.MissingNames, lookup.name)
		default:
			return nil, &model.RetrievalError{Channel: "graph", Err: lookup.err}
		}
	}
	if len(result.MissingNames) > 0 {
		result.Status = model.StatusNoContext
		result.Answer = fmt.Sprintf("No entity named %s was found in the knowledge graph.", strings.Join(result.MissingNames, " or "))
		return result, nil
	}
	result.A, result.B = entityA, entityB

	var err error
	result.FactsA, err = g.profile(ctx, entityA)
	if err != nil {
		return nil, err
	}
	result.FactsB, err = g.profile(ctx, entityB)
	if err != nil {
		return nil, err
	}
	result.Direct, result.SharedIDs = relate(entityA, entityB, result.FactsA, result.FactsB)

	chunks, err := g.Retrieval.Vector.ChunksMentioning(ctx, []string{entityA.Name, entityB.Name}, g.config.Retrieval.TopKChunks)
	if err != nil {
		result.Degraded = true
		result.Warnings = append(result.Warnings, (&model.RetrievalError{Channel: "vector", Err: err}).Error())
	}

	profiles := fusion.GraphItems(&model.GraphResult{Entities: []model.ScoredEntity{{Entity: entityA, Similarity: 1}, {Entity: entityB, Similarity: 1}}})
	items := g.Fusion.FuseLists(0, profiles, factItems(&model.GraphResult{Facts: result.Direct}), factItems(&model.GraphResult{Facts: result.FactsA}), factItems(&model.GraphResult{Facts: result.FactsB}), chunkItems(chunks))
	question := fmt.Sprintf("Compare %s and %s. Describe what they have in common and how they differ.", entityA.Name, entityB.Name)

	ans, err := g.Generator.Generate(ctx, question, items, nil)
	var genErr *model.GenerationError
	switch {
	case errors.As(err, &genErr):
		result.Status = model.StatusGenerationFailed
		result.Degraded = true
		result.Warnings = append(result.Warnings, err.Error())
	case err != nil:
		return nil, err
	case len(items) == 0:
		result.Status = model.StatusNoContext
	case ans.Degraded || result.Degraded:
		result.Status = model.StatusDegraded
		result.Degraded = true
	default:
		result.Status = model.StatusAnswered
	}
	result.Answer = ans.Text
	result.Sources = ans.Sources
	return result, nil
}

// profile returns the strongest one hop facts of an entity.
func (g *Grapher) profile(ctx context.Context, e *model.Entity) ([]model.Fact, error) {
	facts, err := g.Retrieval.Graph.FactsFor(ctx, []model.ScoredEntity{{Entity: e, Similarity: 1}}, 1)
	if err != nil {
		return nil, &model.RetrievalError{Channel: "graph", Err: err}
	}
	if len(facts) > compareFactsPerEntity {
		facts = facts[:compareFactsPerEntity]
	}
	return facts, nil
}

// relate splits two profiles into the facts connecting a and b directly and
// the ids of neighbors both share.
func relate(a, b *model.Entity, factsA, factsB []model.Fact) ([]model.Fact, []string) {
	direct := []model.Fact{}
	neighborsA := map[uuid.UUID]bool{}
	for _, f := range factsA {
		other := otherEnd(f, a.ID)
		if other == b.ID {
			direct = append(direct, f)
			continue
		}
		neighborsA[other] = true
	}

	shared := []string{}
	seen := map[uuid.UUID]bool{}
	for _, f := range factsB {
		other := otherEnd(f, b.ID)
		if other == a.ID || !neighborsA[other] || seen[other] {
			continue
		}
		seen[other] = true
		shared = append(shared, other.String())
	}
	sort.Strings(shared)
	return direct, shared
}

func otherEnd(f model.Fact, id uuid.UUID) uuid.UUID {
	if f.SourceID == id {
		return f.TargetID
	}
	return f.SourceID
}

// MultiHopReasoning connects the entities named in question through
// relationship paths of at most maxHops and answers from those paths and the
// chunks mentioning the anchors. When fewer than two entities are named, the
// closest entities by embedding fill the anchors.
func (g *Grapher) MultiHopReasoning(ctx context.Context, question string, maxHops int) (*model.MultiHopResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, helper.NewError("multi hop reasoning", model.ErrEmptyQuestion)
	}
	if maxHops <= 0 {
		maxHops = retrieval.PlanFor(model.IntentMultiHop, g.config.Retrieval, model.QueryOptions{}).Hops
	}

	result := &model.MultiHopResult{Question: question, Sources: []model.Source{}, Paths: []model.Path{}, Facts: []model.Fact{}}

	anchors, err := g.Retrieval.Graph.MentionedEntities(ctx, question)
	if err != nil {
		return nil, &model.RetrievalError{Channel: "graph", Err: err}
	}
	if len(anchors) < 2 {
		anchors, err = g.fillAnchors(ctx, question, anchors)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.Degraded = true
			result.Warnings = append(result.Warnings, err.Error())
		}
	}
	for _, a := range anchors {
		result.Anchors = append(result.Anchors, a.Entity)
	}

	paths, err := g.pathsBetween(ctx, anchors, maxHops)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.Degraded = true
		result.Warnings = append(result.Warnings, err.Error())
	}
	result.Paths = append(result.Paths, paths...)

	seen := map[string]bool{}
	for _, p := range paths {
		for _, f := range p.Facts {
			if !seen[f.Key()] {
				seen[f.Key()] = true
				result.Facts = append(result.Facts, f)
			}
		}
	}

	names := make([]string, 0, len(anchors))
	for _, a := range anchors {
		names = append(names, a.Entity.Name)
	}
	chunks, err := g.Retrieval.Vector.ChunksMentioning(ctx, names, g.config.Retrieval.TopKChunks)
	if err != nil {
		result.Degraded = true
		result.Warnings = append(result.Warnings, (&model.RetrievalError{Channel: "vector", Err: err}).Error())
	}

	items := g.Fusion.FuseLists(0, pathItems(paths), factItems(&model.GraphResult{Facts: result.Facts}), chunkItems(chunks))
	ans, err := g.Generator.Generate(ctx, question, items, nil)
	var genErr *model.GenerationError
	switch {
	case errors.As(err, &genErr):
		result.Status = model.StatusGenerationFailed
		result.Degraded = true
		result.Warnings = append(result.Warnings, err.Error())
	case err != nil:
		return nil, err
	case len(items) == 0:
		result.Status = model.StatusNoContext
	case ans.Degraded || result.Degraded:
		result.Status = model.StatusDegraded
		result.Degraded = true
	default:
		result.Status = model.StatusAnswered
	}
	result.Answer = ans.Text
	result.Sources = ans.Sources
	return result, nil
}

// fillAnchors tops up anchors with the entities closest to question.
func (g *Grapher) fillAnchors(ctx context.Context, question string, anchors []model.ScoredEntity) ([]model.ScoredEntity, error) {
	vec, err := g.Index.Embed(ctx, question)
	if err != nil {
		return anchors, err
	}
	closest, err := g.Retrieval.Graph.SearchEntities(ctx, vec, 2, nil, g.config.Retrieval.MinSimilarity)
	if err != nil {
		return anchors, err
	}

	have := map[uuid.UUID]bool{}
	for _, a := range anchors {
		have[a.Entity.ID] = true
	}
	for _, c := range closest {
		if len(anchors) >= 2 {
			break
		}
		if !have[c.Entity.ID] {
			have[c.Entity.ID] = true
			anchors = append(anchors, c)
		}
	}
	return anchors, nil
}

// pathsBetween collects the paths between every pair of anchors, shortest
// and strongest first, capped at the configured maximum.
func (g *Grapher) pathsBetween(ctx context.Context, anchors []model.ScoredEntity, maxHops int) ([]model.Path, error) {
	limit := g.config.Retrieval.MaxPaths
	var paths []model.Path
	for i := 0; i < len(anchors); i++ {
		for j := i + 1; j < len(anchors); j++ {
			found, err := graph.FindPaths(ctx, g.Store, anchors[i].Entity.ID, anchors[j].Entity.ID, maxHops, limit)
			if err != nil {
				return paths, helper.NewError("find paths", err)
			}
			paths = append(paths, found...)
		}
	}
	graph.SortPaths(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

func pathItems(paths []model.Path) []model.ContextItem {
	items := make([]model.ContextItem, 0, len(paths))
	for _, p := range paths {
		items = append(items, model.PathItem(p))
	}
	return items
}

func factItems(result *model.GraphResult) []model.ContextItem {
	if result == nil {
		return nil
	}
	items := make([]model.ContextItem, 0, len(result.Facts))
	for _, f := range result.Facts {
		items = append(items, model.FactItem(f))
	}
	return items
}

func chunkItems(chunks []model.ScoredChunk) []model.ContextItem {
	items := make([]model.ContextItem, 0, len(chunks))
	for _, c := range chunks {
		if c.Chunk != nil {
			items = append(items, model.ChunkItem(c))
		}
	}
	return items
}

// entityNames lists the entities a response is about: names mentioned in the
// question first, then the retrieval seeds.
func entityNames(mentioned []model.ScoredEntity, result *model.GraphResult) []string {
	names := []string{}
	seen := map[string]bool{}
	add := func(e *model.Entity) {
		if e != nil && !seen[e.NormalizedName] {
			seen[e.NormalizedName] = true
			names = append(names, e.Name)
		}
	}
	for _, m := range mentioned {
		add(m.Entity)
	}
	if result != nil {
		for _, s := range result.Entities {
			add(s.Entity)
		}
	}
	return names
}
