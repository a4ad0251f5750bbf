package retrieval

import (
	"context"
	"log/slog"

	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
	"golang.org/x/sync/errgroup"
)

// Engine runs the graph and the vector channel of a query side by side.
type Engine struct {
	Graph  *GraphRetriever
	Vector *VectorRetriever
	logger *slog.Logger
}

// NewEngine creates both retrievers over store.
func NewEngine(store graph.Store, config model.RetrievalConfig, logger *slog.Logger) *Engine {
	logger = helper.OrDiscard(logger)
	return &Engine{
		Graph:  NewGraphRetriever(store, config, logger),
		Vector: NewVectorRetriever(store, config, logger),
		logger: logger.With(slog.String("component", "retrieval")),
	}
}

// Result holds the output of both channels. A failed channel is empty and
// reported in Errors as *model.RetrievalError.
type Result struct {
	Graph  *model.GraphResult
	Chunks []model.ScoredChunk
	Errors []error
}

// Empty reports whether neither channel found anything.
func (r Result) Empty() bool {
	return (r.Graph == nil || (len(r.Graph.Entities) == 0 && len(r.Graph.Facts) == 0)) && len(r.Chunks) == 0
}

// Retrieve queries both channels concurrently. A failing channel does not
// cancel the other one.
func (e *Engine) Retrieve(ctx context.Context, vec []float32, plan Plan) Result {
	var (
		graphResult *model.GraphResult
		chunks      []model.ScoredChunk
		graphErr    error
		vectorErr   error
	)

	var g errgroup.Group
	g.Go(func() error {
		graphResult, graphErr = e.Graph.Retrieve(ctx, vec, plan.TopKEntities, plan.Hops)
		return nil
	})
	g.Go(func() error {
		chunks, vectorErr = e.Vector.Retrieve(ctx, vec, plan.TopKChunks)
		return nil
	})
	_ = g.Wait()

	result := Result{Graph: graphResult, Chunks: chunks}
	if graphErr != nil {
		e.logger.Warn("Graph channel failed", slog.String("error", graphErr.Error()))
		result.Graph = &model.GraphResult{}
		result.Errors = append(result.Errors, &model.RetrievalError{Channel: "graph", Err: graphErr})
	}
	if vectorErr != nil {
		e.logger.Warn("Vector channel failed", slog.String("error", vectorErr.Error()))
		result.Chunks = nil
		result.Errors = append(result.Errors, &model.RetrievalError{Channel: "vector", Err: vectorErr})
	}
	return result
}

// RetrieveText is the degraded path used when no query vector is available:
// entities named in text seed the graph channel and the vector channel is
// skipped.
func (e *Engine) RetrieveText(ctx context.Context, text string, plan Plan) Result {
	seeds, err := e.Graph.MentionedEntities(ctx, text)
	if err == nil && len(seeds) > plan.TopKEntities && plan.TopKEntities > 0 {
		seeds = seeds[:plan.TopKEntities]
	}

	var facts []model.Fact
	if err == nil {
		facts, err = e.Graph.FactsFor(ctx, seeds, max(plan.Hops, 1))
	}
	if err != nil {
		e.logger.Warn("Lexical graph channel failed", slog.String("error", err.Error()))
		return Result{Graph: &model.GraphResult{}, Errors: []error{&model.RetrievalError{Channel: "graph", Err: err}}}
	}
	return Result{Graph: &model.GraphResult{Entities: seeds, Facts: facts}}
}
