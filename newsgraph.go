package newsgraph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/siherrmann/newsgraph/core/answer"
	"github.com/siherrmann/newsgraph/core/cache"
	"github.com/siherrmann/newsgraph/core/embedding"
	"github.com/siherrmann/newsgraph/core/fusion"
	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/core/index"
	"github.com/siherrmann/newsgraph/core/ingest"
	"github.com/siherrmann/newsgraph/core/llm"
	"github.com/siherrmann/newsgraph/core/maintenance"
	"github.com/siherrmann/newsgraph/core/resolver"
	"github.com/siherrmann/newsgraph/core/retrieval"
	"github.com/siherrmann/newsgraph/core/scorer"
	"github.com/siherrmann/newsgraph/core/session"
	"github.com/siherrmann/newsgraph/core/understanding"
	"github.com/siherrmann/newsgraph/database"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// Options wires a Grapher. Store, Embedder and LLM are required; every other
// collaborator has an in-process default.
type Options struct {
	Config     model.EngineConfig
	Store      graph.Store
	Embedder   embedding.Provider
	LLM        llm.Provider
	Cache      cache.Cache
	Guard      maintenance.Guard
	Checkpoint index.Checkpoint
	// Chunker splits documents that arrive as plain text. Defaults to the
	// sentence chunker of Config.Ingest.
	Chunker ingest.ChunkFunc
	Logger  *slog.Logger
	// Now overrides the clock of scoring, ingestion and sessions.
	Now func() time.Time
}

// Grapher is the query engine over the news knowledge graph. It composes
// understanding, hybrid retrieval, fusion and answer generation, and runs the
// maintenance jobs that keep the graph consistent.
type Grapher struct {
	Store         graph.Store
	Index         *index.Index
	Retrieval     *retrieval.Engine
	Fusion        *fusion.Engine
	Understanding *understanding.Understander
	Generator     *answer.Generator
	Resolver      *resolver.Resolver
	Scorer        *scorer.Scorer
	Ingester      *ingest.Ingester
	Sessions      *session.Store

	config  model.EngineConfig
	cache   cache.Cache
	flights cache.Group[*model.QueryResponse]
	// epoch counts graph mutations; answers computed across one are not cached.
	epoch      atomic.Uint64
	checkpoint index.Checkpoint
	closers    []func() error
	// Logging
	log *slog.Logger
}

// New creates a Grapher from explicit collaborators.
func New(opts Options) (*Grapher, error) {
	if opts.Store == nil {
		return nil, helper.NewError("new grapher", fmt.Errorf("store is required"))
	}
	if opts.Embedder == nil {
		return nil, helper.NewError("new grapher", fmt.Errorf("embedding provider is required"))
	}
	if opts.LLM == nil {
		return nil, helper.NewError("new grapher", fmt.Errorf("llm provider is required"))
	}
	err := opts.Config.Validate()
	if err != nil {
		return nil, err
	}

	config := opts.Config
	logger := helper.OrDiscard(opts.Logger)

	guard := opts.Guard
	if guard == nil {
		guard = maintenance.NewLocalGuard()
	}
	checkpoint := opts.Checkpoint
	if checkpoint == nil {
		checkpoint = index.NewMemoryCheckpoint()
	}
	answerCache := opts.Cache
	if answerCache == nil && config.Cache.Enabled {
		answerCache = cache.NewMemoryCache(config.Cache.TTL)
	}

	var scorerOpts []scorer.Option
	var ingestOpts []ingest.Option
	var sessionOpts []session.Option
	if opts.Now != nil {
		scorerOpts = append(scorerOpts, scorer.WithClock(opts.Now))
		ingestOpts = append(ingestOpts, ingest.WithClock(opts.Now))
		sessionOpts = append(sessionOpts, session.WithClock(opts.Now))
	}
	chunker := opts.Chunker
	if chunker == nil {
		chunker = ingest.SentenceChunker(config.Ingest.SentencesPerChunk)
	}
	ingestOpts = append(ingestOpts, ingest.WithChunker(chunker), ingest.WithGuard(guard))

	policy := model.NewNamePolicy(config.Policy)
	completer := llm.WithRetry(opts.LLM, config.Retry.RetryPolicy(config.Timeouts.LLM))
	relationshipScorer := scorer.NewScorer(opts.Store, guard, config.Scoring, logger, scorerOpts...)

	g := &Grapher{
		Store:         opts.Store,
		Index:         index.NewIndex(opts.Embedder, opts.Store, checkpoint, config.Retry.RetryPolicy(config.Timeouts.Embedding), logger),
		Retrieval:     retrieval.NewEngine(opts.Store, config.Retrieval, logger),
		Fusion:        fusion.NewEngine(config.Fusion, fusion.NewCounter(config.Fusion.Tokenizer, logger), logger),
		Understanding: understanding.NewUnderstander(completer, config.Understanding, logger),
		Generator:     answer.NewGenerator(completer, config.Generation, logger),
		Resolver:      resolver.NewResolver(opts.Store, relationshipScorer, guard, policy, config.Resolver, logger),
		Scorer:        relationshipScorer,
		Ingester:      ingest.NewIngester(opts.Store, relationshipScorer, policy, logger, ingestOpts...),
		Sessions:      session.NewStore(config.Session, logger, sessionOpts...),
		config:        config,
		cache:         answerCache,
		checkpoint:    checkpoint,
		log:           logger.With(slog.String("component", "grapher")),
	}
	if c, ok := opts.Embedder.(io.Closer); ok {
		g.closers = append(g.closers, c.Close)
	}
	return g, nil
}

// Open builds a Grapher from the environment: providers from NEWSGRAPH_*,
// Neo4j when NEWSGRAPH_NEO4J_URI is set and Postgres from GRAPHER_DB_*
// otherwise, and a Redis answer cache when NEWSGRAPH_REDIS_ADDR is set.
func Open(ctx context.Context, config model.EngineConfig, logger *slog.Logger) (*Grapher, error) {
	if logger == nil {
		logger = helper.NewLogger(slog.LevelInfo)
	}

	providerConfig, err := helper.NewProviderConfiguration()
	if err != nil {
		return nil, err
	}

	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	opts := Options{Config: config, Logger: logger}

	if providerConfig.Neo4jURI != "" {
		store, err := database.NewNeo4jGraph(ctx, database.Neo4jConfig{
			URI:                providerConfig.Neo4jURI,
			Username:           providerConfig.Neo4jUsername,
			Password:           providerConfig.Neo4jPassword,
			Database:           providerConfig.Neo4jDatabase,
			EmbeddingDimension: providerConfig.EmbeddingDimension,
		}, logger)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() error { return store.Close(context.Background()) })
		opts.Store = store
	} else {
		dbConfig, err := helper.NewDatabaseConfiguration()
		if err != nil {
			return nil, err
		}
		dbConfig.EmbeddingDimension = providerConfig.EmbeddingDimension
		db, err := helper.NewDatabase("newsgraph", dbConfig, logger)
		if err != nil {
			return nil, err
		}
		store, err := database.NewStore(db, false)
		if err != nil {
			_ = db.Instance.Close()
			return nil, err
		}
		closers = append(closers, store.Close)
		opts.Store = store
		opts.Checkpoint = store.Checkpoints
		opts.Guard = database.NewAdvisoryGuard(db, database.MaintenanceLockKey)
	}

	if providerConfig.RedisAddr != "" && config.Cache.Enabled {
		client, err := cache.NewRedisClient(ctx, providerConfig.RedisAddr, os.Getenv("NEWSGRAPH_REDIS_PASSWORD"), 0)
		if err != nil {
			logger.Warn("Redis unavailable, using in-memory answer cache", slog.String("error", err.Error()))
		} else {
			redisCache := cache.NewRedisCache(client, config.Cache, logger)
			closers = append(closers, redisCache.Close)
			opts.Cache = redisCache
		}
	}

	opts.Embedder, err = embedding.NewProvider(ctx, providerConfig)
	if err != nil {
		closeAll()
		return nil, err
	}
	opts.LLM, err = llm.NewProvider(ctx, providerConfig)
	if err != nil {
		closeAll()
		return nil, err
	}

	g, err := New(opts)
	if err != nil {
		closeAll()
		return nil, err
	}
	g.closers = append(closers, g.closers...)

	logger.Info("Opened newsgraph",
		slog.String("embedder", opts.Embedder.Name()),
		slog.Int("dimension", opts.Embedder.Dimension()),
	)
	return g, nil
}

// Close releases the store, the cache and the embedding model.
func (g *Grapher) Close() error {
	var first error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	g.closers = nil
	return first
}

// Config returns the engine configuration.
func (g *Grapher) Config() model.EngineConfig {
	return g.config
}

// Ingest validates and stores one upstream batch. Invalid items are skipped
// and reported in the stats. Cached answers are dropped afterwards.
func (g *Grapher) Ingest(ctx context.Context, batch *model.Batch) (model.IngestStats, error) {
	stats, err := g.Ingester.Ingest(ctx, batch)
	g.invalidate(ctx)
	if err != nil {
		return stats, err
	}

	g.log.Info("Ingested batch",
		slog.Int("entities_created", stats.EntitiesCreated),
		slog.Int("entities_updated", stats.EntitiesUpdated),
		slog.Int("relationships_created", stats.RelationshipsCreated),
		slog.Int("relationships_merged", stats.RelationshipsMerged),
		slog.Int("chunks_inserted", stats.ChunksInserted),
		slog.Int("skipped", len(stats.Skipped)),
	)
	return stats, nil
}

// BuildIndex embeds every entity and chunk. With resume, items embedded by an
// earlier build are skipped.
func (g *Grapher) BuildIndex(ctx context.Context, resume bool) (model.BuildStats, error) {
	stats, err := g.Index.BuildAll(ctx, resume)
	if stats.Embedded > 0 {
		g.invalidate(ctx)
	}
	return stats, err
}

// ResetIndex forgets the checkpoints of earlier builds.
func (g *Grapher) ResetIndex(ctx context.Context) error {
	r, ok := g.checkpoint.(index.Resetter)
	if !ok {
		return helper.NewError("reset index", fmt.Errorf("checkpoint %T cannot be reset", g.checkpoint))
	}
	return r.Reset(ctx)
}

// FindDuplicates lists merge candidates without changing the graph. A
// threshold of zero uses the configured one.
func (g *Grapher) FindDuplicates(ctx context.Context, threshold float64) ([]model.DuplicatePair, error) {
	return g.Resolver.FindDuplicates(ctx, threshold)
}

// ResolveEntities merges duplicate entities. It fails with
// model.ErrMaintenanceRunning while another maintenance job runs.
func (g *Grapher) ResolveEntities(ctx context.Context, threshold float64, dryRun bool) (model.ResolutionStats, error) {
	stats, err := g.Resolver.MergeAll(ctx, threshold, dryRun)
	if err != nil {
		return stats, err
	}
	if !dryRun && stats.EntitiesMerged > 0 {
		g.invalidate(ctx)
	}
	return stats, nil
}

// RescoreRelationships recomputes every relationship strength. It fails with
// model.ErrMaintenanceRunning while another maintenance job runs.
func (g *Grapher) RescoreRelationships(ctx context.Context) (model.ScoringStats, error) {
	stats, err := g.Scorer.RescanAndUpdateAll(ctx)
	if err != nil {
		return stats, err
	}
	if stats.Updated > 0 {
		g.invalidate(ctx)
	}
	return stats, nil
}

// invalidate drops cached answers after the graph changed. Queries already
// running finish for their callers, but later calls start fresh. Cache
// failures are logged only.
func (g *Grapher) invalidate(ctx context.Context) {
	g.epoch.Add(1)
	g.flights.ForgetAll()
	if g.cache == nil {
		return
	}
	if err := g.cache.Clear(context.WithoutCancel(ctx)); err != nil {
		g.log.Warn("Clearing answer cache failed", slog.String("error", err.Error()))
	}
}
