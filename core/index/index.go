// Package index embeds entities and chunks and stores their vectors.
package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/core/embedding"
	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// Index is the embedding index. Vectors live in the graph store next to the
// entities and chunks they belong to.
type Index struct {
	provider   embedding.Provider
	store      graph.Store
	checkpoint Checkpoint
	logger     *slog.Logger
}

// NewIndex creates an index. Every embedding call follows policy; a nil
// checkpoint keeps progress in memory only.
func NewIndex(provider embedding.Provider, store graph.Store, checkpoint Checkpoint, policy helper.RetryPolicy, logger *slog.Logger) *Index {
	if checkpoint == nil {
		checkpoint = NewMemoryCheckpoint()
	}
	return &Index{
		provider:   embedding.WithRetry(provider, policy),
		store:      store,
		checkpoint: checkpoint,
		logger:     helper.OrDiscard(logger).With(slog.String("component", "index")),
	}
}

// Provider returns the retrying provider used by the index.
func (i *Index) Provider() embedding.Provider {
	return i.provider
}

// Embed vectorises text with retries.
func (i *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	return i.provider.Embed(ctx, text)
}

// Build embeds items. With resume, items whose checkpoint exists are skipped.
// An item that still fails after all retries is reported in the stats and the
// build continues. Cancellation stops the build and returns ctx.Err(); the
// items finished so far stay checkpointed.
func (i *Index) Build(ctx context.Context, items []model.Embeddable, resume bool) (model.BuildStats, error) {
	stats := model.BuildStats{Total: len(items)}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		key := item.Key()
		if resume {
			done, err := i.checkpoint.Done(ctx, key)
			if err != nil {
				i.logger.Warn("Checkpoint lookup failed, embedding again", slog.String("item", key), slog.String("error", err.Error()))
			}
			if done {
				stats.Skipped++
				continue
			}
		}

		err := i.embedItem(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			stats.FailedIDs = append(stats.FailedIDs, string(item.Kind)+":"+item.ID)
			i.logger.Warn("Embedding failed, item skipped", slog.String("item", key), slog.String("error", err.Error()))
			continue
		}

		if err := i.checkpoint.Mark(ctx, key); err != nil {
			i.logger.Warn("Checkpoint write failed", slog.String("item", key), slog.String("error", err.Error()))
		}
		stats.Embedded++
	}

	i.logger.Info("Built embedding index",
		slog.Int("total", stats.Total),
		slog.Int("embedded", stats.Embedded),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
	)
	return stats, nil
}

func (i *Index) embedItem(ctx context.Context, item model.Embeddable) error {
	id, err := uuid.Parse(item.ID)
	if err != nil {
		return helper.NewError("parse item id", err)
	}

	vec, err := i.provider.Embed(ctx, item.Text)
	if err != nil {
		return err
	}

	switch item.Kind {
	case model.EmbeddableEntity:
		return i.store.SetEntityEmbedding(ctx, id, vec)
	case model.EmbeddableChunk:
		return i.store.SetChunkEmbedding(ctx, id, vec)
	default:
		return helper.NewError("embed item", fmt.Errorf("unknown kind %q", item.Kind))
	}
}

// BuildAll embeds every entity and chunk of the store.
func (i *Index) BuildAll(ctx context.Context, resume bool) (model.BuildStats, error) {
	entities, err := i.store.ListEntities(ctx, graph.EntityFilter{})
	if err != nil {
		return model.BuildStats{}, helper.NewError("list entities", err)
	}
	chunks, err := i.store.ListChunks(ctx)
	if err != nil {
		return model.BuildStats{}, helper.NewError("list chunks", err)
	}

	items := append(EntityItems(entities), ChunkItems(chunks)...)
	return i.Build(ctx, items, resume)
}

// Get returns the stored vector of an entity or chunk. found is false when the
// item exists but has not been embedded yet.
func (i *Index) Get(ctx context.Context, kind model.EmbeddableKind, id uuid.UUID) (vec []float32, found bool, err error) {
	switch kind {
	case model.EmbeddableEntity:
		e, err := i.store.GetEntity(ctx, id)
		if err != nil {
			return nil, false, err
		}
		vec = e.Embedding
	case model.EmbeddableChunk:
		c, err := i.store.GetChunk(ctx, id)
		if err != nil {
			return nil, false, err
		}
		vec = c.Embedding
	default:
		return nil, false, helper.NewError("get embedding", fmt.Errorf("unknown kind %q", kind))
	}
	return vec, len(vec) > 0, nil
}

// EntityItems converts entities into embeddable items.
func EntityItems(entities []*model.Entity) []model.Embeddable {
	items := make([]model.Embeddable, 0, len(entities))
	for _, e := range entities {
		items = append(items, model.Embeddable{ID: e.ID.String(), Kind: model.EmbeddableEntity, Text: e.Text()})
	}
	return items
}

// ChunkItems converts chunks into embeddable items.
func ChunkItems(chunks []*model.Chunk) []model.Embeddable {
	items := make([]model.Embeddable, 0, len(chunks))
	for _, c := range chunks {
		items = append(items, model.Embeddable{ID: c.ID.String(), Kind: model.EmbeddableChunk, Text: c.Text})
	}
	return items
}
