// Package ingest is the boundary between the upstream extraction step and
// the graph. It validates payloads, applies the name policy, derives ids and
// strengths and writes entities, relationships and chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/core/maintenance"
	"github.com/siherrmann/newsgraph/core/scorer"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// Ingester writes upstream batches into a graph store. Malformed items are
// skipped and reported, store failures abort the batch.
type Ingester struct {
	store   graph.Store
	scorer  *scorer.Scorer
	policy  *model.NamePolicy
	chunker ChunkFunc
	guard   maintenance.Guard
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes an Ingester.
type Option func(*Ingester)

// WithChunker replaces the chunker used for documents delivered as plain text.
func WithChunker(chunker ChunkFunc) Option {
	return func(i *Ingester) { i.chunker = chunker }
}

// WithGuard shares the guard of the maintenance jobs. A batch waits for a
// running merge or rescoring to finish and holds the guard while it writes.
func WithGuard(guard maintenance.Guard) Option {
	return func(i *Ingester) { i.guard = guard }
}

// WithClock replaces time.Now, used when a relationship has no mention time.
func WithClock(now func() time.Time) Option {
	return func(i *Ingester) { i.now = now }
}

// NewIngester creates an ingester. The default chunker groups three
// sentences per chunk.
func NewIngester(store graph.Store, s *scorer.Scorer, policy *model.NamePolicy, logger *slog.Logger, opts ...Option) *Ingester {
	i := &Ingester{
		store:   store,
		scorer:  s,
		policy:  policy,
		chunker: SentenceChunker(model.DefaultEngineConfig().Ingest.SentencesPerChunk),
		guard:   maintenance.NewLocalGuard(),
		logger:  helper.OrDiscard(logger).With(slog.String("component", "ingest")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// batchState resolves references between the items of one batch.
type batchState struct {
	stats     model.IngestStats
	aliases   map[string]uuid.UUID
	names     map[string][]uuid.UUID
	published map[string]time.Time
}

// Ingest writes batch while holding the guard. Entities go first so
// relationships can reference them by upstream id, entity id or name.
func (i *Ingester) Ingest(ctx context.Context, batch *model.Batch) (model.IngestStats, error) {
	state := &batchState{
		aliases:   map[string]uuid.UUID{},
		names:     map[string][]uuid.UUID{},
		published: map[string]time.Time{},
	}
	if batch == nil {
		return state.stats, nil
	}

	err := maintenance.Wait(ctx, i.guard, func(ctx context.Context) error {
		return i.write(ctx, state, batch)
	})
	if err != nil {
		return state.stats, err
	}

	i.logger.Info("Ingested batch",
		slog.Int("entities_created", state.stats.EntitiesCreated),
		slog.Int("entities_updated", state.stats.EntitiesUpdated),
		slog.Int("relationships_created", state.stats.RelationshipsCreated),
		slog.Int("relationships_merged", state.stats.RelationshipsMerged),
		slog.Int("chunks_inserted", state.stats.ChunksInserted),
		slog.Int("skipped", len(state.stats.Skipped)),
	)
	return state.stats, nil
}

func (i *Ingester) write(ctx context.Context, state *batchState, batch *model.Batch) error {
	for n, in := range batch.Entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := i.ingestEntity(ctx, state, in); err != nil {
			if !i.skip(state, fmt.Sprintf("entity %d", n), err) {
				return err
			}
		}
	}

	for n, doc := range batch.Documents {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := i.ingestDocument(ctx, state, doc); err != nil {
			if !i.skip(state, fmt.Sprintf("document %d", n), err) {
				return err
			}
		}
	}

	for n, in := range batch.Relationships {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := i.ingestRelationship(ctx, state, in); err != nil {
			if !i.skip(state, fmt.Sprintf("relationship %d", n), err) {
				return err
			}
		}
	}
	return nil
}

// skip records validation failures and reports whether err was one.
func (i *Ingester) skip(state *batchState, item string, err error) bool {
	var validationErr *model.ValidationError
	if !errors.As(err, &validationErr) {
		return false
	}
	if validationErr.Item == "" {
		validationErr.Item = item
	}
	state.stats.Skipped = append(state.stats.Skipped, model.SkippedItem{Item: validationErr.Item, Reason: validationErr.Reason})
	i.logger.Warn("Skipped ingestion item", slog.String("item", validationErr.Item), slog.String("reason", validationErr.Reason))
	return true
}

func (i *Ingester) ingestEntity(ctx context.Context, state *batchState, in model.EntityInput) error {
	label := fmt.Sprintf("entity %q", in.Name)
	if !i.policy.Allowed(in.Name) {
		return &model.ValidationError{Item: label, Reason: i.policy.Reason(in.Name)}
	}
	entityType, err := model.ParseEntityType(in.Type)
	if err != nil {
		return &model.ValidationError{Item: label, Reason: "unknown entity type", Err: err}
	}

	incoming := model.NewEntity(in.Name, entityType, in.Description)
	incoming.AddSourceDocument(in.SourceDocumentID)
	incoming.MentionCount = max(in.Mentions, 1)
	incoming.Metadata = incoming.Metadata.Merge(in.Metadata)

	existing, err := i.store.GetEntity(ctx, incoming.ID)
	switch {
	case graph.IsNotFound(err):
		if err := i.store.UpsertEntity(ctx, incoming); err != nil {
			return helper.NewError("insert entity", err)
		}
		state.stats.EntitiesCreated++
	case err != nil:
		return helper.NewError("get entity", err)
	default:
		existing.MentionCount += incoming.MentionCount
		existing.AddSourceDocument(in.SourceDocumentID)
		if len(incoming.Description) > len(existing.Description) {
			existing.Description = incoming.Description
		}
		existing.Metadata = existing.Metadata.Merge(incoming.Metadata)
		if err := i.store.UpsertEntity(ctx, existing); err != nil {
			return helper.NewError("update entity", err)
		}
		state.stats.EntitiesUpdated++
	}

	if in.ID != "" {
		state.aliases[in.ID] = incoming.ID
	}
	state.aliases[incoming.ID.String()] = incoming.ID
	known := state.names[incoming.NormalizedName]
	for _, id := range known {
		if id == incoming.ID {
			return nil
		}
	}
	state.names[incoming.NormalizedName] = append(known, incoming.ID)
	return nil
}

func (i *Ingester) ingestDocument(ctx context.Context, state *batchState, doc model.DocumentInput) error {
	documentID := strings.TrimSpace(doc.DocumentID)
	if documentID == "" {
		return &model.ValidationError{Reason: "document id is required"}
	}
	label := fmt.Sprintf("document %q", documentID)
	if doc.PublishedAt != nil {
		state.published[documentID] = *doc.PublishedAt
	}

	chunks := doc.Chunks
	if len(chunks) == 0 && strings.TrimSpace(doc.Text) != "" {
		split, err := i.chunker(ctx, doc.Text)
		if err != nil {
			return &model.ValidationError{Item: label, Reason: "text could not be chunked", Err: err}
		}
		chunks = split
	}
	if len(chunks) == 0 {
		return &model.ValidationError{Item: label, Reason: "document has no text"}
	}

	for _, in := range chunks {
		if strings.TrimSpace(in.Text) == "" || in.Position < 0 {
			state.stats.Skipped = append(state.stats.Skipped, model.SkippedItem{
				Item:   fmt.Sprintf("%s chunk %d", label, in.Position),
				Reason: "chunk needs text and a non-negative position",
			})
			continue
		}

		chunk := model.NewChunk(documentID, in.Position, strings.TrimSpace(in.Text))
		if doc.Title != "" {
			chunk.Metadata["title"] = doc.Title
		}
		if doc.PublishedAt != nil {
			chunk.Metadata["published_at"] = doc.PublishedAt.UTC().Format(time.RFC3339)
		}
		inserted, err := i.store.InsertChunk(ctx, chunk)
		if err != nil {
			return helper.NewError("insert chunk", err)
		}
		if inserted {
			state.stats.ChunksInserted++
		} else {
			state.stats.ChunksExisting++
		}
	}
	return nil
}

func (i *Ingester) ingestRelationship(ctx context.Context, state *batchState, in model.RelationshipInput) error {
	label := fmt.Sprintf("relationship %q %s %q", in.Source, in.Type, in.Target)
	relType, err := model.ParseRelationshipType(in.Type)
	if err != nil {
		return &model.ValidationError{Item: label, Reason: "unknown relationship type", Err: err}
	}

	sourceID, err := i.resolve(ctx, state, in.Source, in.SourceType)
	if err != nil {
		return &model.ValidationError{Item: label, Reason: "source: " + err.Error()}
	}
	targetID, err := i.resolve(ctx, state, in.Target, in.TargetType)
	if err != nil {
		return &model.ValidationError{Item: label, Reason: "target: " + err.Error()}
	}
	if sourceID == targetID {
		return &model.ValidationError{Item: label, Reason: "source and target are the same entity"}
	}

	incoming := model.NewRelationship(sourceID, relType, targetID)
	incoming.Description = strings.TrimSpace(in.Description)
	incoming.SupportingMentions = 1
	incoming.DirectQuote = in.DirectQuote
	incoming.MainSubject = in.MainSubject
	incoming.Contradicted = in.Contradicts
	incoming.LastMentionAt = i.mentionTime(state, in)

	existing, err := i.store.GetRelationship(ctx, incoming.ID)
	if err != nil && !graph.IsNotFound(err) {
		return helper.NewError("get relationship", err)
	}
	if err != nil {
		existing = nil
	}

	combined := i.scorer.Combine(existing, incoming, in.Strength)
	if err := i.store.UpsertRelationship(ctx, combined); err != nil {
		return helper.NewError("upsert relationship", err)
	}
	if existing == nil {
		state.stats.RelationshipsCreated++
	} else {
		state.stats.RelationshipsMerged++
	}
	return nil
}

// mentionTime prefers the explicit mention time, then the publication time
// of the source document, then the ingestion time.
func (i *Ingester) mentionTime(state *batchState, in model.RelationshipInput) time.Time {
	if in.MentionedAt != nil && !in.MentionedAt.IsZero() {
		return *in.MentionedAt
	}
	if published, ok := state.published[in.SourceDocumentID]; ok {
		return published
	}
	return i.now()
}

// resolve maps a reference onto an entity id. A reference is an upstream id
// or entity id from this batch, a stored entity id, or a name. Names of
// several entities need typeHint to pick one.
func (i *Ingester) resolve(ctx context.Context, state *batchState, ref string, typeHint string) (uuid.UUID, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return uuid.Nil, fmt.Errorf("empty reference")
	}
	if id, ok := state.aliases[ref]; ok {
		return id, nil
	}
	if id, err := uuid.Parse(ref); err == nil {
		if _, err := i.store.GetEntity(ctx, id); err == nil {
			return id, nil
		}
	}

	normalized := model.NormalizeName(ref)
	if typeHint != "" {
		entityType, err := model.ParseEntityType(typeHint)
		if err != nil {
			return uuid.Nil, err
		}
		id := model.EntityID(normalized, entityType)
		if _, err := i.store.GetEntity(ctx, id); err != nil {
			return uuid.Nil, fmt.Errorf("unknown entity %q", ref)
		}
		return id, nil
	}

	candidates := state.names[normalized]
	if len(candidates) == 0 {
		stored, err := i.store.ListEntities(ctx, graph.EntityFilter{NormalizedName: normalized})
		if err != nil {
			return uuid.Nil, err
		}
		for _, e := range stored {
			candidates = append(candidates, e.ID)
		}
	}
	switch len(candidates) {
	case 0:
		return uuid.Nil, fmt.Errorf("unknown entity %q", ref)
	case 1:
		return candidates[0], nil
	default:
		return uuid.Nil, fmt.Errorf("name %q matches %d entities, a type is required", ref, len(candidates))
	}
}
