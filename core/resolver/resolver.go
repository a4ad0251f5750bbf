// Package resolver finds and merges near-duplicate entities.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/core/maintenance"
	"github.com/siherrmann/newsgraph/core/scorer"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// Resolver deduplicates entities of the same type.
type Resolver struct {
	store    graph.Store
	scorer   *scorer.Scorer
	guard    maintenance.Guard
	policy   *model.NamePolicy
	config   model.ResolverConfig
	suffixes map[string]bool
	logger   *slog.Logger
}

// NewResolver creates a resolver. Colliding edges are combined with the
// scorer's combination rule; guard serializes merges with other maintenance.
func NewResolver(store graph.Store, s *scorer.Scorer, guard maintenance.Guard, policy *model.NamePolicy, config model.ResolverConfig, logger *slog.Logger) *Resolver {
	if guard == nil {
		guard = maintenance.NewLocalGuard()
	}
	suffixes := make(map[string]bool, len(config.LegalSuffixes))
	for _, suffix := range config.LegalSuffixes {
		suffixes[model.NormalizeName(suffix)] = true
	}
	return &Resolver{
		store:    store,
		scorer:   s,
		guard:    guard,
		policy:   policy,
		config:   config,
		suffixes: suffixes,
		logger:   helper.OrDiscard(logger).With(slog.String("component", "resolver")),
	}
}

// FindDuplicates returns every pair of same-typed entities sharing a blocking
// key whose similarity reaches threshold, most similar first. A threshold of
// zero or less uses the configured one. Names rejected by the name policy are
// never paired.
func (r *Resolver) FindDuplicates(ctx context.Context, threshold float64) ([]model.DuplicatePair, error) {
	entities, err := r.store.ListEntities(ctx, graph.EntityFilter{})
	if err != nil {
		return nil, helper.NewError("list entities", err)
	}
	return r.findDuplicates(entities, r.threshold(threshold)), nil
}

func (r *Resolver) threshold(t float64) float64 {
	if t <= 0 {
		return r.config.Threshold
	}
	return t
}

func (r *Resolver) findDuplicates(entities []*model.Entity, threshold float64) []model.DuplicatePair {
	type candidate struct {
		entity    *model.Entity
		canonical string
	}

	blocks := map[string][]candidate{}
	for _, e := range entities {
		if !r.policy.Allowed(e.Name) {
			continue
		}
		canonical := r.CanonicalName(e.Name)
		if canonical == "" {
			continue
		}
		key := string(e.Type) + "|" + BlockingKey(canonical)
		blocks[key] = append(blocks[key], candidate{entity: e, canonical: canonical})
	}

	pairs := []model.DuplicatePair{}
	for _, block := range blocks {
		for i := 0; i < len(block); i++ {
			for j := i + 1; j < len(block); j++ {
				sim := Similarity(block[i].canonical, block[j].canonical)
				if sim < threshold {
					continue
				}
				a, b := block[i].entity, block[j].entity
				if a.ID.String() > b.ID.String() {
					a, b = b, a
				}
				pairs = append(pairs, model.DuplicatePair{A: a, B: b, Similarity: sim})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Similarity != pairs[j].Similarity {
			return pairs[i].Similarity > pairs[j].Similarity
		}
		if pairs[i].A.ID != pairs[j].A.ID {
			return pairs[i].A.ID.String() < pairs[j].A.ID.String()
		}
		return pairs[i].B.ID.String() < pairs[j].B.ID.String()
	})
	return pairs
}

// Survivor picks the entity that keeps its identity: the higher mention
// count, then the longer description, then the smaller id.
func Survivor(a, b *model.Entity) (survivor *model.Entity, removed *model.Entity) {
	switch {
	case a.MentionCount != b.MentionCount:
		if a.MentionCount > b.MentionCount {
			return a, b
		}
		return b, a
	case len(a.Description) != len(b.Description):
		if len(a.Description) > len(b.Description) {
			return a, b
		}
		return b, a
	case a.ID.String() <= b.ID.String():
		return a, b
	default:
		return b, a
	}
}

// Merge folds the lesser of a and b into the other and returns the survivor.
// Merging an entity that was already merged away is a no-op returning the
// remaining entity.
func (r *Resolver) Merge(ctx context.Context, a uuid.UUID, b uuid.UUID) (*model.Entity, error) {
	if a == b {
		return nil, helper.NewError("merge", fmt.Errorf("cannot merge entity %s with itself", a))
	}

	var merged *model.Entity
	err := maintenance.Run(ctx, r.guard, func(ctx context.Context) error {
		ea, errA := r.store.GetEntity(ctx, a)
		eb, errB := r.store.GetEntity(ctx, b)
		switch {
		case errA != nil && errB != nil:
			return helper.NewError("merge", errA)
		case errA != nil:
			if !graph.IsNotFound(errA) {
				return errA
			}
			merged = eb
			return nil
		case errB != nil:
			if !graph.IsNotFound(errB) {
				return errB
			}
			merged = ea
			return nil
		}

		survivor, removed := Survivor(ea, eb)
		out, _, err := r.merge(ctx, r.store, survivor, removed)
		merged = out
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

type mergeCounts struct {
	repointed int
	collapsed int
}

// merge applies one merge to store as a single atomic plan.
func (r *Resolver) merge(ctx context.Context, store graph.Store, survivor *model.Entity, removed *model.Entity) (*model.Entity, mergeCounts, error) {
	counts := mergeCounts{}

	out := survivor.Clone()
	out.MentionCount = survivor.MentionCount + removed.MentionCount
	for _, id := range removed.SourceDocumentIDs {
		out.AddSourceDocument(id)
	}
	if len(removed.Description) > len(out.Description) {
		out.Description = removed.Description
	}
	out.Metadata = out.Metadata.Merge(removed.Metadata)

	survivorRels, err := store.RelationshipsOf(ctx, survivor.ID)
	if err != nil {
		return nil, counts, helper.NewError("relationships of survivor", err)
	}
	removedRels, err := store.RelationshipsOf(ctx, removed.ID)
	if err != nil {
		return nil, counts, helper.NewError("relationships of removed", err)
	}

	existing := make(map[uuid.UUID]*model.Relationship, len(survivorRels))
	for _, rel := range survivorRels {
		existing[rel.ID] = rel
	}

	plan := graph.MergePlan{Survivor: out, RemovedID: removed.ID}
	upserts := map[uuid.UUID]*model.Relationship{}
	order := []uuid.UUID{}
	for _, rel := range removedRels {
		plan.DeleteRelationshipIDs = append(plan.DeleteRelationshipIDs, rel.ID)

		moved := rel.Clone()
		if moved.SourceID == removed.ID {
			moved.SourceID = survivor.ID
		}
		if moved.TargetID == removed.ID {
			moved.TargetID = survivor.ID
		}
		if moved.SourceID == moved.TargetID {
			counts.collapsed++
			continue
		}
		moved.ID = model.RelationshipID(moved.SourceID, moved.Type, moved.TargetID)

		target, planned := upserts[moved.ID]
		if !planned {
			target = existing[moved.ID]
		}
		if target != nil {
			counts.collapsed++
			moved = r.scorer.Combine(target, moved, nil)
		} else {
			counts.repointed++
		}
		if !planned {
			order = append(order, moved.ID)
		}
		upserts[moved.ID] = moved
	}
	for _, id := range order {
		plan.UpsertRelationships = append(plan.UpsertRelationships, upserts[id])
	}

	if err := store.MergeEntities(ctx, plan); err != nil {
		return nil, counts, helper.NewError("merge "+removed.Name+" into "+survivor.Name, err)
	}
	return out, counts, nil
}

// MergeAll merges every group of duplicates found at threshold under the
// maintenance guard. Pairs are grouped transitively; each group collapses
// into its survivor. A dry run performs the same merges on a snapshot and
// reports identical stats without touching the store.
func (r *Resolver) MergeAll(ctx context.Context, threshold float64, dryRun bool) (model.ResolutionStats, error) {
	stats := model.ResolutionStats{DryRun: dryRun}

	err := maintenance.Run(ctx, r.guard, func(ctx context.Context) error {
		entities, err := r.store.ListEntities(ctx, graph.EntityFilter{})
		if err != nil {
			return helper.NewError("list entities", err)
		}
		stats.EntitiesScanned = len(entities)

		pairs := r.findDuplicates(entities, r.threshold(threshold))
		stats.Candidates = len(pairs)
		stats.Pairs = pairs
		if len(pairs) == 0 {
			return nil
		}

		target := r.store
		if dryRun {
			target, err = snapshot(ctx, r.store, entities)
			if err != nil {
				return err
			}
		}

		groups := groupPairs(pairs)
		stats.Groups = len(groups)
		for _, group := range groups {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.mergeGroup(ctx, target, group, &stats); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	r.logger.Info("Resolved entities",
		slog.Bool("dry_run", dryRun),
		slog.Int("scanned", stats.EntitiesScanned),
		slog.Int("candidates", stats.Candidates),
		slog.Int("merged", stats.EntitiesMerged),
		slog.Int("repointed", stats.RelationshipsRepointed),
		slog.Int("collapsed", stats.RelationshipsCollapsed),
	)
	return stats, nil
}

func (r *Resolver) mergeGroup(ctx context.Context, store graph.Store, group []*model.Entity, stats *model.ResolutionStats) error {
	survivor := group[0]
	for _, e := range group[1:] {
		survivor, _ = Survivor(survivor, e)
	}

	for _, e := range group {
		if e.ID == survivor.ID {
			continue
		}
		current, err := store.GetEntity(ctx, survivor.ID)
		if err != nil {
			return helper.NewError("reload survivor", err)
		}
		removed, err := store.GetEntity(ctx, e.ID)
		if err != nil {
			return helper.NewError("reload duplicate", err)
		}

		_, counts, err := r.merge(ctx, store, current, removed)
		if err != nil {
			return err
		}
		stats.EntitiesMerged++
		stats.RelationshipsRepointed += counts.repointed
		stats.RelationshipsCollapsed += counts.collapsed
	}
	return nil
}

// groupPairs joins pairs into connected groups with union-find. Groups and
// their members are ordered by id.
func groupPairs(pairs []model.DuplicatePair) [][]*model.Entity {
	parent := map[uuid.UUID]uuid.UUID{}
	entities := map[uuid.UUID]*model.Entity{}

	var find func(id uuid.UUID) uuid.UUID
	find = func(id uuid.UUID) uuid.UUID {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	add := func(e *model.Entity) {
		if _, ok := parent[e.ID]; !ok {
			parent[e.ID] = e.ID
			entities[e.ID] = e
		}
	}

	for _, p := range pairs {
		add(p.A)
		add(p.B)
		ra, rb := find(p.A.ID), find(p.B.ID)
		if ra == rb {
			continue
		}
		if ra.String() < rb.String() {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	byRoot := map[uuid.UUID][]*model.Entity{}
	for id, e := range entities {
		root := find(id)
		byRoot[root] = append(byRoot[root], e)
	}

	groups := make([][]*model.Entity, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Slice(members, func(i, j int) bool { return members[i].ID.String() < members[j].ID.String() })
		groups = append(groups, members)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0].ID.String() < groups[j][0].ID.String() })
	return groups
}

// snapshot copies entities and relationships into a memory store for dry runs.
func snapshot(ctx context.Context, store graph.Store, entities []*model.Entity) (graph.Store, error) {
	copied := graph.NewMemoryStore()
	for _, e := range entities {
		if err := copied.UpsertEntity(ctx, e.Clone()); err != nil {
			return nil, helper.NewError("snapshot entity", err)
		}
	}

	rels, err := store.ListRelationships(ctx)
	if err != nil {
		return nil, helper.NewError("list relationships", err)
	}
	for _, rel := range rels {
		if err := copied.UpsertRelationship(ctx, rel.Clone()); err != nil {
			return nil, helper.NewError("snapshot relationship", err)
		}
	}
	return copied, nil
}
