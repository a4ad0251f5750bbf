package graph

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// Hop is one relationship reached while expanding from a seed entity.
type Hop struct {
	Relationship *model.Relationship
	From         uuid.UUID // endpoint closer to the seed
	To           uuid.UUID // endpoint discovered through this relationship
	Seed         uuid.UUID
	Depth        int
}

// Expand performs a breadth-first search from all seeds at once. Every
// relationship is returned once, at the smallest depth it is reachable from
// any seed, tagged with the seed that reached it first. Seeds are processed in
// the given order so the result is deterministic.
func Expand(ctx context.Context, store Store, seeds []uuid.UUID, maxHops int) ([]Hop, error) {
	if maxHops < 1 {
		return nil, nil
	}

	type node struct {
		id    uuid.UUID
		seed  uuid.UUID
		depth int
	}

	visited := make(map[uuid.UUID]bool)
	seen := make(map[uuid.UUID]bool)
	queue := make([]node, 0, len(seeds))
	for _, s := range seeds {
		if visited[s] {
			continue
		}
		visited[s] = true
		queue = append(queue, node{id: s, seed: s})
	}

	var hops []Hop
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxHops {
			continue
		}

		rels, err := store.RelationshipsOf(ctx, current.id)
		if err != nil {
			return nil, helper.NewError("relationships of", err)
		}

		for _, r := range rels {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true

			next := r.Other(current.id)
			hops = append(hops, Hop{
				Relationship: r,
				From:         current.id,
				To:           next,
				Seed:         current.seed,
				Depth:        current.depth + 1,
			})

			if !visited[next] {
				visited[next] = true
				queue = append(queue, node{id: next, seed: current.seed, depth: current.depth + 1})
			}
		}
	}

	return hops, nil
}

// FindPaths returns up to limit simple paths of at most maxHops relationships
// connecting from and to, ignoring edge direction. Shorter paths come first,
// then paths with the higher average strength. Stores implementing PathFinder
// answer natively.
func FindPaths(ctx context.Context, store Store, from uuid.UUID, to uuid.UUID, maxHops int, limit int) ([]model.Path, error) {
	if maxHops < 1 || from == to {
		return nil, nil
	}
	if pf, ok := store.(PathFinder); ok {
		paths, err := pf.Paths(ctx, from, to, maxHops, limit)
		if err != nil {
			return nil, err
		}
		SortPaths(paths)
		return capPaths(paths, limit), nil
	}

	names := NewEntityCache(store)
	var paths []model.Path
	var chain []*model.Relationship
	onPath := map[uuid.UUID]bool{from: true}

	var dfs func(current uuid.UUID, depth int) error
	dfs = func(current uuid.UUID, depth int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if current == to {
			p, err := buildPath(ctx, names, from, chain)
			if err != nil {
				return err
			}
			paths = append(paths, p)
			return nil
		}
		if depth >= maxHops {
			return nil
		}

		rels, err := store.RelationshipsOf(ctx, current)
		if err != nil {
			return helper.NewError("relationships of", err)
		}
		for _, r := range rels {
			next := r.Other(current)
			if onPath[next] {
				continue
			}
			onPath[next] = true
			chain = append(chain, r)
			err := dfs(next, depth+1)
			chain = chain[:len(chain)-1]
			delete(onPath, next)
			if err != nil {
				return err
			}
		}
		return nil
	}

	if err := dfs(from, 0); err != nil {
		return nil, err
	}

	SortPaths(paths)
	return capPaths(paths, limit), nil
}

// SortPaths orders paths by length, then by average strength descending,
// then by their rendered text.
func SortPaths(paths []model.Path) {
	sort.SliceStable(paths, func(i, j int) bool {
		if paths[i].Length() != paths[j].Length() {
			return paths[i].Length() < paths[j].Length()
		}
		si, sj := averageStrength(paths[i]), averageStrength(paths[j])
		if si != sj {
			return si > sj
		}
		return pathKey(paths[i]) < pathKey(paths[j])
	})
}

func averageStrength(p model.Path) float64 {
	if len(p.Facts) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range p.Facts {
		sum += f.Strength
	}
	return sum / float64(len(p.Facts))
}

func pathKey(p model.Path) string {
	keys := make([]string, 0, len(p.Facts))
	for _, f := range p.Facts {
		keys = append(keys, f.Key())
	}
	return strings.Join(keys, ",")
}

func capPaths(paths []model.Path, limit int) []model.Path {
	if limit > 0 && len(paths) > limit {
		return paths[:limit]
	}
	return paths
}

func buildPath(ctx context.Context, names *EntityCache, from uuid.UUID, chain []*model.Relationship) (model.Path, error) {
	path := model.Path{EntityIDs: []uuid.UUID{from}}
	current := from
	for i, r := range chain {
		fact, err := names.Fact(ctx, r, i+1)
		if err != nil {
			return model.Path{}, err
		}
		current = r.Other(current)
		path.EntityIDs = append(path.EntityIDs, current)
		path.Facts = append(path.Facts, fact)
	}
	return path, nil
}

// EntityCache memoizes entity lookups while rendering facts.
type EntityCache struct {
	store    Store
	entities map[uuid.UUID]*model.Entity
}

// NewEntityCache returns an empty cache reading from store.
func NewEntityCache(store Store) *EntityCache {
	return &EntityCache{store: store, entities: map[uuid.UUID]*model.Entity{}}
}

// Get returns the entity with id, loading it once.
func (c *EntityCache) Get(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	if e, ok := c.entities[id]; ok {
		return e, nil
	}
	e, err := c.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	c.entities[id] = e
	return e, nil
}

// Fact renders r with its endpoint names.
func (c *EntityCache) Fact(ctx context.Context, r *model.Relationship, hops int) (model.Fact, error) {
	source, err := c.Get(ctx, r.SourceID)
	if err != nil {
		return model.Fact{}, helper.NewError("fact source", err)
	}
	target, err := c.Get(ctx, r.TargetID)
	if err != nil {
		return model.Fact{}, helper.NewError("fact target", err)
	}
	return model.NewFact(r, source, target, hops), nil
}

// IsNotFound reports whether err is a missing-record error of any store.
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
