package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testGraph struct {
	store   *MemoryStore
	acme    *model.Entity
	sequoia *model.Entity
	beta    *model.Entity
	gamma   *model.Entity
	alice   *model.Entity
}

// newTestGraph builds:
//
//	Acme -FUNDED_BY-> Sequoia (8)
//	Acme -ACQUIRED-> Beta (6)
//	Beta -PARTNERS_WITH-> Gamma (4)
//	Alice -WORKS_AT-> Gamma (9)
//	Alice -ADVISES-> Acme (2)
func newTestGraph(t *testing.T) *testGraph {
	t.Helper()
	ctx := context.Background()
	g := &testGraph{
		store:   NewMemoryStore(),
		acme:    model.NewEntity("Acme Corp", model.EntityTypeCompany, "AI startup"),
		sequoia: model.NewEntity("Sequoia Capital", model.EntityTypeInvestor, ""),
		beta:    model.NewEntity("Beta Labs", model.EntityTypeCompany, ""),
		gamma:   model.NewEntity("Gamma AI", model.EntityTypeCompany, ""),
		alice:   model.NewEntity("Alice Smith", model.EntityTypePerson, ""),
	}
	for _, e := range []*model.Entity{g.acme, g.sequoia, g.beta, g.gamma, g.alice} {
		require.NoError(t, g.store.UpsertEntity(ctx, e))
	}

	link := func(src *model.Entity, relType model.RelationshipType, tgt *model.Entity, strength float64) {
		r := model.NewRelationship(src.ID, relType, tgt.ID)
		r.Strength = strength
		require.NoError(t, g.store.UpsertRelationship(ctx, r))
	}
	link(g.acme, model.RelationshipFundedBy, g.sequoia, 8)
	link(g.acme, model.RelationshipAcquired, g.beta, 6)
	link(g.beta, model.RelationshipPartnersWith, g.gamma, 4)
	link(g.alice, model.RelationshipWorksAt, g.gamma, 9)
	link(g.alice, model.RelationshipAdvises, g.acme, 2)
	return g
}

func TestExpand(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	t.Run("Expand one hop returns direct relationships of the seed", func(t *testing.T) {
		hops, err := Expand(ctx, g.store, []uuid.UUID{g.acme.ID}, 1)
		require.NoError(t, err, "Expected Expand to not return an error")
		require.Len(t, hops, 3, "Expected the three relationships touching Acme")

		assert.Equal(t, g.sequoia.ID, hops[0].To, "Expected strongest relationship first")
		for _, h := range hops {
			assert.Equal(t, 1, h.Depth)
			assert.Equal(t, g.acme.ID, h.From)
			assert.Equal(t, g.acme.ID, h.Seed)
		}
	})

	t.Run("Expand two hops follows edges in both directions", func(t *testing.T) {
		hops, err := Expand(ctx, g.store, []uuid.UUID{g.acme.ID}, 2)
		require.NoError(t, err)

		depths := map[model.RelationshipType]int{}
		for _, h := range hops {
			depths[h.Relationship.Type] = h.Depth
		}
		assert.Len(t, hops, 5, "Expected every relationship within two hops exactly once")
		assert.Equal(t, 1, depths[model.RelationshipAdvises], "Expected incoming edge at depth one")
		assert.Equal(t, 2, depths[model.RelationshipPartnersWith])
		assert.Equal(t, 2, depths[model.RelationshipWorksAt])
	})

	t.Run("Expand from several seeds keeps the minimal depth", func(t *testing.T) {
		hops, err := Expand(ctx, g.store, []uuid.UUID{g.acme.ID, g.gamma.ID}, 1)
		require.NoError(t, err)

		for _, h := range hops {
			assert.Equal(t, 1, h.Depth, "Expected all edges to be one hop from some seed")
		}
		assert.Len(t, hops, 5)
	})

	t.Run("Expand with zero hops or no seeds returns nothing", func(t *testing.T) {
		hops, err := Expand(ctx, g.store, []uuid.UUID{g.acme.ID}, 0)
		assert.NoError(t, err)
		assert.Empty(t, hops)

		hops, err = Expand(ctx, g.store, nil, 2)
		assert.NoError(t, err)
		assert.Empty(t, hops)
	})

	t.Run("Expand respects cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Expand(cctx, g.store, []uuid.UUID{g.acme.ID}, 2)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFindPaths(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	t.Run("Find paths orders by length", func(t *testing.T) {
		paths, err := FindPaths(ctx, g.store, g.acme.ID, g.gamma.ID, 3, 5)
		require.NoError(t, err, "Expected FindPaths to not return an error")
		require.Len(t, paths, 2, "Expected the path via Beta and the path via Alice")

		assert.Equal(t, 2, paths[0].Length())
		assert.Equal(t, 2, paths[1].Length())
		assert.Equal(t, []uuid.UUID{g.acme.ID, g.alice.ID, g.gamma.ID}, paths[0].EntityIDs, "Expected stronger path first")
		assert.Equal(t, "Alice Smith", paths[0].Facts[0].SourceName)
	})

	t.Run("Find paths respects the hop bound", func(t *testing.T) {
		paths, err := FindPaths(ctx, g.store, g.sequoia.ID, g.gamma.ID, 2, 5)
		require.NoError(t, err)
		assert.Empty(t, paths, "Expected no path within two hops")

		paths, err = FindPaths(ctx, g.store, g.sequoia.ID, g.gamma.ID, 3, 5)
		require.NoError(t, err)
		assert.Len(t, paths, 2)
	})

	t.Run("Find paths respects the limit", func(t *testing.T) {
		paths, err := FindPaths(ctx, g.store, g.acme.ID, g.gamma.ID, 3, 1)
		require.NoError(t, err)
		assert.Len(t, paths, 1)
	})

	t.Run("Find paths between the same entity is empty", func(t *testing.T) {
		paths, err := FindPaths(ctx, g.store, g.acme.ID, g.acme.ID, 3, 5)
		require.NoError(t, err)
		assert.Empty(t, paths)
	})

	t.Run("Paths are simple", func(t *testing.T) {
		paths, err := FindPaths(ctx, g.store, g.acme.ID, g.sequoia.ID, 4, 10)
		require.NoError(t, err)
		for _, p := range paths {
			seen := map[uuid.UUID]bool{}
			for _, id := range p.EntityIDs {
				assert.False(t, seen[id], "Expected no entity to repeat within a path")
				seen[id] = true
			}
		}
	})
}

type nativePaths struct {
	*MemoryStore
	calls int
}

func (n *nativePaths) Paths(ctx context.Context, from uuid.UUID, to uuid.UUID, maxHops int, limit int) ([]model.Path, error) {
	n.calls++
	return []model.Path{
		{Facts: []model.Fact{{Strength: 1}, {Strength: 1}}},
		{Facts: []model.Fact{{Strength: 5}}},
	}, nil
}

func TestFindPathsNative(t *testing.T) {
	t.Run("Stores with native path support are used and sorted", func(t *testing.T) {
		store := &nativePaths{MemoryStore: NewMemoryStore()}
		paths, err := FindPaths(context.Background(), store, uuid.New(), uuid.New(), 3, 5)
		require.NoError(t, err)
		assert.Equal(t, 1, store.calls)
		require.Len(t, paths, 2)
		assert.Equal(t, 1, paths[0].Length(), "Expected shortest path first")
	})
}
