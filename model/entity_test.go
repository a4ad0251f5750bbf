package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseEntityType(t *testing.T) {
	t.Run("Parses loosely formatted names", func(t *testing.T) {
		cases := map[string]EntityType{
			"Company":       EntityTypeCompany,
			"company":       EntityTypeCompany,
			"FUNDING_ROUND": EntityTypeFundingRound,
			"funding round": EntityTypeFundingRound,
			" Investor ":    EntityTypeInvestor,
		}
		for input, expected := range cases {
			got, err := ParseEntityType(input)
			require.NoError(t, err, "Expected %q to parse", input)
			assert.Equal(t, expected, got)
		}
	})

	t.Run("Rejects unknown types", func(t *testing.T) {
		_, err := ParseEntityType("Spaceship")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownEntityType), "Expected ErrUnknownEntityType")
	})

	t.Run("Every type has a node label", func(t *testing.T) {
		assert.Len(t, EntityTypes(), 8, "Expected eight entity types")
		for _, et := range EntityTypes() {
			assert.True(t, et.Valid())
			assert.NotEmpty(t, et.Label(), "Expected label for %s", et)
		}
		assert.False(t, EntityType("Spaceship").Valid())
	})
}

func TestEntityID(t *testing.T) {
	t.Run("Same normalized name and type give the same id", func(t *testing.T) {
		a := NewEntity("Acme Corp", EntityTypeCompany, "")
		b := NewEntity("  acme   CORP ", EntityTypeCompany, "maker of anvils")
		assert.Equal(t, a.ID, b.ID, "Expected re-ingestion with different casing to keep the id")
		assert.Equal(t, "acme corp", b.NormalizedName)
	})

	t.Run("Different types give different ids", func(t *testing.T) {
		company := NewEntity("Apple", EntityTypeCompany, "")
		product := NewEntity("Apple", EntityTypeProduct, "")
		assert.NotEqual(t, company.ID, product.ID)
	})

	t.Run("Id is a pure function of normalized name and type", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			name := rapid.StringMatching(`[A-Za-z][A-Za-z0-9 ]{0,20}`).Draw(rt, "name")
			et := rapid.SampledFrom(EntityTypes()).Draw(rt, "type")

			first := EntityID(NormalizeName(name), et)
			second := EntityID(NormalizeName(strings.ToUpper(name)+"  "), et)
			if first != second {
				rt.Fatalf("id changed for %q: %s != %s", name, first, second)
			}
			if NewEntity(name, et, "").ID != first {
				rt.Fatalf("NewEntity id differs from EntityID for %q", name)
			}
		})
	})
}

func TestEntitySourceDocuments(t *testing.T) {
	t.Run("AddSourceDocument keeps set semantics", func(t *testing.T) {
		e := NewEntity("Acme", EntityTypeCompany, "")
		e.AddSourceDocument("doc-1")
		e.AddSourceDocument("doc-1")
		e.AddSourceDocument("")
		e.AddSourceDocument("doc-2")
		assert.Equal(t, []string{"doc-1", "doc-2"}, e.SourceDocumentIDs)
	})

	t.Run("Clone does not share slices", func(t *testing.T) {
		e := NewEntity("Acme", EntityTypeCompany, "")
		e.Embedding = []float32{1, 2}
		e.AddSourceDocument("doc-1")

		c := e.Clone()
		c.Embedding[0] = 9
		c.SourceDocumentIDs[0] = "changed"

		assert.Equal(t, float32(1), e.Embedding[0])
		assert.Equal(t, "doc-1", e.SourceDocumentIDs[0])
	})
}

func TestRelationship(t *testing.T) {
	source := NewEntity("Acme", EntityTypeCompany, "")
	target := NewEntity("Sequoia", EntityTypeInvestor, "")

	t.Run("Relationship id is deterministic", func(t *testing.T) {
		a := NewRelationship(source.ID, RelationshipFundedBy, target.ID)
		b := NewRelationship(source.ID, RelationshipFundedBy, target.ID)
		c := NewRelationship(target.ID, RelationshipFundedBy, source.ID)
		assert.Equal(t, a.ID, b.ID)
		assert.NotEqual(t, a.ID, c.ID, "Expected direction to be part of the id")
		assert.Equal(t, target.ID, a.Other(source.ID))
	})

	t.Run("ParseRelationshipType accepts spaced names", func(t *testing.T) {
		rt, err := ParseRelationshipType("funded by")
		require.NoError(t, err)
		assert.Equal(t, RelationshipFundedBy, rt)

		_, err = ParseRelationshipType("LIKES")
		assert.True(t, errors.Is(err, ErrUnknownRelationshipType))
		assert.Len(t, RelationshipTypes(), 16)
	})

	t.Run("ClampStrength bounds values", func(t *testing.T) {
		assert.Equal(t, 0.0, ClampStrength(-1))
		assert.Equal(t, 10.0, ClampStrength(12))
		assert.Equal(t, 4.2, ClampStrength(4.2))
		nan := 0.0
		assert.Equal(t, 0.0, ClampStrength(nan/nan))
	})
}

func TestNamePolicy(t *testing.T) {
	policy := NewNamePolicy(DefaultEngineConfig().Policy)

	t.Run("Rejects placeholders and empty names", func(t *testing.T) {
		for _, name := range []string{"", "  ", "Unknown", "Company A", "N/A", "x", "--"} {
			assert.False(t, policy.Allowed(name), "Expected %q to be rejected", name)
			assert.NotEmpty(t, policy.Reason(name))
		}
	})

	t.Run("Accepts real names and is idempotent", func(t *testing.T) {
		for _, name := range []string{"Acme Corp", "OpenAI", "3M"} {
			assert.True(t, policy.Allowed(name), "Expected %q to be accepted", name)
			assert.True(t, policy.Allowed(NormalizeName(name)), "Expected policy to be stable on normalized names")
		}
	})
}
