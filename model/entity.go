package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// EntityType is the closed set of node types in the news graph.
type EntityType string

const (
	EntityTypeCompany      EntityType = "Company"
	EntityTypePerson       EntityType = "Person"
	EntityTypeInvestor     EntityType = "Investor"
	EntityTypeTechnology   EntityType = "Technology"
	EntityTypeProduct      EntityType = "Product"
	EntityTypeFundingRound EntityType = "FundingRound"
	EntityTypeLocation     EntityType = "Location"
	EntityTypeEvent        EntityType = "Event"
)

// entityTypeLabels maps every entity type to the node label used by graph stores.
var entityTypeLabels = map[EntityType]string{
	EntityTypeCompany:      "Company",
	EntityTypePerson:       "Person",
	EntityTypeInvestor:     "Investor",
	EntityTypeTechnology:   "Technology",
	EntityTypeProduct:      "Product",
	EntityTypeFundingRound: "FundingRound",
	EntityTypeLocation:     "Location",
	EntityTypeEvent:        "Event",
}

// entityNamespace seeds the deterministic entity ids.
var entityNamespace = uuid.MustParse("6f1c2b0e-4d9a-5e7b-8c3f-2a1d0e9b7c64")

// EntityTypes returns all known entity types in a stable order.
func EntityTypes() []EntityType {
	types := make([]EntityType, 0, len(entityTypeLabels))
	for t := range entityTypeLabels {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ParseEntityType maps loosely formatted input ("company", "FUNDING_ROUND",
// "funding round") onto the closed enum.
func ParseEntityType(s string) (EntityType, error) {
	key := enumKey(s)
	for t := range entityTypeLabels {
		if enumKey(string(t)) == key {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
}

// Valid reports whether t is part of the closed enum.
func (t EntityType) Valid() bool {
	_, ok := entityTypeLabels[t]
	return ok
}

// Label returns the graph node label for t.
func (t EntityType) Label() string {
	return entityTypeLabels[t]
}

// Entity represents a resolved named entity (company, person, investor, ...)
type Entity struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	NormalizedName    string     `json:"normalized_name"`
	Type              EntityType `json:"entity_type"`
	Description       string     `json:"description,omitempty"`
	Embedding         []float32  `json:"embedding,omitempty"`
	SourceDocumentIDs []string   `json:"source_document_ids,omitempty"`
	MentionCount      int        `json:"mention_count"`
	Metadata          Metadata   `json:"metadata,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewEntity creates an entity with its deterministic id.
func NewEntity(name string, entityType EntityType, description string) *Entity {
	normalized := NormalizeName(name)
	return &Entity{
		ID:             EntityID(normalized, entityType),
		Name:           strings.TrimSpace(name),
		NormalizedName: normalized,
		Type:           entityType,
		Description:    strings.TrimSpace(description),
		Metadata:       Metadata{},
	}
}

// EntityID derives the id of an entity from its normalized name and type.
func EntityID(normalizedName string, entityType EntityType) uuid.UUID {
	return uuid.NewSHA1(entityNamespace, []byte(string(entityType)+"|"+normalizedName))
}

// NormalizeName case-folds, trims and collapses whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// AddSourceDocument adds a document id keeping set semantics.
func (e *Entity) AddSourceDocument(documentID string) {
	if documentID == "" {
		return
	}
	for _, id := range e.SourceDocumentIDs {
		if id == documentID {
			return
		}
	}
	e.SourceDocumentIDs = append(e.SourceDocumentIDs, documentID)
}

// Text is the representation used for embedding the entity.
func (e *Entity) Text() string {
	if e.Description == "" {
		return fmt.Sprintf("%s (%s)", e.Name, e.Type)
	}
	return fmt.Sprintf("%s (%s): %s", e.Name, e.Type, e.Description)
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	if e.Embedding != nil {
		c.Embedding = append([]float32(nil), e.Embedding...)
	}
	if e.SourceDocumentIDs != nil {
		c.SourceDocumentIDs = append([]string(nil), e.SourceDocumentIDs...)
	}
	c.Metadata = e.Metadata.Clone()
	return &c
}

func enumKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
