package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ScoredEntity is an entity ranked by similarity to a query.
type ScoredEntity struct {
	Entity     *Entity `json:"entity"`
	Similarity float64 `json:"similarity"`
}

// ScoredChunk is a chunk ranked by similarity to a query.
type ScoredChunk struct {
	Chunk      *Chunk  `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// Fact is a relationship rendered with its endpoint names.
type Fact struct {
	RelationshipID uuid.UUID        `json:"relationship_id"`
	SourceID       uuid.UUID        `json:"source_id"`
	TargetID       uuid.UUID        `json:"target_id"`
	SourceName     string           `json:"source_name"`
	TargetName     string           `json:"target_name"`
	Type           RelationshipType `json:"relationship_type"`
	Description    string           `json:"description,omitempty"`
	Strength       float64          `json:"strength"`
	Hops           int              `json:"hops"`
	// Relevance is the similarity of the seed entity the fact was reached from.
	Relevance float64 `json:"relevance"`
}

// NewFact renders a relationship between two known entities.
func NewFact(r *Relationship, source, target *Entity, hops int) Fact {
	return Fact{
		RelationshipID: r.ID,
		SourceID:       r.SourceID,
		TargetID:       r.TargetID,
		SourceName:     source.Name,
		TargetName:     target.Name,
		Type:           r.Type,
		Description:    r.Description,
		Strength:       r.Strength,
		Hops:           hops,
	}
}

// Key deduplicates facts by (source, type, target).
func (f Fact) Key() string {
	return f.SourceID.String() + "|" + string(f.Type) + "|" + f.TargetID.String()
}

// Text renders the fact for prompts.
func (f Fact) Text() string {
	verb := strings.ToLower(strings.ReplaceAll(string(f.Type), "_", " "))
	s := fmt.Sprintf("%s %s %s (strength %.1f/10)", f.SourceName, verb, f.TargetName, f.Strength)
	if f.Description != "" {
		s += ": " + f.Description
	}
	return s
}

// GraphResult is the output of graph retrieval.
type GraphResult struct {
	Entities []ScoredEntity `json:"entities"`
	Facts    []Fact         `json:"facts"`
}

// Path is a chain of facts connecting two entities.
type Path struct {
	EntityIDs []uuid.UUID `json:"entity_ids"`
	Facts     []Fact      `json:"facts"`
}

// Length is the number of hops of the path.
func (p Path) Length() int {
	return len(p.Facts)
}

// Text renders the path as a single line.
func (p Path) Text() string {
	if len(p.Facts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(p.Facts))
	for _, f := range p.Facts {
		parts = append(parts, f.Text())
	}
	return strings.Join(parts, " -> ")
}

// ContextKind distinguishes the two fusion channels.
type ContextKind string

const (
	ContextKindFact  ContextKind = "fact"
	ContextKindChunk ContextKind = "chunk"
)

// ContextItem is one entry of the fused context.
type ContextItem struct {
	// Ref is the citation tag shown to the LLM, e.g. "F1" or "D2".
	Ref        string      `json:"ref"`
	Kind       ContextKind `json:"kind"`
	Key        string      `json:"key"`
	Text       string      `json:"text"`
	Score      float64     `json:"score"`
	Strength   float64     `json:"strength,omitempty"`
	Similarity float64     `json:"similarity,omitempty"`
	Tokens     int         `json:"tokens"`
	Fact       *Fact       `json:"fact,omitempty"`
	Entity     *Entity     `json:"entity,omitempty"`
	Chunk      *Chunk      `json:"chunk,omitempty"`
}

// EntityItem wraps a retrieved entity as an unranked graph-channel item, so
// entities without relationships still reach the context.
func EntityItem(s ScoredEntity) ContextItem {
	return ContextItem{
		Kind:       ContextKindFact,
		Key:        "entity:" + s.Entity.ID.String(),
		Text:       s.Entity.Text(),
		Similarity: s.Similarity,
		Entity:     s.Entity,
	}
}

// FactItem wraps a fact as an unranked context item.
func FactItem(f Fact) ContextItem {
	fact := f
	return ContextItem{
		Kind:     ContextKindFact,
		Key:      "fact:" + f.Key(),
		Text:     f.Text(),
		Strength: f.Strength,
		Fact:     &fact,
	}
}

// ChunkItem wraps a scored chunk as an unranked context item.
func ChunkItem(c ScoredChunk) ContextItem {
	return ContextItem{
		Kind:       ContextKindChunk,
		Key:        "chunk:" + c.Chunk.ID.String(),
		Text:       c.Chunk.Text,
		Similarity: c.Similarity,
		Chunk:      c.Chunk,
	}
}

// PathItem wraps a reasoning path as a fact-channel context item.
func PathItem(p Path) ContextItem {
	ids := make([]string, 0, len(p.Facts))
	strength := 0.0
	for _, f := range p.Facts {
		ids = append(ids, f.Key())
		strength += f.Strength
	}
	if len(p.Facts) > 0 {
		strength /= float64(len(p.Facts))
	}
	return ContextItem{
		Kind:     ContextKindFact,
		Key:      "path:" + strings.Join(ids, ","),
		Text:     p.Text(),
		Strength: strength,
	}
}
