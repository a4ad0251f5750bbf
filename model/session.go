package model

import (
	"hash/fnv"
	"strconv"
	"time"
)

// Turn is one question/answer exchange of a session.
type Turn struct {
	Question    string    `json:"question"`
	Resolved    string    `json:"resolved"`
	Answer      string    `json:"answer"`
	Entities    []string  `json:"entities,omitempty"`
	ContextRefs []string  `json:"context_refs,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Session is an ordered conversation used to resolve follow-up questions.
type Session struct {
	ID         string    `json:"session_id"`
	Turns      []Turn    `json:"turns"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Embeddable is anything the embedding index can vectorise.
type Embeddable struct {
	ID   string         `json:"id"`
	Kind EmbeddableKind `json:"kind"`
	Text string         `json:"text"`
}

// EmbeddableKind names the store collection an embedding belongs to.
type EmbeddableKind string

const (
	EmbeddableEntity EmbeddableKind = "entity"
	EmbeddableChunk  EmbeddableKind = "chunk"
)

// Key is the checkpoint key of the item. It includes a hash of the text so an
// entity whose description changed after a merge is embedded again.
func (e Embeddable) Key() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(e.Text))
	return string(e.Kind) + ":" + e.ID + ":" + strconv.FormatUint(h.Sum64(), 16)
}
