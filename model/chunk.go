package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

var chunkNamespace = uuid.MustParse("9a3d7e21-5b6c-5f80-a1e4-7c0b2d9f3e15")

// Chunk represents an immutable slice of an article's text.
type Chunk struct {
	ID         uuid.UUID `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Position   int       `json:"position"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkID derives the chunk id from its document and position.
func ChunkID(documentID string, position int) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+"#"+strconv.Itoa(position)))
}

// NewChunk creates a chunk with its deterministic id.
func NewChunk(documentID string, position int, text string) *Chunk {
	return &Chunk{
		ID:         ChunkID(documentID, position),
		DocumentID: documentID,
		Text:       text,
		Position:   position,
		Metadata:   Metadata{},
	}
}

// Clone returns a deep copy of the chunk.
func (c *Chunk) Clone() *Chunk {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Embedding != nil {
		cp.Embedding = append([]float32(nil), c.Embedding...)
	}
	cp.Metadata = c.Metadata.Clone()
	return &cp
}
