package model

import (
	"encoding/json"
	"os"
	"time"
)

// EntityInput is an entity as delivered by the upstream extraction step.
type EntityInput struct {
	ID               string   `json:"id,omitempty"`
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	Description      string   `json:"description,omitempty"`
	SourceDocumentID string   `json:"source_document_id,omitempty"`
	Mentions         int      `json:"mentions,omitempty"`
	Metadata         Metadata `json:"metadata,omitempty"`
}

// RelationshipInput is a relationship as delivered by the upstream extraction
// step. Source and target reference entities by upstream id, entity id or name.
type RelationshipInput struct {
	Source           string     `json:"source"`
	Target           string     `json:"target"`
	SourceType       string     `json:"source_type,omitempty"`
	TargetType       string     `json:"target_type,omitempty"`
	Type             string     `json:"type"`
	Strength         *float64   `json:"strength,omitempty"`
	Description      string     `json:"description,omitempty"`
	SourceDocumentID string     `json:"source_document_id,omitempty"`
	MentionedAt      *time.Time `json:"mentioned_at,omitempty"`
	DirectQuote      bool       `json:"direct_quote,omitempty"`
	MainSubject      bool       `json:"main_subject,omitempty"`
	Contradicts      bool       `json:"contradicts,omitempty"`
}

// ChunkInput is one chunk of an upstream document.
type ChunkInput struct {
	Text     string `json:"text"`
	Position int    `json:"position"`
}

// DocumentInput is an upstream article split into chunks. Text is an
// alternative to Chunks for articles that arrive unsplit.
type DocumentInput struct {
	DocumentID  string       `json:"document_id"`
	Title       string       `json:"title,omitempty"`
	PublishedAt *time.Time   `json:"published_at,omitempty"`
	Chunks      []ChunkInput `json:"chunks,omitempty"`
	Text        string       `json:"text,omitempty"`
}

// Batch is one ingestion payload.
type Batch struct {
	Entities      []EntityInput       `json:"entities,omitempty"`
	Relationships []RelationshipInput `json:"relationships,omitempty"`
	Documents     []DocumentInput     `json:"documents,omitempty"`
}

// NewBatchFromFile reads an ingestion batch from a JSON file.
func NewBatchFromFile(filePath string) (*Batch, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	err = json.Unmarshal(content, batch)
	if err != nil {
		return nil, err
	}

	return batch, nil
}
