package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrMaintenanceRunning      = errors.New("maintenance job already running")
	ErrProviderFailed          = errors.New("provider failed")
	ErrUnknownEntityType       = errors.New("unknown entity type")
	ErrUnknownRelationshipType = errors.New("unknown relationship type")
	ErrEmptyQuestion           = errors.New("question is empty")
)

// ValidationError marks a malformed upstream item. The item is skipped and
// processing continues.
type ValidationError struct {
	Item   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Item, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Item, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RetrievalError reports a retrieval channel that failed after retries.
type RetrievalError struct {
	Channel string
	Err     error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval channel %s failed: %v", e.Channel, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// GenerationError reports an LLM call that failed or returned unusable output.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("answer generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// AmbiguousQueryError carries the clarifying question for an ambiguous query.
type AmbiguousQueryError struct {
	Question      string
	Clarification string
}

func (e *AmbiguousQueryError) Error() string {
	return fmt.Sprintf("ambiguous query %q", e.Question)
}

// CacheError reports a failing cache backend. Callers log it and bypass the cache.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }
