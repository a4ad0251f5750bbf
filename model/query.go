package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Intent is the classified purpose of a question.
type Intent string

const (
	IntentEntityLookup Intent = "entity_lookup"
	IntentRelationship Intent = "relationship"
	IntentPath         Intent = "path"
	IntentAggregation  Intent = "aggregation"
	IntentSemantic     Intent = "semantic"
	IntentMultiHop     Intent = "multi_hop"
	IntentAmbiguous    Intent = "ambiguous"
)

// Intents returns every intent the classifier may produce.
func Intents() []Intent {
	return []Intent{IntentEntityLookup, IntentRelationship, IntentPath, IntentAggregation, IntentSemantic, IntentMultiHop, IntentAmbiguous}
}

// ClassificationMethod records which stage decided the intent.
type ClassificationMethod string

const (
	MethodRule   ClassificationMethod = "rule"
	MethodLLM    ClassificationMethod = "llm"
	MethodAnchor ClassificationMethod = "anchor"
	MethodNone   ClassificationMethod = "none"
)

// Classification is the output of query understanding.
type Classification struct {
	Intent        Intent               `json:"intent"`
	Confidence    float64              `json:"confidence"`
	Method        ClassificationMethod `json:"method"`
	Question      string               `json:"question"`
	Rewritten     string               `json:"rewritten"`
	Expanded      string               `json:"expanded"`
	Clarification string               `json:"clarification,omitempty"`
}

// QueryOptions tunes a single query. Zero values fall back to the engine config.
type QueryOptions struct {
	TopKEntities   int  `json:"top_k_entities,omitempty"`
	TopKChunks     int  `json:"top_k_chunks,omitempty"`
	NeighborHops   int  `json:"neighbor_hops,omitempty"`
	TokenBudget    int  `json:"token_budget,omitempty"`
	IncludeContext bool `json:"include_context,omitempty"`
	SkipCache      bool `json:"-"`
}

// CacheKey identifies a resolved question together with the options that
// influence its answer.
func (o QueryOptions) CacheKey(resolvedQuestion string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(resolvedQuestion)), " ")
	raw := fmt.Sprintf("%s|e=%d|c=%d|h=%d|b=%d|ctx=%t", normalized, o.TopKEntities, o.TopKChunks, o.NeighborHops, o.TokenBudget, o.IncludeContext)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// QueryStatus is the terminal state of a query.
type QueryStatus string

const (
	StatusAnswered         QueryStatus = "answered"
	StatusDegraded         QueryStatus = "degraded"
	StatusClarify          QueryStatus = "clarify"
	StatusNoContext        QueryStatus = "no_context"
	StatusGenerationFailed QueryStatus = "generation_failed"
	StatusInvalid          QueryStatus = "invalid"
	StatusCancelled        QueryStatus = "cancelled"
)

// Cacheable reports whether a response with this status may be cached.
func (s QueryStatus) Cacheable() bool {
	return s == StatusAnswered || s == StatusNoContext || s == StatusClarify
}

// Stage is the query pipeline state.
type Stage string

const (
	StageReceived   Stage = "RECEIVED"
	StageClassified Stage = "CLASSIFIED"
	StageClarify    Stage = "CLARIFY"
	StageRetrieved  Stage = "RETRIEVED"
	StageFused      Stage = "FUSED"
	StageGenerated  Stage = "GENERATED"
	StageReturned   Stage = "RETURNED"
)

// Source is a citation attached to an answer.
type Source struct {
	Ref        string      `json:"ref"`
	Kind       ContextKind `json:"kind"`
	Text       string      `json:"text"`
	DocumentID string      `json:"document_id,omitempty"`
}

// Answer is the output of the answer generator.
type Answer struct {
	Text            string   `json:"answer"`
	Sources         []Source `json:"sources"`
	Degraded        bool     `json:"degraded"`
	Confidence      float64  `json:"confidence"`
	MissingEntities []string `json:"missing_entities,omitempty"`
	Generated       bool     `json:"generated"`
}

// NoContextAnswer is returned when retrieval produced nothing.
const NoContextAnswer = "No relevant context was found in the knowledge graph for this question."

// QueryResponse is the well-formed result of every orchestrator call.
type QueryResponse struct {
	Question         string        `json:"question"`
	ResolvedQuestion string        `json:"resolved_question"`
	SessionID        string        `json:"session_id,omitempty"`
	Answer           string        `json:"answer"`
	Sources          []Source      `json:"sources"`
	Intent           Intent        `json:"intent,omitempty"`
	Status           QueryStatus   `json:"status"`
	Stage            Stage         `json:"stage"`
	Degraded         bool          `json:"degraded"`
	Confidence       float64       `json:"confidence"`
	Context          []ContextItem `json:"context,omitempty"`
	Entities         []string      `json:"entities,omitempty"`
	Warnings         []string      `json:"warnings,omitempty"`
	Cached           bool          `json:"cached"`
}

// Warn records a degradation.
func (r *QueryResponse) Warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Comparison is the result of comparing two entities.
type Comparison struct {
	A            *Entity     `json:"a"`
	B            *Entity     `json:"b"`
	FactsA       []Fact      `json:"facts_a"`
	FactsB       []Fact      `json:"facts_b"`
	Direct       []Fact      `json:"direct"`
	SharedIDs    []string    `json:"shared_neighbors"`
	Answer       string      `json:"answer"`
	Sources      []Source    `json:"sources"`
	Status       QueryStatus `json:"status"`
	Degraded     bool        `json:"degraded"`
	Warnings     []string    `json:"warnings,omitempty"`
	MissingNames []string    `json:"missing_names,omitempty"`
}

// MultiHopResult is the result of multi-hop reasoning.
type MultiHopResult struct {
	Question string      `json:"question"`
	Anchors  []*Entity   `json:"anchors"`
	Paths    []Path      `json:"paths"`
	Facts    []Fact      `json:"facts"`
	Answer   string      `json:"answer"`
	Sources  []Source    `json:"sources"`
	Status   QueryStatus `json:"status"`
	Degraded bool        `json:"degraded"`
	Warnings []string    `json:"warnings,omitempty"`
}
