package model

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/siherrmann/newsgraph/helper"
	"gopkg.in/yaml.v3"
)

// EngineConfig holds every tuning constant of the query engine and the
// maintenance jobs.
type EngineConfig struct {
	Resolver      ResolverConfig      `yaml:"resolver"`
	Scoring       ScoringConfig       `yaml:"scoring"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Fusion        FusionConfig        `yaml:"fusion"`
	Understanding UnderstandingConfig `yaml:"understanding"`
	Generation    GenerationConfig    `yaml:"generation"`
	Retry         RetryConfig         `yaml:"retry"`
	Timeouts      TimeoutConfig       `yaml:"timeouts"`
	Cache         CacheConfig         `yaml:"cache"`
	Session       SessionConfig       `yaml:"session"`
	Policy        PolicyConfig        `yaml:"policy"`
	Ingest        IngestConfig        `yaml:"ingest"`
}

// ResolverConfig configures entity resolution.
type ResolverConfig struct {
	Threshold     float64  `yaml:"threshold"`
	LegalSuffixes []string `yaml:"legal_suffixes"`
}

// ScoringConfig configures relationship strength scoring.
type ScoringConfig struct {
	FrequencyWeight     float64       `yaml:"frequency_weight"`
	RecencyWeight       float64       `yaml:"recency_weight"`
	CredibilityWeight   float64       `yaml:"credibility_weight"`
	ContextWeight       float64       `yaml:"context_weight"`
	SaturationMentions  int           `yaml:"saturation_mentions"`
	RecencyHalfLife     time.Duration `yaml:"recency_half_life"`
	InferredCredibility float64       `yaml:"inferred_credibility"`
	IncidentalContext   float64       `yaml:"incidental_context"`
}

// RetrievalConfig configures graph and vector retrieval.
type RetrievalConfig struct {
	TopKEntities int `yaml:"top_k_entities"`
	TopKChunks   int `yaml:"top_k_chunks"`
	NeighborHops int `yaml:"neighbor_hops"`
	MaxFacts     int `yaml:"max_facts"`
	MaxPaths     int `yaml:"max_paths"`
	// MinSimilarity is the cosine similarity an entity or chunk needs to count
	// as a match. Zero similarity never matches.
	MinSimilarity float64 `yaml:"min_similarity"`
}

// FusionConfig configures reciprocal rank fusion.
type FusionConfig struct {
	RRFK        float64 `yaml:"rrf_k"`
	TokenBudget int     `yaml:"token_budget"`
	// Tokenizer is "heuristic" or a tiktoken encoding name such as "cl100k_base".
	Tokenizer string `yaml:"tokenizer"`
}

// UnderstandingConfig configures intent classification and follow-up rewriting.
type UnderstandingConfig struct {
	AnchorKeywords       []string `yaml:"anchor_keywords"`
	FollowUpMaxWords     int      `yaml:"follow_up_max_words"`
	LLMMinConfidence     float64  `yaml:"llm_min_confidence"`
	ClarificationMessage string   `yaml:"clarification_message"`
}

// GenerationConfig configures answer generation.
type GenerationConfig struct {
	HistoryTurns int     `yaml:"history_turns"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float32 `yaml:"temperature"`
}

// RetryConfig configures the shared retry policy for provider calls.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialInterval   time.Duration `yaml:"initial_interval"`
	MaxInterval       time.Duration `yaml:"max_interval"`
	Multiplier        float64       `yaml:"multiplier"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// TimeoutConfig bounds single provider calls.
type TimeoutConfig struct {
	Embedding time.Duration `yaml:"embedding"`
	LLM       time.Duration `yaml:"llm"`
}

// CacheConfig configures the answer cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Prefix  string        `yaml:"prefix"`
}

// SessionConfig configures conversation sessions.
type SessionConfig struct {
	InactivityWindow time.Duration `yaml:"inactivity_window"`
	MaxTurns         int           `yaml:"max_turns"`
}

// PolicyConfig configures the disallowed entity name policy.
type PolicyConfig struct {
	DisallowedNames []string `yaml:"disallowed_names"`
	MinNameLength   int      `yaml:"min_name_length"`
}

// IngestConfig configures how unsplit articles are chunked.
type IngestConfig struct {
	SentencesPerChunk int `yaml:"sentences_per_chunk"`
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Resolver: ResolverConfig{
			Threshold: 0.85,
			LegalSuffixes: []string{
				"inc", "incorporated", "corp", "corporation", "co", "company", "llc",
				"ltd", "limited", "plc", "gmbh", "ag", "sa", "bv", "lp", "holdings",
			},
		},
		Scoring: ScoringConfig{
			FrequencyWeight:     0.30,
			RecencyWeight:       0.20,
			CredibilityWeight:   0.30,
			ContextWeight:       0.20,
			SaturationMentions:  10,
			RecencyHalfLife:     90 * 24 * time.Hour,
			InferredCredibility: 0.6,
			IncidentalContext:   0.5,
		},
		Retrieval: RetrievalConfig{
			TopKEntities:  5,
			TopKChunks:    5,
			NeighborHops:  1,
			MaxFacts:      30,
			MaxPaths:      5,
			MinSimilarity: 0.2,
		},
		Fusion: FusionConfig{
			RRFK:        60,
			TokenBudget: 3000,
			Tokenizer:   "heuristic",
		},
		Understanding: UnderstandingConfig{
			AnchorKeywords: []string{
				"funding", "funded", "founder", "founded", "investor", "invested", "investment",
				"acquisition", "acquired", "ceo", "cto", "startup", "raised", "series",
				"valuation", "partnership", "competitor", "competitors", "headquarters",
			},
			FollowUpMaxWords:     6,
			LLMMinConfidence:     0.6,
			ClarificationMessage: "Could you clarify which company, person or topic you are asking about?",
		},
		Generation: GenerationConfig{
			HistoryTurns: 3,
			MaxTokens:    512,
			Temperature:  0.1,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2,
		},
		Timeouts: TimeoutConfig{
			Embedding: 10 * time.Second,
			LLM:       60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     10 * time.Minute,
			Prefix:  "newsgraph:answer:",
		},
		Session: SessionConfig{
			InactivityWindow: 30 * time.Minute,
			MaxTurns:         20,
		},
		Policy: PolicyConfig{
			DisallowedNames: []string{
				"unknown", "n/a", "none", "null", "anonymous", "company a", "company b",
				"person x", "investor x", "the company", "the startup",
			},
			MinNameLength: 2,
		},
		Ingest: IngestConfig{
			SentencesPerChunk: 3,
		},
	}
}

// Validate rejects configurations that would break scoring or retrieval.
func (c EngineConfig) Validate() error {
	var errs []error
	if c.Resolver.Threshold <= 0 || c.Resolver.Threshold > 1 {
		errs = append(errs, fmt.Errorf("resolver.threshold must be in (0, 1], got %v", c.Resolver.Threshold))
	}
	weights := []float64{c.Scoring.FrequencyWeight, c.Scoring.RecencyWeight, c.Scoring.CredibilityWeight, c.Scoring.ContextWeight}
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			errs = append(errs, fmt.Errorf("scoring weights must not be negative"))
			break
		}
		sum += w
	}
	if sum <= 0 {
		errs = append(errs, fmt.Errorf("scoring weights must not all be zero"))
	}
	if c.Scoring.SaturationMentions <= 0 {
		errs = append(errs, fmt.Errorf("scoring.saturation_mentions must be positive"))
	}
	if c.Scoring.RecencyHalfLife <= 0 {
		errs = append(errs, fmt.Errorf("scoring.recency_half_life must be positive"))
	}
	if c.Retrieval.TopKEntities < 0 || c.Retrieval.TopKChunks < 0 || c.Retrieval.NeighborHops < 0 {
		errs = append(errs, fmt.Errorf("retrieval limits must not be negative"))
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity >= 1 {
		errs = append(errs, fmt.Errorf("retrieval.min_similarity must be in [0, 1), got %v", c.Retrieval.MinSimilarity))
	}
	if c.Fusion.RRFK <= 0 {
		errs = append(errs, fmt.Errorf("fusion.rrf_k must be positive"))
	}
	if c.Ingest.SentencesPerChunk <= 0 {
		errs = append(errs, fmt.Errorf("ingest.sentences_per_chunk must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	if len(errs) > 0 {
		return helper.NewError("validate engine config", errors.Join(errs...))
	}
	return nil
}

// RetryPolicy builds the shared retry policy bounded by timeout per attempt.
func (c RetryConfig) RetryPolicy(timeout time.Duration) helper.RetryPolicy {
	return helper.RetryPolicy{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
		Multiplier:      c.Multiplier,
		AttemptTimeout:  timeout,
		Limiter:         helper.NewLimiter(c.RequestsPerSecond),
	}
}

// LoadEngineConfig reads a YAML file on top of DefaultEngineConfig.
// An empty path returns the defaults.
func LoadEngineConfig(path string) (EngineConfig, error) {
	config := DefaultEngineConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, helper.NewError("read config", err)
	}

	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return config, helper.NewError("parse config", err)
	}

	err = config.Validate()
	if err != nil {
		return config, err
	}

	return config, nil
}
