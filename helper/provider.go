package helper

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DefaultLocalEmbeddingModel  = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"
	DefaultOllamaEmbeddingModel = "nomic-embed-text"
	DefaultOpenAIChatModel      = "gpt-4o-mini"
	DefaultOllamaChatModel      = "llama3.1"
	DefaultOllamaURL            = "http://localhost:11434"
)

// ProviderConfig selects and configures the embedding and LLM backends.
type ProviderConfig struct {
	// Embedder is one of local, openai or ollama.
	Embedder           string
	EmbeddingModel     string
	EmbeddingDimension int
	ModelDir           string
	// LLM is one of openai or ollama.
	LLM       string
	ChatModel string
	APIKey    string
	BaseURL   string
	// Neo4j is used instead of Postgres when NEWSGRAPH_NEO4J_URI is set.
	Neo4jURI      string
	Neo4jUsername string
	Neo4jPassword string
	Neo4jDatabase string
	// RedisAddr enables the shared answer cache.
	RedisAddr string
}

// NewProviderConfiguration reads NEWSGRAPH_* environment variables. A .env
// file in the working directory is loaded first if present.
func NewProviderConfiguration() (*ProviderConfig, error) {
	_ = godotenv.Load()

	config := &ProviderConfig{
		Embedder:       envOr("NEWSGRAPH_EMBEDDER", "local"),
		EmbeddingModel: os.Getenv("NEWSGRAPH_EMBEDDING_MODEL"),
		ModelDir:       envOr("NEWSGRAPH_MODEL_DIR", DefaultModelDir),
		LLM:            envOr("NEWSGRAPH_LLM", "ollama"),
		ChatModel:      os.Getenv("NEWSGRAPH_CHAT_MODEL"),
		APIKey:         os.Getenv("NEWSGRAPH_API_KEY"),
		BaseURL:        envOr("NEWSGRAPH_BASE_URL", DefaultOllamaURL),
		Neo4jURI:       os.Getenv("NEWSGRAPH_NEO4J_URI"),
		Neo4jUsername:  envOr("NEWSGRAPH_NEO4J_USERNAME", "neo4j"),
		Neo4jPassword:  os.Getenv("NEWSGRAPH_NEO4J_PASSWORD"),
		Neo4jDatabase:  envOr("NEWSGRAPH_NEO4J_DATABASE", "neo4j"),
		RedisAddr:      os.Getenv("NEWSGRAPH_REDIS_ADDR"),
	}

	switch config.Embedder {
	case "local":
		config.EmbeddingModel = orDefault(config.EmbeddingModel, DefaultLocalEmbeddingModel)
	case "openai":
		config.EmbeddingModel = orDefault(config.EmbeddingModel, DefaultOpenAIEmbeddingModel)
	case "ollama":
		config.EmbeddingModel = orDefault(config.EmbeddingModel, DefaultOllamaEmbeddingModel)
	default:
		return nil, NewError("provider configuration", fmt.Errorf("unsupported embedder %q (supported: local, openai, ollama)", config.Embedder))
	}

	switch config.LLM {
	case "openai":
		config.ChatModel = orDefault(config.ChatModel, DefaultOpenAIChatModel)
	case "ollama":
		config.ChatModel = orDefault(config.ChatModel, DefaultOllamaChatModel)
	default:
		return nil, NewError("provider configuration", fmt.Errorf("unsupported llm %q (supported: openai, ollama)", config.LLM))
	}

	if (config.Embedder == "openai" || config.LLM == "openai") && config.APIKey == "" {
		return nil, NewError("provider configuration", fmt.Errorf("NEWSGRAPH_API_KEY is required for openai"))
	}

	config.EmbeddingDimension = 384
	if dim := os.Getenv("NEWSGRAPH_EMBEDDING_DIM"); dim != "" {
		parsed, err := strconv.Atoi(dim)
		if err != nil || parsed <= 0 {
			return nil, NewError("parse NEWSGRAPH_EMBEDDING_DIM", fmt.Errorf("invalid dimension %q", dim))
		}
		config.EmbeddingDimension = parsed
	}

	return config, nil
}

func envOr(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func orDefault(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
