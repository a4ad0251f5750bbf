package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderConfiguration(t *testing.T) {
	t.Run("Defaults to local embeddings and ollama", func(t *testing.T) {
		t.Setenv("NEWSGRAPH_EMBEDDER", "")
		t.Setenv("NEWSGRAPH_LLM", "")
		t.Setenv("NEWSGRAPH_EMBEDDING_DIM", "")

		config, err := NewProviderConfiguration()
		require.NoError(t, err, "Expected default configuration to be valid")
		assert.Equal(t, "local", config.Embedder)
		assert.Equal(t, DefaultLocalEmbeddingModel, config.EmbeddingModel)
		assert.Equal(t, DefaultOllamaChatModel, config.ChatModel)
		assert.Equal(t, 384, config.EmbeddingDimension)
	})

	t.Run("OpenAI requires an api key", func(t *testing.T) {
		t.Setenv("NEWSGRAPH_LLM", "openai")
		t.Setenv("NEWSGRAPH_API_KEY", "")

		_, err := NewProviderConfiguration()
		assert.Error(t, err, "Expected missing api key to be rejected")
	})

	t.Run("Unknown embedder is rejected", func(t *testing.T) {
		t.Setenv("NEWSGRAPH_EMBEDDER", "word2vec")

		_, err := NewProviderConfiguration()
		assert.Error(t, err)
	})

	t.Run("Invalid dimension is rejected", func(t *testing.T) {
		t.Setenv("NEWSGRAPH_EMBEDDER", "")
		t.Setenv("NEWSGRAPH_LLM", "")
		t.Setenv("NEWSGRAPH_EMBEDDING_DIM", "wide")

		_, err := NewProviderConfiguration()
		assert.Error(t, err)
	})
}
