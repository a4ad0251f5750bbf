package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBatchFromFile(t *testing.T) {
	t.Run("Reads entities, relationships and documents", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "batch.json")
		content := `{
			"entities": [{"name": "Acme Corp", "type": "Company", "description": "AI startup"}],
			"relationships": [{"source": "Acme Corp", "target": "Sequoia", "type": "FUNDED_BY", "strength": 7.5}],
			"documents": [{"document_id": "doc-1", "chunks": [{"text": "Acme raised money.", "position": 0}]}]
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		batch, err := NewBatchFromFile(path)
		require.NoError(t, err, "Expected NewBatchFromFile to not return an error")
		require.Len(t, batch.Entities, 1)
		require.Len(t, batch.Relationships, 1)
		require.Len(t, batch.Documents, 1)
		assert.Equal(t, "Acme Corp", batch.Entities[0].Name)
		require.NotNil(t, batch.Relationships[0].Strength, "Expected strength to be set")
		assert.Equal(t, 7.5, *batch.Relationships[0].Strength)
		assert.Equal(t, "doc-1", batch.Documents[0].DocumentID)
	})

	t.Run("Missing strength stays nil", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "batch.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"relationships":[{"source":"a","target":"b","type":"ADVISES"}]}`), 0600))

		batch, err := NewBatchFromFile(path)
		require.NoError(t, err)
		assert.Nil(t, batch.Relationships[0].Strength)
	})

	t.Run("Invalid file fails", func(t *testing.T) {
		_, err := NewBatchFromFile("nonexistent.json")
		assert.Error(t, err, "Expected error for missing file")

		path := filepath.Join(t.TempDir(), "broken.json")
		require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0600))
		_, err = NewBatchFromFile(path)
		assert.Error(t, err, "Expected error for malformed JSON")
	})
}

func TestQueryOptionsCacheKey(t *testing.T) {
	t.Run("Normalizes whitespace and case", func(t *testing.T) {
		opts := QueryOptions{TopKEntities: 3}
		assert.Equal(t, opts.CacheKey("Who funded Acme?"), opts.CacheKey("  who   FUNDED acme? "))
	})

	t.Run("Options change the key", func(t *testing.T) {
		assert.NotEqual(t, QueryOptions{}.CacheKey("q"), QueryOptions{TopKChunks: 2}.CacheKey("q"))
	})
}
