package embedding

import (
	"context"
	"fmt"

	ollamaEmbed "github.com/cloudwego/eino-ext/components/embedding/ollama"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/siherrmann/newsgraph/helper"
)

// RemoteProvider calls an eino embedder (OpenAI or Ollama).
type RemoteProvider struct {
	embedder  einoembedding.Embedder
	name      string
	dimension int
}

// NewRemoteProvider wraps an existing eino embedder.
func NewRemoteProvider(embedder einoembedding.Embedder, name string, dimension int) *RemoteProvider {
	return &RemoteProvider{embedder: embedder, name: name, dimension: dimension}
}

func (p *RemoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, providerError(p.name, err)
	}
	if len(vectors) == 0 {
		return nil, providerError(p.name, fmt.Errorf("no embedding returned"))
	}

	vec := helper.Float64sToFloat32s(vectors[0])
	if err := checkDimension(p.name, vec, p.dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

func (p *RemoteProvider) Dimension() int { return p.dimension }

func (p *RemoteProvider) Name() string { return p.name }

// NewProvider builds the provider selected by config.Embedder.
func NewProvider(ctx context.Context, config *helper.ProviderConfig) (Provider, error) {
	switch config.Embedder {
	case "local":
		return NewLocalProvider(config.ModelDir, config.EmbeddingModel, config.EmbeddingDimension)

	case "openai":
		if config.APIKey == "" {
			return nil, helper.NewError("openai embedder", fmt.Errorf("api key is required"))
		}
		embedder, err := openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
			Model:  config.EmbeddingModel,
			APIKey: config.APIKey,
		})
		if err != nil {
			return nil, helper.NewError("openai embedder", err)
		}
		return NewRemoteProvider(embedder, "openai:"+config.EmbeddingModel, config.EmbeddingDimension), nil

	case "ollama":
		baseURL := config.BaseURL
		if baseURL == "" {
			baseURL = helper.DefaultOllamaURL
		}
		embedder, err := ollamaEmbed.NewEmbedder(ctx, &ollamaEmbed.EmbeddingConfig{
			BaseURL: baseURL,
			Model:   config.EmbeddingModel,
		})
		if err != nil {
			return nil, helper.NewError("ollama embedder", err)
		}
		return NewRemoteProvider(embedder, "ollama:"+config.EmbeddingModel, config.EmbeddingDimension), nil

	default:
		return nil, helper.NewError("embedding provider", fmt.Errorf("unsupported embedder: %s (supported: local, openai, ollama)", config.Embedder))
	}
}
