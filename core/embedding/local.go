package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/siherrmann/newsgraph/helper"
)

// LocalProvider runs a sentence transformer in process with hugot. The
// default all-MiniLM-L6-v2 model produces 384-dimensional embeddings.
type LocalProvider struct {
	mu        sync.Mutex
	session   *hugot.Session
	run       func(texts []string) ([][]float32, error)
	name      string
	dimension int
}

// NewLocalProvider downloads the model into modelDir if needed and starts a
// pure Go hugot session.
func NewLocalProvider(modelDir string, modelName string, dimension int) (*LocalProvider, error) {
	if modelName == "" {
		modelName = helper.DefaultLocalEmbeddingModel
	}
	modelPath, err := helper.PrepareModel(modelDir, modelName, "")
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "newsgraph-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create feature extraction pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create feature extraction pipeline: %w", err)
	}

	return &LocalProvider{
		session: session,
		run: func(texts []string) ([][]float32, error) {
			result, err := pipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return result.Embeddings, nil
		},
		name:      "local:" + modelName,
		dimension: dimension,
	}, nil
}

// Embed runs the pipeline for a single text. The pipeline is not safe for
// concurrent use, calls are serialized.
func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	embeddings, err := p.run([]string{text})
	p.mu.Unlock()
	if err != nil {
		return nil, providerError(p.name, err)
	}
	if len(embeddings) == 0 {
		return nil, providerError(p.name, fmt.Errorf("no embedding generated"))
	}

	vec := embeddings[0]
	if err := checkDimension(p.name, vec, p.dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

func (p *LocalProvider) Dimension() int { return p.dimension }

func (p *LocalProvider) Name() string { return p.name }

// Close destroys the hugot session.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Destroy()
	p.session = nil
	return err
}
