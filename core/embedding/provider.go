package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// Provider turns text into a fixed-width vector. A failed call returns an
// error wrapping model.ErrProviderFailed, never a zero vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// EmbedFunc is the function form of a provider.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// FuncProvider adapts an EmbedFunc. It is mostly used for tests and custom
// backends.
type FuncProvider struct {
	name      string
	dimension int
	embed     EmbedFunc
}

// NewFuncProvider wraps fn as a provider with the given dimension.
func NewFuncProvider(name string, dimension int, fn EmbedFunc) *FuncProvider {
	return &FuncProvider{name: name, dimension: dimension, embed: fn}
}

func (p *FuncProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.embed(ctx, text)
	if err != nil {
		return nil, providerError(p.name, err)
	}
	if err := checkDimension(p.name, vec, p.dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

func (p *FuncProvider) Dimension() int { return p.dimension }

func (p *FuncProvider) Name() string { return p.name }

// RetryingProvider retries a provider with a shared retry policy.
type RetryingProvider struct {
	Provider
	policy helper.RetryPolicy
}

// WithRetry wraps p so every Embed call follows policy. Dimension mismatches
// are not retried.
func WithRetry(p Provider, policy helper.RetryPolicy) *RetryingProvider {
	if policy.Retryable == nil {
		policy.Retryable = func(err error) bool { return !errors.Is(err, ErrDimensionMismatch) }
	}
	return &RetryingProvider{Provider: p, policy: policy}
}

func (r *RetryingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		v, err := r.Provider.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// ErrDimensionMismatch is returned when a backend produces a vector of an
// unexpected width.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

func checkDimension(name string, vec []float32, dimension int) error {
	if len(vec) == 0 {
		return providerError(name, fmt.Errorf("empty embedding"))
	}
	if dimension > 0 && len(vec) != dimension {
		return helper.NewError(name, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), dimension))
	}
	return nil
}

func providerError(name string, err error) error {
	if errors.Is(err, model.ErrProviderFailed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return helper.NewError(name, err)
	}
	return helper.NewError(name, fmt.Errorf("%w: %w", model.ErrProviderFailed, err))
}
