// Package llm provides the completion interface used by query understanding
// and answer generation, with an adapter for eino chat models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// Options tune a single completion.
type Options struct {
	Temperature float32
	MaxTokens   int
	// System is sent as system message when set.
	System string
}

// Provider completes a prompt.
type Provider interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// CompleteFunc is the function form of a provider.
type CompleteFunc func(ctx context.Context, prompt string, opts Options) (string, error)

// FuncProvider adapts a CompleteFunc.
type FuncProvider struct {
	complete CompleteFunc
}

func NewFuncProvider(fn CompleteFunc) *FuncProvider {
	return &FuncProvider{complete: fn}
}

func (p *FuncProvider) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	return p.complete(ctx, prompt, opts)
}

// Generator is the part of an eino chat model used here.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)
}

// ChatProvider sends prompts to an eino chat model.
type ChatProvider struct {
	model Generator
	name  string
}

// NewChatProvider wraps an eino chat model.
func NewChatProvider(m Generator, name string) *ChatProvider {
	return &ChatProvider{model: m, name: name}
}

func (p *ChatProvider) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	messages := make([]*schema.Message, 0, 2)
	if opts.System != "" {
		messages = append(messages, schema.SystemMessage(opts.System))
	}
	messages = append(messages, schema.UserMessage(prompt))

	var callOpts []einomodel.Option
	if opts.Temperature > 0 {
		callOpts = append(callOpts, einomodel.WithTemperature(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, einomodel.WithMaxTokens(opts.MaxTokens))
	}

	resp, err := p.model.Generate(ctx, messages, callOpts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", helper.NewError(p.name+" generate", ctx.Err())
		}
		return "", helper.NewError(p.name+" generate", fmt.Errorf("%w: %w", model.ErrProviderFailed, err))
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", helper.NewError(p.name+" generate", fmt.Errorf("%w: empty completion", model.ErrProviderFailed))
	}
	return resp.Content, nil
}

// NewProvider builds the chat provider selected by config.LLM.
func NewProvider(ctx context.Context, config *helper.ProviderConfig) (Provider, error) {
	switch config.LLM {
	case "openai":
		if config.APIKey == "" {
			return nil, helper.NewError("openai chat model", fmt.Errorf("api key is required"))
		}
		m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			Model:  config.ChatModel,
			APIKey: config.APIKey,
		})
		if err != nil {
			return nil, helper.NewError("openai chat model", err)
		}
		return NewChatProvider(m, "openai:"+config.ChatModel), nil

	case "ollama":
		baseURL := config.BaseURL
		if baseURL == "" {
			baseURL = helper.DefaultOllamaURL
		}
		m, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   config.ChatModel,
		})
		if err != nil {
			return nil, helper.NewError("ollama chat model", err)
		}
		return NewChatProvider(m, "ollama:"+config.ChatModel), nil

	default:
		return nil, helper.NewError("llm provider", fmt.Errorf("unsupported llm: %s (supported: openai, ollama)", config.LLM))
	}
}

// RetryingProvider applies a retry policy to every completion.
type RetryingProvider struct {
	provider Provider
	policy   helper.RetryPolicy
}

// WithRetry wraps p with policy. Cancellation is never retried.
func WithRetry(p Provider, policy helper.RetryPolicy) *RetryingProvider {
	if policy.Retryable == nil {
		policy.Retryable = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	return &RetryingProvider{provider: p, policy: policy}
}

func (r *RetryingProvider) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	var out string
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		s, err := r.provider.Complete(ctx, prompt, opts)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
