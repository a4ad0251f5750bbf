// Package answer builds grounded prompts from fused context, calls the LLM
// and validates citations and entity names of the result.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/siherrmann/newsgraph/core/llm"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// CouldNotGenerate opens the fallback answer built from raw facts.
const CouldNotGenerate = "The answer could not be generated. Relevant facts from the knowledge graph:"

const (
	fullConfidence     = 1.0
	uncitedConfidence  = 0.8
	degradedConfidence = 0.5
)

// Generator produces cited answers.
type Generator struct {
	llm    llm.Provider
	config model.GenerationConfig
	logger *slog.Logger
}

// NewGenerator creates a generator. The provider should already carry the
// retry policy.
func NewGenerator(provider llm.Provider, config model.GenerationConfig, logger *slog.Logger) *Generator {
	return &Generator{
		llm:    provider,
		config: config,
		logger: helper.OrDiscard(logger).With(slog.String("component", "answer")),
	}
}

// Generate answers question from items. Empty context returns NoContextAnswer
// without calling the LLM. When the LLM fails the answer lists the raw
// context and the returned error is a *model.GenerationError; the answer is
// usable in both cases.
func (g *Generator) Generate(ctx context.Context, question string, items []model.ContextItem, history []model.Turn) (*model.Answer, error) {
	if len(items) == 0 {
		return &model.Answer{Text: model.NoContextAnswer, Sources: []model.Source{}}, nil
	}

	prompt := BuildPrompt(question, items, history, g.config.HistoryTurns)
	out, err := g.llm.Complete(ctx, prompt, llm.Options{
		System:      SystemPrompt,
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
	})
	if err == nil && strings.TrimSpace(out) == "" {
		err = fmt.Errorf("%w: empty answer", model.ErrProviderFailed)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Warn("Answer generation failed, returning raw facts", slog.String("error", err.Error()))
		return Fallback(items), &model.GenerationError{Err: err}
	}

	return g.validate(strings.TrimSpace(out), items), nil
}

func (g *Generator) validate(text string, items []model.ContextItem) *model.Answer {
	a := &model.Answer{Text: text, Generated: true, Confidence: fullConfidence}

	byRef := make(map[string]model.ContextItem, len(items))
	for _, item := range items {
		byRef[item.Ref] = item
	}

	unknownRefs := 0
	for _, ref := range Citations(text) {
		item, ok := byRef[ref]
		if !ok {
			unknownRefs++
			continue
		}
		a.Sources = append(a.Sources, SourceOf(item))
	}
	if len(a.Sources) == 0 {
		a.Sources = Sources(items)
		a.Confidence = uncitedConfidence
	}

	a.MissingEntities = MissingEntityNames(text, items)
	if len(a.MissingEntities) > 0 || unknownRefs > 0 {
		a.Degraded = true
		a.Confidence = degradedConfidence
		g.logger.Warn("Answer references names or tags missing from context",
			slog.Any("missing_entities", a.MissingEntities),
			slog.Int("unknown_refs", unknownRefs),
		)
	}
	return a
}

// Fallback lists the context as the answer when the LLM is unavailable.
func Fallback(items []model.ContextItem) *model.Answer {
	lines := []string{CouldNotGenerate}
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("- [%s] %s", item.Ref, item.Text))
	}
	return &model.Answer{
		Text:     strings.Join(lines, "\n"),
		Sources:  Sources(items),
		Degraded: true,
	}
}

// SourceOf converts a context item into a citation.
func SourceOf(item model.ContextItem) model.Source {
	s := model.Source{Ref: item.Ref, Kind: item.Kind, Text: item.Text}
	if item.Chunk != nil {
		s.DocumentID = item.Chunk.DocumentID
	}
	return s
}

// Sources converts all items into citations.
func Sources(items []model.ContextItem) []model.Source {
	sources := make([]model.Source, 0, len(items))
	for _, item := range items {
		sources = append(sources, SourceOf(item))
	}
	return sources
}
