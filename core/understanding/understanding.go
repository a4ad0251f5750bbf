// Package understanding classifies questions, rewrites follow-ups and expands
// queries with domain synonyms.
package understanding

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/siherrmann/newsgraph/core/llm"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

const ruleConfidence = 0.9
const anchorConfidence = 0.6

type rule struct {
	intent  model.Intent
	pattern *regexp.Regexp
}

var relationTerms = `(fund(ed|s|ing)?|funders?|invest(ed|s|ors?|ments?)?|backers?|backed|acquir(ed|es|e|ing)|acquisitions?|bought|partner(s|ed|ships?)?|competitors?|compet(es|ing|e)|rivals?|founders?|founded|co-?founders?|works? (at|for)|employ(s|ees|ed)|ceo|cto|cfo|leads?|led|advis(es|ors?|ed)|regulat(es|ors?|ed)|supports?|opposes?|collaborat(es|ed|ors?|ion))`

// Rules are evaluated in order; the first match wins.
var rules = []rule{
	{model.IntentPath, regexp.MustCompile(`\b(connected|connection|related|link(ed)?|path|relationship) (to|with|between)\b|\bhow (is|are) .+ (connected|related|linked)\b`)},
	{model.IntentMultiHop, regexp.MustCompile(`\b` + relationTerms + `\b.*\b(that|which|who|whose)\b.*\b` + relationTerms + `\b`)},
	{model.IntentAggregation, regexp.MustCompile(`\b(how many|number of|count|list (all|every)|all (the )?(companies|investors|people|startups)|top \d+|most (active|funded)|rank(ed|ing)?)\b`)},
	{model.IntentRelationship, regexp.MustCompile(`\b` + relationTerms + `\b`)},
	{model.IntentSemantic, regexp.MustCompile(`\b(why|explain|trends?|news|latest|recent|happening|impact|what are|how does|how do)\b`)},
	{model.IntentEntityLookup, regexp.MustCompile(`^(who|what) (is|was) \S|^(tell me about|describe|profile of|info(rmation)? (on|about))\b`)},
}

// Understander turns a raw question into a classified, rewritten and
// expanded query.
type Understander struct {
	llm    llm.Provider
	config model.UnderstandingConfig
	logger *slog.Logger
}

// NewUnderstander creates an understander. provider may be nil, in which case
// the LLM fallback is skipped.
func NewUnderstander(provider llm.Provider, config model.UnderstandingConfig, logger *slog.Logger) *Understander {
	return &Understander{
		llm:    provider,
		config: config,
		logger: helper.OrDiscard(logger).With(slog.String("component", "understanding")),
	}
}

// Classify rewrites follow-ups against history, then decides the intent:
// ordered rules first, the LLM only when no rule matched, then anchor
// keywords. A question is ambiguous only when all three are inconclusive.
func (u *Understander) Classify(ctx context.Context, question string, history []model.Turn) (model.Classification, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return model.Classification{}, helper.NewError("classify", model.ErrEmptyQuestion)
	}

	rewritten := u.Rewrite(question, history)
	c := model.Classification{
		Question:  question,
		Rewritten: rewritten,
		Expanded:  u.Expand(rewritten),
	}
	lower := strings.ToLower(rewritten)

	if intent, ok := MatchRule(lower); ok {
		c.Intent, c.Confidence, c.Method = intent, ruleConfidence, model.MethodRule
		return c, nil
	}

	if u.llm != nil {
		intent, confidence, err := u.classifyWithLLM(ctx, rewritten)
		if err != nil {
			if ctx.Err() != nil {
				return c, ctx.Err()
			}
			u.logger.Warn("LLM intent classification failed", slog.String("error", err.Error()))
		} else if intent != model.IntentAmbiguous && confidence >= u.config.LLMMinConfidence {
			c.Intent, c.Confidence, c.Method = intent, confidence, model.MethodLLM
			return c, nil
		}
	}

	if u.hasAnchor(lower) {
		c.Intent, c.Confidence, c.Method = model.IntentSemantic, anchorConfidence, model.MethodAnchor
		return c, nil
	}

	c.Intent, c.Confidence, c.Method = model.IntentAmbiguous, 0, model.MethodNone
	c.Clarification = u.config.ClarificationMessage
	return c, nil
}

// MatchRule applies the ordered rules to a lower cased question.
func MatchRule(lower string) (model.Intent, bool) {
	for _, r := range rules {
		if r.pattern.MatchString(lower) {
			return r.intent, true
		}
	}
	return "", false
}

func (u *Understander) hasAnchor(lower string) bool {
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(lower, isSeparator) {
		words[w] = true
	}
	for _, keyword := range u.config.AnchorKeywords {
		if words[strings.ToLower(keyword)] {
			return true
		}
	}
	return false
}

func (u *Understander) classifyWithLLM(ctx context.Context, question string) (model.Intent, float64, error) {
	names := make([]string, 0, len(model.Intents()))
	for _, i := range model.Intents() {
		names = append(names, string(i))
	}

	prompt := fmt.Sprintf(`Classify the question about a news knowledge graph of companies, people and investors.

Intents: %s

Question: %s

Respond with exactly two lines:
intent: <one of the intents>
confidence: <number between 0 and 1>`, strings.Join(names, ", "), question)

	out, err := u.llm.Complete(ctx, prompt, llm.Options{Temperature: 0, MaxTokens: 20})
	if err != nil {
		return "", 0, err
	}
	intent, confidence, ok := ParseClassification(out)
	if !ok {
		return "", 0, helper.NewError("parse classification", fmt.Errorf("unexpected output %q", out))
	}
	return intent, confidence, nil
}

// ParseClassification reads "intent: X" and "confidence: Y" lines. Unknown
// intents are rejected; a missing confidence counts as zero.
func ParseClassification(out string) (model.Intent, float64, bool) {
	var (
		intent     model.Intent
		confidence float64
	)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "intent":
			intent = model.Intent(strings.ToLower(strings.Trim(value, `"'.`)))
		case "confidence":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				confidence = f
			}
		}
	}

	for _, known := range model.Intents() {
		if known == intent {
			return intent, confidence, true
		}
	}
	return "", 0, false
}

func isSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
}
