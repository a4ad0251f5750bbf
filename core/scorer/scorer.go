// Package scorer computes relationship strengths from mention evidence.
package scorer

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/core/maintenance"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// Evidence is the input of the strength formula.
type Evidence struct {
	Mentions      int
	LastMentionAt time.Time
	DirectQuote   bool
	MainSubject   bool
}

// EvidenceOf extracts the evidence stored on r.
func EvidenceOf(r *model.Relationship) Evidence {
	return Evidence{
		Mentions:      r.SupportingMentions,
		LastMentionAt: r.LastMentionAt,
		DirectQuote:   r.DirectQuote,
		MainSubject:   r.MainSubject,
	}
}

// Scorer computes and persists relationship strengths.
type Scorer struct {
	config model.ScoringConfig
	store  graph.Store
	guard  maintenance.Guard
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Scorer.
type Option func(*Scorer)

// WithClock replaces time.Now, used for recency.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// NewScorer creates a scorer. store and guard are only needed for
// RescanAndUpdateAll.
func NewScorer(store graph.Store, guard maintenance.Guard, config model.ScoringConfig, logger *slog.Logger, opts ...Option) *Scorer {
	if guard == nil {
		guard = maintenance.NewLocalGuard()
	}
	s := &Scorer{
		config: config,
		store:  store,
		guard:  guard,
		logger: helper.OrDiscard(logger).With(slog.String("component", "scorer")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns the strength in [0, 10] supported by ev.
func (s *Scorer) Score(ev Evidence) float64 {
	c := s.config
	total := c.FrequencyWeight + c.RecencyWeight + c.CredibilityWeight + c.ContextWeight
	if total <= 0 {
		return 0
	}

	frequency := 0.0
	if c.SaturationMentions > 0 && ev.Mentions > 0 {
		frequency = math.Min(1, float64(ev.Mentions)/float64(c.SaturationMentions))
	}

	credibility := c.InferredCredibility
	if ev.DirectQuote {
		credibility = 1
	}
	subject := c.IncidentalContext
	if ev.MainSubject {
		subject = 1
	}

	weighted := c.FrequencyWeight*frequency +
		c.RecencyWeight*s.recency(ev.LastMentionAt) +
		c.CredibilityWeight*credibility +
		c.ContextWeight*subject

	return model.ClampStrength(model.MaxStrength * weighted / total)
}

// recency halves every half-life. A missing mention time counts as no recency.
func (s *Scorer) recency(last time.Time) float64 {
	if last.IsZero() {
		return 0
	}
	age := s.now().Sub(last)
	if age <= 0 || s.config.RecencyHalfLife <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(s.config.RecencyHalfLife))
}

// Apply recomputes r.Strength in place and reports whether it changed. The
// strength never drops below its previous value unless r is contradicted.
func (s *Scorer) Apply(r *model.Relationship) (changed bool, keptPrevious bool) {
	previous := model.ClampStrength(r.Strength)
	score := s.Score(EvidenceOf(r))

	next := score
	if !r.Contradicted && previous > score {
		next = previous
		keptPrevious = true
	}
	r.Strength = next
	return next != previous, keptPrevious
}

// Combine folds incoming evidence for the same (source, type, target) into
// existing. existing may be nil for a new edge; provided is an explicit
// upstream strength. The result is a new relationship.
func (s *Scorer) Combine(existing *model.Relationship, incoming *model.Relationship, provided *float64) *model.Relationship {
	if existing == nil {
		out := incoming.Clone()
		if out.SupportingMentions < 1 {
			out.SupportingMentions = 1
		}
		score := s.Score(EvidenceOf(out))
		if provided != nil && !math.IsNaN(*provided) {
			out.Strength = model.ClampStrength(*provided)
		} else {
			out.Strength = score
		}
		return out
	}

	out := existing.Clone()
	mentions := incoming.SupportingMentions
	if mentions < 1 {
		mentions = 1
	}
	out.SupportingMentions += mentions
	if incoming.LastMentionAt.After(out.LastMentionAt) {
		out.LastMentionAt = incoming.LastMentionAt
	}
	out.DirectQuote = out.DirectQuote || incoming.DirectQuote
	out.MainSubject = out.MainSubject || incoming.MainSubject
	out.Contradicted = out.Contradicted || incoming.Contradicted
	if len(incoming.Description) > len(out.Description) {
		out.Description = incoming.Description
	}

	score := s.Score(EvidenceOf(out))
	if out.Contradicted {
		out.Strength = score
		return out
	}
	strength := math.Max(model.ClampStrength(existing.Strength), score)
	if incoming.Strength > 0 {
		strength = math.Max(strength, model.ClampStrength(incoming.Strength))
	}
	if provided != nil && !math.IsNaN(*provided) {
		strength = math.Max(strength, model.ClampStrength(*provided))
	}
	out.Strength = strength
	return out
}

// RescanAndUpdateAll rescores every relationship under the maintenance guard
// and persists the changed ones.
func (s *Scorer) RescanAndUpdateAll(ctx context.Context) (model.ScoringStats, error) {
	stats := model.ScoringStats{}

	err := maintenance.Run(ctx, s.guard, func(ctx context.Context) error {
		rels, err := s.store.ListRelationships(ctx)
		if err != nil {
			return helper.NewError("list relationships", err)
		}

		for _, r := range rels {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats.Scanned++

			changed, kept := s.Apply(r)
			if kept {
				stats.KeptPrevious++
			}
			if !changed {
				stats.Unchanged++
				continue
			}
			if err := s.store.UpsertRelationship(ctx, r); err != nil {
				return helper.NewError("update relationship "+r.ID.String(), err)
			}
			stats.Updated++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	s.logger.Info("Rescored relationships",
		slog.Int("scanned", stats.Scanned),
		slog.Int("updated", stats.Updated),
		slog.Int("kept_previous", stats.KeptPrevious),
	)
	return stats, nil
}
