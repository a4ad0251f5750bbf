package model

import (
	"strings"
	"unicode"
)

// NamePolicy decides which entity names may enter the graph. It is applied
// once at the ingestion boundary and consulted by the resolver so that
// placeholder names are never merged into real entities.
type NamePolicy struct {
	disallowed map[string]struct{}
	minLength  int
}

// NewNamePolicy builds a policy from the configured disallowed names.
func NewNamePolicy(config PolicyConfig) *NamePolicy {
	p := &NamePolicy{
		disallowed: make(map[string]struct{}, len(config.DisallowedNames)),
		minLength:  config.MinNameLength,
	}
	for _, name := range config.DisallowedNames {
		p.disallowed[NormalizeName(name)] = struct{}{}
	}
	return p
}

// Allowed reports whether name may be stored. Applying the policy to an
// already accepted name always yields the same answer.
func (p *NamePolicy) Allowed(name string) bool {
	if p == nil {
		return strings.TrimSpace(name) != ""
	}
	normalized := NormalizeName(name)
	if len([]rune(normalized)) < p.minLength || normalized == "" {
		return false
	}
	if _, ok := p.disallowed[normalized]; ok {
		return false
	}
	hasLetterOrDigit := false
	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasLetterOrDigit = true
			break
		}
	}
	return hasLetterOrDigit
}

// Reason returns a short explanation for a rejected name.
func (p *NamePolicy) Reason(name string) string {
	normalized := NormalizeName(name)
	switch {
	case normalized == "":
		return "empty name"
	case p != nil && len([]rune(normalized)) < p.minLength:
		return "name too short"
	case p != nil:
		if _, ok := p.disallowed[normalized]; ok {
			return "placeholder name"
		}
	}
	return "name has no letters or digits"
}
