package resolver

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// CanonicalName case-folds name, drops punctuation and strips trailing legal
// suffixes such as "Inc" or "Corp". A name that consists only of suffixes is
// kept as is.
func (r *Resolver) CanonicalName(name string) string {
	mapped := strings.Map(func(c rune) rune {
		if unicode.IsLetter(c) || unicode.IsDigit(c) {
			return unicode.ToLower(c)
		}
		if c == '&' {
			return c
		}
		return ' '
	}, name)
	tokens := strings.Fields(mapped)

	for len(tokens) > 1 && r.suffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// BlockingKey is the first token of a canonical name. Only entities sharing
// a blocking key are compared.
func BlockingKey(canonical string) string {
	first, _, _ := strings.Cut(canonical, " ")
	return first
}

// Similarity is the larger of the normalized edit distance similarity and
// the token Jaccard similarity of two canonical names.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	edit := 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)

	return max(edit, jaccard(strings.Fields(a), strings.Fields(b)))
}

func jaccard(a, b []string) float64 {
	set := make(map[string]int, len(a)+len(b))
	for _, t := range a {
		set[t] |= 1
	}
	for _, t := range b {
		set[t] |= 2
	}
	if len(set) == 0 {
		return 0
	}
	both := 0
	for _, v := range set {
		if v == 3 {
			both++
		}
	}
	return float64(both) / float64(len(set))
}
