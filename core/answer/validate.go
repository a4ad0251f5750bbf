package answer

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/siherrmann/newsgraph/model"
)

var citationPattern = regexp.MustCompile(`\[([FD]\d+)\]`)

// Citations returns the distinct refs cited in text in order of appearance.
func Citations(text string) []string {
	var refs []string
	seen := map[string]bool{}
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			refs = append(refs, m[1])
		}
	}
	return refs
}

// sentenceStarters are capitalized words that open sentences and are never
// entity names on their own.
var sentenceStarters = map[string]bool{
	"The": true, "A": true, "An": true, "In": true, "On": true, "At": true, "It": true,
	"This": true, "That": true, "These": true, "Those": true, "There": true, "Based": true,
	"According": true, "However": true, "Also": true, "Both": true, "No": true, "Yes": true,
	"I": true, "They": true, "He": true, "She": true, "Its": true, "Their": true, "We": true,
}

// MissingEntityNames returns the names in answer that do not occur verbatim
// in the context items. A name the question mentions but the context does
// not is still missing. A name is a run of capitalized words; a single
// capitalized word opening a sentence is not treated as a name.
func MissingEntityNames(answer string, items []model.ContextItem) []string {
	var haystack strings.Builder
	for _, item := range items {
		haystack.WriteString("\n")
		haystack.WriteString(item.Text)
		if item.Fact != nil {
			haystack.WriteString("\n" + item.Fact.SourceName + "\n" + item.Fact.TargetName)
		}
	}
	known := haystack.String()

	var missing []string
	seen := map[string]bool{}
	for _, name := range candidateNames(citationPattern.ReplaceAllString(answer, " ")) {
		if seen[name] || strings.Contains(known, name) {
			continue
		}
		seen[name] = true
		missing = append(missing, name)
	}
	return missing
}

func candidateNames(text string) []string {
	var (
		names         []string
		current       []string
		currentAtOpen bool
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		if !(len(current) == 1 && (currentAtOpen || sentenceStarters[current[0]])) {
			names = append(names, strings.Join(current, " "))
		}
		current = nil
	}

	sentenceStart := true
	for _, w := range strings.Fields(text) {
		core := strings.TrimFunc(w, func(r rune) bool { return unicode.IsPunct(r) && r != '&' && r != '-' })
		core = strings.TrimSuffix(core, "'s")
		capitalized := core != "" && unicode.IsUpper([]rune(core)[0])

		if capitalized && !(len(current) == 0 && sentenceStart && sentenceStarters[core]) {
			if len(current) == 0 {
				currentAtOpen = sentenceStart
			}
			current = append(current, core)
		} else {
			flush()
		}

		sentenceStart = strings.HasSuffix(w, ".") || strings.HasSuffix(w, "!") || strings.HasSuffix(w, "?") || strings.HasSuffix(w, ":")
		if sentenceStart || strings.HasSuffix(w, ",") || strings.HasSuffix(w, ";") || strings.HasSuffix(w, ")") {
			flush()
		}
	}
	flush()
	return names
}
