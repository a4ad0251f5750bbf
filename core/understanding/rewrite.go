package understanding

import (
	"strings"
	"unicode"

	"github.com/siherrmann/newsgraph/model"
)

var pronouns = map[string]string{
	"it":    "%s",
	"its":   "%s's",
	"it's":  "%s is",
	"they":  "%s",
	"them":  "%s",
	"their": "%s's",
	"he":    "%s",
	"him":   "%s",
	"his":   "%s's",
	"she":   "%s",
	"her":   "%s's",
}

var followUpOpeners = []string{"what about", "how about", "and ", "also ", "what else"}

var questionWords = map[string]bool{
	"who": true, "what": true, "which": true, "when": true, "where": true, "why": true,
	"how": true, "is": true, "are": true, "does": true, "do": true, "did": true,
	"tell": true, "list": true, "show": true, "name": true, "compare": true, "and": true,
	"the": true, "a": true, "an": true, "i": true,
}

// Rewrite resolves a short follow-up against the subject of the last turn.
// Pronouns are replaced with the subject; a follow-up without a pronoun gets
// "regarding <subject>" appended. Questions that name their own subject and
// questions without history are returned unchanged.
func (u *Understander) Rewrite(question string, history []model.Turn) string {
	question = strings.TrimSpace(question)
	if question == "" || len(history) == 0 {
		return question
	}

	words := strings.Fields(question)
	if len(words) > u.config.FollowUpMaxWords {
		return question
	}
	if len(capitalizedPhrases(question)) > 0 {
		return question
	}

	subject := Subject(history[len(history)-1])
	if subject == "" {
		return question
	}

	replaced := false
	for i, w := range words {
		core, trailing := splitTrailing(w)
		template, ok := pronouns[strings.ToLower(core)]
		if !ok {
			continue
		}
		words[i] = strings.Replace(template, "%s", subject, 1) + trailing
		replaced = true
	}
	if replaced {
		return strings.Join(words, " ")
	}

	if isFollowUp(question) {
		trimmed := strings.TrimRightFunc(question, unicode.IsPunct)
		suffix := question[len(trimmed):]
		return trimmed + " regarding " + subject + suffix
	}
	return question
}

// Subject returns the main entity of a turn: the first recorded entity name,
// else the first capitalized phrase of the resolved question.
func Subject(turn model.Turn) string {
	for _, e := range turn.Entities {
		if strings.TrimSpace(e) != "" {
			return strings.TrimSpace(e)
		}
	}
	question := turn.Resolved
	if question == "" {
		question = turn.Question
	}
	phrases := capitalizedPhrases(question)
	if len(phrases) == 0 {
		return ""
	}
	return phrases[0]
}

func isFollowUp(question string) bool {
	lower := strings.ToLower(question)
	for _, opener := range followUpOpeners {
		if strings.HasPrefix(lower, opener) {
			return true
		}
	}
	return false
}

// capitalizedPhrases returns runs of capitalized words. Question and filler
// words are ignored so "Who funded Acme Corp?" yields "Acme Corp".
func capitalizedPhrases(text string) []string {
	var (
		phrases []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			phrases = append(phrases, strings.Join(current, " "))
			current = nil
		}
	}

	for _, w := range strings.Fields(text) {
		core, trailing := splitTrailing(w)
		if core == "" {
			flush()
			continue
		}
		first := []rune(core)[0]
		isCapital := unicode.IsUpper(first) || (unicode.IsDigit(first) && len(current) > 0)
		if isCapital && !questionWords[strings.ToLower(core)] {
			current = append(current, core)
		} else {
			flush()
		}
		if trailing != "" && trailing != "'s" {
			flush()
		}
	}
	flush()
	return phrases
}

// splitTrailing separates trailing punctuation and a possessive suffix.
func splitTrailing(word string) (string, string) {
	core := strings.TrimRightFunc(word, func(r rune) bool {
		return unicode.IsPunct(r) && r != '\''
	})
	trailing := word[len(core):]
	if strings.HasSuffix(core, "'s") && strings.ToLower(core) != "it's" {
		return core[:len(core)-2], "'s" + trailing
	}
	return core, trailing
}
