package understanding

import "strings"

var synonyms = map[string][]string{
	"funding":     {"investment", "raised", "round"},
	"funded":      {"investors", "backed"},
	"investors":   {"funded", "backers"},
	"investor":    {"funded", "backer"},
	"acquired":    {"acquisition", "bought"},
	"acquisition": {"acquired", "bought"},
	"competitors": {"competes", "rivals"},
	"competitor":  {"competes", "rival"},
	"founder":     {"founded", "co-founder"},
	"founders":    {"founded", "co-founders"},
	"ceo":         {"chief", "executive", "leads"},
	"partners":    {"partnership", "collaborates"},
	"partnership": {"partners", "collaborates"},
	"startup":     {"company"},
	"startups":    {"companies"},
	"employees":   {"works", "staff"},
	"valuation":   {"valued", "worth"},
}

// Expand appends domain synonyms of the question's terms. Terms already in
// the question are not repeated and the order is deterministic.
func (u *Understander) Expand(question string) string {
	words := strings.FieldsFunc(strings.ToLower(question), isSeparator)
	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[w] = true
	}

	var extra []string
	for _, w := range words {
		for _, s := range synonyms[w] {
			if present[s] {
				continue
			}
			present[s] = true
			extra = append(extra, s)
		}
	}

	if len(extra) == 0 {
		return question
	}
	return question + " " + strings.Join(extra, " ")
}
