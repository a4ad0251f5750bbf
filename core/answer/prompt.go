package answer

import (
	"fmt"
	"strings"

	"github.com/siherrmann/newsgraph/model"
)

// SystemPrompt holds the generation rules sent with every answer request.
const SystemPrompt = `You answer questions about companies, people and investors from a news knowledge graph.
Rules:
- Answer only from the context below. If the context does not contain the answer, say so.
- Cite every statement with the tag of the context entry it comes from, e.g. [F1] or [D2].
- Use entity names exactly as they are written in the context.
- Never invent names or placeholders such as "Company A" or "Person X".
Be concise and direct.`

const maxHistoryAnswerRunes = 200

// BuildPrompt renders the tagged context, condensed history and question.
// Facts come first, then document excerpts, each in fused order.
func BuildPrompt(question string, items []model.ContextItem, history []model.Turn, historyTurns int) string {
	var facts, docs []string
	for _, item := range items {
		line := fmt.Sprintf("[%s] %s", item.Ref, strings.TrimSpace(item.Text))
		if item.Kind == model.ContextKindFact {
			facts = append(facts, line)
		} else {
			docs = append(docs, line)
		}
	}

	var sb strings.Builder
	if len(facts) > 0 {
		sb.WriteString("## Knowledge graph facts\n")
		sb.WriteString(strings.Join(facts, "\n"))
		sb.WriteString("\n\n")
	}
	if len(docs) > 0 {
		sb.WriteString("## Article excerpts\n")
		sb.WriteString(strings.Join(docs, "\n"))
		sb.WriteString("\n\n")
	}

	if condensed := CondenseHistory(history, historyTurns); condensed != "" {
		sb.WriteString("## Conversation so far\n")
		sb.WriteString(condensed)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\n## Answer\n")
	return sb.String()
}

// CondenseHistory keeps the last n turns with shortened answers.
func CondenseHistory(history []model.Turn, n int) string {
	if n <= 0 || len(history) == 0 {
		return ""
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}

	lines := make([]string, 0, 2*len(history))
	for _, turn := range history {
		question := turn.Resolved
		if question == "" {
			question = turn.Question
		}
		lines = append(lines, "Q: "+question, "A: "+truncate(turn.Answer, maxHistoryAnswerRunes))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}
