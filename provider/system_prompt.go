package provider

import (
	"strings"
	"time"

	"github.com/openai/openai-go/v3"

	"chatmcp/model"
)

const promptTimeLayout = "Monday, 2 January 2006 15:04 MST"

// BuildSystemPrompt joins the static instructions with what is known about
// the user and the current time.
func BuildSystemPrompt(instructions string, facts []string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(instructions))

	var kept []string
	for _, f := range facts {
		if f = strings.TrimSpace(f); f != "" {
			kept = append(kept, f)
		}
	}
	if len(kept) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Known facts about the user:\n")
		for _, f := range kept {
			sb.WriteString("- ")
			sb.WriteString(f)
			sb.WriteString("\n")
		}
	}

	if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
		sb.WriteString("\n")
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString("Current date and time: ")
	sb.WriteString(now.Format(promptTimeLayout))
	return sb.String()
}

// withSystemPrompt puts the dynamic prompt first. A leading system message
// in history supplies the instructions and is replaced rather than
// duplicated.
func withSystemPrompt(history []model.Message, wire []openai.ChatCompletionMessageParamUnion, fallback string, facts []string, now time.Time) []openai.ChatCompletionMessageParamUnion {
	instructions := fallback
	if len(history) > 0 && history[0].Role == model.RoleSystem {
		if text, ok := history[0].Content.Text(); ok {
			instructions = text
			if len(wire) > 0 && wire[0].OfSystem != nil {
				wire = wire[1:]
			}
		}
	}

	prompt := openai.SystemMessage(BuildSystemPrompt(instructions, facts, now))
	return append([]openai.ChatCompletionMessageParamUnion{prompt}, wire...)
}
