package agent

import (
	"fmt"
	"strings"
	"time"
)

const basePrompt = `You are a capable assistant with access to tools. Use the available tools to answer the user's questions and carry out their tasks. When a task is done, reply with the outcome in plain language.`

// systemPrompt assembles the prompt sent with every completion: base (or
// override), enabled extension instructions and frontend instructions.
// Extension resource state travels as a synthesized status exchange, not
// in the prompt.
func (a *Agent) systemPrompt() string {
	var sb strings.Builder
	if a.cfg.SystemPrompt != "" {
		sb.WriteString(a.cfg.SystemPrompt)
	} else {
		sb.WriteString(basePrompt)
	}
	sb.WriteString("\n\nThe current date is ")
	sb.WriteString(time.Now().Format("2006-01-02"))
	sb.WriteString(".")

	for _, info := range a.cfg.Extensions.GetExtensionsInfo() {
		if !info.Enabled || info.Instructions == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n\n## %s\n%s", info.Name, info.Instructions)
	}
	if a.cfg.FrontendInstructions != "" {
		sb.WriteString("\n\n## Frontend tools\n")
		sb.WriteString(a.cfg.FrontendInstructions)
	}
	return sb.String()
}
