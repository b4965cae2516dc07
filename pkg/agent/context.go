package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vheckthor/goose-sub001/pkg/conversation"
	"github.com/vheckthor/goose-sub001/pkg/extension"
	"github.com/vheckthor/goose-sub001/pkg/message"
)

// statusToolName is the pseudo-tool the status exchange is attributed to.
const statusToolName = "platform__extension_status"

// summarizerPrompt asks the model to compact the older half of a
// conversation into a dense summary.
const summarizerPrompt = "You are summarizing a conversation history for context compaction. " +
	"Create a dense, comprehensive summary of the following conversation that preserves:\n" +
	"- Key decisions and outcomes\n" +
	"- Important code/files that were created or modified\n" +
	"- Current state of any ongoing tasks\n" +
	"- Any instructions or preferences the user expressed\n\n" +
	"Be thorough but concise. This summary will replace the original messages.\n\n" +
	"CONVERSATION TO SUMMARIZE:\n"

// enforceContextLimit returns the history to send, reduced per the
// configured strategy when the estimate is over budget. Under budget it
// returns the history unchanged, so repeated calls are stable.
func (a *Agent) enforceContextLimit(ctx context.Context, system string, history []message.Message, tools []extension.Tool) ([]message.Message, error) {
	limit := a.cfg.Model.EstimatedLimit()
	total := a.cfg.Counter.CountEverything(system, history, tools, nil)
	if total <= limit {
		return history, nil
	}

	switch a.cfg.Strategy {
	case StrategyPassThrough:
		// Deliberately oversized; reactive truncation handles rejection.
		return history, nil
	case StrategySummarizeOldest:
		return a.summarizeOldest(ctx, history, total, limit)
	default:
		slog.Info("Truncating conversation", "estimatedTokens", total, "limit", limit)
		return conversation.DropMessages(history, total, limit, a.countMessage)
	}
}

// truncateHistory is the reactive path: the provider rejected the prompt
// even though the estimate fit, so cut deeper than the estimate suggests.
func (a *Agent) truncateHistory(system string, history []message.Message, tools []extension.Tool) ([]message.Message, error) {
	total := a.cfg.Counter.CountEverything(system, history, tools, nil)
	target := a.cfg.Model.EstimatedLimit()
	if reduced := total * 3 / 4; reduced < target {
		target = reduced
	}
	slog.Info("Reactive truncation", "estimatedTokens", total, "target", target)
	return conversation.DropMessages(history, total, target, a.countMessage)
}

// summarizeOldest replaces the older half of the conversation with a
// model-written summary, splitting at interaction granularity so no tool
// request is separated from its response.
func (a *Agent) summarizeOldest(ctx context.Context, history []message.Message, total, limit int) ([]message.Message, error) {
	conv, err := conversation.Parse(history, a.countMessage)
	if err != nil {
		return nil, fmt.Errorf("parsing history for summarization: %w", err)
	}
	split := len(conv.Interactions) / 2
	if split == 0 {
		return conversation.DropMessages(history, total, limit, a.countMessage)
	}

	older := &conversation.Conversation{Interactions: conv.Interactions[:split]}
	newer := &conversation.Conversation{Interactions: conv.Interactions[split:]}

	prompt := summarizerPrompt
	for _, msg := range older.Render() {
		prompt += fmt.Sprintf("[%s] %s\n", msg.Role, msg.Text())
	}

	reply, _, err := a.cfg.Provider.Complete(ctx, "You are a conversation summarizer.",
		[]message.Message{message.NewUser(prompt)}, nil)
	if err != nil {
		slog.Warn("Summarization failed, dropping oldest instead", "error", err)
		return conversation.DropMessages(history, total, limit, a.countMessage)
	}
	summary := reply.Text()
	if summary == "" {
		return conversation.DropMessages(history, total, limit, a.countMessage)
	}

	slog.Info("Compacted conversation", "summarizedInteractions", split)
	out := []message.Message{
		message.NewUser("Summary of the earlier conversation:\n" + summary),
		message.NewAssistant("Understood. Continuing from that summary."),
	}
	out = append(out, newer.Render()...)

	// The summary itself may still not fit; fall back to dropping.
	if a.cfg.Counter.CountEverything("", out, nil, nil) > limit {
		return conversation.DropMessages(out, a.cfg.Counter.CountEverything("", out, nil, nil), limit, a.countMessage)
	}
	return out, nil
}

func (a *Agent) countMessage(m message.Message) int {
	return a.cfg.Counter.CountMessage(m)
}

// statusMessages renders active extension resources as a synthesized tool
// request/response exchange appended to the outgoing prompt, so the model
// sees extension state as prior tool output. Resources arrive newest first;
// when the set exceeds the remaining budget, older resources are dropped
// before the conversation itself is touched.
func (a *Agent) statusMessages(budget int) []message.Message {
	resources := a.cfg.Extensions.ActiveResources()
	if len(resources) == 0 || budget <= 0 {
		return nil
	}

	var content []message.Content
	used := 0
	for _, res := range resources {
		entry := fmt.Sprintf("%s (%s)\n%s", res.Name, res.URI, res.Content)
		cost := a.cfg.Counter.CountTokens(entry)
		if used+cost > budget {
			break
		}
		content = append(content, message.TextItem(entry))
		used += cost
	}
	if len(content) == 0 {
		return nil
	}

	id := "status-" + uuid.New().String()
	request := message.New(message.RoleAssistant).WithContent(
		message.ToolRequestItem(id, message.ToolCall{Name: statusToolName, Arguments: map[string]any{}}))
	response := message.New(message.RoleUser).WithContent(
		message.ToolResponseItem(id, content))
	return []message.Message{request, response}
}

// statusBudget is the token headroom left after the real prompt content.
func (a *Agent) statusBudget(system string, history []message.Message, tools []extension.Tool) int {
	return a.cfg.Model.EstimatedLimit() - a.cfg.Counter.CountEverything(system, history, tools, nil)
}
