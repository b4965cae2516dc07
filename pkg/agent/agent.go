// Package agent implements the conversation engine: it drives the reply
// loop against a model provider, routes tool requests to extensions or the
// frontend, and keeps the conversation inside the model's context window.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vheckthor/goose-sub001/pkg/conversation"
	"github.com/vheckthor/goose-sub001/pkg/extension"
	"github.com/vheckthor/goose-sub001/pkg/message"
	"github.com/vheckthor/goose-sub001/pkg/provider"
	"github.com/vheckthor/goose-sub001/pkg/token"
)

// Mode controls how tool requests are handled.
type Mode string

const (
	// ModeAuto executes every tool request without asking.
	ModeAuto Mode = "auto"
	// ModeApprove asks the user before executing each tool request.
	ModeApprove Mode = "approve"
	// ModeChat never executes tools; requests are acknowledged and skipped.
	ModeChat Mode = "chat"
	// ModeSmartApprove asks only for tool requests the engine cannot judge
	// as read-only; currently handled like ModeApprove.
	ModeSmartApprove Mode = "smart_approve"
)

// ContextStrategy selects how an over-budget conversation is reduced.
type ContextStrategy string

const (
	// StrategyDropOldest removes whole interactions oldest-first. This is
	// the default.
	StrategyDropOldest ContextStrategy = "drop_oldest"
	// StrategySummarizeOldest replaces the older half of the conversation
	// with a model-generated summary.
	StrategySummarizeOldest ContextStrategy = "summarize_oldest"
	// StrategyPassThrough sends the conversation unmodified and relies on
	// reactive truncation after the provider rejects it.
	StrategyPassThrough ContextStrategy = "pass_through"
)

// maxTruncationAttempts bounds context-overflow recovery within one reply.
const maxTruncationAttempts = 3

// contextExceededText is the terminal message emitted when truncation
// cannot bring the conversation under the limit.
const contextExceededText = "The conversation history exceeds the model's context window and could not be reduced enough to continue. Start a new session or summarize manually."

// Config wires an Agent. Provider, Extensions and Counter are required.
type Config struct {
	Provider   provider.Provider
	Model      provider.ModelConfig
	Extensions extension.Manager
	Counter    *token.Counter

	Mode     Mode
	Strategy ContextStrategy

	// SystemPrompt overrides the built-in prompt when set.
	SystemPrompt string

	// FrontendTools are executed by the caller, not by an extension. Their
	// requests stream out and the engine waits for SubmitToolResult.
	FrontendTools        []extension.Tool
	FrontendInstructions string

	// Toolshim steers models without native tool support: the catalog goes
	// into the prompt and tool calls are parsed out of the reply text.
	Toolshim bool

	// RecordUsage is called after each successful completion.
	RecordUsage func(model string, usage provider.Usage)
}

// Agent drives conversations. Safe for use by one reply at a time;
// confirmations and frontend tool results may be submitted from any
// goroutine.
type Agent struct {
	cfg      Config
	broker   *broker
	frontend map[string]bool
}

// New creates an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent config: provider is required")
	}
	if cfg.Extensions == nil {
		return nil, fmt.Errorf("agent config: extension manager is required")
	}
	if cfg.Counter == nil {
		cfg.Counter = token.NewCounter()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyDropOldest
	}
	frontend := map[string]bool{}
	for _, t := range cfg.FrontendTools {
		frontend[t.Name] = true
	}
	return &Agent{cfg: cfg, broker: newBroker(), frontend: frontend}, nil
}

// Close releases the agent's routing goroutine.
func (a *Agent) Close() {
	a.broker.close()
}

// SubmitConfirmation delivers a user decision for a pending tool request.
func (a *Agent) SubmitConfirmation(c Confirmation) error {
	return a.broker.submitConfirmation(c)
}

// SubmitToolResult delivers a frontend-executed tool result.
func (a *Agent) SubmitToolResult(r ToolResult) error {
	return a.broker.submitToolResult(r)
}

// Reply runs the agent loop for the given history and streams the
// resulting messages: assistant replies and the synthesized tool-response
// turns between them. The channel closes when the turn completes, fails
// terminally, or ctx ends. Provider failures surface as a final message on
// the stream, not as an error; only invalid input fails eagerly.
func (a *Agent) Reply(ctx context.Context, messages []message.Message) (<-chan message.Message, error) {
	if _, err := conversation.Parse(messages, nil); err != nil {
		return nil, fmt.Errorf("validating history: %w", err)
	}
	if messages[len(messages)-1].Role != message.RoleUser {
		return nil, fmt.Errorf("validating history: last message must be from user")
	}

	out := make(chan message.Message)
	go a.replyLoop(ctx, messages, out)
	return out, nil
}

func (a *Agent) replyLoop(ctx context.Context, messages []message.Message, out chan<- message.Message) {
	defer close(out)

	emit := func(msg message.Message) bool {
		select {
		case out <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	history := append([]message.Message(nil), messages...)
	truncations := 0

	for {
		// Rebuilt every iteration: enable_extension can change the catalog
		// mid-turn.
		tools := a.toolCatalog()
		system := a.systemPrompt()

		providerTools := tools
		if a.cfg.Toolshim {
			system = toolshimPrompt(system, tools)
			providerTools = nil
		}

		prepared, err := a.enforceContextLimit(ctx, system, history, tools)
		if err != nil {
			slog.Warn("Context enforcement failed", "error", err)
			emit(message.NewAssistant(contextExceededText))
			return
		}

		// Extension state rides along as a synthesized tool exchange; it is
		// rebuilt each call and never folded into the kept history.
		outgoing := prepared
		if status := a.statusMessages(a.statusBudget(system, prepared, tools)); len(status) > 0 {
			outgoing = append(append([]message.Message(nil), prepared...), status...)
		}

		reply, usage, err := a.cfg.Provider.Complete(ctx, system, outgoing, providerTools)
		if err != nil {
			if provider.IsContextLengthExceeded(err) {
				truncations++
				slog.Warn("Context length exceeded, truncating", "attempt", truncations)
				if truncations > maxTruncationAttempts {
					emit(message.NewAssistant(contextExceededText))
					return
				}
				history, err = a.truncateHistory(system, prepared, tools)
				if err != nil {
					slog.Warn("Truncation failed", "error", err)
					emit(message.NewAssistant(contextExceededText))
					return
				}
				continue
			}
			slog.Error("Provider call failed", "provider", a.cfg.Provider.Name(), "error", err)
			emit(message.NewAssistant(fmt.Sprintf("The model request failed (%s). %v", provider.KindOf(err), err)))
			return
		}
		history = prepared

		// A successful call ends the current recovery episode; later
		// overflows in the same reply get a fresh retry budget.
		truncations = 0

		if a.cfg.RecordUsage != nil {
			a.cfg.RecordUsage(a.cfg.Model.ModelName, usage)
		}
		if a.cfg.Toolshim {
			reply = interpretToolshimReply(reply)
		}

		if !emit(reply) {
			return
		}

		requests := reply.ToolRequests()
		if len(requests) == 0 {
			return
		}

		response := a.dispatchAll(ctx, requests)
		if !emit(response) {
			return
		}
		history = append(history, reply, response)
	}
}

// toolCatalog assembles what the model may call: prefixed extension tools,
// then platform tools, then frontend tools.
func (a *Agent) toolCatalog() []extension.Tool {
	tools := a.cfg.Extensions.GetPrefixedTools()
	tools = append(tools, platformTools(a.cfg.Extensions.SupportsResources())...)
	tools = append(tools, a.cfg.FrontendTools...)
	return tools
}

func platformTools(withResources bool) []extension.Tool {
	tools := []extension.Tool{
		{
			Name:        extension.ToolSearchExtensions,
			Description: "List extensions that are available but not currently enabled.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        extension.ToolEnableExtension,
			Description: "Enable an available extension so its tools can be used.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"extension_name": map[string]any{"type": "string", "description": "The extension to enable."},
				},
				"required": []string{"extension_name"},
			},
		},
	}
	if withResources {
		tools = append(tools,
			extension.Tool{
				Name:        extension.ToolReadResource,
				Description: "Read the content of an extension resource by uri.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"uri":            map[string]any{"type": "string", "description": "The resource uri."},
						"extension_name": map[string]any{"type": "string", "description": "Optional extension to scope the lookup."},
					},
					"required": []string{"uri"},
				},
			},
			extension.Tool{
				Name:        extension.ToolListResources,
				Description: "List resources exposed by enabled extensions.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"extension_name": map[string]any{"type": "string", "description": "Optional extension to scope the listing."},
					},
				},
			},
		)
	}
	return tools
}
