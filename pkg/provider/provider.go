// Package provider abstracts LLM backends behind a single non-streaming
// completion interface with typed errors, so the reply engine can treat
// context overflow and transient failures uniformly across vendors.
package provider

import (
	"context"

	"github.com/vheckthor/goose-sub001/pkg/extension"
	"github.com/vheckthor/goose-sub001/pkg/message"
)

// Usage reports the token accounting of one completion call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Provider is a model backend. Complete sends the system prompt, history
// and tool catalog and returns the assistant's reply. Errors are *Error
// values so callers can branch on kind.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system string, messages []message.Message, tools []extension.Tool) (message.Message, Usage, error)
}

const (
	// DefaultContextLimit is assumed when a model's window is unknown.
	DefaultContextLimit = 200000

	// DefaultEstimateFactor discounts the context limit to absorb token
	// estimation error before the hard limit is hit.
	DefaultEstimateFactor = 0.8
)

// ModelConfig describes the target model and its sampling parameters.
// Zero values for ContextLimit and EstimateFactor mean "use the default".
type ModelConfig struct {
	ModelName      string  `json:"model_name"`
	ContextLimit   int     `json:"context_limit,omitempty"`
	EstimateFactor float64 `json:"estimate_factor,omitempty"`
	Temperature    float32 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
}

// ContextWindow returns the configured context limit or the default.
func (c ModelConfig) ContextWindow() int {
	if c.ContextLimit > 0 {
		return c.ContextLimit
	}
	return DefaultContextLimit
}

// EstimatedLimit returns the soft budget used for proactive truncation:
// the context window scaled by the estimate factor.
func (c ModelConfig) EstimatedLimit() int {
	factor := c.EstimateFactor
	if factor <= 0 {
		factor = DefaultEstimateFactor
	}
	return int(float64(c.ContextWindow()) * factor)
}
