// Package token estimates the token cost of prompts, messages and tool
// catalogs so the engine can keep a conversation inside the model's
// context window.
package token

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/vheckthor/goose-sub001/pkg/extension"
	"github.com/vheckthor/goose-sub001/pkg/message"
)

const (
	// tokensPerMessage covers role/framing overhead per message.
	tokensPerMessage = 4
	// tokensPerTool covers schema framing overhead per tool declaration.
	tokensPerTool = 8
	// replyPrimer accounts for the assistant reply priming tokens.
	replyPrimer = 3
)

var (
	encoding     *tiktoken.Tiktoken
	encodingOnce sync.Once
)

// initEncoding loads the cl100k_base BPE tables once per process. The
// heuristic fallback keeps counting available when the tables cannot be
// loaded (e.g. no cached vocabulary and no network).
func initEncoding() {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("Token counting falls back to heuristic estimation", "error", err)
			return
		}
		encoding = enc
	})
}

// Counter estimates token counts for budget enforcement. The zero value is
// not usable; construct with NewCounter.
type Counter struct{}

// NewCounter returns a counter backed by the cl100k_base encoding when
// available, a character heuristic otherwise.
func NewCounter() *Counter {
	initEncoding()
	return &Counter{}
}

// CountTokens returns the approximate token count of a string.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	// Rough estimate: ASCII ~4 chars per token, non-ASCII (e.g. CJK)
	// roughly 2 tokens per rune.
	ascii := 0
	nonASCII := 0
	for _, r := range text {
		if r <= 127 {
			ascii++
		} else {
			nonASCII++
		}
	}
	return ascii/4 + nonASCII*2 + 1
}

// CountMessage returns the approximate token count of one message,
// including its framing overhead.
func (c *Counter) CountMessage(msg message.Message) int {
	total := tokensPerMessage
	for _, item := range msg.Content {
		switch item.Type {
		case message.ContentTypeText:
			if item.Text != nil {
				total += c.CountTokens(item.Text.Text)
			}
		case message.ContentTypeImage:
			if item.Image != nil {
				// Images are billed by tiles, not text; treat the raw
				// payload size as a coarse proxy.
				total += len(item.Image.Data) / 100
			}
		case message.ContentTypeToolRequest:
			if item.ToolRequest != nil && item.ToolRequest.Call != nil {
				total += c.CountTokens(item.ToolRequest.Call.Name)
				total += c.countJSON(item.ToolRequest.Call.Arguments)
			}
		case message.ContentTypeToolResponse:
			if item.ToolResponse != nil {
				for _, inner := range item.ToolResponse.Content {
					if inner.Text != nil {
						total += c.CountTokens(inner.Text.Text)
					}
				}
				total += c.CountTokens(item.ToolResponse.Error)
			}
		}
	}
	return total
}

// CountTools returns the approximate token count of a tool catalog as the
// model will see it.
func (c *Counter) CountTools(tools []extension.Tool) int {
	total := 0
	for _, tool := range tools {
		total += tokensPerTool
		total += c.CountTokens(tool.Name)
		total += c.CountTokens(tool.Description)
		total += c.countJSON(tool.InputSchema)
	}
	return total
}

// CountEverything estimates the full request cost: system prompt, message
// history, tool catalog and any extra resource strings attached as status
// context.
func (c *Counter) CountEverything(system string, messages []message.Message, tools []extension.Tool, resources []string) int {
	total := c.CountTokens(system) + tokensPerMessage
	for _, msg := range messages {
		total += c.CountMessage(msg)
	}
	total += c.CountTools(tools)
	for _, r := range resources {
		total += c.CountTokens(r)
	}
	return total + replyPrimer
}

func (c *Counter) countJSON(v any) int {
	if v == nil {
		return 0
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return c.CountTokens(string(b))
}
