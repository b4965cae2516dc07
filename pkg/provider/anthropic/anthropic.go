// Package anthropic implements provider.Provider using the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vheckthor/goose-sub001/pkg/extension"
	"github.com/vheckthor/goose-sub001/pkg/message"
	"github.com/vheckthor/goose-sub001/pkg/provider"
)

const defaultMaxTokens = 4096

// Anthropic implements provider.Provider against the Messages API.
type Anthropic struct {
	client anthropic.Client
	config provider.ModelConfig
}

var _ provider.Provider = (*Anthropic)(nil)

// New creates an Anthropic provider.
func New(apiKey string, config provider.ModelConfig) *Anthropic {
	return &Anthropic{
		client: anthropic.NewClient(aoption.WithAPIKey(apiKey)),
		config: config,
	}
}

// Name returns the provider identifier.
func (a *Anthropic) Name() string { return "anthropic" }

// Complete sends the conversation and returns the assistant's reply.
func (a *Anthropic) Complete(ctx context.Context, system string, messages []message.Message, tools []extension.Tool) (message.Message, provider.Usage, error) {
	slog.Debug("Anthropic.Complete", "model", a.config.ModelName, "messageCount", len(messages), "toolCount", len(tools))

	maxTokens := int64(defaultMaxTokens)
	if a.config.MaxTokens > 0 {
		maxTokens = int64(a.config.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.ModelName),
		MaxTokens: maxTokens,
		Messages:  buildMessages(messages),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if a.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(a.config.Temperature))
	}
	if len(tools) > 0 {
		params.Tools = buildTools(tools)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return message.Message{}, provider.Usage{}, mapError(err)
	}

	reply, err := convertResponse(resp)
	if err != nil {
		return message.Message{}, provider.Usage{}, err
	}
	usage := provider.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return reply, usage, nil
}

func buildMessages(messages []message.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, c := range msg.Content {
			switch c.Type {
			case message.ContentTypeText:
				if c.Text != nil && c.Text.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(c.Text.Text))
				}
			case message.ContentTypeImage:
				if c.Image != nil {
					mediaType := c.Image.MimeType
					if mediaType == "" {
						mediaType = "image/png"
					}
					blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(c.Image.Data)))
				}
			case message.ContentTypeToolRequest:
				if c.ToolRequest != nil && c.ToolRequest.Call != nil {
					blocks = append(blocks, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							ID:    c.ToolRequest.ID,
							Name:  c.ToolRequest.Call.Name,
							Input: c.ToolRequest.Call.Arguments,
						},
					})
				}
			case message.ContentTypeToolResponse:
				if c.ToolResponse != nil {
					content := flattenText(c.ToolResponse.Content)
					isError := false
					if c.ToolResponse.Error != "" {
						content = c.ToolResponse.Error
						isError = true
					}
					toolResult := anthropic.NewToolResultBlock(c.ToolResponse.ID)
					toolResult.OfToolResult.Content = []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: content}},
					}
					if isError {
						toolResult.OfToolResult.IsError = anthropic.Bool(true)
					}
					blocks = append(blocks, toolResult)
				}
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == message.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func buildTools(tools []extension.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var required []string
		switch req := t.InputSchema["required"].(type) {
		case []string:
			required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		param := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: t.InputSchema["properties"],
				Required:   required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func convertResponse(resp *anthropic.Message) (message.Message, error) {
	reply := message.New(message.RoleAssistant)
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if variant.Text != "" {
				reply = reply.WithText(variant.Text)
			}
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(variant.Input) > 0 {
				if err := json.Unmarshal(variant.Input, &args); err != nil {
					reply = reply.WithContent(message.ToolRequestError(variant.ID, "malformed tool arguments: "+err.Error()))
					continue
				}
			}
			reply = reply.WithContent(message.ToolRequestItem(variant.ID, message.ToolCall{
				Name:      variant.Name,
				Arguments: args,
			}))
		}
	}
	if len(reply.Content) == 0 {
		return message.Message{}, provider.NewError(provider.ErrorKindResponseParse, "model returned no usable content", nil)
	}
	return reply, nil
}

func flattenText(content []message.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if c.Type == message.ContentTypeText && c.Text != nil {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(c.Text.Text)
		}
	}
	return sb.String()
}

// mapError classifies an Anthropic API failure.
func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(err.Error())
		switch {
		case apiErr.StatusCode == http.StatusBadRequest && strings.Contains(msg, "prompt is too long"):
			return provider.NewError(provider.ErrorKindContextLengthExceeded, "input exceeds the model's context window", err)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return provider.NewError(provider.ErrorKindAuthentication, "API key rejected", err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return provider.NewError(provider.ErrorKindRateLimitExceeded, "rate limit exceeded", err)
		case apiErr.StatusCode >= 500:
			return provider.NewError(provider.ErrorKindServer, "server error", err)
		}
	}
	return provider.NewError(provider.ErrorKindRequestFailed, "completion request failed", err)
}
