// Package openai implements provider.Provider using the OpenAI Chat
// Completions API. It also serves OpenAI-compatible gateways via a custom
// base URL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oshared "github.com/openai/openai-go/shared"

	"github.com/vheckthor/goose-sub001/pkg/extension"
	"github.com/vheckthor/goose-sub001/pkg/message"
	"github.com/vheckthor/goose-sub001/pkg/provider"
)

// OpenAI implements provider.Provider against the Chat Completions API.
type OpenAI struct {
	client openai.Client
	config provider.ModelConfig
}

var _ provider.Provider = (*OpenAI)(nil)

// New creates an OpenAI provider. baseURL may be empty for the public API.
func New(apiKey, baseURL string, config provider.ModelConfig) *OpenAI {
	opts := []ooption.RequestOption{ooption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, ooption.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), config: config}
}

// Name returns the provider identifier.
func (o *OpenAI) Name() string { return "openai" }

// Complete sends the conversation and returns the assistant's reply.
func (o *OpenAI) Complete(ctx context.Context, system string, messages []message.Message, tools []extension.Tool) (message.Message, provider.Usage, error) {
	slog.Debug("OpenAI.Complete", "model", o.config.ModelName, "messageCount", len(messages), "toolCount", len(tools))

	params := openai.ChatCompletionNewParams{
		Model:    oshared.ChatModel(o.config.ModelName),
		Messages: buildMessages(system, messages),
	}
	if o.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.config.MaxTokens))
	}
	if o.config.Temperature > 0 {
		params.Temperature = openai.Float(float64(o.config.Temperature))
	}
	if len(tools) > 0 {
		params.Tools = buildTools(tools)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return message.Message{}, provider.Usage{}, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return message.Message{}, provider.Usage{}, provider.NewError(provider.ErrorKindResponseParse, "completion returned no choices", nil)
	}

	reply := convertChoice(resp.Choices[0])
	if len(reply.Content) == 0 {
		return message.Message{}, provider.Usage{}, provider.NewError(provider.ErrorKindResponseParse, "model returned no usable content", nil)
	}
	usage := provider.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return reply, usage, nil
}

func buildMessages(system string, messages []message.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		if msg.Role == message.RoleAssistant {
			out = append(out, buildAssistantMessage(msg))
			continue
		}

		// Tool results ride on user messages in our model but are separate
		// tool-role messages on the wire.
		var texts []string
		for _, c := range msg.Content {
			switch c.Type {
			case message.ContentTypeText:
				if c.Text != nil && c.Text.Text != "" {
					texts = append(texts, c.Text.Text)
				}
			case message.ContentTypeToolResponse:
				if c.ToolResponse != nil {
					output := flattenText(c.ToolResponse.Content)
					if c.ToolResponse.Error != "" {
						output = "error: " + c.ToolResponse.Error
					}
					if output == "" {
						output = "{}"
					}
					out = append(out, openai.ToolMessage(output, c.ToolResponse.ID))
				}
			}
		}
		if len(texts) > 0 {
			out = append(out, openai.UserMessage(strings.Join(texts, "\n")))
		}
	}
	return out
}

func buildAssistantMessage(msg message.Message) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, req := range msg.ToolRequests() {
		if req.Call == nil {
			continue
		}
		args := "{}"
		if b, err := json.Marshal(req.Call.Arguments); err == nil && len(req.Call.Arguments) > 0 {
			args = string(b)
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: req.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      req.Call.Name,
				Arguments: args,
			},
		})
	}
	text := msg.Text()
	if len(toolCalls) == 0 {
		return openai.AssistantMessage(text)
	}
	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func buildTools(tools []extension.Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		fn := oshared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
		}
		if len(t.InputSchema) > 0 {
			fn.Parameters = oshared.FunctionParameters(t.InputSchema)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}

func convertChoice(choice openai.ChatCompletionChoice) message.Message {
	reply := message.New(message.RoleAssistant)
	if choice.Message.Content != "" {
		reply = reply.WithText(choice.Message.Content)
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		raw := strings.TrimSpace(tc.Function.Arguments)
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				reply = reply.WithContent(message.ToolRequestError(tc.ID, "malformed tool arguments: "+err.Error()))
				continue
			}
		}
		reply = reply.WithContent(message.ToolRequestItem(tc.ID, message.ToolCall{
			Name:      tc.Function.Name,
			Arguments: args,
		}))
	}
	return reply
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

// mapError classifies an OpenAI API failure.
func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(err.Error())
		switch {
		case apiErr.StatusCode == http.StatusBadRequest &&
			(strings.Contains(msg, "context_length_exceeded") || strings.Contains(msg, "maximum context length")):
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
