// Package gemini implements provider.Provider using the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/vheckthor/goose-sub001/pkg/extension"
	"github.com/vheckthor/goose-sub001/pkg/message"
	"github.com/vheckthor/goose-sub001/pkg/provider"
)

const (
	// LevelTrace is a custom log level for detailed HTTP traffic.
	LevelTrace = slog.Level(-8)
)

// Gemini implements provider.Provider using the Google Gemini API.
type Gemini struct {
	client *genai.Client
	config provider.ModelConfig
}

var _ provider.Provider = (*Gemini)(nil)

// New creates a Gemini provider.
func New(ctx context.Context, apiKey string, config provider.ModelConfig) (*Gemini, error) {
	httpClient := &http.Client{
		Transport: &loggingTransport{
			base:   http.DefaultTransport,
			apiKey: apiKey,
		},
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Gemini{client: client, config: config}, nil
}

type loggingTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// If API key is provided and not already in headers/query, add it.
	// Passing a custom http.Client often bypasses the library's automatic
	// API key injection.
	if t.apiKey != "" && req.Header.Get("x-goog-api-key") == "" && req.URL.Query().Get("key") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("x-goog-api-key", t.apiKey)
	}

	if !slog.Default().Enabled(req.Context(), LevelTrace) {
		return t.base.RoundTrip(req)
	}

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		slog.Debug("Failed to dump Gemini request", "error", err)
	} else {
		slog.Debug("Gemini REST Request", "url", req.URL.String(), "dump", string(reqDump))
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// For streaming, don't dump the body to avoid consuming it.
	isStream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") ||
		strings.Contains(req.URL.Query().Get("alt"), "sse")

	respDump, err := httputil.DumpResponse(resp, !isStream)
	if err != nil {
		slog.Debug("Failed to dump Gemini response", "error", err)
	} else {
		slog.Debug("Gemini REST Response", "isStream", isStream, "dump", string(respDump))
	}

	return resp, nil
}

// Close releases resources.
func (g *Gemini) Close() {
	g.client.Close()
}

// Name returns the provider identifier.
func (g *Gemini) Name() string { return "gemini" }

// List returns available models.
func (g *Gemini) List(ctx context.Context) ([]string, error) {
	iter := g.client.ListModels(ctx)
	var names []string
	for {
		model, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		slog.Debug("Found Gemini model", "name", model.Name)
		names = append(names, model.Name)
	}
	return names, nil
}

// Complete sends the conversation and returns the assistant's reply.
func (g *Gemini) Complete(ctx context.Context, system string, messages []message.Message, tools []extension.Tool) (message.Message, provider.Usage, error) {
	slog.Debug("Gemini.Complete", "model", g.config.ModelName, "messageCount", len(messages), "toolCount", len(tools))

	gm := g.client.GenerativeModel(g.config.ModelName)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if g.config.Temperature > 0 {
		gm.SetTemperature(g.config.Temperature)
	}
	if g.config.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(g.config.MaxTokens))
	}
	if len(tools) > 0 {
		gm.Tools = convertTools(tools)
	}

	// Tool call IDs are not round-tripped by the API; FunctionResponse
	// parts need the original tool name, so track it by ID.
	toolNames := map[string]string{}
	history := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		parts := convertParts(msg, toolNames)
		if len(parts) == 0 {
			continue
		}
		role := "user"
		if msg.Role == message.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: parts})
	}
	if len(history) == 0 {
		return message.Message{}, provider.Usage{}, provider.NewError(provider.ErrorKindUsage, "no sendable content in conversation", nil)
	}

	cs := gm.StartChat()
	cs.History = history[:len(history)-1]
	last := history[len(history)-1]

	resp, err := cs.SendMessage(ctx, last.Parts...)
	if err != nil {
		return message.Message{}, provider.Usage{}, mapError(err)
	}

	reply, err := convertResponse(resp)
	if err != nil {
		return message.Message{}, provider.Usage{}, err
	}

	var usage provider.Usage
	if resp.UsageMetadata != nil {
		usage = provider.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return reply, usage, nil
}

func convertParts(msg message.Message, toolNames map[string]string) []genai.Part {
	var parts []genai.Part
	for _, c := range msg.Content {
		switch c.Type {
		case message.ContentTypeText:
			if c.Text != nil && c.Text.Text != "" {
				parts = append(parts, genai.Text(c.Text.Text))
			}
		case message.ContentTypeImage:
			if c.Image != nil {
				format := strings.TrimPrefix(c.Image.MimeType, "image/")
				parts = append(parts, genai.ImageData(format, c.Image.Data))
			}
		case message.ContentTypeToolRequest:
			if c.ToolRequest != nil && c.ToolRequest.Call != nil {
				toolNames[c.ToolRequest.ID] = c.ToolRequest.Call.Name
				parts = append(parts, genai.FunctionCall{
					Name: c.ToolRequest.Call.Name,
					Args: c.ToolRequest.Call.Arguments,
				})
			}
		case message.ContentTypeToolResponse:
			if c.ToolResponse != nil {
				result := flattenText(c.ToolResponse.Content)
				if c.ToolResponse.Error != "" {
					result = "error: " + c.ToolResponse.Error
				}
				parts = append(parts, genai.FunctionResponse{
					Name: toolNames[c.ToolResponse.ID],
					Response: map[string]any{
						"result": result,
					},
				})
			}
		}
	}
	return parts
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

func convertResponse(resp *genai.GenerateContentResponse) (message.Message, error) {
	var fullText strings.Builder
	var toolRequests []message.Content

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				fullText.WriteString(string(txt))
			} else if fc, ok := part.(genai.FunctionCall); ok {
				toolRequests = append(toolRequests, message.ToolRequestItem(
					"call-"+uuid.New().String(),
					message.ToolCall{Name: fc.Name, Arguments: fc.Args},
				))
			}
		}
	}

	if fullText.Len() == 0 && len(toolRequests) == 0 {
		return message.Message{}, provider.NewError(provider.ErrorKindResponseParse, "model returned no usable content", nil)
	}

	reply := message.New(message.RoleAssistant)
	if fullText.Len() > 0 {
		reply = reply.WithText(fullText.String())
	}
	for _, req := range toolRequests {
		reply = reply.WithContent(req)
	}
	return reply, nil
}

func convertTools(tools []extension.Tool) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema maps a JSON-schema-shaped map onto the genai schema type.
func convertSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{}
	if typ, ok := schema["type"].(string); ok {
		out.Type = schemaType(typ)
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = map[string]*genai.Schema{}
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				out.Properties[name] = convertSchema(sub)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = convertSchema(items)
	}
	switch required := schema["required"].(type) {
	case []string:
		out.Required = required
	case []any:
		for _, r := range required {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	switch enum := schema["enum"].(type) {
	case []string:
		out.Enum = enum
	case []any:
		for _, e := range enum {
			if s, ok := e.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	return out
}

func schemaType(typ string) genai.Type {
	switch typ {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// mapError classifies a Gemini API failure.
func mapError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.Code == http.StatusBadRequest &&
			(strings.Contains(msg, "token") || strings.Contains(msg, "context")):
			return provider.NewError(provider.ErrorKindContextLengthExceeded, "input exceeds the model's context window", err)
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return provider.NewError(provider.ErrorKindAuthentication, "API key rejected", err)
		case apiErr.Code == http.StatusTooManyRequests:
			return provider.NewError(provider.ErrorKindRateLimitExceeded, "rate limit exceeded", err)
		case apiErr.Code >= 500:
			return provider.NewError(provider.ErrorKindServer, "server error", err)
		}
	}
	return provider.NewError(provider.ErrorKindRequestFailed, "completion request failed", err)
}
