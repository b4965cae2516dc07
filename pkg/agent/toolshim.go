package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vheckthor/goose-sub001/pkg/extension"
	"github.com/vheckthor/goose-sub001/pkg/message"
)

// toolshimPrompt rewrites the system prompt for models without native tool
// calling: the catalog is described inline and the model is told to emit
// fenced JSON blocks instead.
func toolshimPrompt(system string, tools []extension.Tool) string {
	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\n## Tool calling\n")
	sb.WriteString("You can call the tools listed below. To call a tool, reply with a fenced JSON block of the form:\n")
	sb.WriteString("```json\n{\"name\": \"tool_name\", \"arguments\": {}}\n```\n")
	sb.WriteString("Emit one block per call and nothing else when calling tools. Available tools:\n")
	for _, t := range tools {
		schema, _ := json.Marshal(t.InputSchema)
		fmt.Fprintf(&sb, "- %s: %s Arguments schema: %s\n", t.Name, t.Description, schema)
	}
	return sb.String()
}

// interpretToolshimReply extracts fenced tool calls from the reply text
// and rewrites them as tool requests. Only blocks tagged "json", or
// untagged blocks that parse to an object with a name field, are
// interpreted; any other fence (code samples the model quotes in prose)
// stays in the reply verbatim. A json-tagged fence that fails to parse
// becomes a malformed request so the parse error flows back to the model.
func interpretToolshimReply(reply message.Message) message.Message {
	text := reply.Text()
	if !strings.Contains(text, "```") {
		return reply
	}

	out := message.New(message.RoleAssistant)
	var prose strings.Builder

	rest := text
	for {
		f, found := nextFence(rest)
		if !found {
			prose.WriteString(rest)
			break
		}
		prose.WriteString(rest[:f.start])
		raw := rest[f.start:f.end]
		rest = rest[f.end:]

		call, err := parseToolCall(f.inner)
		switch {
		case f.tag == "json":
			id := "call-" + uuid.New().String()
			if err != nil {
				out = out.WithContent(message.ToolRequestError(id, fmt.Sprintf("unparseable tool call block: %q", f.inner)))
			} else {
				out = out.WithContent(message.ToolRequestItem(id, call))
			}
		case f.tag == "" && err == nil:
			out = out.WithContent(message.ToolRequestItem("call-"+uuid.New().String(), call))
		default:
			prose.WriteString(raw)
		}
	}

	if p := strings.TrimSpace(prose.String()); p != "" {
		out.Content = append([]message.Content{message.TextItem(p)}, out.Content...)
	}
	if len(out.Content) == 0 {
		return reply
	}
	return out
}

// fence is one complete fenced block: [start, end) in the scanned string,
// the language tag from the opening line, and the trimmed body.
type fence struct {
	start, end int
	tag        string
	inner      string
}

// nextFence locates the first complete fenced block in s. found is false
// when no complete fence exists.
func nextFence(s string) (fence, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return fence{}, false
	}
	rest := s[start+3:]
	nl := strings.Index(rest, "\n")
	if nl < 0 {
		return fence{}, false
	}
	tag := strings.TrimSpace(rest[:nl])
	body := rest[nl+1:]
	closing := strings.Index(body, "```")
	if closing < 0 {
		return fence{}, false
	}
	return fence{
		start: start,
		end:   start + 3 + nl + 1 + closing + 3,
		tag:   tag,
		inner: strings.TrimSpace(body[:closing]),
	}, true
}

// parseToolCall interprets a fence body as a tool call object.
func parseToolCall(inner string) (message.ToolCall, error) {
	var call struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(inner), &call); err != nil {
		return message.ToolCall{}, err
	}
	if call.Name == "" {
		return message.ToolCall{}, errors.New("missing tool name")
	}
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}
	return message.ToolCall{Name: call.Name, Arguments: call.Arguments}, nil
}
