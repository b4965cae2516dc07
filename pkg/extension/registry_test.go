package extension

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vheckthor/goose-sub001/pkg/message"
)

type echoTool struct {
	name string
	fail error
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes its input back" }
func (t *echoTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{"type": "string"},
		},
	}
}

func (t *echoTool) Execute(ctx context.Context, input map[string]any) ([]message.Content, error) {
	if t.fail != nil {
		return nil, t.fail
	}
	value, _ := input["value"].(string)
	return []message.Content{message.TextItem(value)}, nil
}

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register(&Extension{
		Name:     "alpha",
		Handlers: []Handler{&echoTool{name: "echo"}},
		Resources: []Resource{
			{URI: "alpha://state", Name: "State", Content: "alpha state", Timestamp: time.Now(), Active: true},
		},
	}, true)
	r.Register(&Extension{
		Name:         "beta",
		Instructions: "extra tools",
		Handlers:     []Handler{&echoTool{name: "echo"}},
	}, false)
	return r
}

func TestGetPrefixedTools(t *testing.T) {
	r := testRegistry()
	tools := r.GetPrefixedTools()
	if len(tools) != 1 {
		t.Fatalf("expected only the enabled extension's tools, got %d", len(tools))
	}
	if tools[0].Name != "alpha__echo" {
		t.Fatalf("expected prefixed name alpha__echo, got %s", tools[0].Name)
	}
}

func TestDispatchToolCall(t *testing.T) {
	r := testRegistry()
	content, err := r.DispatchToolCall(context.Background(), message.ToolCall{
		Name:      "alpha__echo",
		Arguments: map[string]any{"value": "hello"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(content) != 1 || content[0].Text.Text != "hello" {
		t.Fatalf("unexpected content: %+v", content)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	r := testRegistry()
	cases := []string{"alpha__missing", "gamma__echo", "beta__echo", "unprefixed"}
	for _, name := range cases {
		_, err := r.DispatchToolCall(context.Background(), message.ToolCall{Name: name})
		var toolErr *ToolError
		if !errors.As(err, &toolErr) || toolErr.Kind != ToolErrorNotFound {
			t.Fatalf("%s: expected not_found tool error, got %v", name, err)
		}
	}
}

func TestDispatchWrapsExecutionError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.Register(&Extension{
		Name:     "alpha",
		Handlers: []Handler{&echoTool{name: "echo", fail: boom}},
	}, true)

	_, err := r.DispatchToolCall(context.Background(), message.ToolCall{Name: "alpha__echo"})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Kind != ToolErrorExecution {
		t.Fatalf("expected execution tool error, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause to survive, got %v", err)
	}
}

func TestEnableExtensionUpdatesCatalog(t *testing.T) {
	r := testRegistry()
	if err := r.EnableExtension("beta"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	tools := r.GetPrefixedTools()
	if len(tools) != 2 {
		t.Fatalf("expected both extensions' tools after enable, got %d", len(tools))
	}
	if err := r.EnableExtension("gamma"); err == nil {
		t.Fatal("expected error enabling unknown extension")
	}
}

func TestSearchAvailableExtensions(t *testing.T) {
	r := testRegistry()
	content, err := r.SearchAvailableExtensions(context.Background())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	text := content[0].Text.Text
	if !strings.Contains(text, "beta") || strings.Contains(text, "alpha") {
		t.Fatalf("expected only disabled extensions listed, got %q", text)
	}
}

func TestReadResource(t *testing.T) {
	r := testRegistry()
	content, err := r.ReadResource(context.Background(), map[string]any{"uri": "alpha://state"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content[0].Text.Text != "alpha state" {
		t.Fatalf("unexpected resource content: %q", content[0].Text.Text)
	}

	if _, err := r.ReadResource(context.Background(), map[string]any{"uri": "alpha://nope"}); err == nil {
		t.Fatal("expected error for unknown resource")
	}
	if _, err := r.ReadResource(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing uri")
	}
}

func TestListResources(t *testing.T) {
	r := testRegistry()
	content, err := r.ListResources(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(content[0].Text.Text, "alpha://state") {
		t.Fatalf("expected resource uri in listing, got %q", content[0].Text.Text)
	}
}

func TestActiveResourcesNewestFirst(t *testing.T) {
	r := NewRegistry()
	old := time.Now().Add(-time.Hour)
	r.Register(&Extension{
		Name: "alpha",
		Resources: []Resource{
			{URI: "alpha://old", Timestamp: old, Active: true},
			{URI: "alpha://new", Timestamp: time.Now(), Active: true},
			{URI: "alpha://inactive", Timestamp: time.Now(), Active: false},
		},
	}, true)

	resources := r.ActiveResources()
	if len(resources) != 2 {
		t.Fatalf("expected 2 active resources, got %d", len(resources))
	}
	if resources[0].URI != "alpha://new" {
		t.Fatalf("expected newest first, got %s", resources[0].URI)
	}
}
