package agent

import (
	"strings"
	"testing"

	"github.com/vheckthor/goose-sub001/pkg/extension"
	"github.com/vheckthor/goose-sub001/pkg/message"
)

func TestToolshimPromptListsTools(t *testing.T) {
	tools := []extension.Tool{
		{Name: "dev__shell", Description: "runs a command.", InputSchema: map[string]any{"type": "object"}},
	}
	prompt := toolshimPrompt("base prompt", tools)
	if !strings.Contains(prompt, "dev__shell") || !strings.Contains(prompt, "base prompt") {
		t.Fatalf("prompt missing tool catalog or base: %q", prompt)
	}
}

func TestInterpretToolshimReply(t *testing.T) {
	reply := message.NewAssistant("I'll run the build now.\n```json\n{\"name\": \"dev__shell\", \"arguments\": {\"command\": \"make\"}}\n```")
	out := interpretToolshimReply(reply)

	reqs := out.ToolRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected one tool request, got %d", len(reqs))
	}
	if reqs[0].Call == nil || reqs[0].Call.Name != "dev__shell" {
		t.Fatalf("unexpected call: %+v", reqs[0])
	}
	if reqs[0].Call.Arguments["command"] != "make" {
		t.Fatalf("unexpected arguments: %+v", reqs[0].Call.Arguments)
	}
	if !strings.Contains(out.Text(), "I'll run the build now.") {
		t.Fatalf("prose outside the fence must survive, got %q", out.Text())
	}
}

func TestInterpretToolshimReplyMultipleBlocks(t *testing.T) {
	reply := message.NewAssistant(
		"```json\n{\"name\": \"a\", \"arguments\": {}}\n```\nand then\n```json\n{\"name\": \"b\", \"arguments\": {}}\n```")
	out := interpretToolshimReply(reply)
	reqs := out.ToolRequests()
	if len(reqs) != 2 {
		t.Fatalf("expected two tool requests, got %d", len(reqs))
	}
	if reqs[0].Call.Name != "a" || reqs[1].Call.Name != "b" {
		t.Fatalf("unexpected calls: %+v", reqs)
	}
}

func TestInterpretToolshimReplyMalformed(t *testing.T) {
	reply := message.NewAssistant("```json\nnot json at all\n```")
	out := interpretToolshimReply(reply)
	reqs := out.ToolRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected a malformed request marker, got %d", len(reqs))
	}
	if reqs[0].Call != nil || reqs[0].Error == "" {
		t.Fatalf("expected an error-carrying request, got %+v", reqs[0])
	}
}

func TestInterpretToolshimReplyKeepsCodeSamples(t *testing.T) {
	text := "Here is the function you asked for:\n```go\nfunc add(a, b int) int { return a + b }\n```\nCall it from main."
	out := interpretToolshimReply(message.NewAssistant(text))

	if out.HasToolRequest() {
		t.Fatalf("a code sample must not become a tool request, got %+v", out)
	}
	if !strings.Contains(out.Text(), "func add(a, b int) int") {
		t.Fatalf("code sample must survive verbatim, got %q", out.Text())
	}
	if !strings.Contains(out.Text(), "```go") {
		t.Fatalf("fence markers must survive in the prose, got %q", out.Text())
	}
}

func TestInterpretToolshimReplyUntaggedFence(t *testing.T) {
	// An untagged block that parses to a call object is still a tool call.
	out := interpretToolshimReply(message.NewAssistant("```\n{\"name\": \"dev__shell\", \"arguments\": {}}\n```"))
	reqs := out.ToolRequests()
	if len(reqs) != 1 || reqs[0].Call == nil || reqs[0].Call.Name != "dev__shell" {
		t.Fatalf("expected an untagged call to be interpreted, got %+v", out)
	}

	// An untagged block that is not a call object stays prose.
	out = interpretToolshimReply(message.NewAssistant("```\nplain snippet\n```"))
	if out.HasToolRequest() {
		t.Fatalf("an untagged non-call block must not become a tool request, got %+v", out)
	}
	if !strings.Contains(out.Text(), "plain snippet") {
		t.Fatalf("block content must survive, got %q", out.Text())
	}
}

func TestInterpretToolshimReplyPlainText(t *testing.T) {
	reply := message.NewAssistant("no tools needed here")
	out := interpretToolshimReply(reply)
	if out.HasToolRequest() || out.Text() != "no tools needed here" {
		t.Fatalf("plain replies must pass through unchanged, got %+v", out)
	}
}
