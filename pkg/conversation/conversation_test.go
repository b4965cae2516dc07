package conversation

import (
	"errors"
	"testing"

	"github.com/vheckthor/goose-sub001/pkg/message"
)

func countByTextLen(m message.Message) int {
	return len(m.Text()) + 10
}

func userText(s string) message.Message      { return message.NewUser(s) }
func assistantText(s string) message.Message { return message.NewAssistant(s) }

func assistantWithRequest(id, tool string) message.Message {
	msg := message.New(message.RoleAssistant)
	return msg.WithContent(message.ToolRequestItem(id, message.ToolCall{
		Name:      tool,
		Arguments: map[string]any{},
	}))
}

func userWithResponse(id, result string) message.Message {
	msg := message.New(message.RoleUser)
	return msg.WithContent(message.ToolResponseItem(id, []message.Content{message.TextItem(result)}))
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse(nil, nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestParseFirstMessageMustBeUser(t *testing.T) {
	msgs := []message.Message{assistantText("hello")}
	if _, err := Parse(msgs, nil); !errors.Is(err, ErrFirstMessageRole) {
		t.Fatalf("expected ErrFirstMessageRole, got %v", err)
	}
}

func TestParseRoleAlternation(t *testing.T) {
	msgs := []message.Message{
		userText("one"),
		userText("two"),
	}
	if _, err := Parse(msgs, nil); !errors.Is(err, ErrRoleAlternation) {
		t.Fatalf("expected ErrRoleAlternation, got %v", err)
	}
}

func TestParseChainCannotOpenConversation(t *testing.T) {
	// A tool response as the opening user message means the first
	// interaction would be InsideToolUse, which has no head to link to.
	msgs := []message.Message{
		userWithResponse("t1", "result"),
		assistantWithRequest("t2", "shell"),
	}
	if _, err := Parse(msgs, nil); !errors.Is(err, ErrChainOpensConversation) {
		t.Fatalf("expected ErrChainOpensConversation, got %v", err)
	}
}

func TestParseClassifiesKinds(t *testing.T) {
	msgs := []message.Message{
		userText("run the build"),
		assistantWithRequest("t1", "shell"),
		userWithResponse("t1", "ok"),
		assistantWithRequest("t2", "shell"),
		userWithResponse("t2", "ok"),
		assistantText("all done"),
	}
	conv, err := Parse(msgs, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(conv.Interactions) != 1 {
		t.Fatalf("expected 1 top-level interaction, got %d", len(conv.Interactions))
	}
	head := conv.Interactions[0]
	if head.Kind != KindBeginToolUse {
		t.Fatalf("expected BeginToolUse head, got %s", head.Kind)
	}
	if len(head.Linked) != 2 {
		t.Fatalf("expected 2 linked interactions, got %d", len(head.Linked))
	}
	if head.Linked[0].Kind != KindInsideToolUse {
		t.Fatalf("expected InsideToolUse, got %s", head.Linked[0].Kind)
	}
	if head.Linked[1].Kind != KindOutsideToolUse {
		t.Fatalf("expected OutsideToolUse, got %s", head.Linked[1].Kind)
	}
}

func TestParseThreeTurnScenario(t *testing.T) {
	msgs := []message.Message{
		userText("hi"),
		assistantText("hello"),
		userText("how are you"),
		assistantText("good"),
		userText("bye"),
	}
	conv, err := Parse(msgs, countByTextLen)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(conv.Interactions) != 2 {
		t.Fatalf("expected 2 top-level interactions, got %d", len(conv.Interactions))
	}
	for i, in := range conv.Interactions {
		if in.Kind != KindQnA {
			t.Fatalf("interaction %d: expected QnA, got %s", i, in.Kind)
		}
	}
	second := conv.Interactions[1]
	if len(second.Linked) != 1 || second.Linked[0].Kind != KindStub {
		t.Fatalf("expected trailing stub linked under second interaction, got %+v", second.Linked)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	msgs := []message.Message{
		userText("run the build"),
		assistantWithRequest("t1", "shell"),
		userWithResponse("t1", "ok"),
		assistantText("done"),
		userText("thanks"),
		assistantText("any time"),
		userText("one more thing"),
	}
	conv, err := Parse(msgs, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rendered := conv.Render()
	if len(rendered) != len(msgs) {
		t.Fatalf("round trip length mismatch: got %d want %d", len(rendered), len(msgs))
	}
	for i := range msgs {
		if rendered[i].Role != msgs[i].Role {
			t.Fatalf("message %d: role %s != %s", i, rendered[i].Role, msgs[i].Role)
		}
		if rendered[i].Text() != msgs[i].Text() {
			t.Fatalf("message %d: text %q != %q", i, rendered[i].Text(), msgs[i].Text())
		}
	}
}

func TestDropMessagesKeepsNewest(t *testing.T) {
	msgs := []message.Message{
		userText("hi"),
		assistantText("hello"),
		userText("how are you"),
		assistantText("good"),
		userText("bye"),
	}
	conv, err := Parse(msgs, countByTextLen)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	total := 0
	for _, in := range conv.Interactions {
		total += in.TokenCount
	}

	// A budget just under the total forces the oldest interaction out.
	target := total - 1
	out, err := DropMessages(msgs, total, target, countByTextLen)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if len(out) == 0 || out[0].Text() != "how are you" {
		t.Fatalf("expected truncation to start at the second interaction, got %+v", out)
	}
	// The trailing stub rides along with its head.
	if out[len(out)-1].Text() != "bye" {
		t.Fatalf("expected stub to survive truncation, got %q", out[len(out)-1].Text())
	}
}

func TestDropMessagesUnsatisfiable(t *testing.T) {
	msgs := []message.Message{
		userText("hi"),
		assistantText("hello"),
	}
	conv, err := Parse(msgs, countByTextLen)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	total := conv.Interactions[0].TokenCount
	if _, err := DropMessages(msgs, total, 1, countByTextLen); !errors.Is(err, ErrContextUnsatisfiable) {
		t.Fatalf("expected ErrContextUnsatisfiable, got %v", err)
	}
}

func TestDropMessagesMonotonic(t *testing.T) {
	var msgs []message.Message
	for i := 0; i < 6; i++ {
		msgs = append(msgs, userText("question about something fairly long"))
		msgs = append(msgs, assistantText("an answer of comparable length here"))
	}
	conv, err := Parse(msgs, countByTextLen)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	total := 0
	for _, in := range conv.Interactions {
		total += in.TokenCount
	}
	perInteraction := conv.Interactions[0].TokenCount

	out, err := DropMessages(msgs, total, perInteraction*2, countByTextLen)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	truncated, err := Parse(out, countByTextLen)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if got := len(truncated.Interactions); got == 0 || got >= len(conv.Interactions) {
		t.Fatalf("expected non-empty strict subsequence, got %d of %d", got, len(conv.Interactions))
	}
}

func TestDropMessagesPreservesToolPairing(t *testing.T) {
	msgs := []message.Message{
		userText("hi"),
		assistantText("hello"),
		userText("run the build"),
		assistantWithRequest("t1", "shell"),
		userWithResponse("t1", "ok"),
		assistantWithRequest("t2", "shell"),
		userWithResponse("t2", "ok"),
		assistantText("done"),
	}
	conv, err := Parse(msgs, countByTextLen)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	total := 0
	for _, in := range conv.Interactions {
		total += in.TokenCount
	}

	// Force the QnA out while the tool chain still fits.
	target := conv.Interactions[1].TokenCount + 1
	out, err := DropMessages(msgs, total, target, countByTextLen)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}

	requests := map[string]bool{}
	responses := map[string]bool{}
	for _, m := range out {
		for _, req := range m.ToolRequests() {
			requests[req.ID] = true
		}
		for _, resp := range m.ToolResponses() {
			responses[resp.ID] = true
		}
	}
	for id := range requests {
		if !responses[id] {
			t.Fatalf("tool request %s lost its response after truncation", id)
		}
	}
	for id := range responses {
		if !requests[id] {
			t.Fatalf("tool response %s lost its request after truncation", id)
		}
	}
	if len(requests) != 2 {
		t.Fatalf("expected the full tool chain to survive, got %d requests", len(requests))
	}
}
