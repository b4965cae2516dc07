// Package conversation groups a flat message history into interactions
// (one user turn plus one assistant turn, with nested tool-use sub-turns)
// so that history can be classified and truncated without ever splitting a
// tool request from its paired response.
package conversation

import (
	"errors"
	"fmt"

	"github.com/vheckthor/goose-sub001/pkg/message"
)

var (
	// ErrEmpty is returned when parsing an empty message list.
	ErrEmpty = errors.New("conversation cannot be empty")

	// ErrFirstMessageRole is returned when the history does not open with
	// a user message.
	ErrFirstMessageRole = errors.New("first message must be from user")

	// ErrRoleAlternation is returned when two consecutive messages share
	// a role.
	ErrRoleAlternation = errors.New("consecutive messages must alternate roles")

	// ErrChainOpensConversation is returned when a tool-use continuation
	// appears before any question/answer or tool-use opener.
	ErrChainOpensConversation = errors.New("first interaction must be QnA or BeginToolUse")

	// ErrContextUnsatisfiable is returned when even the newest interaction
	// alone does not fit the target token limit.
	ErrContextUnsatisfiable = errors.New("context limit unsatisfiable: no interaction fits the target")
)

// Kind classifies a completed interaction.
type Kind string

const (
	// KindQnA is a plain question/answer pair with no tool activity.
	KindQnA Kind = "qna"
	// KindBeginToolUse opens a tool-use chain: the reply requests a tool.
	KindBeginToolUse Kind = "begin_tool_use"
	// KindInsideToolUse continues a chain: tool response in, tool request out.
	KindInsideToolUse Kind = "inside_tool_use"
	// KindOutsideToolUse closes a chain: tool response in, plain reply out.
	KindOutsideToolUse Kind = "outside_tool_use"
	// KindStub is a trailing, unanswered message.
	KindStub Kind = "stub"
)

// Interaction is one user turn plus one assistant turn. Tool-use
// continuations and trailing stubs hang off the most recent top-level
// interaction via Linked rather than being promoted to top level.
type Interaction struct {
	Query *message.Message
	Reply *message.Message

	// TokenCount is the approximate token cost of this interaction. For a
	// top-level interaction it folds in the cost of every linked
	// sub-interaction.
	TokenCount int

	Kind   Kind
	Linked []Interaction
}

// record feeds the next message into the interaction. The first recorded
// message becomes the query, the second the reply.
func (i *Interaction) record(msg message.Message) {
	if i.Query == nil {
		i.Query = &msg
		return
	}
	i.Reply = &msg
}

// complete reports whether both query and reply have been recorded.
func (i *Interaction) complete() bool {
	return i.Query != nil && i.Reply != nil
}

// classify determines the interaction kind once both turns are present,
// or KindStub when only the query exists.
func (i *Interaction) classify() Kind {
	if i.Reply == nil {
		return KindStub
	}
	queryHasResponse := i.Query.HasToolResponse()
	replyHasRequest := i.Reply.HasToolRequest()
	switch {
	case !queryHasResponse && !replyHasRequest:
		return KindQnA
	case !queryHasResponse && replyHasRequest:
		return KindBeginToolUse
	case queryHasResponse && replyHasRequest:
		return KindInsideToolUse
	default:
		return KindOutsideToolUse
	}
}

// Conversation is an ordered sequence of top-level interactions, each of
// kind QnA or BeginToolUse (a trailing stub with no preceding head is the
// one tolerated exception, so a single unanswered message still parses).
type Conversation struct {
	Interactions []Interaction
}

// Counter estimates the token cost of a single message. A nil counter
// leaves all token counts at zero, which is fine for parse/render-only use.
type Counter func(message.Message) int

// Parse groups a flat message list into a conversation. It fails if the
// list is empty, does not open with a user message, or breaks role
// alternation.
func Parse(messages []message.Message, count Counter) (*Conversation, error) {
	if len(messages) == 0 {
		return nil, ErrEmpty
	}
	if messages[0].Role != message.RoleUser {
		return nil, ErrFirstMessageRole
	}

	conv := &Conversation{}
	current := &Interaction{}
	var prevRole message.Role

	for idx, msg := range messages {
		if idx > 0 && msg.Role == prevRole {
			return nil, fmt.Errorf("message %d: %w", idx, ErrRoleAlternation)
		}
		prevRole = msg.Role

		current.record(msg)
		if !current.complete() {
			continue
		}

		current.Kind = current.classify()
		if err := conv.push(*current, count); err != nil {
			return nil, err
		}
		current = &Interaction{}
	}

	// A trailing unanswered message becomes a stub linked under the
	// current head.
	if current.Query != nil {
		current.Kind = KindStub
		if err := conv.push(*current, count); err != nil {
			return nil, err
		}
	}

	return conv, nil
}

// push appends a classified interaction either to the top level or to the
// linked list of the current head, folding its token count into the head.
func (c *Conversation) push(in Interaction, count Counter) error {
	in.TokenCount = interactionTokens(in, count)

	switch in.Kind {
	case KindQnA, KindBeginToolUse:
		c.Interactions = append(c.Interactions, in)
		return nil
	case KindStub:
		if len(c.Interactions) == 0 {
			// A lone unanswered message is still a valid conversation.
			c.Interactions = append(c.Interactions, in)
			return nil
		}
	case KindInsideToolUse, KindOutsideToolUse:
		if len(c.Interactions) == 0 {
			return ErrChainOpensConversation
		}
	}

	head := &c.Interactions[len(c.Interactions)-1]
	head.Linked = append(head.Linked, in)
	head.TokenCount += in.TokenCount
	return nil
}

func interactionTokens(in Interaction, count Counter) int {
	if count == nil {
		return 0
	}
	total := 0
	if in.Query != nil {
		total += count(*in.Query)
	}
	if in.Reply != nil {
		total += count(*in.Reply)
	}
	return total
}

// Render flattens the conversation back to a message list, emitting query
// then reply for each top-level interaction and then each linked
// interaction in order. A message whose role equals the previously emitted
// role is skipped; on a well-formed structure this never triggers.
func (c *Conversation) Render() []message.Message {
	var out []message.Message
	emit := func(msg *message.Message) {
		if msg == nil {
			return
		}
		if len(out) > 0 && out[len(out)-1].Role == msg.Role {
			return
		}
		out = append(out, *msg)
	}

	for _, in := range c.Interactions {
		emit(in.Query)
		emit(in.Reply)
		for _, sub := range in.Linked {
			emit(sub.Query)
			emit(sub.Reply)
		}
	}
	return out
}

// DropMessages truncates the history at interaction granularity until the
// running total fits under target. approxTotal is the full estimated token
// count of the conversation as it would be sent (history plus prompt and
// tools overhead); each dropped interaction subtracts its own count from
// that total. Truncation never splits a tool-use chain, which is what keeps
// every tool request paired with its response in the output.
//
// If the newest interaction alone exceeds the target it is dropped
// outright: its own tool-response content is what made the count explode,
// and it cannot be shrunk without losing the newest turn anyway. If nothing
// remains, ErrContextUnsatisfiable is returned.
func DropMessages(messages []message.Message, approxTotal, target int, count Counter) ([]message.Message, error) {
	conv, err := Parse(messages, count)
	if err != nil {
		return nil, fmt.Errorf("parsing history for truncation: %w", err)
	}

	running := approxTotal

	if n := len(conv.Interactions); n > 0 {
		last := conv.Interactions[n-1]
		if last.TokenCount > target {
			running -= last.TokenCount
			conv.Interactions = conv.Interactions[:n-1]
		}
	}

	keep := 0
	for keep < len(conv.Interactions) && running > target {
		running -= conv.Interactions[keep].TokenCount
		keep++
	}

	kept := conv.Interactions[keep:]
	if len(kept) == 0 || running > target {
		return nil, ErrContextUnsatisfiable
	}

	truncated := &Conversation{Interactions: kept}
	return truncated.Render(), nil
}
