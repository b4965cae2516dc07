// Package message defines the conversation message model shared by the
// provider clients, the reply engine and the session store.
package message

import (
	"time"
)

// Role defines the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType defines the kind of message content.
type ContentType string

const (
	ContentTypeText         ContentType = "text"
	ContentTypeImage        ContentType = "image"
	ContentTypeToolRequest  ContentType = "tool_request"
	ContentTypeToolResponse ContentType = "tool_response"
)

// Message is a single conversation turn. Messages are immutable once
// created; callers build new slices rather than mutating history in place.
type Message struct {
	Role    Role      `json:"role"`
	Created time.Time `json:"created"`
	Content []Content `json:"content"`
}

// Content represents a single component of a message.
type Content struct {
	Type ContentType `json:"type"`

	// Only one of these will be non-nil.
	Text         *TextContent  `json:"text,omitempty"`
	Image        *ImageContent `json:"image,omitempty"`
	ToolRequest  *ToolRequest  `json:"tool_request,omitempty"`
	ToolResponse *ToolResponse `json:"tool_response,omitempty"`
}

// TextContent contains literal text.
type TextContent struct {
	Text string `json:"text"`
}

// ImageContent contains raw image data.
type ImageContent struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

// ToolCall is a model-issued invocation of a named tool with arguments.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolRequest is an assistant-emitted request to run a tool. Call is nil
// and Error is set when the model produced a call the engine could not
// interpret; the error still flows back to the model as conversation
// content rather than aborting the turn.
type ToolRequest struct {
	ID    string    `json:"id"`
	Call  *ToolCall `json:"call,omitempty"`
	Error string    `json:"error,omitempty"`
}

// ToolResponse is the result of a tool request, paired by ID. A response
// with Error set records a tool failure the model is expected to react to.
type ToolResponse struct {
	ID      string    `json:"id"`
	Content []Content `json:"content,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// New creates an empty message for the given role, stamped with the
// current time.
func New(role Role) Message {
	return Message{Role: role, Created: time.Now()}
}

// NewUser creates a user message containing a single text item.
func NewUser(text string) Message {
	return Message{
		Role:    RoleUser,
		Created: time.Now(),
		Content: []Content{TextItem(text)},
	}
}

// NewAssistant creates an assistant message containing a single text item.
func NewAssistant(text string) Message {
	return Message{
		Role:    RoleAssistant,
		Created: time.Now(),
		Content: []Content{TextItem(text)},
	}
}

// TextItem wraps a string as a text content item.
func TextItem(text string) Content {
	return Content{Type: ContentTypeText, Text: &TextContent{Text: text}}
}

// ToolRequestItem wraps a tool call as a tool-request content item.
func ToolRequestItem(id string, call ToolCall) Content {
	return Content{
		Type:        ContentTypeToolRequest,
		ToolRequest: &ToolRequest{ID: id, Call: &call},
	}
}

// ToolRequestError wraps a malformed tool call as a tool-request item
// carrying the parse error instead of a call.
func ToolRequestError(id string, errText string) Content {
	return Content{
		Type:        ContentTypeToolRequest,
		ToolRequest: &ToolRequest{ID: id, Error: errText},
	}
}

// ToolResponseItem wraps a successful tool result as a tool-response item.
func ToolResponseItem(id string, content []Content) Content {
	return Content{
		Type:         ContentTypeToolResponse,
		ToolResponse: &ToolResponse{ID: id, Content: content},
	}
}

// ToolResponseError wraps a tool failure as a tool-response item.
func ToolResponseError(id string, errText string) Content {
	return Content{
		Type:         ContentTypeToolResponse,
		ToolResponse: &ToolResponse{ID: id, Error: errText},
	}
}

// WithText returns a copy of the message with an extra text item appended.
func (m Message) WithText(text string) Message {
	m.Content = append(append([]Content(nil), m.Content...), TextItem(text))
	return m
}

// WithContent returns a copy of the message with the item appended.
func (m Message) WithContent(c Content) Message {
	m.Content = append(append([]Content(nil), m.Content...), c)
	return m
}

// Text concatenates all text items of the message.
func (m Message) Text() string {
	var out string
	for _, c := range m.Content {
		if c.Type == ContentTypeText && c.Text != nil {
			if out != "" {
				out += "\n"
			}
			out += c.Text.Text
		}
	}
	return out
}

// ToolRequests returns the tool-request items of the message in order.
func (m Message) ToolRequests() []ToolRequest {
	var reqs []ToolRequest
	for _, c := range m.Content {
		if c.Type == ContentTypeToolRequest && c.ToolRequest != nil {
			reqs = append(reqs, *c.ToolRequest)
		}
	}
	return reqs
}

// ToolResponses returns the tool-response items of the message in order.
func (m Message) ToolResponses() []ToolResponse {
	var resps []ToolResponse
	for _, c := range m.Content {
		if c.Type == ContentTypeToolResponse && c.ToolResponse != nil {
			resps = append(resps, *c.ToolResponse)
		}
	}
	return resps
}

// HasToolRequest reports whether the message carries any tool request.
func (m Message) HasToolRequest() bool {
	for _, c := range m.Content {
		if c.Type == ContentTypeToolRequest {
			return true
		}
	}
	return false
}

// HasToolResponse reports whether the message carries any tool response.
func (m Message) HasToolResponse() bool {
	for _, c := range m.Content {
		if c.Type == ContentTypeToolResponse {
			return true
		}
	}
	return false
}
