// Package extension exposes the callable tool catalog to the reply engine:
// named extensions contribute tools and resources, and the registry
// dispatches tool calls against whatever is currently enabled.
package extension

import (
	"context"
	"fmt"

	"github.com/vheckthor/goose-sub001/pkg/message"
)

// Tool describes a callable tool as the model sees it.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Handler implements one tool.
type Handler interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, input map[string]any) ([]message.Content, error)
}

// ToolErrorKind classifies tool failures. Tool errors never abort a
// conversation; they are folded into the tool response so the model can
// see and react to them.
type ToolErrorKind string

const (
	ToolErrorNotFound          ToolErrorKind = "not_found"
	ToolErrorInvalidParameters ToolErrorKind = "invalid_parameters"
	ToolErrorExecution         ToolErrorKind = "execution_error"
)

// ToolError is a typed tool failure.
type ToolError struct {
	Kind    ToolErrorKind
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown tool or extension.
func NotFoundError(format string, args ...any) *ToolError {
	return &ToolError{Kind: ToolErrorNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidParametersError reports malformed tool arguments.
func InvalidParametersError(format string, args ...any) *ToolError {
	return &ToolError{Kind: ToolErrorInvalidParameters, Message: fmt.Sprintf(format, args...)}
}

// ExecutionError wraps a tool runtime failure.
func ExecutionError(msg string, err error) *ToolError {
	return &ToolError{Kind: ToolErrorExecution, Message: msg, Err: err}
}
