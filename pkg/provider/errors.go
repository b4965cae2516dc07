package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures. The reply engine treats
// ContextLengthExceeded as recoverable via truncation; every other kind
// ends the turn with a single error message.
type ErrorKind string

const (
	ErrorKindAuthentication        ErrorKind = "authentication"
	ErrorKindRateLimitExceeded     ErrorKind = "rate_limit_exceeded"
	ErrorKindServer                ErrorKind = "server_error"
	ErrorKindContextLengthExceeded ErrorKind = "context_length_exceeded"
	ErrorKindRequestFailed         ErrorKind = "request_failed"
	ErrorKindUsage                 ErrorKind = "usage_error"
	ErrorKindResponseParse         ErrorKind = "response_parse_error"
	// ErrorKindExecution marks a failure while acting on a completion, such
	// as running a requested tool on the provider's behalf. Tool dispatch
	// reports its own errors inline, so this kind mostly appears when
	// callers wrap downstream failures for classification.
	ErrorKindExecution ErrorKind = "execution_error"
)

// Error is a typed provider failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed provider error wrapping err.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the error kind, defaulting to RequestFailed for
// untyped errors.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ErrorKindRequestFailed
}

// IsContextLengthExceeded reports whether err is a context overflow.
func IsContextLengthExceeded(err error) bool {
	return KindOf(err) == ErrorKindContextLengthExceeded
}
