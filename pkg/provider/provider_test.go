package provider

import (
	"errors"
	"fmt"
	"testing"
)

func TestModelConfigDefaults(t *testing.T) {
	cfg := ModelConfig{ModelName: "test-model"}
	if got := cfg.ContextWindow(); got != DefaultContextLimit {
		t.Fatalf("expected default context window %d, got %d", DefaultContextLimit, got)
	}
	if got := cfg.EstimatedLimit(); got != 160000 {
		t.Fatalf("expected estimated limit 160000, got %d", got)
	}
}

func TestModelConfigOverrides(t *testing.T) {
	cfg := ModelConfig{ModelName: "test-model", ContextLimit: 1000, EstimateFactor: 0.5}
	if got := cfg.EstimatedLimit(); got != 500 {
		t.Fatalf("expected estimated limit 500, got %d", got)
	}
}

func TestErrorKindExtraction(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrorKindContextLengthExceeded, "prompt too long", cause)

	if !IsContextLengthExceeded(err) {
		t.Fatal("expected context length detection on the error itself")
	}
	wrapped := fmt.Errorf("calling model: %w", err)
	if !IsContextLengthExceeded(wrapped) {
		t.Fatal("expected context length detection through wrapping")
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected the cause to survive unwrapping")
	}
	if KindOf(errors.New("plain")) != ErrorKindRequestFailed {
		t.Fatal("expected untyped errors to default to request_failed")
	}
	if KindOf(NewError(ErrorKindExecution, "tool run failed", nil)) != ErrorKindExecution {
		t.Fatal("expected execution errors to keep their kind")
	}
}
