// Package llm defines the text-generation contract used by query generation and
// knowledge extraction, with an Azure OpenAI implementation.
package llm

//go:generate mockgen -destination=mocks/mock_generator.go -package=mocks github.com/hyperjump/kousei/internal/llm Generator

import (
	"context"
	"errors"
	"fmt"
)

// Prompt is a single generation request.
type Prompt struct {
	System string
	User   string
	// MaxTokens overrides the client default when positive.
	MaxTokens int
}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// ErrEmptyResponse is returned when the service answers without any content.
var ErrEmptyResponse = errors.New("empty completion")

// GenerationError wraps a failed generation call. Retryable marks failures worth retrying
// (throttling, server errors, timeouts).
type GenerationError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the call may succeed.
func (e *GenerationError) Temporary() bool { return e.Retryable }

// ErrUnavailable is returned by Unavailable.
var ErrUnavailable = errors.New("no language model configured")

// Unavailable is a Generator for offline runs. Every call fails without retrying, so
// callers take their fallback path.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, Prompt) (string, error) {
	return "", &GenerationError{Op: "generate", Err: ErrUnavailable}
}
