// Package llm holds the text-generation collaborators. Every backend
// implements Generator and reports failures as GENERATION_UNAVAILABLE or
// GENERATION_TIMEOUT so the orchestrator can abort a run without guessing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rendis/diagrammer/pkg/schema"
)

// Mode tells a backend what kind of answer is expected.
type Mode string

const (
	// ModeDiagram expects a JSON diagram specification.
	ModeDiagram Mode = "diagram"
	// ModeAssess expects a JSON action object judging requirement sufficiency.
	ModeAssess Mode = "assess"
	// ModeExplain expects free text.
	ModeExplain Mode = "explain"
)

// JSON reports whether the mode expects structured output.
func (m Mode) JSON() bool { return m == ModeDiagram || m == ModeAssess }

// Options tune a single generation call. Zero values mean backend defaults.
type Options struct {
	System      string
	Temperature *float32
	MaxTokens   int
}

// Temp is a helper for building Options literals.
func Temp(v float32) *float32 { return &v }

// Generator produces raw text for a prompt. Implementations must be safe for
// concurrent use and must honour ctx cancellation.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, mode Mode, opts Options) (string, error)
}

// Unavailable builds a GENERATION_UNAVAILABLE error for provider.
func Unavailable(provider, msg string, cause error) *schema.DiagramError {
	e := schema.NewErrorf(schema.ErrCodeGenerationUnavailable, "%s: %s", provider, msg).
		WithDetails(map[string]any{"provider": provider})
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

// Timeout builds a GENERATION_TIMEOUT error for provider.
func Timeout(provider string, cause error) *schema.DiagramError {
	e := schema.NewErrorf(schema.ErrCodeGenerationTimeout, "%s: generation timed out", provider).
		WithDetails(map[string]any{"provider": provider})
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

// Classify maps any backend error onto the generation error codes. Errors that
// already carry a generation or cancellation code pass through unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	switch schema.CodeOf(err) {
	case schema.ErrCodeGenerationUnavailable, schema.ErrCodeGenerationTimeout, schema.ErrCodeCancelled:
		return err
	case schema.ErrCodeCircuitOpen:
		return Unavailable(provider, "circuit breaker open", err)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(provider, err)
	case errors.Is(err, context.Canceled):
		return schema.NewErrorf(schema.ErrCodeCancelled, "%s: generation cancelled", provider).WithCause(err)
	}
	return Unavailable(provider, err.Error(), err)
}

// FromHTTPStatus maps a non-2xx provider response onto a generation error.
func FromHTTPStatus(provider string, status int, body string) error {
	if status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout {
		return Timeout(provider, fmt.Errorf("http %d", status))
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return Unavailable(provider, fmt.Sprintf("http %d: %s", status, body), nil).
		WithDetails(map[string]any{"provider": provider, "status": status})
}
