package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeMalformedSpecification = "MALFORMED_SPECIFICATION"
	ErrCodeValidationViolation    = "VALIDATION_VIOLATION"
	ErrCodeGenerationUnavailable  = "GENERATION_UNAVAILABLE"
	ErrCodeGenerationTimeout      = "GENERATION_TIMEOUT"
	ErrCodeRenderError            = "RENDER_ERROR"
	ErrCodeRetryExhausted         = "RETRY_EXHAUSTED"
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeConversationClosed     = "CONVERSATION_CLOSED"
	ErrCodeCircuitOpen            = "CIRCUIT_OPEN"
	ErrCodeCancelled              = "CANCELLED"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeConflict               = "CONFLICT"
	ErrCodeStore                  = "STORE_ERROR"
	ErrCodeOverloaded             = "OVERLOADED"
	ErrCodeExpression             = "EXPRESSION_ERROR"
	ErrCodeVault                  = "VAULT_ERROR"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// DiagramError is the structured error type for all diagrammer operations.
type DiagramError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Attempt int            `json:"attempt,omitempty"`
	Cause   error          `json:"-"`
}

func (e *DiagramError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("[%s] attempt %d: %s", e.Code, e.Attempt, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DiagramError) Unwrap() error {
	return e.Cause
}

// NewError creates a new DiagramError.
func NewError(code, message string) *DiagramError {
	return &DiagramError{Code: code, Message: message}
}

// NewErrorf creates a new DiagramError with a formatted message.
func NewErrorf(code, format string, args ...any) *DiagramError {
	return &DiagramError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAttempt attaches the attempt number the error occurred on.
func (e *DiagramError) WithAttempt(n int) *DiagramError {
	e.Attempt = n
	return e
}

// WithCause attaches an underlying cause.
func (e *DiagramError) WithCause(err error) *DiagramError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *DiagramError) WithDetails(details map[string]any) *DiagramError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first DiagramError in err's chain, or "".
func CodeOf(err error) string {
	var de *DiagramError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
