package schema

// Event type constants for the run event log.
const (
	EventRunStarted   = "run_started"
	EventRunSucceeded = "run_succeeded"
	EventRunFailed    = "run_failed"

	EventAttemptStarted   = "attempt_started"
	EventAttemptRejected  = "attempt_rejected"
	EventAttemptAccepted  = "attempt_accepted"
	EventGenerationFailed = "generation_failed"
	EventRenderFailed     = "render_failed"

	EventConversationTurn  = "conversation_turn"
	EventConversationReady = "conversation_ready"

	EventCircuitBreakerOpen     = "circuit_breaker_open"
	EventCircuitBreakerHalfOpen = "circuit_breaker_half_open"
	EventCircuitBreakerClosed   = "circuit_breaker_closed"
)

// RunStatus is the state of one generation attempt sequence.
type RunStatus string

const (
	RunStatusAttempting RunStatus = "attempting"
	RunStatusSucceeded  RunStatus = "succeeded"
	RunStatusFailed     RunStatus = "failed"
)

// ConversationStatus is the state of one conversation.
type ConversationStatus string

const (
	ConversationStatusCollecting ConversationStatus = "collecting"
	ConversationStatusReady      ConversationStatus = "ready"
)
