package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/diagrammer/internal/store"
	"github.com/rendis/diagrammer/pkg/schema"
)

// TransitionHook is called after a state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the store, the stream hub and the Sink.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// FSM validates transitions against a table and emits the event mapped to
// the target state.
type FSM[S ~string] struct {
	mu       sync.Mutex
	name     string
	table    map[S][]S
	events   map[S]string
	appender EventAppender
	after    []TransitionHook
}

// NewRunFSM creates the FSM of one generation run.
func NewRunFSM(appender EventAppender) *FSM[schema.RunStatus] {
	return &FSM[schema.RunStatus]{
		name:  "run",
		table: ValidRunTransitions,
		events: map[schema.RunStatus]string{
			schema.RunStatusAttempting: schema.EventAttemptStarted,
			schema.RunStatusSucceeded:  schema.EventRunSucceeded,
			schema.RunStatusFailed:     schema.EventRunFailed,
		},
		appender: appender,
	}
}

// NewConversationFSM creates the FSM of one conversation.
func NewConversationFSM(appender EventAppender) *FSM[schema.ConversationStatus] {
	return &FSM[schema.ConversationStatus]{
		name:  "conversation",
		table: ValidConversationTransitions,
		events: map[schema.ConversationStatus]string{
			schema.ConversationStatusCollecting: schema.EventConversationTurn,
			schema.ConversationStatusReady:      schema.EventConversationReady,
		},
		appender: appender,
	}
}

// OnAfter registers a hook called after every successful transition.
func (f *FSM[S]) OnAfter(hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.after = append(f.after, hook)
}

// Transition validates from -> to and appends the target state's event for
// runID. payload, when non-nil, is JSON encoded into the event.
func (f *FSM[S]) Transition(ctx context.Context, runID string, attempt int, from, to S, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.valid(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid %s transition: %s -> %s", f.name, from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	if eventType := f.events[to]; eventType != "" && f.appender != nil {
		event := &store.Event{RunID: runID, Type: eventType, Attempt: attempt}
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return schema.NewErrorf(schema.ErrCodeStore, "encode %s event: %s", f.name, err.Error()).WithCause(err)
			}
			event.Payload = raw
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit %s event: %s", f.name, err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

func (f *FSM[S]) valid(from, to S) bool {
	for _, a := range f.table[from] {
		if a == to {
			return true
		}
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for generation runs.
// Attempting -> Attempting is the repair loop.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusAttempting: {schema.RunStatusAttempting, schema.RunStatusSucceeded, schema.RunStatusFailed},
	schema.RunStatusSucceeded:  {},
	schema.RunStatusFailed:     {},
}

// ValidConversationTransitions defines the allowed state transitions for conversations.
var ValidConversationTransitions = map[schema.ConversationStatus][]schema.ConversationStatus{
	schema.ConversationStatusCollecting: {schema.ConversationStatusCollecting, schema.ConversationStatusReady},
	schema.ConversationStatusReady:      {},
}
