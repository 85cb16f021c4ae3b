package engine

import (
	"github.com/rendis/diagrammer/pkg/schema"
)

// RunState is the state of the generation loop.
type RunState struct {
	Status     schema.RunStatus
	Attempt    int
	Spec       *schema.Specification
	Violations schema.Violations
	Err        error
}

// Start returns the initial state, Attempting(1).
func Start() RunState {
	return RunState{Status: schema.RunStatusAttempting, Attempt: 1}
}

// Outcome is what one attempt produced. Parse failures arrive as a single
// malformed_specification violation; collaborator failures as Err.
type Outcome struct {
	Spec       *schema.Specification
	Violations schema.Violations
	Err        error
}

// Next is the transition function of the repair loop. It is pure: the
// orchestrator performs every side effect around it.
func Next(s RunState, o Outcome, maxAttempts int) (RunState, error) {
	if s.Status != schema.RunStatusAttempting {
		return s, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"run is %s; no further attempts are accepted", s.Status)
	}

	switch {
	case o.Err != nil:
		return RunState{Status: schema.RunStatusFailed, Attempt: s.Attempt, Err: o.Err}, nil

	case len(o.Violations) == 0 && o.Spec != nil:
		return RunState{Status: schema.RunStatusSucceeded, Attempt: s.Attempt, Spec: o.Spec}, nil

	case len(o.Violations) == 0:
		return s, schema.NewError(schema.ErrCodeInvalidTransition,
			"attempt outcome carries neither a specification nor violations")

	case s.Attempt < maxAttempts:
		return RunState{Status: schema.RunStatusAttempting, Attempt: s.Attempt + 1, Violations: o.Violations}, nil

	default:
		exhausted := schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"no valid specification after %d attempts", s.Attempt).
			WithAttempt(s.Attempt).
			WithDetails(map[string]any{"violations": o.Violations.Messages()})
		return RunState{Status: schema.RunStatusFailed, Attempt: s.Attempt, Violations: o.Violations, Err: exhausted}, nil
	}
}

// Terminal reports whether the run has finished.
func (s RunState) Terminal() bool {
	return s.Status == schema.RunStatusSucceeded || s.Status == schema.RunStatusFailed
}
