package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ViolationKind classifies a structural defect in a specification.
type ViolationKind string

const (
	ViolationEmptySpecification ViolationKind = "empty_specification"
	ViolationDuplicateNodeID    ViolationKind = "duplicate_node_id"
	ViolationUnknownNodeKind    ViolationKind = "unknown_node_kind"
	ViolationDanglingEndpoint   ViolationKind = "dangling_connection_endpoint"
	ViolationDanglingMember     ViolationKind = "dangling_cluster_member"
	ViolationClusterOverlap     ViolationKind = "overlapping_cluster_member"
	ViolationMalformed          ViolationKind = "malformed_specification"
	ViolationPolicy             ViolationKind = "policy_violation"
)

// Violation is a single structural defect with its location and an optional repair hint.
type Violation struct {
	Kind         ViolationKind `json:"kind"`
	Path         string        `json:"path"`
	Message      string        `json:"message"`
	SuggestedFix string        `json:"suggested_fix,omitempty"`
}

// String renders the violation as a single line.
func (v Violation) String() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(v.Kind))
	b.WriteString("]")
	if v.Path != "" {
		b.WriteString(" ")
		b.WriteString(v.Path)
		b.WriteString(":")
	}
	b.WriteString(" ")
	b.WriteString(v.Message)
	if v.SuggestedFix != "" {
		b.WriteString(" (suggested fix: ")
		b.WriteString(v.SuggestedFix)
		b.WriteString(")")
	}
	return b.String()
}

// Violations is an ordered list of violations as produced by one validation pass.
type Violations []Violation

// Valid returns true if no violations were found.
func (vs Violations) Valid() bool {
	return len(vs) == 0
}

// Messages returns the messages in order.
func (vs Violations) Messages() []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Message
	}
	return out
}

// Kinds returns the violation kinds in order.
func (vs Violations) Kinds() []ViolationKind {
	out := make([]ViolationKind, len(vs))
	for i, v := range vs {
		out[i] = v.Kind
	}
	return out
}

// ToError converts the list to a DiagramError if non-empty, nil otherwise.
func (vs Violations) ToError() error {
	if vs.Valid() {
		return nil
	}

	msg := vs[0].Message
	if len(vs) > 1 {
		msg = fmt.Sprintf("specification has %d violations", len(vs))
	}

	return NewError(ErrCodeValidationViolation, msg).
		WithDetails(map[string]any{
			"violation_count": len(vs),
			"violations":      []Violation(vs),
		})
}

// MalformedViolation wraps a parse failure as the single synthetic violation
// used to drive the repair path.
func MalformedViolation(err error) Violation {
	msg := "specification is not well-formed"
	if err != nil {
		msg = err.Error()
		var de *DiagramError
		if errors.As(err, &de) {
			msg = de.Message
		}
	}
	return Violation{
		Kind:         ViolationMalformed,
		Path:         "$",
		Message:      msg,
		SuggestedFix: "Ensure the response is valid JSON format. Check for missing commas, quotes, or brackets",
	}
}
