package schema

import (
	"maps"
	"slices"
	"strings"
)

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"content"`
}

// ConversationState is the value owned by one conversation token. Methods that
// change it return a new value; the receiver is never modified.
type ConversationState struct {
	Token        string             `json:"token"`
	Turns        []Turn             `json:"turns"`
	Requirements map[string]string  `json:"accumulated_requirements"`
	Status       ConversationStatus `json:"status"`
}

// NewConversationState returns an empty collecting conversation.
func NewConversationState(token string) ConversationState {
	return ConversationState{
		Token:        token,
		Turns:        []Turn{},
		Requirements: map[string]string{},
		Status:       ConversationStatusCollecting,
	}
}

// WithTurns returns a copy with turns appended.
func (c ConversationState) WithTurns(turns ...Turn) ConversationState {
	next := c.clone()
	next.Turns = append(next.Turns, turns...)
	return next
}

// WithRequirements returns a copy with the given slots merged in. Empty values are ignored.
func (c ConversationState) WithRequirements(slots map[string]string) ConversationState {
	next := c.clone()
	for k, v := range slots {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		next.Requirements[k] = v
	}
	return next
}

// WithStatus returns a copy in the given status.
func (c ConversationState) WithStatus(s ConversationStatus) ConversationState {
	next := c.clone()
	next.Status = s
	return next
}

// IsReady reports whether the conversation reached its terminal state.
func (c ConversationState) IsReady() bool {
	return c.Status == ConversationStatusReady
}

// UserMessages returns the text of every user turn in order.
func (c ConversationState) UserMessages() []string {
	var out []string
	for _, t := range c.Turns {
		if t.Role == RoleUser {
			out = append(out, t.Text)
		}
	}
	return out
}

// RecentTurns returns at most n trailing turns.
func (c ConversationState) RecentTurns(n int) []Turn {
	if n <= 0 || len(c.Turns) <= n {
		return slices.Clone(c.Turns)
	}
	return slices.Clone(c.Turns[len(c.Turns)-n:])
}

func (c ConversationState) clone() ConversationState {
	next := c
	next.Turns = slices.Clone(c.Turns)
	next.Requirements = maps.Clone(c.Requirements)
	if next.Requirements == nil {
		next.Requirements = map[string]string{}
	}
	return next
}
