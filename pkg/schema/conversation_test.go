package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationState_UpdatesReturnNewValue(t *testing.T) {
	base := NewConversationState("tok-1")
	assert.Equal(t, ConversationStatusCollecting, base.Status)

	next := base.
		WithTurns(Turn{Role: RoleUser, Text: "I need a web app"}).
		WithRequirements(map[string]string{"tier": "web", "empty": " "})

	assert.Empty(t, base.Turns)
	assert.Empty(t, base.Requirements)
	assert.Len(t, next.Turns, 1)
	assert.Equal(t, map[string]string{"tier": "web"}, next.Requirements)

	ready := next.WithStatus(ConversationStatusReady)
	assert.True(t, ready.IsReady())
	assert.False(t, next.IsReady())
}

func TestConversationState_RecentTurnsAndUserMessages(t *testing.T) {
	s := NewConversationState("tok")
	for i := 0; i < 4; i++ {
		s = s.WithTurns(Turn{Role: RoleUser, Text: string(rune('a' + i))}, Turn{Role: RoleAssistant, Text: "?"})
	}

	recent := s.RecentTurns(5)
	assert.Len(t, recent, 5)
	assert.Equal(t, "?", recent[4].Text)
	assert.Len(t, s.RecentTurns(0), 8)

	assert.Equal(t, []string{"a", "b", "c", "d"}, s.UserMessages())
}
