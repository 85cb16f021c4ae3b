package conversation

import (
	"context"

	"github.com/rendis/diagrammer/internal/expressions"
	"github.com/rendis/diagrammer/pkg/schema"
)

// DefaultReadyRule hands off as soon as the assessment is sufficient.
const DefaultReadyRule = `sufficient`

// ReadyGuard decides the Collecting -> Ready transition. The rule is an expr
// expression over:
//
//	sufficient   bool               the assessment asked for a diagram
//	action       string             the assessment action
//	requirements map[string]string  accumulated requirement slots
//	turns        int                user turns including the current one
//	message      string             the current message
type ReadyGuard struct {
	rule   string
	engine *expressions.ExprEngine
}

// NewReadyGuard compiles rule once to surface syntax errors early.
func NewReadyGuard(rule string) (*ReadyGuard, error) {
	if rule == "" {
		rule = DefaultReadyRule
	}
	g := &ReadyGuard{rule: rule, engine: expressions.NewExprEngine()}
	if _, err := g.Ready(context.Background(), Assessment{Action: ActionClarify}, schema.NewConversationState(""), ""); err != nil {
		return nil, err
	}
	return g, nil
}

// Rule returns the expression in use.
func (g *ReadyGuard) Rule() string { return g.rule }

// Ready evaluates the rule for a turn. state already includes the
// requirements stated in message but not the message turn itself.
func (g *ReadyGuard) Ready(ctx context.Context, a Assessment, state schema.ConversationState, message string) (bool, error) {
	reqs := make(map[string]string, len(state.Requirements))
	for k, v := range state.Requirements {
		reqs[k] = v
	}
	return expressions.EvaluateBool(ctx, g.engine, g.rule, map[string]any{
		"sufficient":   a.Sufficient(),
		"action":       string(a.Action),
		"requirements": reqs,
		"turns":        len(state.UserMessages()) + 1,
		"message":      message,
	})
}
