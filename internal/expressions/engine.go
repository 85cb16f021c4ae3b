package expressions

import (
	"context"

	"github.com/rendis/diagrammer/pkg/schema"
)

// Engine evaluates expressions against a map of named values.
// Three implementations: CEL (specification policies), GoJQ (assessment
// extraction), Expr (conversation readiness guard).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// EvaluateBool evaluates expression and requires a boolean result.
func EvaluateBool(ctx context.Context, e Engine, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, errNotBool(e.Name(), expression, out)
	}
	return b, nil
}

func errNotBool(engine, expression string, out any) error {
	return schema.NewErrorf(schema.ErrCodeExpression,
		"%s expression %q returned %T, want bool", engine, expression, out).
		WithDetails(map[string]any{"expression": expression})
}
