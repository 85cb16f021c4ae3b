package conversation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rendis/diagrammer/internal/expressions"
	"github.com/rendis/diagrammer/internal/llm"
	"github.com/rendis/diagrammer/internal/validation"
)

// Action is what the assistant decided to do with a turn.
type Action string

const (
	ActionGenerate Action = "generate_diagram"
	ActionClarify  Action = "ask_clarification"
	ActionExplain  Action = "explain_concept"
)

// Assessment is the decoded verdict of an assess-mode generation.
type Assessment struct {
	Action       Action            `json:"action"`
	Reasoning    string            `json:"reasoning,omitempty"`
	Question     string            `json:"question,omitempty"`
	Concept      string            `json:"concept,omitempty"`
	Description  string            `json:"description,omitempty"`
	Requirements map[string]string `json:"requirements,omitempty"`
	// Parsed is false when the output could not be decoded and the
	// assessment fell back to a clarification.
	Parsed bool `json:"-"`
}

// Sufficient reports whether the assessment asks for a diagram.
func (a Assessment) Sufficient() bool { return a.Action == ActionGenerate }

// jq queries over the decoded assessment. Generators disagree on where they
// put fields, so each query accepts the nested and the flat form.
const (
	actionQuery       = `(.action // .tool // "ask_clarification") | ascii_downcase`
	reasoningQuery    = `.reasoning // empty | tostring`
	questionQuery     = `.parameters.question // .question // empty | tostring`
	conceptQuery      = `.parameters.concept // .concept // empty | tostring`
	descriptionQuery  = `.parameters.description // .description // empty | tostring`
	requirementsQuery = `(.requirements // .parameters.requirements // {})
		| to_entries
		| map(select(.value != null and .value != ""))
		| map({key: (.key | tostring), value: (.value | tostring)})
		| from_entries`
)

// Extractor pulls an Assessment out of raw generator output.
type Extractor struct {
	jq *expressions.GoJQEngine
}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{jq: expressions.NewGoJQEngine()}
}

// Extract decodes raw. Output that is not a JSON object, or names an unknown
// action, becomes a clarification with the default question.
func (x *Extractor) Extract(ctx context.Context, raw string) Assessment {
	fallback := Assessment{Action: ActionClarify, Question: llm.ClarificationQuestion}

	body := validation.ExtractJSON(raw)
	if body == "" {
		return fallback
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return fallback
	}

	action, err := x.str(ctx, actionQuery, data)
	if err != nil {
		return fallback
	}

	a := Assessment{Action: Action(action), Parsed: true}
	a.Reasoning, _ = x.str(ctx, reasoningQuery, data)
	a.Question, _ = x.str(ctx, questionQuery, data)
	a.Concept, _ = x.str(ctx, conceptQuery, data)
	a.Description, _ = x.str(ctx, descriptionQuery, data)
	a.Requirements = x.requirements(ctx, data)

	switch a.Action {
	case ActionGenerate:
	case ActionExplain:
		if a.Concept == "" {
			a.Action = ActionClarify
		}
	case ActionClarify:
	default:
		a.Action = ActionClarify
	}
	if a.Action == ActionClarify && a.Question == "" {
		a.Question = llm.ClarificationQuestion
	}
	return a
}

func (x *Extractor) str(ctx context.Context, query string, data map[string]any) (string, error) {
	out, err := x.jq.Evaluate(ctx, query, data)
	if err != nil {
		return "", err
	}
	s, _ := out.(string)
	return strings.TrimSpace(s), nil
}

func (x *Extractor) requirements(ctx context.Context, data map[string]any) map[string]string {
	out, err := x.jq.Evaluate(ctx, requirementsQuery, data)
	if err != nil {
		return nil
	}
	m, ok := out.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	reqs := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			reqs[k] = s
		}
	}
	return reqs
}
