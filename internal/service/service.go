package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/rendis/diagrammer/internal/conversation"
	"github.com/rendis/diagrammer/internal/diagram"
	"github.com/rendis/diagrammer/internal/engine"
	"github.com/rendis/diagrammer/internal/logging"
	"github.com/rendis/diagrammer/internal/prompts"
	"github.com/rendis/diagrammer/internal/validation"
	"github.com/rendis/diagrammer/internal/vocabulary"
	"github.com/rendis/diagrammer/pkg/schema"
)

// Recorder receives service level metrics. Optional.
type Recorder interface {
	TurnFinished(action string)
	SetConversations(n int)
	SetActiveRuns(n int64)
	Rejected()
}

// Deps are the collaborators of a Service.
type Deps struct {
	Runner    conversation.Runner
	Machine   *conversation.Machine
	Parser    engine.Parser
	Validator validation.Validator
	Kinds     *vocabulary.Registry
	Gate      *engine.Gate
	Recorder  Recorder
	Logger    *slog.Logger
}

// Service is the boundary every transport (HTTP, MCP, CLI, Lambda) calls.
type Service struct {
	deps Deps
}

// New creates a Service. A nil Gate admits everything.
func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// GenerateRequest is a single-shot generation.
type GenerateRequest struct {
	// RunID is optional; callers set it to subscribe to the run's events
	// before it starts.
	RunID       string `json:"run_id,omitempty"`
	Description string `json:"description"`
	Format      string `json:"output_format,omitempty"`
}

// ConverseRequest is one conversation turn.
type ConverseRequest struct {
	Token   string        `json:"conversation_token,omitempty"`
	Message string        `json:"message"`
	History []schema.Turn `json:"conversation_history,omitempty"`
}

// ValidationReport is the outcome of ValidateSpecification.
type ValidationReport struct {
	Valid         bool                  `json:"valid"`
	Violations    schema.Violations     `json:"violations"`
	NodeCount     int                   `json:"node_count"`
	Connections   int                   `json:"connection_count"`
	Clusters      int                   `json:"cluster_count"`
	Specification *schema.Specification `json:"specification,omitempty"`
}

// GenerateDiagram runs the generate, validate, repair loop for one
// description. A failed run returns its Result alongside the error.
func (s *Service) GenerateDiagram(ctx context.Context, req GenerateRequest) (*engine.Result, error) {
	description, err := s.clean(ctx, req.Description, "description")
	if err != nil {
		return nil, err
	}
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format != "" && !slices.Contains(diagram.Formats(), format) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported output format %q", req.Format).
			WithDetails(map[string]any{"supported": diagram.Formats()})
	}

	var res *engine.Result
	err = s.admit(ctx, func(ctx context.Context) error {
		var runErr error
		res, runErr = s.deps.Runner.Run(ctx, engine.Request{RunID: req.RunID, Description: description, Format: format})
		return runErr
	})
	return res, err
}

// Converse processes one conversation turn.
func (s *Service) Converse(ctx context.Context, req ConverseRequest) (*conversation.Reply, error) {
	if s.deps.Machine == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "conversations are not enabled")
	}
	message, err := s.clean(ctx, req.Message, "message")
	if err != nil {
		return nil, err
	}

	var reply *conversation.Reply
	err = s.admit(ctx, func(ctx context.Context) error {
		var turnErr error
		reply, turnErr = s.deps.Machine.Turn(ctx, req.Token, message, req.History)
		return turnErr
	})

	if s.deps.Recorder != nil {
		if reply != nil {
			s.deps.Recorder.TurnFinished(string(reply.Action))
		}
		s.deps.Recorder.SetConversations(s.deps.Machine.Len())
	}
	if err != nil {
		return nil, err
	}
	if reply.Result != nil && reply.Result.Err != nil {
		return reply, reply.Result.Err
	}
	return reply, nil
}

// ValidateSpecification parses and validates a caller supplied specification.
// Structural problems are reported as violations, never as an error.
func (s *Service) ValidateSpecification(_ context.Context, raw string) (*ValidationReport, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "specification is required")
	}

	spec, err := s.deps.Parser.Parse(raw)
	if err != nil {
		if !schema.IsCode(err, schema.ErrCodeMalformedSpecification) {
			return nil, err
		}
		return &ValidationReport{Violations: schema.Violations{schema.MalformedViolation(err)}}, nil
	}

	violations := s.deps.Validator.Validate(spec)
	if violations == nil {
		violations = schema.Violations{}
	}
	return &ValidationReport{
		Valid:         len(violations) == 0,
		Violations:    violations,
		NodeCount:     spec.NodeCount(),
		Connections:   spec.ConnectionCount(),
		Clusters:      spec.ClusterCount(),
		Specification: spec,
	}, nil
}

// Kinds lists the registered node kinds.
func (s *Service) Kinds() []vocabulary.Kind {
	if s.deps.Kinds == nil {
		return nil
	}
	return s.deps.Kinds.List()
}

// Conversation returns the state of a live conversation.
func (s *Service) Conversation(token string) (schema.ConversationState, bool) {
	if s.deps.Machine == nil {
		return schema.ConversationState{}, false
	}
	return s.deps.Machine.State(token)
}

// GateMetrics reports admission counters. Zero without a gate.
func (s *Service) GateMetrics() engine.GateMetrics {
	if s.deps.Gate == nil {
		return engine.GateMetrics{}
	}
	return s.deps.Gate.Metrics()
}

func (s *Service) clean(ctx context.Context, text, field string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%s is required", field)
	}
	out, changed := prompts.Sanitize(text)
	if changed {
		logging.LogWith(ctx, s.deps.Logger).Warn("user input sanitized",
			slog.String("field", field),
			slog.Int("original_length", len(text)),
			slog.Int("sanitized_length", len(out)))
	}
	return out, nil
}

func (s *Service) admit(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.deps.Gate == nil {
		return fn(ctx)
	}
	err := s.deps.Gate.Do(ctx, func(ctx context.Context) error {
		if s.deps.Recorder != nil {
			s.deps.Recorder.SetActiveRuns(s.deps.Gate.Metrics().Active)
		}
		return fn(ctx)
	})
	if s.deps.Recorder != nil {
		s.deps.Recorder.SetActiveRuns(s.deps.Gate.Metrics().Active)
		if schema.IsCode(err, schema.ErrCodeOverloaded) {
			s.deps.Recorder.Rejected()
		}
	}
	return err
}
