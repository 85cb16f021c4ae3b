package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/diagrammer/internal/diagram"
	"github.com/rendis/diagrammer/internal/llm"
	"github.com/rendis/diagrammer/internal/logging"
	"github.com/rendis/diagrammer/internal/prompts"
	"github.com/rendis/diagrammer/internal/store"
	"github.com/rendis/diagrammer/internal/validation"
	"github.com/rendis/diagrammer/pkg/schema"
)

const tracerName = "github.com/rendis/diagrammer/internal/engine"

// Defaults for Config.
const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 30 * time.Second
	DefaultTemperature    = 0.3
	DefaultMaxTokens      = 4096
)

// Parser turns raw generator output into a specification.
type Parser interface {
	Parse(raw string) (*schema.Specification, error)
}

// Composer builds the prompts of the loop.
type Composer interface {
	Generation(description string) (prompts.Prompt, error)
	Compose(description, previousOutput string, violations schema.Violations) (prompts.Prompt, error)
}

// Observer receives run metrics.
type Observer interface {
	AttemptFinished(outcome string, d time.Duration)
	RunFinished(status string, attempts int, d time.Duration)
}

type noopObserver struct{}

func (noopObserver) AttemptFinished(string, time.Duration)  {}
func (noopObserver) RunFinished(string, int, time.Duration) {}

// Attempt outcome labels reported to the Observer.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// Config bounds and tunes the loop.
type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	Temperature    float32
	MaxTokens      int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Renderer, Events, Observer,
// Logger and Tracer are optional.
type Deps struct {
	Generator llm.Generator
	Parser    Parser
	Validator validation.Validator
	Composer  Composer
	Renderer  diagram.Renderer
	Events    EventAppender
	Observer  Observer
	Logger    *slog.Logger
	Tracer    trace.Tracer
}

// Request is one generation run.
type Request struct {
	RunID       string
	Description string
	Format      string
}

// Result is the outcome of a run. On failure Err carries RETRY_EXHAUSTED or
// the collaborator's own code.
type Result struct {
	RunID         string                `json:"run_id"`
	Success       bool                  `json:"success"`
	Specification *schema.Specification `json:"specification,omitempty"`
	Artifact      *diagram.Artifact     `json:"artifact,omitempty"`
	NodesCreated  int                   `json:"nodes_created"`
	Connections   int                   `json:"connections"`
	Clusters      int                   `json:"clusters"`
	Attempts      int                   `json:"attempts"`
	Violations    schema.Violations     `json:"violations,omitempty"`
	Err           error                 `json:"-"`
	Duration      time.Duration         `json:"duration"`
}

// Orchestrator drives the generate, validate, repair loop.
type Orchestrator struct {
	deps Deps
	cfg  Config
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &Orchestrator{deps: deps, cfg: cfg.withDefaults()}
}

// MaxAttempts returns the configured attempt bound.
func (o *Orchestrator) MaxAttempts() int { return o.cfg.MaxAttempts }

// Run executes one bounded generation run. The returned error is Result.Err.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logging.WithRunID(ctx, runID)
	ctx, span := o.deps.Tracer.Start(ctx, "diagrammer.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.max_attempts", o.cfg.MaxAttempts),
		))
	defer span.End()

	log := logging.LogWith(ctx, o.deps.Logger)
	events := NewSequencer(runID, o.deps.Events)
	fsm := NewRunFSM(events)

	o.emit(ctx, events, &store.Event{Type: schema.EventRunStarted}, map[string]any{
		"description":  req.Description,
		"max_attempts": o.cfg.MaxAttempts,
	})
	o.emit(ctx, events, &store.Event{Type: schema.EventAttemptStarted, Attempt: 1}, nil)

	state := Start()
	var previous string
	for !state.Terminal() {
		n := state.Attempt
		actx := logging.WithAttempt(ctx, n)

		raw, outcome := o.attempt(actx, events, req.Description, previous, state.Violations)
		next, err := Next(state, outcome, o.cfg.MaxAttempts)
		if err != nil {
			// Next only rejects impossible inputs; treat it as a failed run.
			next = RunState{Status: schema.RunStatusFailed, Attempt: n, Err: err}
		}

		if terr := fsm.Transition(actx, runID, next.Attempt, state.Status, next.Status, transitionPayload(next)); terr != nil {
			log.Warn("run event not recorded", slog.String("error", terr.Error()))
		}
		previous = raw
		state = next
	}

	res := &Result{RunID: runID, Attempts: state.Attempt}
	if state.Status == schema.RunStatusFailed {
		res.Violations = state.Violations
		res.Err = state.Err
		o.finish(ctx, span, res, started)
		log.Warn("generation run failed",
			slog.Int("attempts", res.Attempts),
			slog.Int("violations", len(res.Violations)),
			slog.String("error", errString(res.Err)))
		return res, res.Err
	}

	res.Specification = state.Spec
	res.NodesCreated = state.Spec.NodeCount()
	res.Connections = state.Spec.ConnectionCount()
	res.Clusters = state.Spec.ClusterCount()

	if o.deps.Renderer != nil {
		art, err := o.deps.Renderer.Render(ctx, state.Spec, diagram.Options{
			Title:  diagram.Title(req.Description),
			Format: req.Format,
		})
		if err != nil {
			if !schema.IsCode(err, schema.ErrCodeRenderError) && !schema.IsCode(err, schema.ErrCodeValidation) {
				err = schema.NewErrorf(schema.ErrCodeRenderError, "render: %s", err.Error()).WithCause(err)
			}
			o.emit(ctx, events, &store.Event{Type: schema.EventRenderFailed, Attempt: state.Attempt},
				map[string]any{"error": err.Error()})
			res.Err = err
			o.finish(ctx, span, res, started)
			log.Error("valid specification failed to render", slog.String("error", err.Error()))
			return res, err
		}
		res.Artifact = art
		res.NodesCreated = art.NodesCreated
		res.Connections = art.Connections
		res.Clusters = art.Clusters
	}

	res.Success = true
	o.finish(ctx, span, res, started)
	log.Info("generation run succeeded",
		slog.Int("attempts", res.Attempts),
		slog.Int("nodes", res.NodesCreated),
		slog.Int("connections", res.Connections))
	return res, nil
}

// attempt runs one generate-parse-validate cycle and returns the raw output
// alongside its outcome.
func (o *Orchestrator) attempt(ctx context.Context, events EventAppender, description, previous string, violations schema.Violations) (string, Outcome) {
	n := logging.Attempt(ctx)
	started := time.Now()

	ctx, span := o.deps.Tracer.Start(ctx, "diagrammer.attempt", trace.WithAttributes(attribute.Int("attempt", n)))
	defer span.End()

	fail := func(err error) (string, Outcome) {
		var de *schema.DiagramError
		if errors.As(err, &de) && de.Attempt == 0 {
			de.WithAttempt(n)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.emit(ctx, events, &store.Event{Type: schema.EventGenerationFailed, Attempt: n}, map[string]any{
			"code":  schema.CodeOf(err),
			"error": err.Error(),
		})
		o.deps.Observer.AttemptFinished(OutcomeError, time.Since(started))
		return "", Outcome{Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(llm.Classify(o.deps.Generator.Name(), err))
	}

	var prompt prompts.Prompt
	var err error
	if n == 1 {
		prompt, err = o.deps.Composer.Generation(description)
	} else {
		prompt, err = o.deps.Composer.Compose(description, previous, violations)
	}
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.String("prompt.template", prompt.Name))

	gctx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	raw, err := o.deps.Generator.Generate(gctx, prompt.User, llm.ModeDiagram, llm.Options{
		System:      prompt.System,
		Temperature: llm.Temp(o.cfg.Temperature),
		MaxTokens:   o.cfg.MaxTokens,
	})
	cancel()
	if err != nil {
		return fail(llm.Classify(o.deps.Generator.Name(), err))
	}

	outcome := Outcome{}
	label := OutcomeAccepted
	spec, perr := o.deps.Parser.Parse(raw)
	if perr != nil {
		outcome.Violations = schema.Violations{schema.MalformedViolation(perr)}
		label = OutcomeMalformed
	} else {
		outcome.Spec = spec
		outcome.Violations = o.deps.Validator.Validate(spec)
		if len(outcome.Violations) > 0 {
			label = OutcomeRejected
		}
	}

	span.SetAttributes(attribute.Int("violations", len(outcome.Violations)))
	payload := map[string]any{"raw_output": raw}
	eventType := schema.EventAttemptAccepted
	if len(outcome.Violations) > 0 {
		eventType = schema.EventAttemptRejected
		payload["violations"] = outcome.Violations
		span.SetStatus(codes.Error, "specification rejected")
	}
	o.emit(ctx, events, &store.Event{Type: eventType, Attempt: n, Digest: store.Digest([]byte(raw))}, payload)
	o.deps.Observer.AttemptFinished(label, time.Since(started))

	logging.LogWith(ctx, o.deps.Logger).Debug("attempt finished",
		slog.String("outcome", label),
		slog.Int("violations", len(outcome.Violations)))
	return raw, outcome
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, res *Result, started time.Time) {
	res.Duration = time.Since(started)
	status := string(schema.RunStatusSucceeded)
	if res.Err != nil {
		status = string(schema.RunStatusFailed)
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.Int("run.attempts", res.Attempts), attribute.String("run.status", status))
	o.deps.Observer.RunFinished(status, res.Attempts, res.Duration)
}

func (o *Orchestrator) emit(ctx context.Context, events EventAppender, event *store.Event, payload any) {
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			event.Payload = raw
		}
	}
	if err := events.AppendEvent(ctx, event); err != nil {
		logging.LogWith(ctx, o.deps.Logger).Warn("run event not recorded",
			slog.String("event_type", event.Type),
			slog.String("error", err.Error()))
	}
}

func transitionPayload(s RunState) map[string]any {
	switch s.Status {
	case schema.RunStatusAttempting:
		return map[string]any{"previous_violations": len(s.Violations)}
	case schema.RunStatusFailed:
		return map[string]any{
			"attempts":   s.Attempt,
			"code":       schema.CodeOf(s.Err),
			"violations": len(s.Violations),
		}
	default:
		return map[string]any{"attempts": s.Attempt}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
