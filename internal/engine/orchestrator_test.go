package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/diagrammer/internal/diagram"
	"github.com/rendis/diagrammer/internal/llm"
	"github.com/rendis/diagrammer/internal/prompts"
	"github.com/rendis/diagrammer/internal/validation"
	"github.com/rendis/diagrammer/internal/vocabulary"
	"github.com/rendis/diagrammer/pkg/schema"
)

// scriptedGenerator returns its responses in order, repeating the last one.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, _ llm.Mode, _ llm.Options) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.err != nil {
		return "", g.err
	}
	i := len(g.prompts) - 1
	if i >= len(g.responses) {
		i = len(g.responses) - 1
	}
	return g.responses[i], nil
}

func (g *scriptedGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	status   string
	attempts int
}

func (r *recordingObserver) AttemptFinished(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingObserver) RunFinished(status string, attempts int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status, r.attempts = status, attempts
}

const (
	danglingCache = `{"nodes": [{"type": "EC2", "name": "App"}, {"type": "RDS", "name": "DB"}],
		"connections": [{"from": "App", "to": "DB"}, {"from": "App", "to": "Cache"}]}`
	fixedCache = `{"nodes": [{"type": "LoadBalancer", "name": "ALB"}, {"type": "EC2", "name": "App"}, {"type": "RDS", "name": "DB"}],
		"connections": [{"from": "ALB", "to": "App"}, {"from": "App", "to": "DB"}]}`
	unknownKind = `{"nodes": [{"type": "Mainframe", "name": "Big"}]}`
)

type harness struct {
	orch     *Orchestrator
	events   *mockAppender
	observer *recordingObserver
}

func newHarness(gen llm.Generator, cfg Config) *harness {
	reg := vocabulary.NewDefault()
	h := &harness{events: &mockAppender{}, observer: &recordingObserver{}}
	h.orch = NewOrchestrator(Deps{
		Generator: gen,
		Parser:    validation.MustNewParser(),
		Validator: validation.New(reg),
		Composer:  prompts.NewComposer(prompts.Default(), reg),
		Renderer:  diagram.NewRenderer(reg, diagram.FormatMermaid, ""),
		Events:    h.events,
		Observer:  h.observer,
	}, cfg)
	return h
}

func TestRun_ValidFirstAttempt(t *testing.T) {
	h := newHarness(llm.NewMockGenerator(0), Config{})

	res, err := h.orch.Run(context.Background(), Request{
		Description: "web app with load balancer and database",
		Format:      diagram.FormatMermaid,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 3, res.NodesCreated)
	assert.Equal(t, 2, res.Connections)
	assert.NotEmpty(t, res.RunID)

	require.NotNil(t, res.Artifact)
	assert.Equal(t, diagram.FormatMermaid, res.Artifact.Format)
	assert.True(t, strings.HasPrefix(string(res.Artifact.Data), "flowchart LR"))

	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventAttemptStarted,
		schema.EventAttemptAccepted,
		schema.EventRunSucceeded,
	}, h.events.Types())
	assert.Equal(t, []string{OutcomeAccepted}, h.observer.outcomes)
	assert.Equal(t, "succeeded", h.observer.status)
}

func TestRun_RepairsDanglingEndpoint(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{danglingCache, fixedCache}}
	h := newHarness(gen, Config{})

	res, err := h.orch.Run(context.Background(), Request{Description: "app with a db and a cache"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 3, res.NodesCreated)
	require.NotNil(t, res.Specification)
	assert.False(t, res.Specification.References("Cache"))

	ps := gen.Prompts()
	require.Len(t, ps, 2)
	assert.NotContains(t, ps[0], "Cache\"")
	assert.Contains(t, ps[1], `"Cache"`, "repair prompt names the dangling endpoint")
	assert.Contains(t, ps[1], danglingCache, "repair prompt carries the previous output")
	assert.Contains(t, ps[1], "app with a db and a cache")

	first, err := validation.MustNewParser().Parse(danglingCache)
	require.NoError(t, err)
	violations := validation.New(vocabulary.NewDefault()).Validate(first)
	require.NotEmpty(t, violations)
	for _, v := range violations {
		assert.Contains(t, ps[1], v.Message, "repair prompt carries the exact attempt-1 violation")
	}
}

func TestRun_RetryExhausted(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{unknownKind}}
	h := newHarness(gen, Config{MaxAttempts: 3})

	res, err := h.orch.Run(context.Background(), Request{Description: "a mainframe"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeRetryExhausted))
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, gen.Prompts(), 3, "exactly MaxAttempts generator calls")
	require.NotEmpty(t, res.Violations)
	assert.Equal(t, schema.ViolationUnknownNodeKind, res.Violations[0].Kind)
	assert.Nil(t, res.Artifact)

	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventAttemptStarted, schema.EventAttemptRejected,
		schema.EventAttemptStarted, schema.EventAttemptRejected,
		schema.EventAttemptStarted, schema.EventAttemptRejected,
		schema.EventRunFailed,
	}, h.events.Types())
	assert.Equal(t, "failed", h.observer.status)
	assert.Equal(t, 3, h.observer.attempts)
}

func TestRun_MalformedOutputIsRepaired(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"not json at all", fixedCache}}
	h := newHarness(gen, Config{})

	res, err := h.orch.Run(context.Background(), Request{Description: "app"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, gen.Prompts()[1], string(schema.ViolationMalformed))
	assert.Equal(t, []string{OutcomeMalformed, OutcomeAccepted}, h.observer.outcomes)
}

func TestRun_GeneratorErrorFailsImmediately(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("connection refused")}
	h := newHarness(gen, Config{})

	res, err := h.orch.Run(context.Background(), Request{Description: "app"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeGenerationUnavailable), "got %v", err)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, gen.Prompts(), 1)

	var de *schema.DiagramError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 1, de.Attempt)

	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventAttemptStarted,
		schema.EventGenerationFailed,
		schema.EventRunFailed,
	}, h.events.Types())
}

func TestRun_Cancelled(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{fixedCache}}
	h := newHarness(gen, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.orch.Run(ctx, Request{Description: "app"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCancelled))
	assert.False(t, res.Success)
	assert.Empty(t, gen.Prompts(), "no generator call after cancellation")
}

func TestRun_AttemptTimeout(t *testing.T) {
	h := newHarness(llm.NewMockGenerator(time.Second), Config{AttemptTimeout: 10 * time.Millisecond})

	_, err := h.orch.Run(context.Background(), Request{Description: "app"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeGenerationTimeout), "got %v", err)
}

func TestRun_EventSequenceAndDigest(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{danglingCache, fixedCache}}
	h := newHarness(gen, Config{})

	res, err := h.orch.Run(context.Background(), Request{RunID: "run-fixed", Description: "app"})
	require.NoError(t, err)
	assert.Equal(t, "run-fixed", res.RunID)

	events := h.events.Events()
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.Equal(t, "run-fixed", e.RunID)
		assert.NotEmpty(t, e.ID)
	}

	var rejected map[string]json.RawMessage
	for _, e := range events {
		if e.Type == schema.EventAttemptRejected {
			assert.Equal(t, 1, e.Attempt)
			assert.Len(t, e.Digest, 64)
			require.NoError(t, json.Unmarshal(e.Payload, &rejected))
		}
	}
	require.NotNil(t, rejected)
	assert.Contains(t, string(rejected["violations"]), "Cache")
}

func TestRun_RenderFailure(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{fixedCache}}
	h := newHarness(gen, Config{})

	res, err := h.orch.Run(context.Background(), Request{Description: "app", Format: "bmp"})
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.NotNil(t, res.Specification, "the valid specification is still reported")
	assert.Contains(t, h.events.Types(), schema.EventRenderFailed)
}

func TestRun_WithoutRenderer(t *testing.T) {
	reg := vocabulary.NewDefault()
	orch := NewOrchestrator(Deps{
		Generator: &scriptedGenerator{responses: []string{fixedCache}},
		Parser:    validation.MustNewParser(),
		Validator: validation.New(reg),
		Composer:  prompts.NewComposer(prompts.Default(), reg),
	}, Config{})

	res, err := orch.Run(context.Background(), Request{Description: "app"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Artifact)
	assert.Equal(t, 3, res.NodesCreated)
	assert.Equal(t, 2, res.Connections)
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, DefaultMaxAttempts, c.MaxAttempts)
	assert.Equal(t, DefaultAttemptTimeout, c.AttemptTimeout)
	assert.InDelta(t, DefaultTemperature, c.Temperature, 1e-6)
}
