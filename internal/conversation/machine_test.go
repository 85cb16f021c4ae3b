package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/diagrammer/internal/diagram"
	"github.com/rendis/diagrammer/internal/engine"
	"github.com/rendis/diagrammer/internal/llm"
	"github.com/rendis/diagrammer/internal/prompts"
	"github.com/rendis/diagrammer/internal/store"
	"github.com/rendis/diagrammer/internal/validation"
	"github.com/rendis/diagrammer/internal/vocabulary"
	"github.com/rendis/diagrammer/pkg/schema"
)

// scriptedAssessor answers assess calls in order, repeating the last answer.
type scriptedAssessor struct {
	mu      sync.Mutex
	answers []string
	err     error
	prompts []string
	modes   []llm.Mode
}

func (s *scriptedAssessor) Name() string { return "scripted" }

func (s *scriptedAssessor) Generate(_ context.Context, prompt string, mode llm.Mode, _ llm.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	s.modes = append(s.modes, mode)
	if s.err != nil {
		return "", s.err
	}
	if mode == llm.ModeExplain {
		return "A load balancer spreads traffic.", nil
	}
	i := len(s.answers) - 1
	if n := s.assessCalls() - 1; n < i {
		i = n
	}
	return s.answers[i], nil
}

func (s *scriptedAssessor) assessCalls() int {
	n := 0
	for _, m := range s.modes {
		if m == llm.ModeAssess {
			n++
		}
	}
	return n
}

// countingRunner records hand-offs.
type countingRunner struct {
	calls        atomic.Int32
	descriptions []string
	mu           sync.Mutex
}

func (r *countingRunner) Run(_ context.Context, req engine.Request) (*engine.Result, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.descriptions = append(r.descriptions, req.Description)
	r.mu.Unlock()
	return &engine.Result{RunID: "run", Success: true, Attempts: 1, NodesCreated: 2, Connections: 1}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []*store.Event
}

func (r *recorder) AppendEvent(_ context.Context, e *store.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

const (
	clarify  = `{"action": "ask_clarification", "parameters": {"question": "Which database do you use?"}}`
	generate = `{"action": "generate_diagram", "parameters": {"description": "done"}, "requirements": {"database": "postgres"}}`
)

func newMachine(t *testing.T, gen llm.Generator, runner Runner, cfg Config) (*Machine, *recorder) {
	t.Helper()
	events := &recorder{}
	m, err := NewMachine(Deps{
		Generator: gen,
		Composer:  prompts.NewComposer(prompts.Default(), vocabulary.NewDefault()),
		Runner:    runner,
		Events:    events,
	}, cfg)
	require.NoError(t, err)
	return m, events
}

func TestTurn_InsufficientNeverGenerates(t *testing.T) {
	gen := &scriptedAssessor{answers: []string{clarify}}
	runner := &countingRunner{}
	m, events := newMachine(t, gen, runner, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		reply, err := m.Turn(ctx, "tok", fmt.Sprintf("message %d", i), nil)
		require.NoError(t, err)
		assert.Equal(t, schema.ConversationStatusCollecting, reply.Status)
		assert.Equal(t, ActionClarify, reply.Action)
		assert.Equal(t, "Which database do you use?", reply.Message)
		assert.Nil(t, reply.Result)
	}

	assert.Zero(t, runner.calls.Load())
	state, ok := m.State("tok")
	require.True(t, ok)
	assert.Len(t, state.Turns, 6)
	assert.Equal(t, schema.ConversationStatusCollecting, state.Status)
	assert.Equal(t, []string{schema.EventConversationTurn, schema.EventConversationTurn, schema.EventConversationTurn}, events.Types())
}

func TestTurn_SufficientHandsOffOnce(t *testing.T) {
	gen := &scriptedAssessor{answers: []string{clarify, generate}}
	runner := &countingRunner{}
	m, events := newMachine(t, gen, runner, Config{})
	ctx := context.Background()

	_, err := m.Turn(ctx, "tok", "I need an app", nil)
	require.NoError(t, err)

	reply, err := m.Turn(ctx, "tok", "with a postgres database", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ConversationStatusReady, reply.Status)
	assert.Equal(t, ActionGenerate, reply.Action)
	require.NotNil(t, reply.Result)
	assert.True(t, reply.Result.Success)
	assert.Equal(t, "postgres", reply.Requirements["database"])

	require.EqualValues(t, 1, runner.calls.Load())
	desc := runner.descriptions[0]
	assert.Contains(t, desc, "I need an app\nwith a postgres database")
	assert.Contains(t, desc, "- database: postgres")
	assert.Equal(t, desc, reply.Description)

	assert.Equal(t, []string{schema.EventConversationTurn, schema.EventConversationReady}, events.Types())

	_, err = m.Turn(ctx, "tok", "add a cache", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConversationClosed))
	assert.EqualValues(t, 1, runner.calls.Load())
}

func TestTurn_ExplainStaysCollecting(t *testing.T) {
	gen := &scriptedAssessor{answers: []string{`{"action": "explain_concept", "parameters": {"concept": "load balancer"}}`}}
	runner := &countingRunner{}
	m, _ := newMachine(t, gen, runner, Config{})

	reply, err := m.Turn(context.Background(), "", "what is a load balancer?", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Token)
	assert.Equal(t, ActionExplain, reply.Action)
	assert.Equal(t, "A load balancer spreads traffic.", reply.Message)
	assert.Equal(t, schema.ConversationStatusCollecting, reply.Status)
	assert.Equal(t, []llm.Mode{llm.ModeAssess, llm.ModeExplain}, gen.modes)
	assert.Contains(t, gen.prompts[1], "load balancer")
}

func TestTurn_UnparseableAssessmentAsksDefaultQuestion(t *testing.T) {
	gen := &scriptedAssessor{answers: []string{"I think we should draw something!"}}
	m, _ := newMachine(t, gen, &countingRunner{}, Config{})

	reply, err := m.Turn(context.Background(), "tok", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionClarify, reply.Action)
	assert.Equal(t, llm.ClarificationQuestion, reply.Message)
}

func TestTurn_ReadyRuleHoldsBackGeneration(t *testing.T) {
	gen := &scriptedAssessor{answers: []string{generate}}
	runner := &countingRunner{}
	m, _ := newMachine(t, gen, runner, Config{ReadyRule: `sufficient && turns >= 2`})
	ctx := context.Background()

	reply, err := m.Turn(ctx, "tok", "app with postgres", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ConversationStatusCollecting, reply.Status)
	assert.Equal(t, llm.ClarificationQuestion, reply.Message)
	assert.Zero(t, runner.calls.Load())

	reply, err = m.Turn(ctx, "tok", "and two servers", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ConversationStatusReady, reply.Status)
	assert.EqualValues(t, 1, runner.calls.Load())
}

func TestNewMachine_BadReadyRule(t *testing.T) {
	_, err := NewMachine(Deps{Generator: &scriptedAssessor{}}, Config{ReadyRule: "sufficient &&"})
	assert.Error(t, err)
}

func TestTurn_GeneratorFailureLeavesStateUntouched(t *testing.T) {
	gen := &scriptedAssessor{err: errors.New("connection refused")}
	m, _ := newMachine(t, gen, &countingRunner{}, Config{})

	_, err := m.Turn(context.Background(), "tok", "hello", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeGenerationUnavailable))

	state, ok := m.State("tok")
	require.True(t, ok)
	assert.Empty(t, state.Turns)
}

func TestTurn_EmptyMessage(t *testing.T) {
	m, _ := newMachine(t, &scriptedAssessor{answers: []string{clarify}}, &countingRunner{}, Config{})
	_, err := m.Turn(context.Background(), "tok", "   ", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestTurn_SeedsFromHistory(t *testing.T) {
	gen := &scriptedAssessor{answers: []string{generate}}
	runner := &countingRunner{}
	m, _ := newMachine(t, gen, runner, Config{})

	history := []schema.Turn{
		{Role: schema.RoleUser, Text: "a web tier"},
		{Role: schema.RoleAssistant, Text: "Which database?"},
		{Role: "system", Text: "ignored"},
	}
	_, err := m.Turn(context.Background(), "seeded", "postgres", history)
	require.NoError(t, err)

	assert.Contains(t, gen.prompts[0], "user: a web tier")
	assert.NotContains(t, gen.prompts[0], "ignored")
	require.Len(t, runner.descriptions, 1)
	assert.True(t, strings.HasPrefix(runner.descriptions[0], "a web tier\npostgres"))
}

func TestTurn_SerializedPerToken(t *testing.T) {
	gen := &scriptedAssessor{answers: []string{clarify}}
	m, _ := newMachine(t, gen, &countingRunner{}, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Turn(context.Background(), "shared", fmt.Sprintf("msg %d", i), nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	state, _ := m.State("shared")
	require.Len(t, state.Turns, 20)
	for i := 0; i < len(state.Turns); i += 2 {
		assert.Equal(t, schema.RoleUser, state.Turns[i].Role)
		assert.Equal(t, schema.RoleAssistant, state.Turns[i+1].Role)
	}
}

func TestEvictIdle(t *testing.T) {
	m, _ := newMachine(t, &scriptedAssessor{answers: []string{clarify}}, &countingRunner{}, Config{TTL: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := m.Turn(ctx, "old", "hello", nil)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = m.Turn(ctx, "fresh", "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, m.EvictIdle())
	assert.Equal(t, 1, m.Len())
	_, ok := m.State("old")
	assert.False(t, ok)
	assert.True(t, m.Forget("fresh"))
	assert.Zero(t, m.Len())
}

func TestEvictIdle_ReadyTokenStaysClosed(t *testing.T) {
	runner := &countingRunner{}
	m, _ := newMachine(t, &scriptedAssessor{answers: []string{generate}}, runner,
		Config{TTL: time.Minute, ClosedRetention: time.Hour})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := m.Turn(ctx, "done", "web app with load balancer and database", nil)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, m.EvictIdle())
	assert.Zero(t, m.Len())

	_, err = m.Turn(ctx, "done", "web app with load balancer and database", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConversationClosed))
	assert.EqualValues(t, 1, runner.calls.Load())
	assert.Zero(t, m.Len(), "a closed token does not recreate a session")

	// Once the retention passes the token is forgotten entirely.
	now = now.Add(2 * time.Hour)
	m.EvictIdle()
	_, err = m.Turn(ctx, "done", "another app", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, runner.calls.Load())
}

func TestForget_ReadyTokenStaysClosed(t *testing.T) {
	m, _ := newMachine(t, &scriptedAssessor{answers: []string{generate}}, &countingRunner{}, Config{})
	ctx := context.Background()

	_, err := m.Turn(ctx, "done", "web app", nil)
	require.NoError(t, err)
	assert.True(t, m.Forget("done"))

	_, err = m.Turn(ctx, "done", "web app", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConversationClosed))
}

func TestConsolidate_KeepsEveryTurn(t *testing.T) {
	first := "FIRST web app with a load balancer " + strings.Repeat("x", 1900)
	state := schema.NewConversationState("t").
		WithTurns(
			schema.Turn{Role: schema.RoleUser, Text: first},
			schema.Turn{Role: schema.RoleAssistant, Text: "which database?"},
			schema.Turn{Role: schema.RoleUser, Text: strings.Repeat("y", 1990)},
			schema.Turn{Role: schema.RoleUser, Text: strings.Repeat("z", 1012)},
		).
		WithRequirements(map[string]string{"database": "postgres"})

	got := Consolidate(state)
	assert.True(t, strings.HasPrefix(got, "FIRST web app"))
	assert.Contains(t, got, first)
	assert.True(t, strings.HasSuffix(got, "- database: postgres"))
}

func TestConsolidate(t *testing.T) {
	state := schema.NewConversationState("t").
		WithTurns(
			schema.Turn{Role: schema.RoleUser, Text: "first"},
			schema.Turn{Role: schema.RoleAssistant, Text: "question"},
			schema.Turn{Role: schema.RoleUser, Text: "second"},
		).
		WithRequirements(map[string]string{"queue": "sqs", "compute": "ec2"})

	assert.Equal(t, "first\nsecond\n\nRequirements:\n- compute: ec2\n- queue: sqs", Consolidate(state))
}

// End to end through the mock generator and the real generation loop.
func TestTurn_MockEndToEnd(t *testing.T) {
	reg := vocabulary.NewDefault()
	gen := llm.NewMockGenerator(0)
	composer := prompts.NewComposer(prompts.Default(), reg)
	orch := engine.NewOrchestrator(engine.Deps{
		Generator: gen,
		Parser:    validation.MustNewParser(),
		Validator: validation.New(reg),
		Composer:  composer,
		Renderer:  diagram.NewRenderer(reg, diagram.FormatMermaid, ""),
	}, engine.Config{})

	m, err := NewMachine(Deps{Generator: gen, Composer: composer, Runner: orch}, Config{})
	require.NoError(t, err)
	ctx := context.Background()

	reply, err := m.Turn(ctx, "e2e", "I need a diagram", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionClarify, reply.Action)
	assert.Equal(t, llm.ClarificationQuestion, reply.Message)

	reply, err = m.Turn(ctx, "e2e", "web app with load balancer and database", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ConversationStatusReady, reply.Status)
	require.NotNil(t, reply.Result)
	assert.True(t, reply.Result.Success)
	assert.Equal(t, 1, reply.Result.Attempts)
	assert.Equal(t, 3, reply.Result.NodesCreated)
	assert.Equal(t, 2, reply.Result.Connections)
}
