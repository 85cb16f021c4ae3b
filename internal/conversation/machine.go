package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/diagrammer/internal/engine"
	"github.com/rendis/diagrammer/internal/llm"
	"github.com/rendis/diagrammer/internal/logging"
	"github.com/rendis/diagrammer/internal/prompts"
	"github.com/rendis/diagrammer/pkg/schema"
)

// Defaults for Config.
const (
	DefaultTemperature     = 0.7
	DefaultMaxTokens       = 1024
	DefaultTTL             = 30 * time.Minute
	DefaultAssessTimeout   = 30 * time.Second
	DefaultClosedRetention = 24 * time.Hour
)

// Runner is the generation loop a ready conversation hands off to.
type Runner interface {
	Run(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// Composer builds the assistant prompts.
type Composer interface {
	Assessment(state schema.ConversationState, message string) (prompts.Prompt, error)
	Explanation(concept string) (prompts.Prompt, error)
}

// Config tunes the machine.
type Config struct {
	Temperature   float32
	MaxTokens     int
	AssessTimeout time.Duration
	TTL           time.Duration
	// ClosedRetention is how long the token of an evicted Ready conversation
	// keeps answering CONVERSATION_CLOSED.
	ClosedRetention time.Duration
	ReadyRule       string
	Format          string
}

// Deps are the machine's collaborators. Events and Logger are optional.
type Deps struct {
	Generator llm.Generator
	Composer  Composer
	Runner    Runner
	Events    engine.EventAppender
	Logger    *slog.Logger
}

// Reply is the output of one turn. Message carries the question, the
// explanation or a summary of the run; Result is set only once the
// conversation handed off to the generation loop.
type Reply struct {
	Token        string                    `json:"conversation_token"`
	Status       schema.ConversationStatus `json:"status"`
	Action       Action                    `json:"action"`
	Message      string                    `json:"message,omitempty"`
	Requirements map[string]string         `json:"accumulated_requirements,omitempty"`
	Description  string                    `json:"description,omitempty"`
	Result       *engine.Result            `json:"diagram_result,omitempty"`
}

type session struct {
	mu       sync.Mutex
	state    schema.ConversationState
	fsm      *engine.FSM[schema.ConversationStatus]
	lastSeen time.Time
}

// Machine owns every live conversation. Turns for one token are serialized;
// turns for different tokens run concurrently.
type Machine struct {
	deps      Deps
	cfg       Config
	extractor *Extractor
	guard     *ReadyGuard
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	closed   map[string]time.Time // token -> retired at
}

// NewMachine creates a Machine. It fails only on an invalid ready rule.
func NewMachine(deps Deps, cfg Config) (*Machine, error) {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.AssessTimeout <= 0 {
		cfg.AssessTimeout = DefaultAssessTimeout
	}
	if cfg.ClosedRetention <= 0 {
		cfg.ClosedRetention = DefaultClosedRetention
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	guard, err := NewReadyGuard(cfg.ReadyRule)
	if err != nil {
		return nil, err
	}
	return &Machine{
		deps:      deps,
		cfg:       cfg,
		extractor: NewExtractor(),
		guard:     guard,
		now:       time.Now,
		sessions:  make(map[string]*session),
		closed:    make(map[string]time.Time),
	}, nil
}

// Turn processes one user message. An empty token starts a new conversation.
// history seeds a conversation the machine has not seen; it is ignored for
// known tokens, whose own turn log is authoritative.
func (m *Machine) Turn(ctx context.Context, token, message string, history []schema.Turn) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "message is required")
	}
	if token == "" {
		token = uuid.NewString()
	}
	ctx = logging.WithConversationToken(ctx, token)
	log := logging.LogWith(ctx, m.deps.Logger)

	s := m.session(token, history)
	if s == nil {
		return nil, closedError(token)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = m.now()

	if s.state.IsReady() {
		return nil, closedError(token)
	}

	assessment, err := m.assess(ctx, s.state, message)
	if err != nil {
		return nil, err
	}
	state := s.state.WithRequirements(assessment.Requirements)

	ready, err := m.guard.Ready(ctx, assessment, state, message)
	if err != nil {
		log.Warn("ready rule failed; staying in collecting", slog.String("error", err.Error()))
		ready = false
	}

	reply := &Reply{Token: token}
	switch {
	case ready:
		state = state.WithTurns(schema.Turn{Role: schema.RoleUser, Text: message})
		description := Consolidate(state)
		if err := s.fsm.Transition(ctx, token, 0, schema.ConversationStatusCollecting, schema.ConversationStatusReady,
			map[string]any{"description": description, "requirements": state.Requirements}); err != nil {
			if schema.IsCode(err, schema.ErrCodeInvalidTransition) {
				return nil, err
			}
			log.Warn("conversation event not recorded", slog.String("error", err.Error()))
		}
		state = state.WithStatus(schema.ConversationStatusReady)
		s.state = state

		log.Info("conversation ready; generating diagram", slog.Int("turns", len(state.Turns)))
		res, runErr := m.deps.Runner.Run(ctx, engine.Request{Description: description, Format: m.cfg.Format})
		if res == nil {
			return nil, runErr
		}
		summary := summarize(res)
		s.state = s.state.WithTurns(schema.Turn{Role: schema.RoleAssistant, Text: summary})

		reply.Action = ActionGenerate
		reply.Message = summary
		reply.Description = description
		reply.Result = res

	case assessment.Action == ActionExplain:
		text, err := m.explain(ctx, assessment.Concept)
		if err != nil {
			return nil, err
		}
		s.state = m.collect(ctx, s, state, message, text, assessment)
		reply.Action = ActionExplain
		reply.Message = text

	default:
		question := assessment.Question
		if question == "" {
			question = llm.ClarificationQuestion
		}
		s.state = m.collect(ctx, s, state, message, question, assessment)
		reply.Action = ActionClarify
		reply.Message = question
	}

	reply.Status = s.state.Status
	reply.Requirements = s.state.Requirements
	return reply, nil
}

// collect records a turn that stays in Collecting.
func (m *Machine) collect(ctx context.Context, s *session, state schema.ConversationState, message, answer string, a Assessment) schema.ConversationState {
	state = state.WithTurns(
		schema.Turn{Role: schema.RoleUser, Text: message},
		schema.Turn{Role: schema.RoleAssistant, Text: answer},
	)
	if err := s.fsm.Transition(ctx, state.Token, 0, schema.ConversationStatusCollecting, schema.ConversationStatusCollecting,
		map[string]any{"action": string(a.Action), "parsed": a.Parsed, "requirements": len(state.Requirements)}); err != nil {
		logging.LogWith(ctx, m.deps.Logger).Warn("conversation event not recorded", slog.String("error", err.Error()))
	}
	return state
}

func (m *Machine) assess(ctx context.Context, state schema.ConversationState, message string) (Assessment, error) {
	prompt, err := m.deps.Composer.Assessment(state, message)
	if err != nil {
		return Assessment{}, err
	}
	actx, cancel := context.WithTimeout(ctx, m.cfg.AssessTimeout)
	defer cancel()

	raw, err := m.deps.Generator.Generate(actx, prompt.User, llm.ModeAssess, llm.Options{
		System:      prompt.System,
		Temperature: llm.Temp(m.cfg.Temperature),
		MaxTokens:   m.cfg.MaxTokens,
	})
	if err != nil {
		return Assessment{}, llm.Classify(m.deps.Generator.Name(), err)
	}

	a := m.extractor.Extract(ctx, raw)
	if !a.Parsed {
		logging.LogWith(ctx, m.deps.Logger).Debug("unparseable assessment; asking for clarification",
			slog.Int("output_length", len(raw)))
	}
	return a, nil
}

func (m *Machine) explain(ctx context.Context, concept string) (string, error) {
	prompt, err := m.deps.Composer.Explanation(concept)
	if err != nil {
		return "", err
	}
	ectx, cancel := context.WithTimeout(ctx, m.cfg.AssessTimeout)
	defer cancel()

	text, err := m.deps.Generator.Generate(ectx, prompt.User, llm.ModeExplain, llm.Options{
		System:      prompt.System,
		Temperature: llm.Temp(m.cfg.Temperature),
		MaxTokens:   m.cfg.MaxTokens,
	})
	if err != nil {
		return "", llm.Classify(m.deps.Generator.Name(), err)
	}
	return strings.TrimSpace(text), nil
}

// session returns the live session for token, creating it when needed. It
// returns nil for the token of a retired Ready conversation.
func (m *Machine) session(token string, history []schema.Turn) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[token]; ok {
		return s
	}
	if _, ok := m.closed[token]; ok {
		return nil
	}
	state := schema.NewConversationState(token)
	for _, t := range history {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		if t.Role != schema.RoleUser && t.Role != schema.RoleAssistant {
			continue
		}
		state = state.WithTurns(t)
	}
	s := &session{
		state:    state,
		fsm:      engine.NewConversationFSM(engine.NewSequencer(token, m.deps.Events)),
		lastSeen: m.now(),
	}
	m.sessions[token] = s
	return s
}

// State returns a snapshot of a conversation.
func (m *Machine) State(token string) (schema.ConversationState, bool) {
	m.mu.Lock()
	s, ok := m.sessions[token]
	m.mu.Unlock()
	if !ok {
		return schema.ConversationState{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.WithTurns(), true
}

// Forget drops a conversation. A Ready conversation stays closed.
func (m *Machine) Forget(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return false
	}
	s.mu.Lock()
	ready := s.state.IsReady()
	s.mu.Unlock()
	m.retire(token, ready)
	return true
}

// Len returns the number of live conversations.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// EvictIdle drops conversations idle for longer than the TTL and returns how
// many were removed. Sessions with a turn in flight are skipped.
func (m *Machine) EvictIdle() int {
	cutoff := m.now().Add(-m.cfg.TTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for token, s := range m.sessions {
		if !s.mu.TryLock() {
			continue
		}
		idle := s.lastSeen.Before(cutoff)
		ready := s.state.IsReady()
		s.mu.Unlock()
		if idle {
			m.retire(token, ready)
			evicted++
		}
	}

	expired := m.now().Add(-m.cfg.ClosedRetention)
	for token, at := range m.closed {
		if at.Before(expired) {
			delete(m.closed, token)
		}
	}
	if evicted > 0 {
		m.deps.Logger.Debug("evicted idle conversations", slog.Int("count", evicted))
	}
	return evicted
}

// retire removes a session; Ready tokens are remembered as closed. m.mu must be held.
func (m *Machine) retire(token string, ready bool) {
	delete(m.sessions, token)
	if ready {
		m.closed[token] = m.now()
	}
}

func closedError(token string) error {
	return schema.NewErrorf(schema.ErrCodeConversationClosed,
		"conversation %s already produced a diagram; start a new conversation", token).
		WithDetails(map[string]any{"conversation_token": token})
}

// Consolidate merges every user turn and the accumulated requirements into
// the single description handed to the generation loop.
func Consolidate(state schema.ConversationState) string {
	var b strings.Builder
	b.WriteString(strings.Join(state.UserMessages(), "\n"))

	if len(state.Requirements) > 0 {
		slots := make([]string, 0, len(state.Requirements))
		for k := range state.Requirements {
			slots = append(slots, k)
		}
		sort.Strings(slots)
		b.WriteString("\n\nRequirements:")
		for _, k := range slots {
			fmt.Fprintf(&b, "\n- %s: %s", k, state.Requirements[k])
		}
	}

	return b.String()
}

func summarize(res *engine.Result) string {
	if res.Success {
		return fmt.Sprintf("Generated a diagram with %d components and %d connections.", res.NodesCreated, res.Connections)
	}
	if res.Err != nil {
		return "Diagram generation failed: " + res.Err.Error()
	}
	return "Diagram generation failed."
}
