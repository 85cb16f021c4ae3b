package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Pattern maps request text to a canned response. Patterns are tried in
// order; the first input expression that matches wins.
type Pattern struct {
	Name     string
	Inputs   []*regexp.Regexp
	Response string
}

// ClarificationQuestion is asked when a request is too vague to draw.
const ClarificationQuestion = "What type of architecture would you like to create? Please provide more details about the components you need."

const defaultSpecResponse = `{
  "nodes": [
    {"type": "EC2", "name": "Server1", "properties": {}},
    {"type": "RDS", "name": "Database", "properties": {}}
  ],
  "connections": [
    {"from": "Server1", "to": "Database", "label": "queries"}
  ],
  "clusters": []
}`

func mustPatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?is)` + e)
	}
	return out
}

// DefaultPatterns returns the built-in response table.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:     "error_response",
			Inputs:   mustPatterns(`test\s*error`, `invalid\s*json`),
			Response: "This is not valid JSON to test error handling",
		},
		{
			Name:   "minimal_web_app",
			Inputs: mustPatterns(`web\s*app.*load\s*balancer.*database`),
			Response: `{
  "nodes": [
    {"type": "LoadBalancer", "name": "ALB"},
    {"type": "Compute", "name": "Web"},
    {"type": "Database", "name": "DB"}
  ],
  "connections": [
    {"from": "ALB", "to": "Web", "label": "http"},
    {"from": "Web", "to": "DB", "label": "sql"}
  ],
  "clusters": []
}`,
		},
		{
			Name: "basic_web_app",
			Inputs: mustPatterns(
				`load\s*balancer.*ec2.*database`,
				`web\s*application.*server.*database`,
				`application\s*load\s*balancer.*web.*rds`,
			),
			Response: `{
  "nodes": [
    {"type": "LoadBalancer", "name": "ALB", "properties": {"scheme": "internet-facing"}},
    {"type": "EC2", "name": "WebServer1", "properties": {"instance_type": "t3.micro"}},
    {"type": "EC2", "name": "WebServer2", "properties": {"instance_type": "t3.micro"}},
    {"type": "RDS", "name": "Database", "properties": {"engine": "postgres"}}
  ],
  "connections": [
    {"from": "ALB", "to": "WebServer1", "label": "http"},
    {"from": "ALB", "to": "WebServer2", "label": "http"},
    {"from": "WebServer1", "to": "Database", "label": "sql"},
    {"from": "WebServer2", "to": "Database", "label": "sql"}
  ],
  "clusters": [
    {"name": "Web Tier", "nodes": ["WebServer1", "WebServer2"]}
  ]
}`,
		},
		{
			Name: "microservices",
			Inputs: mustPatterns(
				`microservice.*api\s*gateway.*queue`,
				`authentication.*payment.*order.*service`,
				`api\s*gateway.*sqs.*services`,
			),
			Response: `{
  "nodes": [
    {"type": "LoadBalancer", "name": "APIGateway", "properties": {}},
    {"type": "Lambda", "name": "AuthService", "properties": {"runtime": "go1.x"}},
    {"type": "Lambda", "name": "PaymentService", "properties": {"runtime": "go1.x"}},
    {"type": "Lambda", "name": "OrderService", "properties": {"runtime": "go1.x"}},
    {"type": "SQS", "name": "MessageQueue", "properties": {}},
    {"type": "RDS", "name": "SharedDB", "properties": {}},
    {"type": "S3", "name": "CloudWatch", "properties": {"purpose": "monitoring"}}
  ],
  "connections": [
    {"from": "APIGateway", "to": "AuthService", "label": "route"},
    {"from": "APIGateway", "to": "PaymentService", "label": "route"},
    {"from": "APIGateway", "to": "OrderService", "label": "route"},
    {"from": "OrderService", "to": "MessageQueue", "label": "publish"},
    {"from": "PaymentService", "to": "MessageQueue", "label": "subscribe"},
    {"from": "AuthService", "to": "SharedDB", "label": "query"},
    {"from": "PaymentService", "to": "SharedDB", "label": "query"},
    {"from": "OrderService", "to": "SharedDB", "label": "query"}
  ],
  "clusters": [
    {"name": "Microservices", "nodes": ["AuthService", "PaymentService", "OrderService"]}
  ]
}`,
		},
		{
			Name:   "simple_storage",
			Inputs: mustPatterns(`s3.*lambda`, `storage.*function`, `bucket.*serverless`),
			Response: `{
  "nodes": [
    {"type": "S3", "name": "DataBucket", "properties": {"versioning": true}},
    {"type": "Lambda", "name": "ProcessFunction", "properties": {"runtime": "go1.x"}},
    {"type": "SQS", "name": "EventQueue", "properties": {}}
  ],
  "connections": [
    {"from": "DataBucket", "to": "EventQueue", "label": "event"},
    {"from": "EventQueue", "to": "ProcessFunction", "label": "trigger"}
  ],
  "clusters": []
}`,
		},
		{
			Name:   "clarification_needed",
			Inputs: mustPatterns(`create\s*diagram`, `\bhelp\b`, `^\s*diagram\s*$`),
			Response: `{
  "action": "ask_clarification",
  "reasoning": "The request is too vague",
  "parameters": {"question": "` + ClarificationQuestion + `"}
}`,
		},
	}
}

var (
	requestSection = regexp.MustCompile(`(?is)-{3}\s*(?:USER|ORIGINAL) REQUEST\s*-{3}\s*(.+?)\s*-{3}`)
	userRequest    = regexp.MustCompile(`(?is)User request:\s*(.+?)\s*(?:What action|$)`)
	conversation   = regexp.MustCompile(`(?is)^(.*?)What action`)
	explainRequest = regexp.MustCompile(`(?i)^\s*(what\s+is|what's|what\s+are|explain|how\s+does)\b`)
)

// componentSlots maps requirement slot names to the phrases that state them.
var componentSlots = map[string]*regexp.Regexp{
	"load_balancer": regexp.MustCompile(`(?i)\b(load\s*balancer|alb|elb|api\s*gateway)\b`),
	"compute":       regexp.MustCompile(`(?i)\b(ec2|servers?|instances?|compute|web\s*(app|tier|servers?)?)\b`),
	"database":      regexp.MustCompile(`(?i)\b(databases?|rds|postgres(ql)?|mysql|db)\b`),
	"queue":         regexp.MustCompile(`(?i)\b(queues?|sqs)\b`),
	"function":      regexp.MustCompile(`(?i)\b(lambda|functions?|serverless)\b`),
	"storage":       regexp.MustCompile(`(?i)\b(s3|buckets?|object\s*storage)\b`),
}

// MockGenerator answers from a regex pattern table. It needs no network and
// is the default backend for development and tests.
type MockGenerator struct {
	mu       sync.RWMutex
	patterns []Pattern
	delay    time.Duration
	calls    atomic.Int64
}

// NewMockGenerator creates a mock with the default table and the given
// simulated latency.
func NewMockGenerator(delay time.Duration) *MockGenerator {
	return &MockGenerator{patterns: DefaultPatterns(), delay: delay}
}

func (m *MockGenerator) Name() string { return "mock" }

// Calls returns how many times Generate has been invoked.
func (m *MockGenerator) Calls() int { return int(m.calls.Load()) }

// SetPattern adds or replaces a named pattern. New patterns take precedence
// over the built-in table.
func (m *MockGenerator) SetPattern(name string, inputs []string, response string) error {
	res := make([]*regexp.Regexp, 0, len(inputs))
	for _, in := range inputs {
		re, err := regexp.Compile(`(?is)` + in)
		if err != nil {
			return fmt.Errorf("llm: mock pattern %q: %w", name, err)
		}
		res = append(res, re)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.patterns {
		if p.Name == name {
			m.patterns[i] = Pattern{Name: name, Inputs: res, Response: response}
			return nil
		}
	}
	m.patterns = append([]Pattern{{Name: name, Inputs: res, Response: response}}, m.patterns...)
	return nil
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, mode Mode, _ Options) (string, error) {
	m.calls.Add(1)

	if m.delay > 0 {
		t := time.NewTimer(m.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", Classify(m.Name(), ctx.Err())
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return "", Classify(m.Name(), err)
	}

	switch mode {
	case ModeAssess:
		return m.assess(prompt)
	case ModeExplain:
		return explanation(prompt), nil
	default:
		return m.match(extractUserInput(prompt)), nil
	}
}

func (m *MockGenerator) match(input string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.patterns {
		for _, re := range p.Inputs {
			if re.MatchString(input) {
				return p.Response
			}
		}
	}
	return defaultSpecResponse
}

type mockAction struct {
	Action       string            `json:"action"`
	Reasoning    string            `json:"reasoning"`
	Parameters   map[string]string `json:"parameters"`
	Requirements map[string]string `json:"requirements,omitempty"`
}

// assess decides sufficiency from the components named anywhere in the
// conversation: two or more distinct components are enough to draw.
func (m *MockGenerator) assess(prompt string) (string, error) {
	message := prompt
	if sm := userRequest.FindStringSubmatch(prompt); sm != nil {
		message = sm[1]
	}
	scope := prompt
	if sm := conversation.FindStringSubmatch(prompt); sm != nil {
		scope = sm[1]
	}

	var act mockAction
	switch {
	case explainRequest.MatchString(message):
		act = mockAction{
			Action:     "explain_concept",
			Reasoning:  "The user asked about a concept",
			Parameters: map[string]string{"concept": strings.TrimSpace(message)},
		}
	default:
		reqs := statedComponents(message)
		if len(statedComponents(scope)) >= 2 {
			act = mockAction{
				Action:       "generate_diagram",
				Reasoning:    "Components and relationships are known",
				Parameters:   map[string]string{"description": strings.TrimSpace(message)},
				Requirements: reqs,
			}
		} else {
			act = mockAction{
				Action:       "ask_clarification",
				Reasoning:    "The request is too vague",
				Parameters:   map[string]string{"question": ClarificationQuestion},
				Requirements: reqs,
			}
		}
	}

	out, err := json.Marshal(act)
	if err != nil {
		return "", Unavailable(m.Name(), "encode action", err)
	}
	return string(out), nil
}

func statedComponents(text string) map[string]string {
	out := make(map[string]string)
	for slot, re := range componentSlots {
		if hit := re.FindString(text); hit != "" {
			out[slot] = strings.ToLower(hit)
		}
	}
	return out
}

func explanation(prompt string) string {
	concept := strings.TrimSpace(prompt)
	if i := strings.LastIndex(concept, ":"); i >= 0 {
		concept = strings.TrimSpace(concept[i+1:])
	}
	return fmt.Sprintf("%s is one of the building blocks of a cloud architecture. "+
		"Tell me which pieces your system needs and how they talk to each other, and I will draw it.", concept)
}

func extractUserInput(prompt string) string {
	if sm := requestSection.FindStringSubmatch(prompt); sm != nil {
		return sm[1]
	}
	if sm := userRequest.FindStringSubmatch(prompt); sm != nil {
		return sm[1]
	}
	return prompt
}
