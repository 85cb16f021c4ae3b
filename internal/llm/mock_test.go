package llm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/diagrammer/pkg/schema"
)

func diagramPrompt(desc string) string {
	return "--- USER REQUEST ---\nConvert the following description into a diagram specification:\n" +
		desc + "\n--- END USER REQUEST ---\n\nJSON SPECIFICATION:"
}

func assessPrompt(requirements, history, message string) string {
	return "Known requirements:\n" + requirements + "\nRecent conversation:\n" + history +
		"\nUser request: " + message + "\n\nWhat action should be taken? Respond with a JSON object"
}

func TestMock_DiagramPatterns(t *testing.T) {
	m := NewMockGenerator(0)
	ctx := context.Background()

	tests := []struct {
		name     string
		desc     string
		contains string
	}{
		{"minimal web app", "web app with load balancer and database", `"name": "Web"`},
		{"basic web app", "A load balancer in front of two EC2 servers and a database", `"WebServer1"`},
		{"microservices", "microservices behind an API gateway with a queue", `"APIGateway"`},
		{"storage", "S3 bucket triggering a Lambda", `"DataBucket"`},
		{"error", "please test error handling", "not valid JSON"},
		{"default", "something unusual", `"Server1"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := m.Generate(ctx, diagramPrompt(tt.desc), ModeDiagram, Options{})
			require.NoError(t, err)
			assert.Contains(t, out, tt.contains)
		})
	}
	assert.Equal(t, len(tests), m.Calls())
}

func TestMock_RepairPromptUsesOriginalRequest(t *testing.T) {
	prompt := "--- ORIGINAL REQUEST ---\nS3 bucket with a lambda\n--- END ORIGINAL REQUEST ---\n\nPrevious response that failed validation:\n{}"
	out, err := NewMockGenerator(0).Generate(context.Background(), prompt, ModeDiagram, Options{})
	require.NoError(t, err)
	assert.Contains(t, out, "ProcessFunction")
}

func TestMock_SetPatternTakesPrecedence(t *testing.T) {
	m := NewMockGenerator(0)
	require.NoError(t, m.SetPattern("custom", []string{`load\s*balancer`}, `{"nodes": []}`))

	out, err := m.Generate(context.Background(), diagramPrompt("web app with load balancer and database"), ModeDiagram, Options{})
	require.NoError(t, err)
	assert.Equal(t, `{"nodes": []}`, out)

	assert.Error(t, m.SetPattern("bad", []string{"("}, ""))
}

func decodeAction(t *testing.T, raw string) mockAction {
	t.Helper()
	var a mockAction
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	return a
}

func TestMock_AssessVagueAsksClarification(t *testing.T) {
	out, err := NewMockGenerator(0).Generate(context.Background(),
		assessPrompt("(none yet)", "(no previous turns)", "I need a diagram"), ModeAssess, Options{})
	require.NoError(t, err)

	a := decodeAction(t, out)
	assert.Equal(t, "ask_clarification", a.Action)
	assert.Equal(t, ClarificationQuestion, a.Parameters["question"])
}

func TestMock_AssessAccumulatesAcrossTurns(t *testing.T) {
	m := NewMockGenerator(0)
	ctx := context.Background()

	out, err := m.Generate(ctx, assessPrompt("(none yet)", "(no previous turns)", "it has a postgres database"), ModeAssess, Options{})
	require.NoError(t, err)
	a := decodeAction(t, out)
	assert.Equal(t, "ask_clarification", a.Action)
	assert.Equal(t, "postgres", a.Requirements["database"])

	out, err = m.Generate(ctx, assessPrompt("- database: postgres", "user: it has a postgres database", "and a few EC2 servers"), ModeAssess, Options{})
	require.NoError(t, err)
	a = decodeAction(t, out)
	assert.Equal(t, "generate_diagram", a.Action)
	assert.Equal(t, "ec2", a.Requirements["compute"])
}

func TestMock_AssessExplain(t *testing.T) {
	out, err := NewMockGenerator(0).Generate(context.Background(),
		assessPrompt("(none yet)", "(no previous turns)", "what is a load balancer?"), ModeAssess, Options{})
	require.NoError(t, err)

	a := decodeAction(t, out)
	assert.Equal(t, "explain_concept", a.Action)
	assert.Equal(t, "what is a load balancer?", a.Parameters["concept"])
}

func TestMock_Explain(t *testing.T) {
	out, err := NewMockGenerator(0).Generate(context.Background(), "Explain the following concept: sharding", ModeExplain, Options{})
	require.NoError(t, err)
	assert.Contains(t, out, "sharding")
}

func TestMock_HonoursCancellation(t *testing.T) {
	m := NewMockGenerator(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Generate(ctx, "x", ModeDiagram, Options{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeGenerationTimeout), "got %v", err)
}
