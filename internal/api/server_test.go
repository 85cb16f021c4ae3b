package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/diagrammer/internal/config"
	"github.com/rendis/diagrammer/internal/service"
	"github.com/rendis/diagrammer/pkg/schema"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const webApp = "web app with load balancer and database"

func newTestRuntime(t *testing.T, mutate func(*config.Config)) *service.Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = ""
	cfg.DiagramFormat = "mermaid"
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := service.Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func newTestServer(t *testing.T, mutate func(*config.Config)) http.Handler {
	return FromRuntime(newTestRuntime(t, mutate), "test").Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// --- Health ---

func TestHealthEndpoints(t *testing.T) {
	h := newTestServer(t, nil)

	w := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "mock", body["provider"])

	w = do(t, h, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["ready"])
}

func TestRequestHeaders(t *testing.T) {
	h := newTestServer(t, nil)

	w := do(t, h, http.MethodGet, "/health/live", nil)
	assert.Len(t, w.Header().Get(headerRequestID), 36)
	assert.NotEmpty(t, w.Header().Get(headerProcessTime))

	w = do(t, h, http.MethodGet, "/health/live", nil, headerRequestID, "req-123")
	assert.Equal(t, "req-123", w.Header().Get(headerRequestID))
}

// --- Generate ---

func TestGenerate_Mermaid(t *testing.T) {
	h := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/diagram/generate", GenerateRequest{Description: webApp, OutputFormat: OutputMermaid})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[GenerateResponse](t, w)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "text/vnd.mermaid", resp.MediaType)
	assert.Contains(t, resp.DiagramData, "ALB")
	assert.EqualValues(t, 1, resp.Metadata["attempts"])
	assert.EqualValues(t, 3, resp.Metadata["nodes_created"])
	assert.Equal(t, w.Header().Get(headerRequestID), resp.RequestID)
}

func TestGenerate_Base64PNG(t *testing.T) {
	h := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/diagram/generate", GenerateRequest{Description: webApp})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[GenerateResponse](t, w)
	img, err := base64.StdEncoding.DecodeString(resp.DiagramData)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, []byte("\x89PNG")))
	assert.Equal(t, "png", resp.Metadata["format"])
}

func TestGenerate_RawPNG(t *testing.T) {
	h := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/diagram/generate", GenerateRequest{Description: webApp, OutputFormat: OutputPNG})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Run-ID"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
}

func TestGenerate_BindingErrors(t *testing.T) {
	h := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"too short", GenerateRequest{Description: "tiny"}, http.StatusUnprocessableEntity},
		{"too long", GenerateRequest{Description: strings.Repeat("x", 2001)}, http.StatusUnprocessableEntity},
		{"bad format", GenerateRequest{Description: webApp, OutputFormat: "gif"}, http.StatusUnprocessableEntity},
		{"not json", "just a string", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/diagram/generate", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, schema.ErrCodeValidation, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestGenerate_RetryExhausted(t *testing.T) {
	h := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/diagram/generate", GenerateRequest{Description: "please test error handling", OutputFormat: OutputMermaid})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	resp := decode[GenerateResponse](t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, schema.ErrCodeRetryExhausted, resp.ErrorCode)
	assert.NotEmpty(t, resp.Violations)
	assert.EqualValues(t, 3, resp.Metadata["attempts"])
}

// --- Assistant ---

func TestAssistant_ClarifyThenDiagram(t *testing.T) {
	h := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/diagram/assistant", AssistantRequest{Message: "I need a diagram"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[AssistantResponse](t, w)
	assert.True(t, first.Success)
	assert.Equal(t, ResponseClarification, first.ResponseType)
	assert.Equal(t, "collecting", first.Status)
	require.NotEmpty(t, first.ConversationToken)

	w = do(t, h, http.MethodPost, "/api/v1/diagram/assistant", AssistantRequest{Message: webApp, ConversationToken: first.ConversationToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[AssistantResponse](t, w)
	assert.Equal(t, ResponseDiagram, second.ResponseType)
	assert.Equal(t, "ready", second.Status)
	assert.Contains(t, second.DiagramData, "flowchart")
	assert.Contains(t, second.Message, "3 components")

	w = do(t, h, http.MethodGet, "/api/v1/conversations/"+first.ConversationToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode[schema.ConversationState](t, w)
	assert.Len(t, state.Turns, 4)

	w = do(t, h, http.MethodPost, "/api/v1/diagram/assistant", AssistantRequest{Message: "one more", ConversationToken: first.ConversationToken})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, schema.ErrCodeConversationClosed, decode[ErrorResponse](t, w).Code)
}

func TestAssistant_Explain(t *testing.T) {
	h := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/diagram/assistant", AssistantRequest{Message: "what is a load balancer"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[AssistantResponse](t, w)
	assert.Equal(t, ResponseExplanation, resp.ResponseType)
	assert.Equal(t, "collecting", resp.Status)
	assert.NotEmpty(t, resp.Message)
}

func TestAssistant_UnknownConversation(t *testing.T) {
	h := newTestServer(t, nil)
	w := do(t, h, http.MethodGet, "/api/v1/conversations/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Validate / kinds ---

func TestValidate(t *testing.T) {
	h := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/diagram/validate", ValidateRequest{
		Specification: `{"nodes":[{"type":"EC2","name":"WebServer","properties":{}}],"connections":[],"clusters":[]}`,
	})
	require.Equal(t, http.StatusOK, w.Code)
	ok := decode[ValidateResponse](t, w)
	assert.True(t, ok.Valid)
	assert.Equal(t, 1, ok.NodeCount)

	w = do(t, h, http.MethodPost, "/api/v1/diagram/validate", ValidateRequest{
		Specification: `{"nodes":[{"type":"Mainframe","name":"M"}]}`,
	})
	require.Equal(t, http.StatusOK, w.Code)
	bad := decode[ValidateResponse](t, w)
	assert.False(t, bad.Valid)
	assert.Contains(t, bad.Error, "Mainframe")
	assert.NotEmpty(t, bad.Suggestions)

	w = do(t, h, http.MethodPost, "/api/v1/diagram/validate", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestKinds(t *testing.T) {
	h := newTestServer(t, nil)

	w := do(t, h, http.MethodGet, "/api/v1/kinds", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[KindsResponse](t, w)
	assert.Equal(t, len(resp.Kinds), resp.Count)

	names := make([]string, 0, len(resp.Kinds))
	for _, k := range resp.Kinds {
		names = append(names, k.Name)
	}
	assert.Subset(t, names, []string{"EC2", "RDS", "LoadBalancer", "SQS", "Lambda", "S3"})
}

// --- Middleware ---

func TestAPIKey(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.AllowedAPIKeys = []string{"secret"}
	})

	w := do(t, h, http.MethodGet, "/api/v1/kinds", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/kinds", nil, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/kinds", nil, "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays public.
	w = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.CORSOrigins = []string{"https://app.example.com"}
	})

	w := do(t, h, http.MethodOptions, "/api/v1/diagram/generate", nil, "Origin", "https://app.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")

	w = do(t, h, http.MethodGet, "/health/live", nil, "Origin", "https://evil.example.com")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, nil)

	do(t, h, http.MethodGet, "/health/live", nil)
	w := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `diagrammer_http_requests_total{code="200",route="/health/live"} 1`)
}

// --- Event log and stream ---

func TestRuns_WithoutEventLog(t *testing.T) {
	h := newTestServer(t, nil)
	w := do(t, h, http.MethodGet, "/api/v1/runs/abc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuns_Replay(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.DBPath = filepath.Join(t.TempDir(), "events.db")
	})

	w := do(t, h, http.MethodPost, "/api/v1/diagram/generate", GenerateRequest{Description: webApp, OutputFormat: OutputMermaid})
	require.Equal(t, http.StatusOK, w.Code)
	runID := decode[GenerateResponse](t, w).RunID

	w = do(t, h, http.MethodGet, "/api/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	history := decode[map[string]any](t, w)
	assert.Equal(t, runID, history["run_id"])
	assert.EqualValues(t, 1, history["attempts"])

	w = do(t, h, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvents_StreamsRunEvents(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?types=run_started,run_succeeded", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event:ready", lines.Text())

	body, _ := json.Marshal(GenerateRequest{Description: webApp, OutputFormat: OutputMermaid})
	gen, err := http.Post(srv.URL+"/api/v1/diagram/generate", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	gen.Body.Close()

	var seen []string
	for lines.Scan() && len(seen) < 2 {
		if name, ok := strings.CutPrefix(lines.Text(), "event:"); ok {
			seen = append(seen, name)
		}
	}
	assert.Equal(t, []string{schema.EventRunStarted, schema.EventRunSucceeded}, seen)
}
