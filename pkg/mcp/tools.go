package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/diagrammer/internal/diagram"
	"github.com/rendis/diagrammer/internal/engine"
	"github.com/rendis/diagrammer/internal/service"
	"github.com/rendis/diagrammer/internal/streaming"
	"github.com/rendis/diagrammer/pkg/schema"
)

// handleGenerate runs the generate, validate, repair loop for a description.
func (s *DiagramServer) handleGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	description, err := req.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError("description is required"), nil
	}
	format := req.GetString("format", diagram.FormatPNG)

	runID := uuid.NewString()
	if s.captureSession(ctx, runID) {
		defer s.sessions.Forget(runID)
		stop := s.forward(ctx, runID)
		defer stop()
	}

	res, runErr := s.service.GenerateDiagram(ctx, service.GenerateRequest{
		RunID:       runID,
		Description: description,
		Format:      format,
	})
	if res == nil {
		return toolError(runErr), nil
	}
	if !res.Success {
		return failedRun(res), nil
	}
	return artifactResult(runSummary(res), res.Artifact)
}

// handleConverse processes one conversation turn.
func (s *DiagramServer) handleConverse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("message is required"), nil
	}
	token := req.GetString("conversation_token", "")

	reply, turnErr := s.service.Converse(ctx, service.ConverseRequest{Token: token, Message: message})
	if reply == nil {
		return toolError(turnErr), nil
	}
	s.captureSession(ctx, reply.Token)

	out := map[string]any{
		"conversation_token":       reply.Token,
		"status":                   reply.Status,
		"action":                   reply.Action,
		"message":                  reply.Message,
		"accumulated_requirements": reply.Requirements,
	}
	if reply.Result == nil {
		return marshalResult(out)
	}
	if !reply.Result.Success {
		return failedRun(reply.Result), nil
	}
	out["description"] = reply.Description
	out["diagram"] = runSummary(reply.Result)
	return artifactResult(out, reply.Result.Artifact)
}

// handleValidate checks a specification without generating anything.
func (s *DiagramServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("specification")
	if err != nil {
		return mcp.NewToolResultError("specification is required"), nil
	}
	report, vErr := s.service.ValidateSpecification(ctx, raw)
	if vErr != nil {
		return toolError(vErr), nil
	}
	return marshalResult(report)
}

// handleKinds lists the vocabulary.
func (s *DiagramServer) handleKinds(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kinds := s.service.Kinds()
	return marshalResult(map[string]any{"kinds": kinds, "count": len(kinds)})
}

// captureSession maps key to the calling client's session. Reports whether
// the call came through a session at all.
func (s *DiagramServer) captureSession(ctx context.Context, key string) bool {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return false
	}
	s.sessions.Register(key, session.SessionID())
	return true
}

// forward relays the live events of a run to its session until stop is
// called. stop drains whatever the run already published.
func (s *DiagramServer) forward(ctx context.Context, runID string) (stop func()) {
	if s.hub == nil {
		return func() {}
	}
	ch, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{RunID: runID})
	if err != nil {
		s.logger.Warn("progress subscription failed", slog.String("run_id", runID), slog.String("error", err.Error()))
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			payload := map[string]any{
				"level":  "info",
				"logger": "diagrammer",
				"data": map[string]any{
					"run_id":   ev.RunID,
					"sequence": ev.Sequence,
					"event":    ev.EventType,
					"attempt":  ev.Attempt,
				},
			}
			if err := s.notifier.Notify(context.WithoutCancel(ctx), runID, payload); err != nil {
				s.logger.Debug("progress notification failed", slog.String("run_id", runID), slog.String("error", err.Error()))
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// --- Result helpers ---

func runSummary(res *engine.Result) map[string]any {
	out := map[string]any{
		"run_id":        res.RunID,
		"success":       res.Success,
		"attempts":      res.Attempts,
		"nodes_created": res.NodesCreated,
		"connections":   res.Connections,
		"clusters":      res.Clusters,
	}
	if res.Artifact != nil {
		out["format"] = res.Artifact.Format
		out["title"] = res.Artifact.Title
	}
	return out
}

// artifactResult returns PNGs as image content and text formats inline.
func artifactResult(summary map[string]any, art *diagram.Artifact) (*mcp.CallToolResult, error) {
	if art == nil {
		return marshalResult(summary)
	}
	if art.Format != diagram.FormatPNG {
		summary["media_type"] = art.MediaType
		summary["diagram_data"] = string(art.Data)
		return marshalResult(summary)
	}
	text, err := json.Marshal(summary)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultImage(string(text), base64.StdEncoding.EncodeToString(art.Data), art.MediaType), nil
}

func failedRun(res *engine.Result) *mcp.CallToolResult {
	var b strings.Builder
	fmt.Fprintf(&b, "diagram generation failed after %d attempt(s)", res.Attempts)
	if res.Err != nil {
		fmt.Fprintf(&b, ": %s", errorText(res.Err))
	}
	if len(res.Violations) > 0 {
		b.WriteString("\nviolations:")
		for _, v := range res.Violations {
			b.WriteString("\n- ")
			b.WriteString(v.String())
		}
	}
	return mcp.NewToolResultError(b.String())
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(errorText(err))
}

func errorText(err error) string {
	var de *schema.DiagramError
	if errors.As(err, &de) {
		return de.Code + ": " + de.Message
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
