package api

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rendis/diagrammer/internal/conversation"
	"github.com/rendis/diagrammer/internal/diagram"
	"github.com/rendis/diagrammer/internal/engine"
	"github.com/rendis/diagrammer/internal/service"
	"github.com/rendis/diagrammer/internal/streaming"
	"github.com/rendis/diagrammer/pkg/schema"
)

func (s *Server) generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	output := req.OutputFormat
	if output == "" {
		output = OutputBase64
	}
	format := output
	if output == OutputBase64 {
		format = diagram.FormatPNG
	}

	res, err := s.deps.Service.GenerateDiagram(c.Request.Context(), service.GenerateRequest{
		Description: req.Description,
		Format:      format,
	})
	if res == nil {
		abortWithError(c, statusFor(err), err)
		return
	}

	resp := GenerateResponse{
		Success:   res.Success,
		RunID:     res.RunID,
		Metadata:  resultMetadata(res, req.Description),
		RequestID: requestID(c),
		Timestamp: time.Now().UTC(),
	}
	if !res.Success {
		resp.Error = errString(res.Err)
		resp.ErrorCode = schema.CodeOf(res.Err)
		resp.Violations = res.Violations
		c.JSON(statusFor(res.Err), resp)
		return
	}

	art := res.Artifact
	if art == nil {
		c.JSON(http.StatusOK, resp)
		return
	}
	if output == OutputPNG {
		c.Header("X-Run-ID", res.RunID)
		c.Data(http.StatusOK, art.MediaType, art.Data)
		return
	}
	resp.MediaType = art.MediaType
	resp.DiagramData = encodeArtifact(art)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) assistant(c *gin.Context) {
	var req AssistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	reply, err := s.deps.Service.Converse(c.Request.Context(), service.ConverseRequest{
		Token:   req.ConversationToken,
		Message: req.Message,
		History: req.ConversationHistory,
	})
	if reply == nil {
		abortWithError(c, statusFor(err), err)
		return
	}

	resp := AssistantResponse{
		Success:           err == nil,
		ResponseType:      responseType(reply.Action),
		Message:           reply.Message,
		ConversationToken: reply.Token,
		Status:            string(reply.Status),
		Requirements:      reply.Requirements,
		Metadata:          map[string]any{},
		RequestID:         requestID(c),
		Timestamp:         time.Now().UTC(),
	}
	status := http.StatusOK
	if res := reply.Result; res != nil {
		resp.Metadata = resultMetadata(res, reply.Description)
		if res.Artifact != nil {
			resp.DiagramData = encodeArtifact(res.Artifact)
			resp.Metadata["media_type"] = res.Artifact.MediaType
		}
		if err != nil {
			resp.ResponseType = ResponseError
			resp.ErrorCode = schema.CodeOf(err)
			status = statusFor(err)
		}
	}
	c.JSON(status, resp)
}

func (s *Server) validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	report, err := s.deps.Service.ValidateSpecification(c.Request.Context(), req.Specification)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}

	resp := ValidateResponse{
		Valid:       report.Valid,
		Violations:  report.Violations,
		NodeCount:   report.NodeCount,
		Connections: report.Connections,
		Clusters:    report.Clusters,
		RequestID:   requestID(c),
		Timestamp:   time.Now().UTC(),
	}
	if !report.Valid {
		resp.Error = strings.Join(report.Violations.Messages(), "; ")
		var fixes []string
		for _, v := range report.Violations {
			if v.SuggestedFix != "" {
				fixes = append(fixes, v.SuggestedFix)
			}
		}
		resp.Suggestions = strings.Join(fixes, "\n")
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) kinds(c *gin.Context) {
	kinds := s.deps.Service.Kinds()
	c.JSON(http.StatusOK, KindsResponse{Kinds: kinds, Count: len(kinds)})
}

func (s *Server) conversation(c *gin.Context) {
	state, ok := s.deps.Service.Conversation(c.Param("token"))
	if !ok {
		abortWithError(c, http.StatusNotFound, schema.NewErrorf(schema.ErrCodeNotFound, "conversation %q not found", c.Param("token")))
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) run(c *gin.Context) {
	if s.deps.Runs == nil {
		abortWithError(c, http.StatusNotFound, schema.NewError(schema.ErrCodeNotFound, "event log is disabled"))
		return
	}
	history, err := s.deps.Runs.ReplayEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// events streams live run and conversation events as server-sent events.
// Query: run_id, types (comma separated).
func (s *Server) events(c *gin.Context) {
	if s.deps.Hub == nil {
		abortWithError(c, http.StatusNotFound, schema.NewError(schema.ErrCodeNotFound, "event streaming is disabled"))
		return
	}
	filter := streaming.EventFilter{RunID: c.Query("run_id")}
	if types := c.Query("types"); types != "" {
		filter.EventTypes = strings.Split(types, ",")
	}

	ctx := c.Request.Context()
	ch, cancel, err := s.deps.Hub.Subscribe(ctx, filter)
	if err != nil {
		abortWithError(c, http.StatusServiceUnavailable, schema.NewError(schema.ErrCodeCancelled, "subscribe failed").WithCause(err))
		return
	}
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"run_id": filter.RunID})
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.EventType, ev)
			return true
		case <-ctx.Done():
			return false
		case <-s.done:
			return false
		}
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   s.opts.Version,
		"provider":  s.opts.Provider,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) ready(c *gin.Context) {
	checks := gin.H{"generator": s.opts.Provider}
	status := http.StatusOK
	ready := true
	if s.deps.Ready != nil {
		if err := s.deps.Ready(c.Request.Context()); err != nil {
			ready = false
			status = http.StatusServiceUnavailable
			checks["error"] = err.Error()
		}
	}
	gm := s.deps.Service.GateMetrics()
	checks["active_runs"] = gm.Active
	c.JSON(status, gin.H{"ready": ready, "checks": checks, "timestamp": time.Now().UTC()})
}

func responseType(a conversation.Action) string {
	switch a {
	case conversation.ActionGenerate:
		return ResponseDiagram
	case conversation.ActionExplain:
		return ResponseExplanation
	default:
		return ResponseClarification
	}
}

// encodeArtifact base64-encodes images and passes text formats through.
func encodeArtifact(art *diagram.Artifact) string {
	if art.Format == diagram.FormatPNG {
		return base64.StdEncoding.EncodeToString(art.Data)
	}
	return string(art.Data)
}

func resultMetadata(res *engine.Result, description string) map[string]any {
	md := map[string]any{
		"description":   description,
		"attempts":      res.Attempts,
		"nodes_created": res.NodesCreated,
		"connections":   res.Connections,
		"clusters":      res.Clusters,
		"duration_ms":   res.Duration.Milliseconds(),
	}
	if res.Artifact != nil {
		md["format"] = res.Artifact.Format
		md["image_size_bytes"] = len(res.Artifact.Data)
		md["title"] = res.Artifact.Title
	}
	return md
}

func errString(err error) string {
	var de *schema.DiagramError
	if errors.As(err, &de) {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
