package api

import (
	"time"

	"github.com/rendis/diagrammer/internal/vocabulary"
	"github.com/rendis/diagrammer/pkg/schema"
)

// Output formats accepted by the generate endpoint. base64 is a PNG encoded
// into the JSON body; png streams the raw image.
const (
	OutputBase64  = "base64"
	OutputPNG     = "png"
	OutputSVG     = "svg"
	OutputDOT     = "dot"
	OutputMermaid = "mermaid"
)

// Assistant response types.
const (
	ResponseDiagram       = "diagram"
	ResponseClarification = "clarification"
	ResponseExplanation   = "explanation"
	ResponseError         = "error"
)

type GenerateRequest struct {
	Description  string `json:"description" binding:"required,min=10,max=2000"`
	OutputFormat string `json:"output_format" binding:"omitempty,oneof=png base64 svg dot mermaid"`
}

type GenerateResponse struct {
	Success     bool              `json:"success"`
	RunID       string            `json:"run_id,omitempty"`
	DiagramData string            `json:"diagram_data,omitempty"`
	MediaType   string            `json:"media_type,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorCode   string            `json:"error_code,omitempty"`
	Violations  schema.Violations `json:"violations,omitempty"`
	Metadata    map[string]any    `json:"metadata"`
	RequestID   string            `json:"request_id"`
	Timestamp   time.Time         `json:"timestamp"`
}

type AssistantRequest struct {
	Message             string        `json:"message" binding:"required,min=1,max=2000"`
	ConversationToken   string        `json:"conversation_token" binding:"omitempty,max=128"`
	ConversationHistory []schema.Turn `json:"conversation_history" binding:"omitempty,max=100"`
}

type AssistantResponse struct {
	Success           bool              `json:"success"`
	ResponseType      string            `json:"response_type"`
	Message           string            `json:"message"`
	ConversationToken string            `json:"conversation_token,omitempty"`
	Status            string            `json:"status,omitempty"`
	Requirements      map[string]string `json:"accumulated_requirements,omitempty"`
	DiagramData       string            `json:"diagram_data,omitempty"`
	ErrorCode         string            `json:"error_code,omitempty"`
	Metadata          map[string]any    `json:"metadata"`
	RequestID         string            `json:"request_id"`
	Timestamp         time.Time         `json:"timestamp"`
}

type ValidateRequest struct {
	Specification string `json:"specification" binding:"required"`
}

type ValidateResponse struct {
	Valid       bool              `json:"valid"`
	Error       string            `json:"error,omitempty"`
	Suggestions string            `json:"suggestions,omitempty"`
	Violations  schema.Violations `json:"violations"`
	NodeCount   int               `json:"node_count"`
	Connections int               `json:"connection_count"`
	Clusters    int               `json:"cluster_count"`
	RequestID   string            `json:"request_id"`
	Timestamp   time.Time         `json:"timestamp"`
}

type KindsResponse struct {
	Kinds []vocabulary.Kind `json:"kinds"`
	Count int               `json:"count"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}
