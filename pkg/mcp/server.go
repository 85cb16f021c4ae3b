package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/diagrammer/internal/conversation"
	"github.com/rendis/diagrammer/internal/engine"
	"github.com/rendis/diagrammer/internal/service"
	"github.com/rendis/diagrammer/internal/streaming"
	"github.com/rendis/diagrammer/internal/vocabulary"
)

// Tool names.
const (
	ToolGenerateDiagram       = "generate_diagram"
	ToolConverse              = "converse"
	ToolValidateSpecification = "validate_specification"
	ToolListNodeKinds         = "list_node_kinds"
)

// DiagramService is the part of the service the tools call.
type DiagramService interface {
	GenerateDiagram(ctx context.Context, req service.GenerateRequest) (*engine.Result, error)
	Converse(ctx context.Context, req service.ConverseRequest) (*conversation.Reply, error)
	ValidateSpecification(ctx context.Context, raw string) (*service.ValidationReport, error)
	Kinds() []vocabulary.Kind
}

// DiagramServerDeps holds the dependencies for creating a DiagramServer.
// Hub is optional; without it no progress notifications are sent.
type DiagramServerDeps struct {
	Service DiagramService
	Hub     streaming.EventHub
	Version string
	Logger  *slog.Logger
}

// DiagramServer wraps an MCP server with the diagram tool handlers.
type DiagramServer struct {
	service   DiagramService
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  Notifier
	mcpServer *server.MCPServer
}

// NewDiagramServer creates a DiagramServer with all 4 tools registered.
func NewDiagramServer(deps DiagramServerDeps) *DiagramServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &DiagramServer{
		service:  deps.Service,
		hub:      deps.Hub,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"diagrammer",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Diagrammer turns natural-language architecture descriptions into validated diagrams. "+
			"Use generate_diagram when the description is complete, converse to gather requirements over several turns, "+
			"validate_specification to check a JSON specification, and list_node_kinds to see the supported node types."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *DiagramServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *DiagramServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *DiagramServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: generateTool(), Handler: s.handleGenerate},
		{Tool: converseTool(), Handler: s.handleConverse},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: kindsTool(), Handler: s.handleKinds},
	}
}

// --- Tool definitions ---

func generateTool() mcp.Tool {
	return mcp.NewTool(ToolGenerateDiagram,
		mcp.WithDescription("Generate a cloud architecture diagram from a natural-language description"),
		mcp.WithString("description", mcp.Required(), mcp.Description("Architecture description: components and how they connect (10 to 2000 characters)")),
		mcp.WithString("format",
			mcp.Enum("png", "svg", "dot", "mermaid"),
			mcp.Description("Output format (default: png, returned as an image)"),
		),
	)
}

func converseTool() mcp.Tool {
	return mcp.NewTool(ToolConverse,
		mcp.WithDescription("Talk to the diagram assistant; it asks questions until it knows enough, then draws the diagram"),
		mcp.WithString("message", mcp.Required(), mcp.Description("The user's message")),
		mcp.WithString("conversation_token", mcp.Description("Token returned by a previous converse call (omit to start a new conversation)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool(ToolValidateSpecification,
		mcp.WithDescription("Validate a diagram specification JSON against the node vocabulary and structural rules"),
		mcp.WithString("specification", mcp.Required(), mcp.Description(`Specification JSON: {"nodes":[{"type","name"}],"connections":[{"from","to"}],"clusters":[{"name","nodes"}]}`)),
	)
}

func kindsTool() mcp.Tool {
	return mcp.NewTool(ToolListNodeKinds,
		mcp.WithDescription("List the node types a specification may use"),
	)
}
