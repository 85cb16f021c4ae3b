package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

const progressMethod = "notifications/message"

// Notifier pushes progress to the client that owns a run or conversation.
type Notifier interface {
	Notify(ctx context.Context, key string, payload map[string]any) error
}

// MCPNotifier implements Notifier with server-to-client notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier over the session registry.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends payload to the session registered for key.
// Best-effort: returns nil if no session is registered.
func (n *MCPNotifier) Notify(_ context.Context, key string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(key)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, progressMethod, payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
