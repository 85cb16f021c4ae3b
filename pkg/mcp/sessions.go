package mcp

import "sync"

// SessionRegistry maps run ids and conversation tokens to MCP session IDs,
// so progress can be pushed to the client that started the work.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // key → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a key with a session ID, replacing any previous one.
func (r *SessionRegistry) Register(key, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[key] = sessionID
}

// SessionFor returns the session ID for key, if any.
func (r *SessionRegistry) SessionFor(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[key]
	return sid, ok
}

// Forget drops a single key.
func (r *SessionRegistry) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

// Remove deletes every key mapped to sessionID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, k)
		}
	}
}

// Len returns the number of tracked keys.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
