package store

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/zeebo/blake3"

	"github.com/rendis/diagrammer/pkg/schema"
)

// Event is an immutable entry in the run event log. RunID is a generation run
// id or a conversation token.
type Event struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Sequence  int64           `json:"sequence"`
	Type      string          `json:"event_type"`
	Attempt   int             `json:"attempt,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Digest    string          `json:"digest,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	RunID string
	Type  string
	Since *time.Time
	Limit int
}

// RunHistory is the state of a run reconstructed from its events.
type RunHistory struct {
	RunID     string           `json:"run_id"`
	Status    schema.RunStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	Rejected  int              `json:"rejected"`
	Digests   []string         `json:"digests,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
	Events    []*Event         `json:"events"`
}

// Digest returns the hex BLAKE3 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
