package store

import (
	"context"
	"time"
)

// Store defines the event log contract.
// All implementations must be safe for concurrent use.
type Store interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)
	ReplayEvents(ctx context.Context, runID string) (*RunHistory, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
