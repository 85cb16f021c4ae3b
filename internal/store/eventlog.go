package store

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rendis/diagrammer/pkg/schema"
)

// AppendEvent appends an event with the next per-run sequence. Missing ids,
// timestamps and digests are filled in; the event is updated in place.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "append event: run_id is required")
	}
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Digest == "" && len(event.Payload) > 0 {
		event.Digest = Digest(event.Payload)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin append", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq); err != nil {
		return storeErr("next sequence", err)
	}
	event.Sequence = seq

	var payload any
	if len(event.Payload) > 0 {
		payload = string(event.Payload)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (id, run_id, sequence, event_type, attempt, payload, digest, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.RunID, seq, event.Type, event.Attempt, payload, nullStr(event.Digest), event.CreatedAt,
	); err != nil {
		return storeErr("insert event", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit event", err)
	}
	return nil
}

// ReplayEvents folds the events of one run into a RunHistory. A run with no
// events is NOT_FOUND; a gap in the sequence is a STORE_ERROR.
func (s *LibSQLStore) ReplayEvents(ctx context.Context, runID string) (*RunHistory, error) {
	events, err := s.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q has no events", runID)
	}
	return Replay(runID, events)
}

// Replay reconstructs a RunHistory from events ordered by sequence.
func Replay(runID string, events []*Event) (*RunHistory, error) {
	h := &RunHistory{RunID: runID, Status: schema.RunStatusAttempting, Events: events}

	for i, e := range events {
		if want := int64(i + 1); e.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, want, e.Sequence)
		}
		if i == 0 {
			h.StartedAt = e.CreatedAt
		}

		switch e.Type {
		case schema.EventAttemptStarted:
			h.Attempts = e.Attempt
		case schema.EventAttemptRejected:
			h.Rejected++
			if e.Digest != "" {
				h.Digests = append(h.Digests, e.Digest)
			}
		case schema.EventAttemptAccepted:
			if e.Digest != "" {
				h.Digests = append(h.Digests, e.Digest)
			}
		case schema.EventRunSucceeded:
			h.Status = schema.RunStatusSucceeded
			h.EndedAt = timePtr(e.CreatedAt)
		case schema.EventRunFailed:
			h.Status = schema.RunStatusFailed
			h.EndedAt = timePtr(e.CreatedAt)
		}
	}
	return h, nil
}

func timePtr(t time.Time) *time.Time { return &t }
