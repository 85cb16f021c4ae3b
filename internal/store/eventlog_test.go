package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/diagrammer/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	s, err := NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendAll(t *testing.T, s *LibSQLStore, runID string, types ...string) []*Event {
	t.Helper()
	var out []*Event
	for i, typ := range types {
		e := &Event{RunID: runID, Type: typ, Attempt: i/2 + 1}
		require.NoError(t, s.AppendEvent(context.Background(), e))
		out = append(out, e)
	}
	return out
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestAppendEvent_AssignsIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &Event{RunID: "run-1", Type: schema.EventAttemptRejected, Attempt: 1, Payload: json.RawMessage(`{"raw_output":"x"}`)}
	require.NoError(t, s.AppendEvent(ctx, e))

	assert.Len(t, e.ID, 26, "ulid")
	assert.Equal(t, int64(1), e.Sequence)
	assert.Equal(t, Digest(e.Payload), e.Digest)
	assert.Len(t, e.Digest, 64)
	assert.False(t, e.CreatedAt.IsZero())

	got, err := s.GetEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e.ID, got[0].ID)
	assert.Equal(t, 1, got[0].Attempt)
	assert.JSONEq(t, `{"raw_output":"x"}`, string(got[0].Payload))
	assert.Equal(t, e.Digest, got[0].Digest)
}

func TestAppendEvent_RequiresRunID(t *testing.T) {
	err := newTestStore(t).AppendEvent(context.Background(), &Event{Type: "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestAppendEvent_SequencePerRun(t *testing.T) {
	s := newTestStore(t)
	appendAll(t, s, "a", "x", "y", "z")
	appendAll(t, s, "b", "x", "y")

	a, err := s.GetEvents(context.Background(), "a", 0)
	require.NoError(t, err)
	b, err := s.GetEvents(context.Background(), "b", 0)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, sequences(a))
	assert.Equal(t, []int64{1, 2}, sequences(b))

	since, err := s.GetEvents(context.Background(), "a", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, sequences(since))
}

func TestAppendEvent_ConcurrentRunsStayGapless(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, s.AppendEvent(ctx, &Event{RunID: fmt.Sprintf("run-%d", r), Type: "tick"}))
			}
		}(r)
	}
	wg.Wait()

	for r := 0; r < 4; r++ {
		events, err := s.GetEvents(ctx, fmt.Sprintf("run-%d", r), 0)
		require.NoError(t, err)
		require.Len(t, events, 10)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
	}
}

func TestReplayEvents_FailedAfterRepair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, e := range []*Event{
		{Type: schema.EventRunStarted},
		{Type: schema.EventAttemptStarted, Attempt: 1},
		{Type: schema.EventAttemptRejected, Attempt: 1, Payload: json.RawMessage(`{"raw_output":"a"}`)},
		{Type: schema.EventAttemptStarted, Attempt: 2},
		{Type: schema.EventAttemptAccepted, Attempt: 2, Payload: json.RawMessage(`{"raw_output":"b"}`)},
		{Type: schema.EventRunSucceeded, Attempt: 2},
	} {
		e.RunID = "run-r"
		require.NoError(t, s.AppendEvent(ctx, e))
	}

	h, err := s.ReplayEvents(ctx, "run-r")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSucceeded, h.Status)
	assert.Equal(t, 2, h.Attempts)
	assert.Equal(t, 1, h.Rejected)
	require.Len(t, h.Digests, 2)
	assert.NotEqual(t, h.Digests[0], h.Digests[1])
	assert.NotNil(t, h.EndedAt)
	assert.Len(t, h.Events, 6)
}

func TestReplayEvents_NotFound(t *testing.T) {
	_, err := newTestStore(t).ReplayEvents(context.Background(), "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestReplay_DetectsGap(t *testing.T) {
	_, err := Replay("r", []*Event{{Sequence: 1}, {Sequence: 3}})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
	assert.Contains(t, err.Error(), "expected 2, got 3")
}

func TestListEvents_Filter(t *testing.T) {
	s := newTestStore(t)
	appendAll(t, s, "a", schema.EventRunStarted, schema.EventRunFailed)
	appendAll(t, s, "b", schema.EventRunStarted, schema.EventRunSucceeded)

	failed, err := s.ListEvents(context.Background(), EventFilter{Type: schema.EventRunFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "a", failed[0].RunID)

	limited, err := s.ListEvents(context.Background(), EventFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, limited, 3)

	byRun, err := s.ListEvents(context.Background(), EventFilter{RunID: "b"})
	require.NoError(t, err)
	assert.Len(t, byRun, 2)
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &Event{RunID: "old", Type: "x", CreatedAt: time.Now().Add(-48 * time.Hour).UTC()}
	require.NoError(t, s.AppendEvent(ctx, old))
	appendAll(t, s, "new", "x", "y")

	n, err := s.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	remaining, err := s.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- only a comment;\nCREATE INDEX i ON a (x);")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, stmts)
}

func sequences(events []*Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.Sequence
	}
	return out
}
