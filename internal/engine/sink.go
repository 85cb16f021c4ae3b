package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rendis/diagrammer/internal/logging"
	"github.com/rendis/diagrammer/internal/store"
)

// Sink fans every event out to its appenders. Each appender gets its own copy;
// a failing appender is logged and does not stop the others.
type Sink struct {
	mu        sync.RWMutex
	appenders []EventAppender
	logger    *slog.Logger
}

// NewSink creates a fan-out over appenders.
func NewSink(logger *slog.Logger, appenders ...EventAppender) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{appenders: appenders, logger: logger}
}

// Add registers another appender.
func (s *Sink) Add(a EventAppender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appenders = append(s.appenders, a)
}

func (s *Sink) AppendEvent(ctx context.Context, event *store.Event) error {
	s.mu.RLock()
	appenders := s.appenders
	s.mu.RUnlock()

	var errs []error
	for _, a := range appenders {
		cp := *event
		if err := a.AppendEvent(ctx, &cp); err != nil {
			logging.LogWith(ctx, s.logger).Warn("event sink append failed",
				slog.String("event_type", event.Type),
				slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogAppender writes events as structured log records.
type LogAppender struct {
	Logger *slog.Logger
}

func (l LogAppender) AppendEvent(ctx context.Context, event *store.Event) error {
	attrs := []any{
		slog.String("event_type", event.Type),
		slog.String("run_id", event.RunID),
		slog.Int64("sequence", event.Sequence),
	}
	if event.Attempt > 0 {
		attrs = append(attrs, slog.Int("attempt", event.Attempt))
	}
	if event.Digest != "" {
		attrs = append(attrs, slog.String("digest", event.Digest))
	}
	l.Logger.DebugContext(ctx, "event", attrs...)
	return nil
}

// Sequencer numbers the events of one run before forwarding them, so every
// appender sees the same per-run order. Safe for concurrent use.
type Sequencer struct {
	mu    sync.Mutex
	runID string
	seq   int64
	next  EventAppender
}

// NewSequencer creates a sequencer for runID forwarding to next.
func NewSequencer(runID string, next EventAppender) *Sequencer {
	return &Sequencer{runID: runID, next: next}
}

func (s *Sequencer) AppendEvent(ctx context.Context, event *store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	event.Sequence = s.seq
	if event.RunID == "" {
		event.RunID = s.runID
	}
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if s.next == nil {
		return nil
	}
	return s.next.AppendEvent(ctx, event)
}
