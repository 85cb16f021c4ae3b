package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Job names.
const (
	JobEvictConversations = "evict_conversations"
	JobPruneEvents        = "prune_events"
)

// Evictor drops idle conversations.
type Evictor interface {
	EvictIdle() int
}

// Pruner deletes events older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EvictionJob evicts idle conversations every minute.
func EvictionJob(e Evictor, logger *slog.Logger) Job {
	return Job{
		Name: JobEvictConversations,
		Cron: "* * * * *",
		Run: func(context.Context) error {
			if n := e.EvictIdle(); n > 0 {
				logger.Info("evicted idle conversations", slog.Int("count", n))
			}
			return nil
		},
	}
}

// RetentionJob prunes events older than retention at the top of every hour.
func RetentionJob(p Pruner, retention time.Duration, logger *slog.Logger) Job {
	return Job{
		Name: JobPruneEvents,
		Cron: "0 * * * *",
		Run: func(ctx context.Context) error {
			n, err := p.PruneBefore(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("pruned run events", slog.Int64("count", n), slog.Duration("retention", retention))
			}
			return nil
		},
	}
}
