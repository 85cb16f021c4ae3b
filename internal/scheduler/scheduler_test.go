package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScheduler(now time.Time) (*Scheduler, *time.Time) {
	s := NewScheduler(slog.Default(), time.Hour)
	clock := now
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestCalculateNextRun(t *testing.T) {
	s := NewScheduler(nil, 0)
	from := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 1, 10, 31, 0, 0, time.UTC)},
		{"0 * * * *", time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := s.CalculateNextRun(tt.expr, from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := s.CalculateNextRun("not a cron", from)
	assert.Error(t, err)
}

func TestAdd_Validation(t *testing.T) {
	s := NewScheduler(nil, 0)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add(Job{Name: "a", Cron: "* * * * *", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "a", Cron: "* * * * *", Run: noop}), "duplicate name")
	assert.Error(t, s.Add(Job{Name: "b", Cron: "bad", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "", Cron: "* * * * *", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "c", Cron: "* * * * *"}))
	assert.Len(t, s.Jobs(), 1)
}

func TestTick_RunsOnlyDueJobs(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	s, clock := testScheduler(start)

	var minute, hourly atomic.Int32
	require.NoError(t, s.Add(Job{Name: "minute", Cron: "* * * * *", Run: func(context.Context) error { minute.Add(1); return nil }}))
	require.NoError(t, s.Add(Job{Name: "hourly", Cron: "0 * * * *", Run: func(context.Context) error { hourly.Add(1); return nil }}))

	ctx := context.Background()
	s.Tick(ctx)
	assert.Zero(t, minute.Load(), "nothing is due yet")

	*clock = start.Add(time.Minute)
	s.Tick(ctx)
	assert.EqualValues(t, 1, minute.Load())
	assert.Zero(t, hourly.Load())

	// Same instant: the minute job already advanced its schedule.
	s.Tick(ctx)
	assert.EqualValues(t, 1, minute.Load())

	*clock = start.Add(30 * time.Minute)
	s.Tick(ctx)
	assert.EqualValues(t, 2, minute.Load())
	assert.EqualValues(t, 1, hourly.Load())
}

func TestRunNow_RecordsFailure(t *testing.T) {
	s, _ := testScheduler(time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC))
	require.NoError(t, s.Add(Job{Name: "boom", Cron: "0 0 * * *", Run: func(context.Context) error {
		return errors.New("disk full")
	}}))

	err := s.RunNow(context.Background(), "boom")
	assert.EqualError(t, err, "disk full")

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "disk full", jobs[0].LastErr)
	assert.False(t, jobs[0].LastRun.IsZero())

	assert.Error(t, s.RunNow(context.Background(), "missing"))
}

func TestRunNow_Dedup(t *testing.T) {
	s := NewScheduler(nil, 0)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Add(Job{Name: "slow", Cron: "* * * * *", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.RunNow(context.Background(), "slow")
	}()
	<-started

	err := s.RunNow(context.Background(), "slow")
	assert.ErrorContains(t, err, "already running")
	close(release)
	wg.Wait()
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(nil, 10*time.Millisecond)

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "tick", Cron: "* * * * *", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))
	// Jump past the first scheduled minute.
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start")

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
}

type fakeEvictor struct{ n int }

func (f *fakeEvictor) EvictIdle() int { return f.n }

type fakePruner struct {
	cutoff time.Time
	err    error
}

func (f *fakePruner) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 4, f.err
}

func TestMaintenanceJobs(t *testing.T) {
	logger := slog.Default()
	ctx := context.Background()

	evict := EvictionJob(&fakeEvictor{n: 2}, logger)
	assert.Equal(t, JobEvictConversations, evict.Name)
	assert.NoError(t, evict.Run(ctx))

	p := &fakePruner{}
	prune := RetentionJob(p, 24*time.Hour, logger)
	assert.Equal(t, JobPruneEvents, prune.Name)
	require.NoError(t, prune.Run(ctx))
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), p.cutoff, 5*time.Second)

	p.err = errors.New("locked")
	assert.EqualError(t, prune.Run(ctx), "locked")

	s := NewScheduler(logger, 0)
	require.NoError(t, s.Add(evict))
	require.NoError(t, s.Add(prune))
}
