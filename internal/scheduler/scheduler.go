package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTick is how often the scheduler checks for due jobs.
const DefaultTick = 15 * time.Second

// Job is a named periodic maintenance task.
type Job struct {
	Name string
	// Cron is a standard five-field expression.
	Cron string
	Run  func(ctx context.Context) error
}

type entry struct {
	job      Job
	schedule cron.Schedule
	next     time.Time
	lastRun  time.Time
	lastErr  error
}

// Status is a snapshot of one job.
type Status struct {
	Name    string    `json:"name"`
	Cron    string    `json:"cron"`
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run,omitempty"`
	LastErr string    `json:"last_error,omitempty"`
}

// Scheduler runs registered jobs when their cron schedule is due.
type Scheduler struct {
	parser cron.Parser
	logger *slog.Logger
	tick   time.Duration
	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	jobsMu sync.Mutex
	jobs   []*entry

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job names currently executing (dedup)
}

// NewScheduler creates a new Scheduler. A zero tick uses DefaultTick.
func NewScheduler(logger *slog.Logger, tick time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		tick:     tick,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a run function")
	}
	schedule, err := s.parser.Parse(job.Cron)
	if err != nil {
		return fmt.Errorf("scheduler: parse cron expression %q for job %q: %w", job.Cron, job.Name, err)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for _, e := range s.jobs {
		if e.job.Name == job.Name {
			return fmt.Errorf("scheduler: job %q already registered", job.Name)
		}
	}
	s.jobs = append(s.jobs, &entry{job: job, schedule: schedule, next: schedule.Next(s.now())})
	return nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Jobs())))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every job whose next run is not after now.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.jobsMu.Lock()
	var due []*entry
	for _, e := range s.jobs {
		if !e.next.After(now) {
			due = append(due, e)
		}
	}
	s.jobsMu.Unlock()

	for _, e := range due {
		if !s.tryAcquire(e.job.Name) {
			continue // already running (dedup)
		}
		s.runJob(ctx, e, now)
		s.releaseJob(e.job.Name)
	}
}

// RunNow runs the named job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.jobsMu.Lock()
	var target *entry
	for _, e := range s.jobs {
		if e.job.Name == name {
			target = e
		}
	}
	s.jobsMu.Unlock()
	if target == nil {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	if !s.tryAcquire(name) {
		return fmt.Errorf("scheduler: job %q is already running", name)
	}
	defer s.releaseJob(name)
	return s.runJob(ctx, target, s.now())
}

// runJob executes a job and advances its schedule.
func (s *Scheduler) runJob(ctx context.Context, e *entry, now time.Time) error {
	started := time.Now()
	err := e.job.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled job failed",
			slog.String("job", e.job.Name),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Debug("scheduled job finished",
			slog.String("job", e.job.Name),
			slog.Duration("elapsed", time.Since(started)),
		)
	}

	s.jobsMu.Lock()
	e.lastRun = now
	e.lastErr = err
	e.next = e.schedule.Next(now)
	s.jobsMu.Unlock()
	return err
}

// Jobs returns a snapshot of every registered job.
func (s *Scheduler) Jobs() []Status {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	out := make([]Status, 0, len(s.jobs))
	for _, e := range s.jobs {
		st := Status{Name: e.job.Name, Cron: e.job.Cron, NextRun: e.next, LastRun: e.lastRun}
		if e.lastErr != nil {
			st.LastErr = e.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
