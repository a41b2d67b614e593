package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// defaultJobTimeout bounds a single run of a job.
const defaultJobTimeout = 5 * time.Minute

// Job is a unit of scheduled work identified by ID.
type Job struct {
	ID       string
	Schedule cron.Schedule
	Run      func(ctx context.Context) error
	// OneShot removes the job after its first run.
	OneShot bool
	// Timeout bounds a single run; zero means five minutes.
	Timeout time.Duration
}

// Scheduler runs jobs on cron schedules. Jobs added before Start are queued
// and begin firing once the scheduler starts.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Add schedules job. An existing job with the same ID is replaced.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("scheduler: job id is required")
	}
	if job.Schedule == nil || job.Run == nil {
		return fmt.Errorf("scheduler: job %q needs a schedule and a run function", job.ID)
	}
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[job.ID]; ok {
		s.cron.Remove(old)
	}

	var entryID cron.EntryID
	entryID = s.cron.Schedule(job.Schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx == nil {
			s.logger.Debug("scheduler stopped, skipping job", "job", job.ID)
			return
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		if err := job.Run(runCtx); err != nil {
			s.logger.Warn("scheduled job failed", "job", job.ID, "error", err, "duration", time.Since(start))
		} else {
			s.logger.Debug("scheduled job completed", "job", job.ID, "duration", time.Since(start))
		}

		if job.OneShot {
			s.removeEntry(job.ID, entryID)
		}
	}))

	s.entries[job.ID] = entryID
	s.logger.Debug("job scheduled", "job", job.ID, "one_shot", job.OneShot)
	return nil
}

// removeEntry drops id only if it still maps to entryID, so a job that
// replaced itself from inside its own run is kept.
func (s *Scheduler) removeEntry(id string, entryID cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Remove(entryID)
	if s.entries[id] == entryID {
		delete(s.entries, id)
	}
}

// Remove cancels the job with the given ID. It reports whether the job existed.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[id]
	if !ok {
		return false
	}
	s.cron.Remove(entryID)
	delete(s.entries, id)
	s.logger.Debug("job removed", "job", id)
	return true
}

// Has reports whether a job with the given ID is scheduled.
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// NextRun returns the next run time of a job. The time is only known once
// the scheduler is running.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	entryID, ok := s.entries[id]
	s.mu.Unlock()

	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals running jobs to stop and waits for them to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.ctx = nil
	s.started = false
	s.mu.Unlock()

	// Running jobs take s.mu, so wait outside it.
	<-s.cron.Stop().Done()
	return nil
}

// Parse reads a schedule as a cron expression (with descriptors such as
// @daily) or, failing that, as a positive Go duration.
func Parse(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return Every(dur), nil
}

// Every returns a schedule that fires at a fixed interval. Unlike
// cron.Every it keeps sub-second intervals.
func Every(d time.Duration) cron.Schedule {
	return constantDelay(d)
}

type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

// At returns a schedule that fires once at t. A time already passed never
// fires.
func At(t time.Time) cron.Schedule {
	return atTime(t)
}

type atTime time.Time

func (a atTime) Next(now time.Time) time.Time {
	if at := time.Time(a); now.Before(at) {
		return at
	}
	return time.Time{}
}
