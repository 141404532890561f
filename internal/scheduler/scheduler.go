// Package scheduler is a direct generalization of the teacher's
// internal/cron.Scheduler: instead of firing generic stored schedule
// rows, it runs nine named jobs (spec.md §4.9), each with its own cron
// expression, wrapped by a common runJob helper implementing the
// failure-notify-then-rethrow contract.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/boss/internal/store"
)

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Job is one scheduled unit of work. Exactly one of CronExpr or Interval
// must be set: CronExpr for calendar-driven cadences (the parser accepts
// the standard 5-field minute/hour/dom/month/dow expression), Interval
// for fixed-period sweeps sub-minute cron can't express.
type Job struct {
	Name     string
	CronExpr string
	Interval time.Duration
	Loc      *time.Location // evaluate CronExpr in this zone; nil means UTC
	LogOnly  bool           // true only for the message-queue drain job (spec.md §4.9)
	Run      func(ctx context.Context) error
}

type schedule struct {
	job      Job
	sched    cronlib.Schedule // nil when the job is interval-driven
	interval time.Duration
	loc      *time.Location
	nextRun  time.Time
}

func (sc *schedule) next(now time.Time) time.Time {
	if sc.interval > 0 {
		return now.Add(sc.interval)
	}
	if sc.loc != nil {
		now = now.In(sc.loc)
	}
	return sc.sched.Next(now)
}

// Scheduler runs the registered jobs on a single tick loop, matching the
// teacher's Scheduler shape (interval ticker + per-tick due-job scan).
type Scheduler struct {
	store    *store.Store
	logger   *slog.Logger
	interval time.Duration

	mu        sync.Mutex
	schedules []*schedule

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(st *store.Store, logger *slog.Logger, interval time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Scheduler{store: st, logger: logger, interval: interval}
}

// Register adds a job to the schedule, computing its first run from now.
func (s *Scheduler) Register(job Job) error {
	now := time.Now()
	sc := &schedule{job: job, loc: job.Loc}
	if job.Interval > 0 {
		sc.interval = job.Interval
	} else {
		parsed, err := cronParser.Parse(job.CronExpr)
		if err != nil {
			return fmt.Errorf("scheduler: job %s: %w", job.Name, err)
		}
		sc.sched = parsed
	}
	sc.nextRun = sc.next(now)
	s.mu.Lock()
	s.schedules = append(s.schedules, sc)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "interval", s.interval, "jobs", len(s.schedules))
}

// Stop cancels the tick loop and waits for the current tick to finish, up
// to a 30s grace period (spec.md §5: "running jobs finish or are
// cancelled after 30 s").
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn("scheduler: stop timed out after 30s, jobs may still be in flight")
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	due := make([]*schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		if !now.Before(sc.nextRun) {
			due = append(due, sc)
			sc.nextRun = sc.next(now)
		}
	}
	s.mu.Unlock()

	for _, sc := range due {
		s.runJob(ctx, sc.job)
	}
}

// runJob implements spec.md §4.9's failure-notify-then-rethrow contract:
// on error, log with full detail, notify the boss via the outbox (unless
// the job is log-only), then surface the error so the scheduler records
// the failure (here: a structured log at error level, since nothing above
// the scheduler catches panics-as-control-flow in Go).
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	err := job.Run(jobCtx)
	elapsed := time.Since(start)

	if err == nil {
		s.logger.Info("scheduler job completed", "job", job.Name, "elapsed", elapsed)
		return
	}

	s.logger.Error("scheduler job failed", "job", job.Name, "elapsed", elapsed, "error", err)
	if job.LogOnly {
		return
	}
	s.notifyFailure(ctx, job.Name, err)
}

func (s *Scheduler) notifyFailure(ctx context.Context, jobName string, jobErr error) {
	payload, err := json.Marshal(map[string]string{
		"job":     jobName,
		"message": fmt.Sprintf("scheduled job %q failed: %v", jobName, jobErr),
	})
	if err != nil {
		return
	}
	idempotencyKey := fmt.Sprintf("scheduler-alert:%s:%d", jobName, time.Now().UnixNano())
	if _, err := s.store.EnqueueOutbox(ctx, "telegram", payload, idempotencyKey, 3); err != nil {
		s.logger.Error("scheduler: failed to enqueue failure notification", "job", jobName, "error", err)
	}
}
