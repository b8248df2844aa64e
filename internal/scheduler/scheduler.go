// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/colebrumley/cortex/internal/metrics"
	"github.com/colebrumley/cortex/internal/orchestrator"
)

// CycleRunner runs one monitoring cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (orchestrator.Report, error)
}

// Retention purges old rows.
type Retention interface {
	CleanupEvents(ctx context.Context, retentionDays int, now time.Time) (int64, error)
	CleanupHistory(ctx context.Context, retentionDays int, now time.Time) (int64, error)
	TrimEvents(ctx context.Context, keep int) (int64, error)
}

// RetentionPolicy controls the purge job.
type RetentionPolicy struct {
	Schedule  string
	Days      int
	MaxEvents int
}

// Scheduler fires cycle requests and housekeeping jobs on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu  sync.Mutex
	ctx context.Context
	ids map[string]cron.EntryID
}

func New(logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		// Use cron with seconds field support
		cron:    cron.New(cron.WithSeconds(), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		logger:  logger,
		metrics: m,
		ctx:     context.Background(),
		ids:     make(map[string]cron.EntryID),
	}
}

// ScheduleCycles requests a cycle every interval. Requests that land while a
// cycle is in flight are refused by the runner and only logged here.
func (s *Scheduler) ScheduleCycles(interval time.Duration, runner CycleRunner) error {
	if interval <= 0 {
		return fmt.Errorf("cycle interval must be positive, got %s", interval)
	}
	return s.replace("cycle", "@every "+interval.String(), func() {
		_, err := runner.RunCycle(s.context())
		if errors.Is(err, orchestrator.ErrBusy) {
			s.logger.Debug("cycle request dropped, previous cycle still running")
		}
	})
}

// ScheduleRetention runs the purge job on p.Schedule.
func (s *Scheduler) ScheduleRetention(p RetentionPolicy, store Retention) error {
	if p.Days <= 0 && p.MaxEvents <= 0 {
		return nil
	}
	return s.replace("retention", Spec(p.Schedule), func() {
		s.Purge(s.context(), p, store)
	})
}

// Purge runs the retention policy once.
func (s *Scheduler) Purge(ctx context.Context, p RetentionPolicy, store Retention) {
	now := time.Now()
	if p.Days > 0 {
		n, err := store.CleanupEvents(ctx, p.Days, now)
		if err != nil {
			s.logger.Error("event retention failed", "error", err)
		}
		s.metrics.Purged("events", n)

		n, err = store.CleanupHistory(ctx, p.Days, now)
		if err != nil {
			s.logger.Error("history retention failed", "error", err)
		}
		s.metrics.Purged("action_history", n)
	}
	if p.MaxEvents > 0 {
		n, err := store.TrimEvents(ctx, p.MaxEvents)
		if err != nil {
			s.logger.Error("event trim failed", "error", err)
		}
		s.metrics.Purged("events", n)
	}
	s.logger.Info("retention pass complete", "retention_days", p.Days, "max_events", p.MaxEvents)
}

func (s *Scheduler) replace(name, spec string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.ids[name]; ok {
		s.cron.Remove(id)
		delete(s.ids, name)
	}
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("scheduling %s job %q: %w", name, spec, err)
	}
	s.ids[name] = id
	return nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Next reports when the named job fires next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.ids[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start runs the jobs until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	<-ctx.Done()
	return ctx.Err()
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Spec converts a schedule to a cron expression. It accepts a cron
// expression with seconds, "HH:MM" for a daily run, or a duration like
// "6h" for a fixed interval.
func Spec(schedule string) string {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return "0 0 3 * * *"
	}
	if strings.HasPrefix(schedule, "@") || strings.Contains(schedule, " ") {
		return schedule
	}
	if len(schedule) == 5 && schedule[2] == ':' {
		return "0 " + schedule[3:5] + " " + schedule[0:2] + " * * *"
	}
	if d, err := time.ParseDuration(schedule); err == nil && d > 0 {
		return "@every " + d.String()
	}
	return schedule
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
