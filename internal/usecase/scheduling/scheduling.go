// Package scheduling runs housekeeping tasks on cron schedules.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const taskTimeout = 5 * time.Minute

// Task is a named piece of housekeeping run on Schedule, which is either a
// cron expression ("*/5 * * * *", "@hourly") or a Go duration ("30m").
type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler fires tasks while it is started. A task still running when its
// next tick arrives skips that tick.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context // nil while stopped
	cancel context.CancelFunc
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
	}
}

// Add schedules t. It may be called before or after Start.
func (s *Scheduler) Add(t Task) error {
	sched, err := parseSchedule(t.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: task %q: %w", t.Name, err)
	}
	s.cron.Schedule(sched, cron.FuncJob(func() { s.run(t) }))
	s.logger.Info("housekeeping task scheduled", "task", t.Name, "schedule", t.Schedule)
	return nil
}

func (s *Scheduler) run(t Task) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, taskTimeout)
	defer cancel()

	start := time.Now()
	if err := t.Run(ctx); err != nil {
		s.logger.Warn("housekeeping task failed", "task", t.Name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("housekeeping task finished", "task", t.Name, "duration", time.Since(start))
}

// Start begins firing tasks. Tasks see a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

func parseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if sched, err := cron.ParseStandard(spec); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("%q is neither a cron expression nor a duration", spec)
	}
	if d <= 0 {
		return nil, fmt.Errorf("interval %q must be positive", spec)
	}
	return interval(d), nil
}

// interval fires every d. cron.Every rounds to whole seconds, which is too
// coarse for short test intervals.
type interval time.Duration

func (d interval) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }
