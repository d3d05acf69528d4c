package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
)

// Purger drops expired entries from a cache.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// StaleJobStore finds and fails jobs that stopped making progress.
type StaleJobStore interface {
	ListStaleJobs(ctx context.Context, startedBefore time.Time) ([]domain.Job, error)
	FailJob(ctx context.Context, id string, kind domain.FailureKind, message string) error
}

// CachePurge returns an action that purges every cache in purgers.
func CachePurge(logger *slog.Logger, purgers ...Purger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		total := 0
		for _, p := range purgers {
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			total += n
		}
		if total > 0 {
			logger.Info("expired search cache entries purged", "count", total)
		}
		return errors.Join(errs...)
	}
}

// StaleJobReap returns an action that fails running jobs started more than
// maxAge ago. Such jobs were orphaned by a crash or restart.
func StaleJobReap(store StaleJobStore, maxAge time.Duration, now func() time.Time, logger *slog.Logger) func(ctx context.Context) error {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		jobs, err := store.ListStaleJobs(ctx, now().Add(-maxAge))
		if err != nil {
			return err
		}
		var errs []error
		for _, j := range jobs {
			msg := fmt.Sprintf("job abandoned: still running after %s", maxAge)
			if err := store.FailJob(ctx, j.ID, domain.FailureError, msg); err != nil {
				errs = append(errs, fmt.Errorf("reap job %s: %w", j.ID, err))
				continue
			}
			logger.Warn("stale job reaped", "job_id", j.ID, "round_table_id", j.RoundTableID)
		}
		return errors.Join(errs...)
	}
}

// Housekeeping schedules the cache purge and stale job reap tasks from cfg.
// Nothing is scheduled when the scheduler is disabled.
func Housekeeping(s *Scheduler, cfg config.SchedulerConfig, jobs StaleJobStore, logger *slog.Logger, purgers ...Purger) error {
	if !cfg.Enabled {
		return nil
	}

	var tasks []Task
	if cfg.CachePurge != "" && len(purgers) > 0 {
		tasks = append(tasks, Task{Name: "cache_purge", Schedule: cfg.CachePurge, Run: CachePurge(logger, purgers...)})
	}
	if cfg.StaleJobReap != "" && cfg.StaleJobAfter > 0 {
		tasks = append(tasks, Task{Name: "stale_job_reap", Schedule: cfg.StaleJobReap, Run: StaleJobReap(jobs, cfg.StaleJobAfter, nil, logger)})
	}
	for _, t := range tasks {
		if err := s.Add(t); err != nil {
			return err
		}
	}
	return nil
}
