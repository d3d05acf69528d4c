package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
)

const (
	defaultMaxConcurrent = 4
	defaultErrorBuffer   = 32
)

// Runner executes a single job to completion.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// TaskError reports a job that finished with an error.
type TaskError struct {
	JobID string
	Err   error
}

func (e TaskError) Error() string { return fmt.Sprintf("job %s: %v", e.JobID, e.Err) }

func (e TaskError) Unwrap() error { return e.Err }

// Task is a handle on a submitted job.
type Task struct {
	JobID string
	done  chan struct{}
	err   error
}

// Done is closed once the job has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the job's error. It is nil until Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the job finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Worker runs submitted jobs on their own goroutines, at most MaxConcurrent
// at a time. Jobs are not cancelled once started; Shutdown waits for them.
type Worker struct {
	runner Runner
	sem    chan struct{}
	errs   chan TaskError
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewWorker(runner Runner, cfg config.JobsConfig, logger *slog.Logger) *Worker {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	buf := cfg.ErrorBuffer
	if buf <= 0 {
		buf = defaultErrorBuffer
	}
	return &Worker{
		runner: runner,
		sem:    make(chan struct{}, maxConcurrent),
		errs:   make(chan TaskError, buf),
		logger: logger,
	}
}

// Submit schedules jobID and returns its task. It fails with ErrWorkerClosed
// after Shutdown has been called.
func (w *Worker) Submit(jobID string) (*Task, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, domain.NewSubSystemError("job", "Worker.Submit", domain.ErrWorkerClosed, "")
	}

	t := &Task{JobID: jobID, done: make(chan struct{})}
	w.wg.Add(1)
	go w.run(t)
	return t, nil
}

// Errors delivers the errors of failed jobs. Errors are dropped when nobody
// keeps up with the channel.
func (w *Worker) Errors() <-chan TaskError { return w.errs }

func (w *Worker) run(t *Task) {
	defer w.wg.Done()
	defer close(t.done)

	w.sem <- struct{}{}
	defer func() { <-w.sem }()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", "job_id", t.JobID, "panic", r)
			t.err = fmt.Errorf("job panicked: %v", r)
			w.report(t)
		}
	}()

	w.logger.Debug("job dispatched", "job_id", t.JobID)
	if err := w.runner.Run(context.Background(), t.JobID); err != nil {
		t.err = err
		w.report(t)
	}
}

func (w *Worker) report(t *Task) {
	select {
	case w.errs <- TaskError{JobID: t.JobID, Err: t.err}:
	default:
		w.logger.Warn("job error dropped, error channel full", "job_id", t.JobID, "error", t.err)
	}
}

// Shutdown stops accepting jobs and waits for running ones to finish or for
// ctx to be done.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
