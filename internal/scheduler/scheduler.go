// Package scheduler runs the bot's periodic jobs: funding refresh,
// reconciliation, auto-close, opportunity trading, and archival. Each job is
// guarded by a per-job no-overlap flag; a tick that fires while the previous
// run is still executing is skipped and logged, never queued. Jobs are
// isolated: a panic or error in one run is converted to a JobResult and
// never crashes the process.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perparb/fundarb/internal/domain"
)

// JobFunc is one job cycle. The returned data is included in the JobResult
// for operational tooling.
type JobFunc func(ctx context.Context) (data any, err error)

// JobResult is the outcome of a single job run.
type JobResult struct {
	Job             string `json:"job"`
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	Data            any    `json:"data,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
}

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc

	running atomic.Bool
}

// Scheduler owns a set of jobs and their loops.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	order  []string
	locks  domain.LockManager // optional, for multi-instance deployments
	logger *slog.Logger
}

// New creates an empty Scheduler. locks may be nil, in which case jobs are
// only guarded against overlap within this process.
func New(locks domain.LockManager, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*Job),
		locks:  locks,
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// Register adds a job. Registering a duplicate name is a programming error.
func (s *Scheduler) Register(name string, interval time.Duration, run JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}
	s.jobs[name] = &Job{Name: name, Interval: interval, Run: run}
	s.order = append(s.order, name)
	return nil
}

// Names returns the registered job names in registration order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Run starts every job loop and blocks until ctx is cancelled. Each job runs
// once immediately, then on its interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, name := range s.order {
		jobs = append(jobs, s.jobs[name])
	}
	s.mu.Unlock()

	s.logger.Info("scheduler starting", slog.Int("jobs", len(jobs)))

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	s.execute(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, job)
		}
	}
}

// execute runs one guarded cycle. Overlapping ticks are skipped.
func (s *Scheduler) execute(ctx context.Context, job *Job) JobResult {
	if !job.running.CompareAndSwap(false, true) {
		s.logger.Warn("tick skipped, previous run still executing",
			slog.String("job", job.Name))
		return JobResult{Job: job.Name, Success: false, Message: "skipped: previous run still executing"}
	}
	defer job.running.Store(false)

	if s.locks != nil {
		release, err := s.locks.Acquire(ctx, "job:"+job.Name, job.Interval)
		if err != nil {
			if err == context.Canceled || ctx.Err() != nil {
				return JobResult{Job: job.Name, Success: false, Message: "shutting down"}
			}
			s.logger.Debug("job lock held elsewhere", slog.String("job", job.Name))
			return JobResult{Job: job.Name, Success: false, Message: "skipped: lock held by another instance"}
		}
		defer release()
	}

	result := s.runProtected(ctx, job)
	if result.Success {
		s.logger.Info("job finished",
			slog.String("job", job.Name),
			slog.Int64("duration_ms", result.ExecutionTimeMs))
	} else {
		s.logger.Error("job failed",
			slog.String("job", job.Name),
			slog.String("error", result.Error),
			slog.Int64("duration_ms", result.ExecutionTimeMs))
	}
	return result
}

// runProtected converts panics and errors into a JobResult. No job outcome
// may crash the scheduler.
func (s *Scheduler) runProtected(ctx context.Context, job *Job) (result JobResult) {
	start := time.Now()
	result.Job = job.Name
	defer func() {
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
			result.Message = "job panicked"
			s.logger.Error("job panicked",
				slog.String("job", job.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	data, err := job.Run(ctx)
	result.Data = data
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		result.Message = "job failed"
		return result
	}
	result.Success = true
	result.Message = "ok"
	return result
}

// RunOnce triggers one job synchronously by name, for operational tooling.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (JobResult, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		names := s.Names()
		sort.Strings(names)
		return JobResult{}, fmt.Errorf("scheduler: unknown job %q (have %v): %w", name, names, domain.ErrNotFound)
	}
	return s.execute(ctx, job), nil
}
