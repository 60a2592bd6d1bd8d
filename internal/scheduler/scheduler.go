// Package scheduler triggers periodic queue drains on interval or cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job defines one drain schedule.
type Job struct {
	ID         string
	Name       string
	Kind       string // "interval" or "cron"
	IntervalMs int64
	Expr       string // cron expression for Kind "cron"
	Enabled    bool
}

// Validate checks the job definition.
func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID required")
	}
	switch j.Kind {
	case "interval":
		if j.IntervalMs <= 0 {
			return fmt.Errorf("job %s: intervalMs must be positive", j.ID)
		}
	case "cron":
		if j.Expr == "" {
			return fmt.Errorf("job %s: cron expression required", j.ID)
		}
		if _, err := cron.ParseStandard(j.Expr); err != nil {
			return fmt.Errorf("job %s: invalid cron expression: %w", j.ID, err)
		}
	default:
		return fmt.Errorf("job %s: unknown schedule kind %q", j.ID, j.Kind)
	}
	return nil
}

// Trigger is the action every job fires, normally one queue processing pass.
type Trigger func(ctx context.Context) error

// Scheduler runs all enabled jobs until stopped.
type Scheduler struct {
	jobs    []Job
	trigger Trigger
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler firing trigger per job schedule.
func New(jobs []Job, trigger Trigger, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:    jobs,
		trigger: trigger,
		logger:  logger.With("component", "scheduler"),
		stopCh:  make(chan struct{}),
	}
}

// Start validates every job and launches a runner per enabled job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	for _, job := range s.jobs {
		if err := job.Validate(); err != nil {
			return fmt.Errorf("invalid job: %w", err)
		}
	}

	s.running = true
	active := 0
	for _, job := range s.jobs {
		if !job.Enabled {
			s.logger.Debug("skipping disabled job", "job", job.ID)
			continue
		}
		s.wg.Add(1)
		go s.runJob(ctx, job)
		active++
	}

	s.logger.Info("scheduler started", "active_jobs", active)
	return nil
}

// Stop halts all runners and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer s.wg.Done()

	logger := s.logger.With("job", job.ID)
	logger.Info("job runner started", "kind", job.Kind)

	for {
		wait, err := job.untilNext(time.Now())
		if err != nil {
			logger.Error("cannot compute next run", "error", err)
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		start := time.Now()
		if err := s.trigger(ctx); err != nil {
			logger.Warn("job run failed", "error", err, "duration", time.Since(start))
			continue
		}
		logger.Debug("job run finished", "duration", time.Since(start))
	}
}

// untilNext returns how long to wait before the next run after now.
func (j Job) untilNext(now time.Time) (time.Duration, error) {
	switch j.Kind {
	case "interval":
		return time.Duration(j.IntervalMs) * time.Millisecond, nil
	case "cron":
		sched, err := cron.ParseStandard(j.Expr)
		if err != nil {
			return 0, err
		}
		return sched.Next(now).Sub(now), nil
	}
	return 0, fmt.Errorf("unknown schedule kind %q", j.Kind)
}
