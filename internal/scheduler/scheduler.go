// Package scheduler wraps robfig/cron for the engine's background jobs.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is a named unit of scheduled work.
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages cron-driven background jobs.
type Scheduler struct {
	cron *cron.Cron
}

// New creates a scheduler using six-field cron specs (with seconds).
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler stopped")
}

// AddJob registers a job with a cron schedule.
// Schedule examples:
//   - "0 0 1 * * MON-FRI" - 01:00 on weekdays
//   - "@every 24h"        - every 24 hours
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		slog.Info("running scheduled job", "job", job.Name())
		if err := job.Run(); err != nil {
			slog.Error("scheduled job failed", "job", job.Name(), "err", err)
			return
		}
		slog.Info("scheduled job completed", "job", job.Name())
	})
	if err != nil {
		return err
	}

	slog.Info("job registered", "job", job.Name(), "schedule", schedule)
	return nil
}
