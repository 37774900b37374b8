// Package scheduler runs TaskPipe's periodic maintenance jobs.
//
// Jobs are registered with standard 5-field cron expressions or descriptors such as "@every 30m".
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates a scheduler. Jobs run after Start.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	return &Scheduler{cron: c}
}

// AddJob schedules task under expr. name is only used in logs.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr, name string, task func()) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(expr, func() {
		slog.Debug("Scheduler job starting", "job", name)
		task()
	})
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q for %s: %w", expr, name, err)
	}
	slog.Info("Scheduler job registered", "job", name, "schedule", expr, "id", id)
	return id, nil
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler. The returned context is done once running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
