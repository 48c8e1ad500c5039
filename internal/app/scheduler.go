/**
 * @description
 * Cron scheduler setup for the reconciliation jobs. Overlap between firings
 * (a slow run still going when the next starts) is tolerated, not prevented:
 * every mutation the jobs perform is idempotent.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/emergitag/payment-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.PaymentCatchupSchedule, s.jobs.CheckPayments); err != nil {
		s.logger.Error("failed to schedule payment catch-up job", "error", err)
	} else {
		s.logger.Info("scheduled payment catch-up job", "schedule", s.config.PaymentCatchupSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.DailySyncSchedule, s.jobs.RunDailySync); err != nil {
		s.logger.Error("failed to schedule daily full sync job", "error", err)
	} else {
		s.logger.Info("scheduled daily full sync job", "schedule", s.config.DailySyncSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
