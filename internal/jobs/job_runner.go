package jobs

import (
	"agentlease-backend/internal/config"
	"agentlease-backend/internal/logger"
	"agentlease-backend/internal/notify"
	"agentlease-backend/internal/service"
)

// JobRunner coordinates the periodic sweep jobs. Sweeps only read the
// active set and raise alerts; settlement itself stays caller-driven.
type JobRunner struct {
	lifecycle service.RentalLifecycleService
	notifier  notify.Notifier
	config    *config.Config
}

// NewJobRunner creates a job runner with all dependencies
func NewJobRunner(lifecycle service.RentalLifecycleService, notifier notify.Notifier, cfg *config.Config) *JobRunner {
	return &JobRunner{
		lifecycle: lifecycle,
		notifier:  notifier,
		config:    cfg,
	}
}

// Config exposes the scheduler settings to the cron wiring.
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	logger.Info("Starting job", "job", jobName)
	jobFunc()
	logger.Info("Job completed", "job", jobName)
}

// RunAllSweeps runs every sweep once (for manual execution)
func (jr *JobRunner) RunAllSweeps() {
	jr.WarnTimedOutRentals()
	jr.ReportDeadEscrows()
}
