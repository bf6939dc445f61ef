package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"agentlease-backend/internal/bootstrap"
	"agentlease-backend/internal/config"
	"agentlease-backend/internal/jobs"
	"agentlease-backend/internal/logger"
	"agentlease-backend/internal/scheduler"
	"agentlease-backend/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific sweep once and exit (e.g., 'warn-timed-out', 'report-dead-escrows', 'all')")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting AgentLease Sweeper...", "log_level", cfg.Log.Level)
	logger.Info("Store configuration", "snapshot_path", cfg.Store.SnapshotPath)

	rentalStore, err := store.Open(cfg.Store.SnapshotPath)
	if err != nil {
		log.Fatalf("Failed to open rental store: %v", err)
	}

	lifecycle, db := bootstrap.Lifecycle(cfg, rentalStore)
	if db != nil {
		defer db.Close()
	}

	notifier := bootstrap.Notifier(cfg)
	jobRunner := jobs.NewJobRunner(lifecycle, notifier, cfg)

	if *runOnce != "" {
		logger.Info("Running sweep once", "job", *runOnce)
		runJobOnce(jobRunner, *runOnce)
		logger.Info("Sweep execution completed", "job", *runOnce)
		return
	}

	sched := scheduler.NewScheduler(jobRunner)
	sched.Start()
	logger.Info("Sweeper scheduler is running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down sweeper scheduler...")
	sched.Stop()
	logger.Info("Sweeper scheduler stopped. Goodbye!")
}

// runJobOnce runs a specific sweep once and exits
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) {
	switch jobName {
	case "warn-timed-out":
		jobRunner.WarnTimedOutRentals()
	case "report-dead-escrows":
		jobRunner.ReportDeadEscrows()
	case "all":
		jobRunner.RunAllSweeps()
	default:
		logger.Error("Unknown job name", "job", jobName)
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - warn-timed-out\n")
		fmt.Printf("  - report-dead-escrows\n")
		fmt.Printf("  - all\n")
		os.Exit(1)
	}
}
