package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "agentlease-backend/internal/api/http"
	"agentlease-backend/internal/bootstrap"
	"agentlease-backend/internal/config"
	"agentlease-backend/internal/jobs"
	"agentlease-backend/internal/logger"
	"agentlease-backend/internal/scheduler"
	"agentlease-backend/internal/security"
	"agentlease-backend/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting AgentLease Backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress())
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
	sched := scheduler.NewScheduler(jobRunner)
	sched.Start()
	defer sched.Stop()

	tokenManager := security.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	handler := api.NewHandler(lifecycle, tokenManager)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("Shutdown complete")
}
