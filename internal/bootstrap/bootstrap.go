// Package bootstrap wires the lifecycle manager and its collaborators from
// configuration. Shared by the server and sweeper entrypoints.
package bootstrap

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"

	"agentlease-backend/internal/audit"
	"agentlease-backend/internal/config"
	"agentlease-backend/internal/ledger"
	"agentlease-backend/internal/logger"
	"agentlease-backend/internal/notify"
	"agentlease-backend/internal/oracle"
	"agentlease-backend/internal/policy"
	"agentlease-backend/internal/resolver"
	"agentlease-backend/internal/service"
	"agentlease-backend/internal/store"
)

// Lifecycle builds the lifecycle manager from config. The returned db
// handle is non-nil when the postgres audit log is in use; the caller owns
// closing it.
func Lifecycle(cfg *config.Config, rentalStore *store.RentalStore) (service.RentalLifecycleService, *sql.DB) {
	var ledgerClient ledger.Client
	switch cfg.Ledger.Mode {
	case "memory":
		logger.Warn("Using in-memory ledger; funds are simulated")
		ledgerClient = ledger.NewMemLedger()
	default:
		ledgerClient = ledger.NewHTTPClient(cfg.Ledger.BaseURL, cfg.Ledger.APIKey)
	}

	var oracleOpts []oracle.Option
	if cfg.Oracle.FixedRate > 0 {
		logger.Warn("Using fixed conversion rate", "rate", cfg.Oracle.FixedRate)
		oracleOpts = append(oracleOpts, oracle.WithFixedRate(cfg.Oracle.FixedRate))
	}
	rates := oracle.NewService(oracle.Config{
		PrimaryURL:   cfg.Oracle.PrimaryURL,
		SecondaryURL: cfg.Oracle.SecondaryURL,
		MinRate:      cfg.Oracle.MinRate,
		MaxRate:      cfg.Oracle.MaxRate,
	}, oracleOpts...)

	var (
		auditLog audit.Log
		db       *sql.DB
	)
	switch cfg.Audit.Mode {
	case "memory":
		logger.Warn("Using in-memory audit log; events will not survive restarts")
		auditLog = audit.NewMemLog()
	default:
		var err error
		db, err = sql.Open("postgres", cfg.GetAuditConnectionString())
		if err != nil {
			log.Fatalf("Failed to connect to audit database: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("Failed to ping audit database: %v", err)
		}
		logger.Info("Audit database connection established")
		auditLog = audit.NewPostgresLog(db)
	}

	var agents resolver.Resolver
	if cfg.Registry.BaseURL != "" {
		agents = resolver.NewCached(
			resolver.NewHTTPResolver(cfg.Registry.BaseURL),
			time.Duration(cfg.Registry.CacheTTLMinutes)*time.Minute,
		)
	} else {
		logger.Warn("No agent registry configured; all lookups will fail")
		agents = resolver.Static{}
	}

	timeouts := policy.Default()
	if v := cfg.Escrow.FlashGraceMinutes; v > 0 {
		timeouts.FlashGrace = time.Duration(v) * time.Minute
	}
	if v := cfg.Escrow.SessionGraceMinutes; v > 0 {
		timeouts.SessionGrace = time.Duration(v) * time.Minute
	}
	if v := cfg.Escrow.TermGraceMinutes; v > 0 {
		timeouts.TermGrace = time.Duration(v) * time.Minute
	}
	if v := cfg.Escrow.SettlementWindowMinutes; v > 0 {
		timeouts.SettlementWindow = time.Duration(v) * time.Minute
	}
	if v := cfg.Escrow.DeadEscrowWindowMinutes; v > 0 {
		timeouts.DeadEscrowWindow = time.Duration(v) * time.Minute
	}

	lifecycle := service.NewLifecycleManager(
		service.Config{
			NetworkAccount:     cfg.Ledger.NetworkAccount,
			TreasuryAccount:    cfg.Ledger.TreasuryAccount,
			TerminationBaseFee: cfg.Settlement.TerminationBaseFee,
			TimeoutFee:         cfg.Settlement.TimeoutFee,
			MaxAmountStable:    cfg.Settlement.MaxAmountStable,
			WarningThreshold:   cfg.Settlement.WarningThreshold,
			CriticalThreshold:  cfg.Settlement.CriticalThreshold,
		},
		rentalStore,
		ledgerClient,
		auditLog,
		rates,
		agents,
		timeouts,
	)
	return lifecycle, db
}

// Notifier builds the alert notifier from config.
func Notifier(cfg *config.Config) notify.Notifier {
	if !cfg.Notify.Enabled {
		return notify.Noop{}
	}
	logger.Info("SendGrid alerting enabled", "ops_email", cfg.Notify.OpsEmail)
	return notify.NewEmailNotifier(cfg.Notify.APIKey, cfg.Notify.FromEmail, cfg.Notify.OpsEmail)
}
