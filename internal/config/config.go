package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Audit      AuditConfig      `yaml:"audit"`
	Registry   RegistryConfig   `yaml:"registry"`
	Escrow     EscrowConfig     `yaml:"escrow"`
	Settlement SettlementConfig `yaml:"settlement"`
	Notify     NotifyConfig     `yaml:"notify"`
	JWT        JWTConfig        `yaml:"jwt"`
	Log        LogConfig        `yaml:"log"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig locates the rental snapshot file. The snapshot holds escrow
// secrets for active rentals; operators must treat it as a credential store.
type StoreConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
}

// LedgerConfig contains ledger gateway settings. Mode "memory" runs the
// in-process simulator for dev and tests.
type LedgerConfig struct {
	Mode            string `yaml:"mode"` // "http" or "memory"
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	NetworkAccount  string `yaml:"network_account"`
	TreasuryAccount string `yaml:"treasury_account"`
}

// OracleConfig contains rate oracle settings. A non-zero FixedRate bypasses
// all fetching (dev and test mode).
type OracleConfig struct {
	PrimaryURL   string  `yaml:"primary_url"`
	SecondaryURL string  `yaml:"secondary_url"`
	MinRate      float64 `yaml:"min_rate"`
	MaxRate      float64 `yaml:"max_rate"`
	FixedRate    float64 `yaml:"fixed_rate"`
}

// AuditConfig contains audit log settings. Mode "memory" keeps events
// in-process for dev and tests.
type AuditConfig struct {
	Mode     string `yaml:"mode"` // "postgres" or "memory"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// RegistryConfig contains agent registry settings.
type RegistryConfig struct {
	BaseURL         string `yaml:"base_url"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes"`
}

// EscrowConfig tunes the timeout windows, in minutes. Zero values fall back
// to the standard windows.
type EscrowConfig struct {
	FlashGraceMinutes       int `yaml:"flash_grace_minutes"`
	SessionGraceMinutes     int `yaml:"session_grace_minutes"`
	TermGraceMinutes        int `yaml:"term_grace_minutes"`
	SettlementWindowMinutes int `yaml:"settlement_window_minutes"`
	DeadEscrowWindowMinutes int `yaml:"dead_escrow_window_minutes"`
}

// SettlementConfig tunes charges and budget thresholds.
type SettlementConfig struct {
	TerminationBaseFee float64 `yaml:"termination_base_fee"`
	TimeoutFee         float64 `yaml:"timeout_fee"`
	MaxAmountStable    float64 `yaml:"max_amount_stable"`
	WarningThreshold   float64 `yaml:"warning_threshold"`
	CriticalThreshold  float64 `yaml:"critical_threshold"`
}

// NotifyConfig contains SendGrid alerting settings.
type NotifyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	FromEmail string `yaml:"from_email"`
	OpsEmail  string `yaml:"ops_email"`
}

// JWTConfig contains API token settings
type JWTConfig struct {
	Secret            string `yaml:"secret"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	WarnTimedOutRentals string `yaml:"warn_timed_out_rentals"`
	ReportDeadEscrows   string `yaml:"report_dead_escrows"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	if val := os.Getenv("STORE_SNAPSHOT_PATH"); val != "" {
		c.Store.SnapshotPath = val
	}

	if val := os.Getenv("LEDGER_BASE_URL"); val != "" {
		c.Ledger.BaseURL = val
	}
	if val := os.Getenv("LEDGER_API_KEY"); val != "" {
		c.Ledger.APIKey = val
	}

	if val := os.Getenv("ORACLE_PRIMARY_URL"); val != "" {
		c.Oracle.PrimaryURL = val
	}
	if val := os.Getenv("ORACLE_SECONDARY_URL"); val != "" {
		c.Oracle.SecondaryURL = val
	}

	if val := os.Getenv("AUDIT_DB_HOST"); val != "" {
		c.Audit.Host = val
	}
	if val := os.Getenv("AUDIT_DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Audit.Port)
	}
	if val := os.Getenv("AUDIT_DB_USER"); val != "" {
		c.Audit.User = val
	}
	if val := os.Getenv("AUDIT_DB_PASSWORD"); val != "" {
		c.Audit.Password = val
	}
	if val := os.Getenv("AUDIT_DB_NAME"); val != "" {
		c.Audit.Database = val
	}

	if val := os.Getenv("REGISTRY_BASE_URL"); val != "" {
		c.Registry.BaseURL = val
	}

	if val := os.Getenv("SENDGRID_API_KEY"); val != "" {
		c.Notify.APIKey = val
	}

	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	// Set defaults for log if not configured
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Store.SnapshotPath == "" {
		return fmt.Errorf("store snapshot path is required")
	}

	switch c.Ledger.Mode {
	case "", "http":
		c.Ledger.Mode = "http"
		if c.Ledger.BaseURL == "" {
			return fmt.Errorf("ledger base URL is required in http mode")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown ledger mode %q", c.Ledger.Mode)
	}
	if c.Ledger.NetworkAccount == "" {
		return fmt.Errorf("ledger network account is required")
	}
	if c.Ledger.TreasuryAccount == "" {
		return fmt.Errorf("ledger treasury account is required")
	}

	if c.Oracle.FixedRate == 0 && c.Oracle.PrimaryURL == "" {
		return fmt.Errorf("oracle needs a primary URL or a fixed rate")
	}

	switch c.Audit.Mode {
	case "", "postgres":
		c.Audit.Mode = "postgres"
		if c.Audit.Host == "" {
			return fmt.Errorf("audit database host is required in postgres mode")
		}
		if c.Audit.User == "" {
			return fmt.Errorf("audit database user is required in postgres mode")
		}
		if c.Audit.Database == "" {
			return fmt.Errorf("audit database name is required in postgres mode")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown audit mode %q", c.Audit.Mode)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.AccessTokenExpiry == 0 {
		c.JWT.AccessTokenExpiry = 60
	}

	if c.Notify.Enabled {
		if c.Notify.APIKey == "" || c.Notify.FromEmail == "" || c.Notify.OpsEmail == "" {
			return fmt.Errorf("notify requires api_key, from_email, and ops_email when enabled")
		}
	}

	// Scheduler defaults (cron with seconds precision)
	if c.Scheduler.WarnTimedOutRentals == "" {
		c.Scheduler.WarnTimedOutRentals = "0 */10 * * * *" // every 10 minutes
	}
	if c.Scheduler.ReportDeadEscrows == "" {
		c.Scheduler.ReportDeadEscrows = "0 0 6 * * *" // 6 AM UTC
	}

	return nil
}

// GetAuditConnectionString returns a PostgreSQL connection string
func (c *Config) GetAuditConnectionString() string {
	sslMode := c.Audit.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Audit.User,
		c.Audit.Password,
		c.Audit.Host,
		c.Audit.Port,
		c.Audit.Database,
		sslMode,
	)
}

// GetServerAddress returns the HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
