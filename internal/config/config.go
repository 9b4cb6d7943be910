// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`

	// Spreadsheet access
	SheetID            string        `env:"WORKER_SHEET_ID"`
	ServiceAccountPath string        `env:"WORKER_SERVICE_ACCOUNT_PATH"`
	SheetsBaseURL      string        `env:"SHEETS_BASE_URL" envDefault:"https://sheets.googleapis.com"`
	WorkerTab          string        `env:"WORKER_TAB" envDefault:"Accounts"`
	ProfileMapTab      string        `env:"PROFILE_MAP_TAB" envDefault:"ProfileMap"`
	ConfigTab          string        `env:"CONFIG_TAB" envDefault:"Config"`
	SheetHTTPTimeout   time.Duration `env:"SHEET_HTTP_TIMEOUT" envDefault:"30s"`

	// Browser automation
	BrowserAPIURL   string        `env:"BROWSER_API_URL" envDefault:"http://127.0.0.1:50325"`
	ExecutorTimeout time.Duration `env:"EXECUTOR_TIMEOUT" envDefault:"10m"`
	WindowMode      string        `env:"WINDOW_MODE" envDefault:"background"`

	// Scheduling defaults; the shared config tab overrides these at runtime
	// and explicit CLI flags override both.
	CheckInterval       time.Duration `env:"CHECK_INTERVAL" envDefault:"60s"`
	ResumeLeadMinutes   int           `env:"RESUME_LEAD_MINUTES" envDefault:"10"`
	PauseLagMinutes     int           `env:"PAUSE_LAG_MINUTES" envDefault:"5"`
	RetryCap            int           `env:"RETRY_CAP" envDefault:"3"`
	PendingRetryMinutes int           `env:"PENDING_RETRY_MINUTES" envDefault:"30"`
	PendingHorizonHours int           `env:"PENDING_HORIZON_HOURS" envDefault:"24"`

	// Locking
	LockLeaseHorizon time.Duration `env:"LOCK_LEASE_HORIZON" envDefault:"5m"`

	// Caches
	SharedConfigTTL time.Duration `env:"SHARED_CONFIG_TTL" envDefault:"3m"`
	ProfileCacheTTL time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"5m"`

	// Notifications
	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`

	// Observability
	DebugMode       bool   `env:"DEBUG_MODE" envDefault:"false"`
	LogDir          string `env:"LOG_DIR"`
	OpsPort         int    `env:"OPS_PORT" envDefault:"9090"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"subfleet-worker"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// ValidateForSheet checks the fields every sheet-backed command needs.
// Missing values here are a fatal startup error, not a runtime one.
func (c Config) ValidateForSheet() error {
	if c.SheetID == "" {
		return fmt.Errorf("op=config.ValidateForSheet: WORKER_SHEET_ID is required")
	}
	if c.ServiceAccountPath == "" {
		return fmt.Errorf("op=config.ValidateForSheet: WORKER_SERVICE_ACCOUNT_PATH is required")
	}
	return nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// Tunables converts the env-configured scheduling defaults into the duration
// form used by the worker. Fields left unset keep the stock defaults, so a
// zero Config still yields a usable set.
func (c Config) Tunables() domain.Tunables {
	t := domain.DefaultTunables()
	if c.ResumeLeadMinutes > 0 {
		t.ResumeLead = time.Duration(c.ResumeLeadMinutes) * time.Minute
	}
	if c.PauseLagMinutes > 0 {
		t.PauseLag = time.Duration(c.PauseLagMinutes) * time.Minute
	}
	if c.CheckInterval > 0 {
		t.CheckInterval = c.CheckInterval
	}
	if c.RetryCap > 0 {
		t.RetryCap = c.RetryCap
	}
	if c.PendingRetryMinutes > 0 {
		t.PendingRetry = time.Duration(c.PendingRetryMinutes) * time.Minute
	}
	if c.PendingHorizonHours > 0 {
		t.PendingHorizon = time.Duration(c.PendingHorizonHours) * time.Hour
	}
	return t
}
