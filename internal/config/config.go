// Package config defines the configuration structure for the reminder
// service. Configuration is loaded once at process start (worker boot or
// Lambda cold start) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Struct tag defaults (Lowest)
//
// A missing required value or an invalid format aborts startup.
package config

import (
	"log/slog"
	"strings"
	"time"

	"leadflow/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do
// not need to import types for secret fields.
type SecretString = types.SecretString

// Claim modes accepted by REMINDER_CLAIM_MODE.
const (
	ClaimModeAuto    = "auto"
	ClaimModeEnabled = "enabled"
	ClaimModeLegacy  = "legacy"
)

// Digest ledger backends accepted by DIGEST_LEDGER.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// Config is the top-level configuration struct. Components receive only
// the sub-struct they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"leadflow-reminders"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Reminder      ReminderConfig
	Digest        DigestConfig
	Email         EmailConfig
	AWS           AWSConfig
	Redis         RedisConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds the worker's HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	// CronSecret guards the run-now endpoint. Empty disables the endpoint.
	CronSecret SecretString `envconfig:"CRON_SECRET"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// ReminderConfig tunes the per-task reminder pipeline.
type ReminderConfig struct {
	DefaultTimezone    string        `envconfig:"DEFAULT_TIMEZONE" default:"Africa/Harare" validate:"required"`
	HorizonDays        int           `envconfig:"REMINDER_HORIZON_DAYS" default:"2" validate:"min=0,max=31"`
	ClaimTTL           time.Duration `envconfig:"REMINDER_CLAIM_TTL" default:"15m" validate:"min=1m"`
	ClaimMode          string        `envconfig:"REMINDER_CLAIM_MODE" default:"auto" validate:"oneof=auto enabled legacy"`
	DefaultLeadMinutes int           `envconfig:"REMINDER_DEFAULT_LEAD_MINUTES" default:"15" validate:"min=0,max=1440"`
	Concurrency        int           `envconfig:"REMINDER_CONCURRENCY" default:"4" validate:"min=1,max=64"`
	// Schedule is a robfig/cron spec for the long-running worker.
	Schedule string `envconfig:"REMINDER_SCHEDULE" default:"@every 1m" validate:"required"`
}

// DigestConfig controls the once-daily digest window and dedup backend.
type DigestConfig struct {
	Hour          int    `envconfig:"DIGEST_HOUR" default:"8" validate:"min=0,max=23"`
	WindowMinutes int    `envconfig:"DIGEST_WINDOW_MINUTES" default:"5" validate:"min=0,max=59"`
	Ledger        string `envconfig:"DIGEST_LEDGER" default:"memory" validate:"oneof=memory postgres redis"`
}

// EmailConfig holds email delivery provider credentials and pacing.
type EmailConfig struct {
	Provider       string        `envconfig:"EMAIL_PROVIDER" default:"sendgrid" validate:"oneof=sendgrid stub"`
	SendGridAPIKey SecretString  `envconfig:"SENDGRID_API_KEY" validate:"required_if=Provider sendgrid"`
	SendGridURL    string        `envconfig:"SENDGRID_BASE_URL" validate:"omitempty,url"`
	FromAddress    string        `envconfig:"EMAIL_FROM_ADDRESS" default:"reminders@leadflow.app" validate:"required,email"`
	FromName       string        `envconfig:"EMAIL_FROM_NAME" default:"Leadflow Reminders"`
	SendTimeout    time.Duration `envconfig:"EMAIL_SEND_TIMEOUT" default:"20s" validate:"min=1s"`
	RatePerSecond  float64       `envconfig:"EMAIL_RATE_PER_SECOND" default:"10" validate:"gt=0"`
	Burst          int           `envconfig:"EMAIL_BURST" default:"5" validate:"min=1"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// TriggerQueueURL receives run-now requests. Optional.
	TriggerQueueURL string `envconfig:"REMINDER_TRIGGER_QUEUE_URL" validate:"omitempty,url"`
	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// RedisConfig is only consulted when DIGEST_LEDGER=redis.
type RedisConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0"`
}

// ObservabilityConfig selects the metrics backend.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Leadflow/Reminders"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// SlogLevel converts LogLevel into a slog.Level. Unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrDotenv indicates an explicitly requested .env file could not be read.
	ErrDotenv ConfigErrorType = "DOTENV_FAILED"
)
