// Package config defines the global configuration structure for contracthub.
// Configuration is loaded once at process initialization and is immutable
// thereafter. It follows 12-Factor principles by strictly separating code
// from configuration: components depend on the resolved Config (or the
// subset they need), never on ambient global state.
//
// Any missing required value or invalid format causes the application to
// fail immediately on startup (fail fast).
package config

import (
	"time"

	"contracthub/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"contracthub"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
	Auth     AuthConfig
	AWS      AWSConfig
	Batch    BatchConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URLs for checkout redirects (no trailing slash)
	SiteURL            string   `envconfig:"SITE_URL" validate:"required,url"`
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// BillingConfig holds Stripe payment integration credentials.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}

// AuthConfig holds credential and session settings for the identity verifier.
type AuthConfig struct {
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"720h"`
}

// AWSConfig holds AWS resource identifiers for the operator-alert queue and
// metrics. AlertQueueURL may be empty; alerts then degrade to log-only.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"ap-east-1"`
	AlertQueueURL   string `envconfig:"SQS_OPERATOR_ALERTS"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"ContractHub"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BatchConfig tunes the scheduled maintenance jobs.
type BatchConfig struct {
	// EventRetention is how long processed billing events are kept online
	// before the archive task compresses and removes them.
	EventRetention time.Duration `envconfig:"EVENT_RETENTION" default:"2160h"`
	// ArchiveBucket is the S3 bucket archives are uploaded to. Empty means
	// archives land in ArchiveDir on the local filesystem instead.
	ArchiveBucket string `envconfig:"ARCHIVE_BUCKET"`
	// ArchiveDir is where gzip archives land when no bucket is configured.
	ArchiveDir string `envconfig:"ARCHIVE_DIR" default:"/tmp/contracthub-archive"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
