package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError represents a configuration loading failure with context about
// what went wrong, so that operators can fix the environment quickly.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error [%s]: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("config error [%s]: %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// MustLoad loads the configuration and exits the process on any failure.
// Intended for use in main(); once MustLoad returns, the configuration is
// complete and valid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

// Load resolves the full application configuration from the environment.
//
// Order of operations:
//  1. Force the process timezone to UTC. All billing anchors and batch
//     reference times are computed in UTC; a stray TZ would shift them.
//  2. Load .env if present (local development convenience, never required).
//  3. Populate the Config struct from environment variables.
//  4. Validate the populated struct.
func Load() (*Config, error) {
	time.Local = time.UTC

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not read .env file", "error", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment variables",
			Err:     err,
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("field %q failed rule %q", first.Namespace(), first.Tag()),
				Err:     err,
			}
		}
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}
