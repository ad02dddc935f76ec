// Package config loads bizflow configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for bizflow.
// Environment variables always override YAML values.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Automation AutomationConfig `yaml:"automation"`
	Audit      AuditConfig      `yaml:"audit"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Notify     NotifyConfig     `yaml:"notify"`

	// Specs is the CUE directory loaded at startup for entity types and
	// rules. Empty means only the built-in types are registered.
	Specs string `yaml:"specs" env:"BIZFLOW_SPECS" env-default:""`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"BIZFLOW_DB_PATH" env-default:"bizflow.db"`
}

// AutomationConfig bounds the rule engine.
type AutomationConfig struct {
	MaxDepth          int           `yaml:"max_depth" env:"BIZFLOW_MAX_DEPTH" env-default:"5"`
	MaxFiringsPerFlow int           `yaml:"max_firings_per_flow" env:"BIZFLOW_MAX_FIRINGS_PER_FLOW" env-default:"100"`
	WebhookTimeout    time.Duration `yaml:"webhook_timeout" env:"BIZFLOW_WEBHOOK_TIMEOUT" env-default:"5s"`
	TaskType          string        `yaml:"task_type" env:"BIZFLOW_TASK_TYPE" env-default:"Task"`
	// ExcludedTypes never trigger automation, in addition to the
	// automation subsystem's own types.
	ExcludedTypes []string `yaml:"excluded_types" env:"BIZFLOW_AUTOMATION_EXCLUDED_TYPES" env-separator:","`
}

// AuditConfig controls which types are audited.
type AuditConfig struct {
	// ExcludedTypes are never written to the audit log. AuditEntry is
	// always excluded.
	ExcludedTypes []string `yaml:"excluded_types" env:"BIZFLOW_AUDIT_EXCLUDED_TYPES" env-separator:","`
}

// HTTPConfig holds the serve command settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"BIZFLOW_HTTP_ADDR" env-default:"127.0.0.1:8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"BIZFLOW_HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"BIZFLOW_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"BIZFLOW_LOG_FORMAT" env-default:"text"`
}

// NotifyConfig sizes the background delivery pool.
type NotifyConfig struct {
	PoolSize int `yaml:"pool_size" env:"BIZFLOW_NOTIFY_POOL_SIZE" env-default:"8"`
}

// Load reads configuration from path with environment variable overrides.
// An empty path reads the environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	// Only fails on malformed env-default tags.
	if err := cleanenv.ReadEnv(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Automation.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("automation.max_depth must be positive, got %d", c.Automation.MaxDepth))
	}
	if c.Automation.MaxFiringsPerFlow <= 0 {
		errs = append(errs, fmt.Errorf("automation.max_firings_per_flow must be positive, got %d", c.Automation.MaxFiringsPerFlow))
	}
	if c.Automation.WebhookTimeout <= 0 {
		errs = append(errs, fmt.Errorf("automation.webhook_timeout must be positive, got %s", c.Automation.WebhookTimeout))
	}
	if c.Notify.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("notify.pool_size must be positive, got %d", c.Notify.PoolSize))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
