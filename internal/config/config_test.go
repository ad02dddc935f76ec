package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bizflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "bizflow.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Automation.MaxDepth)
	assert.Equal(t, 100, cfg.Automation.MaxFiringsPerFlow)
	assert.Equal(t, 5*time.Second, cfg.Automation.WebhookTimeout)
	assert.Equal(t, "Task", cfg.Automation.TaskType)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Notify.PoolSize)
	assert.Empty(t, cfg.Automation.ExcludedTypes)

	assert.Equal(t, cfg, Default())
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/bizflow/data.db
automation:
  max_depth: 3
  webhook_timeout: 750ms
  excluded_types: [Invoice, Payment]
audit:
  excluded_types: [Heartbeat]
log:
  level: debug
  format: json
specs: ./specs
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/bizflow/data.db", cfg.Database.Path)
	assert.Equal(t, 3, cfg.Automation.MaxDepth)
	assert.Equal(t, 100, cfg.Automation.MaxFiringsPerFlow, "unset keys keep their default")
	assert.Equal(t, 750*time.Millisecond, cfg.Automation.WebhookTimeout)
	assert.Equal(t, []string{"Invoice", "Payment"}, cfg.Automation.ExcludedTypes)
	assert.Equal(t, []string{"Heartbeat"}, cfg.Audit.ExcludedTypes)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "./specs", cfg.Specs)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
automation:
  max_depth: 3
`)
	t.Setenv("BIZFLOW_MAX_DEPTH", "7")
	t.Setenv("BIZFLOW_AUTOMATION_EXCLUDED_TYPES", "Invoice,Payment")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Automation.MaxDepth)
	assert.Equal(t, []string{"Invoice", "Payment"}, cfg.Automation.ExcludedTypes)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"empty db path", func(c *Config) { c.Database.Path = " " }, "database.path is required"},
		{"zero depth", func(c *Config) { c.Automation.MaxDepth = 0 }, "automation.max_depth must be positive"},
		{"negative budget", func(c *Config) { c.Automation.MaxFiringsPerFlow = -1 }, "automation.max_firings_per_flow"},
		{"zero timeout", func(c *Config) { c.Automation.WebhookTimeout = 0 }, "automation.webhook_timeout"},
		{"zero pool", func(c *Config) { c.Notify.PoolSize = 0 }, "notify.pool_size"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, Default().Validate())
}
