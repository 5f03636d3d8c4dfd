// ABOUTME: Tests for config loading, env expansion and duration parsing
// ABOUTME: Covers defaults, validation failures and malformed input

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadCompleteConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/overseer.db"
logging:
  level: debug
  format: json
metrics:
  push_interval: 3s
ledger:
  retention: 30m
  sweep_interval: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/overseer.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 3*time.Second, cfg.Metrics.PushInterval)
	assert.Equal(t, 30*time.Minute, cfg.Ledger.Retention)
	assert.Equal(t, time.Minute, cfg.Ledger.SweepInterval)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: ":memory:"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPushInterval, cfg.Metrics.PushInterval)
	assert.Equal(t, DefaultRetention, cfg.Ledger.Retention)
	assert.Equal(t, DefaultSweepInterval, cfg.Ledger.SweepInterval)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("OVERSEER_TEST_DB", "/data/test.db")
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "${OVERSEER_TEST_DB}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/test.db", cfg.Database.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: a: map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: ":memory:"
metrics:
  push_interval: "every other tuesday"
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "push_interval")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "http_addr",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "push interval too small",
			mutate:  func(c *Config) { c.Metrics.PushInterval = 100 * time.Millisecond },
			wantErr: "push_interval",
		},
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:   ServerConfig{HTTPAddr: ":8080"},
				Database: DatabaseConfig{Path: ":memory:"},
				Metrics:  MetricsConfig{PushInterval: 2 * time.Second},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
