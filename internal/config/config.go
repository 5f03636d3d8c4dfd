// ABOUTME: Configuration loading and parsing for overseer-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete overseer-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics streaming configuration
type MetricsConfig struct {
	PushInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	PushIntervalRaw string `yaml:"push_interval"`
}

// LedgerConfig holds live-conversation retention configuration
type LedgerConfig struct {
	Retention     time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RetentionRaw     string `yaml:"retention"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// Defaults applied when a field is absent from the config file.
const (
	DefaultPushInterval  = 2 * time.Second
	DefaultRetention     = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Metrics.PushInterval < time.Second {
		return fmt.Errorf("metrics.push_interval must be at least 1s, got %s", c.Metrics.PushInterval)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Metrics.PushIntervalRaw != "" {
		cfg.Metrics.PushInterval, err = time.ParseDuration(cfg.Metrics.PushIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing push_interval %q: %w", cfg.Metrics.PushIntervalRaw, err)
		}
	}

	if cfg.Ledger.RetentionRaw != "" {
		cfg.Ledger.Retention, err = time.ParseDuration(cfg.Ledger.RetentionRaw)
		if err != nil {
			return fmt.Errorf("parsing retention %q: %w", cfg.Ledger.RetentionRaw, err)
		}
	}

	if cfg.Ledger.SweepIntervalRaw != "" {
		cfg.Ledger.SweepInterval, err = time.ParseDuration(cfg.Ledger.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Ledger.SweepIntervalRaw, err)
		}
	}

	return nil
}

// applyDefaults fills unset optional fields.
func applyDefaults(cfg *Config) {
	if cfg.Metrics.PushInterval == 0 {
		cfg.Metrics.PushInterval = DefaultPushInterval
	}
	if cfg.Ledger.Retention == 0 {
		cfg.Ledger.Retention = DefaultRetention
	}
	if cfg.Ledger.SweepInterval == 0 {
		cfg.Ledger.SweepInterval = DefaultSweepInterval
	}
}
