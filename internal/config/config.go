// Package config loads daemon configuration with precedence:
// defaults, then YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Auth     AuthConfig     `yaml:"auth"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// UpstreamConfig contains the upstream sync server settings.
type UpstreamConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
	TeamID  string   `yaml:"team_id"`
	// FilterKey and FilterValue scope the pull feed to this device's tenant.
	// FilterValue defaults to the team id.
	FilterKey   string `yaml:"filter_key"`
	FilterValue string `yaml:"filter_value"`
	// PullViaPOST sends pull parameters as a JSON body instead of the query
	// string; some deployments reject long GET URLs.
	PullViaPOST bool   `yaml:"pull_via_post"`
	APIToken    string `yaml:"-"` // env-only, never in YAML
}

// AuthConfig contains local API authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// SyncConfig contains sync engine settings.
type SyncConfig struct {
	Interval           Duration `yaml:"interval"`
	ValidationInterval Duration `yaml:"validation_interval"`
	PullLimit          int      `yaml:"pull_limit"`
	PushLimit          int      `yaml:"push_limit"`
	ValidateLimit      int      `yaml:"validate_limit"`
	MaxRetries         int      `yaml:"max_retries"`
	RetryBackoff       Duration `yaml:"retry_backoff"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	// A local .env file is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg := newDefaults()

	configPath := getEnv("VITALSYNC_CONFIG_PATH", "config/vitalsync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and for callers that pass an explicit path.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// normalize fills derived values. The team id doubles as the pull scope
// filter when no explicit filter value is configured.
func (c *Config) normalize() {
	if c.Upstream.FilterValue == "" {
		c.Upstream.FilterValue = c.Upstream.TeamID
	}
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/vitalsync.db",
		},
		Upstream: UpstreamConfig{
			Timeout:   Duration(2 * time.Minute),
			FilterKey: "teamId",
		},
		Sync: SyncConfig{
			Interval:           Duration(15 * time.Minute),
			ValidationInterval: Duration(1 * time.Hour),
			PullLimit:          250,
			PushLimit:          50,
			ValidateLimit:      100,
			MaxRetries:         3,
			RetryBackoff:       Duration(500 * time.Millisecond),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("VITALSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VITALSYNC_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("VITALSYNC_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("VITALSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("VITALSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Upstream
	if v := os.Getenv("VITALSYNC_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("VITALSYNC_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Upstream.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("VITALSYNC_TEAM_ID"); v != "" {
		cfg.Upstream.TeamID = v
	}
	if v := os.Getenv("VITALSYNC_FILTER_KEY"); v != "" {
		cfg.Upstream.FilterKey = v
	}
	if v := os.Getenv("VITALSYNC_FILTER_VALUE"); v != "" {
		cfg.Upstream.FilterValue = v
	}
	if v := os.Getenv("VITALSYNC_PULL_VIA_POST"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Upstream.PullViaPOST = b
		}
	}
	if v := os.Getenv("VITALSYNC_UPSTREAM_TOKEN"); v != "" {
		cfg.Upstream.APIToken = v
	}

	// Auth
	if v := os.Getenv("VITALSYNC_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Sync
	if v := os.Getenv("VITALSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("VITALSYNC_VALIDATION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.ValidationInterval = Duration(d)
		}
	}
	if v := os.Getenv("VITALSYNC_PULL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.PullLimit = n
		}
	}
	if v := os.Getenv("VITALSYNC_PUSH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.PushLimit = n
		}
	}
	if v := os.Getenv("VITALSYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxRetries = n
		}
	}
	if v := os.Getenv("VITALSYNC_RETRY_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.RetryBackoff = Duration(d)
		}
	}

	// Log
	if v := os.Getenv("VITALSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("VITALSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (VITALSYNC_DEV_MODE=true), key validation is skipped.
func (c *Config) validate() error {
	if c.Sync.PullLimit < 1 {
		return errors.New("sync.pull_limit must be at least 1")
	}
	if c.Sync.PushLimit < 1 {
		return errors.New("sync.push_limit must be at least 1")
	}
	if c.Sync.MaxRetries < 0 {
		return errors.New("sync.max_retries must not be negative")
	}

	if os.Getenv("VITALSYNC_DEV_MODE") == "true" {
		return nil
	}

	if c.Upstream.BaseURL == "" {
		return errors.New("VITALSYNC_UPSTREAM_URL is required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("VITALSYNC_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
