package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds all runtime settings. Values are resolved in three layers:
// built-in defaults, then the optional YAML config file, then environment
// variables (a .env file is honored if present).
type Config struct {
	// Server settings
	Port    int    `yaml:"port"`
	Debug   bool   `yaml:"debug"`
	LogFile string `yaml:"log_file"`

	// Upstream settings
	BaseURL string   `yaml:"base_url"`
	Models  []string `yaml:"models"`

	// Credential settings
	APIKeys       []string `yaml:"api_keys"`
	AuthToken     string   `yaml:"auth_token"`
	AuthTokenHash string   `yaml:"auth_token_hash"`

	// Pool behavior
	MaxFailures    int    `yaml:"max_failures"`
	RecoveryPolicy string `yaml:"recovery_policy"` // "reset" or "fail"

	// Upstream client behavior
	RequestTimeoutSec  int `yaml:"request_timeout_sec"`
	StreamMaxAttempts  int `yaml:"stream_max_attempts"`
	StreamRetryDelayMs int `yaml:"stream_retry_delay_ms"`

	// Storage backend selection
	StorageBackend string `yaml:"storage_backend"` // sqlite|postgres|redis|mongodb|memory
	SQLitePath     string `yaml:"sqlite_path"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisPrefix    string `yaml:"redis_prefix"`
	MongoURI       string `yaml:"mongodb_uri"`
	MongoDatabase  string `yaml:"mongodb_database"`
}

// Load resolves configuration from defaults, the given YAML file (missing
// file is not an error) and environment overrides, in that order.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment from .env")
	}

	cfg := defaults()
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the rest of the process cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must not be empty")
	}
	if c.MaxFailures <= 0 {
		return fmt.Errorf("max_failures must be positive, got %d", c.MaxFailures)
	}
	if c.StreamMaxAttempts <= 0 {
		return fmt.Errorf("stream_max_attempts must be positive, got %d", c.StreamMaxAttempts)
	}
	switch c.RecoveryPolicy {
	case "reset", "fail":
	default:
		return fmt.Errorf("unknown recovery_policy %q (want \"reset\" or \"fail\")", c.RecoveryPolicy)
	}
	switch c.StorageBackend {
	case "sqlite", "postgres", "redis", "mongodb", "memory":
	default:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	return nil
}

// RequestTimeout returns the configured overall request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// StreamRetryBaseDelay returns the base delay for stream reconnect backoff.
func (c *Config) StreamRetryBaseDelay() time.Duration {
	return time.Duration(c.StreamRetryDelayMs) * time.Millisecond
}
