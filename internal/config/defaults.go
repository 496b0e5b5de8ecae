package config

import "gembalance-go/internal/constants"

const (
	// DefaultBaseURL is the public generative-language endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

func defaults() *Config {
	return &Config{
		Port:    8001,
		Debug:   false,
		BaseURL: DefaultBaseURL,
		Models: []string{
			"gemini-2.0-flash",
			"gemini-2.0-flash-exp",
			"gemini-1.5-pro",
			"gemini-1.5-flash",
		},
		MaxFailures:        constants.DefaultMaxFailures,
		RecoveryPolicy:     "reset",
		RequestTimeoutSec:  int(constants.DefaultRequestTimeout.Seconds()),
		StreamMaxAttempts:  constants.DefaultStreamMaxAttempts,
		StreamRetryDelayMs: int(constants.DefaultStreamRetryBaseDelay.Milliseconds()),
		StorageBackend:     "sqlite",
		SQLitePath:         "gembalance.db",
		RedisAddr:          "localhost:6379",
		RedisPrefix:        "gembalance:",
		MongoDatabase:      "gembalance",
	}
}
