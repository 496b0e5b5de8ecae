package config

import "strings"

// applyEnv overlays environment variables onto cfg. Only variables that are
// actually set override file/default values.
func applyEnv(cfg *Config) {
	setIntFromEnv("PORT", func(n int) { cfg.Port = n })
	cfg.Debug = getenvBool("DEBUG", cfg.Debug)
	cfg.LogFile = getenv("LOG_FILE", cfg.LogFile)

	cfg.BaseURL = strings.TrimRight(getenv("BASE_URL", cfg.BaseURL), "/")
	if v := getenv("MODELS", ""); v != "" {
		cfg.Models = splitAndTrim(v, ",")
	}

	if v := getenv("API_KEYS", ""); v != "" {
		cfg.APIKeys = splitAndTrim(v, ",")
	}
	cfg.AuthToken = getenv("AUTH_TOKEN", cfg.AuthToken)
	cfg.AuthTokenHash = getenv("AUTH_TOKEN_HASH", cfg.AuthTokenHash)
	// Mirror of the original deployment knob: the first allowed token doubles
	// as the dashboard token when AUTH_TOKEN is unset.
	if cfg.AuthToken == "" && cfg.AuthTokenHash == "" {
		if v := getenv("ALLOWED_TOKENS", ""); v != "" {
			if tokens := splitAndTrim(v, ","); len(tokens) > 0 {
				cfg.AuthToken = tokens[0]
			}
		}
	}

	setIntFromEnv("MAX_FAILURES", func(n int) { cfg.MaxFailures = n })
	cfg.RecoveryPolicy = strings.ToLower(getenv("RECOVERY_POLICY", cfg.RecoveryPolicy))
	setIntFromEnv("REQUEST_TIMEOUT_SEC", func(n int) { cfg.RequestTimeoutSec = n })
	setIntFromEnv("STREAM_MAX_ATTEMPTS", func(n int) { cfg.StreamMaxAttempts = n })
	setIntFromEnv("STREAM_RETRY_DELAY_MS", func(n int) { cfg.StreamRetryDelayMs = n })

	cfg.StorageBackend = strings.ToLower(getenv("STORAGE_BACKEND", cfg.StorageBackend))
	cfg.SQLitePath = getenv("SQLITE_PATH", cfg.SQLitePath)
	cfg.PostgresDSN = getenv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.RedisAddr = getenv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getenv("REDIS_PASSWORD", cfg.RedisPassword)
	setIntFromEnv("REDIS_DB", func(n int) { cfg.RedisDB = n })
	cfg.RedisPrefix = getenv("REDIS_PREFIX", cfg.RedisPrefix)
	cfg.MongoURI = getenv("MONGODB_URI", cfg.MongoURI)
	cfg.MongoDatabase = getenv("MONGODB_DATABASE", cfg.MongoDatabase)
}
