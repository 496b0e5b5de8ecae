package server

import (
	"context"
	"fmt"

	"gembalance-go/internal/config"
	"gembalance-go/internal/storage"
	log "github.com/sirupsen/logrus"
)

// OpenStorage constructs the credential store backend named by the
// configuration.
func OpenStorage(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case "sqlite":
		return storage.NewSQLiteBackend(ctx, cfg.SQLitePath)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend selected but POSTGRES_DSN is empty")
		}
		return storage.NewPostgresBackend(ctx, cfg.PostgresDSN)
	case "redis":
		return storage.NewRedisBackend(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	case "mongodb":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("mongodb backend selected but MONGODB_URI is empty")
		}
		return storage.NewMongoBackend(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case "memory":
		log.Warn("memory storage backend selected, credential state will not survive restarts")
		return storage.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
