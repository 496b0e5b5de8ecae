package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gembalance-go/internal/gberrors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisBackend stores each credential as a hash under {prefix}key:{value},
// with {prefix}keys as the index set. Insertion order is preserved through a
// created_at field so rotation stays deterministic.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, password string, db int, prefix string) (*RedisBackend, error) {
	if prefix == "" {
		prefix = "gembalance:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.WithField("addr", addr).Info("connected to Redis storage backend")
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (r *RedisBackend) recordKey(value string) string { return r.prefix + "key:" + value }

func (r *RedisBackend) indexKey() string { return r.prefix + "keys" }

func (r *RedisBackend) LoadAll(ctx context.Context) ([]Record, error) {
	values, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	out := make([]Record, 0, len(values))
	for _, v := range values {
		rec, err := r.Get(ctx, v)
		if err != nil {
			// The index can briefly lead the hash during concurrent seeds.
			if errors.Is(err, gberrors.ErrCredentialNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *rec)
	}
	sortRecords(out)
	return out, nil
}

func (r *RedisBackend) Get(ctx context.Context, value string) (*Record, error) {
	fields, err := r.client.HGetAll(ctx, r.recordKey(value)).Result()
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", gberrors.ErrCredentialNotFound, value)
	}
	return recordFromHash(value, fields)
}

func (r *RedisBackend) UpsertIfAbsent(ctx context.Context, value string) error {
	added, err := r.client.SAdd(ctx, r.indexKey(), value).Result()
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	// SADD returning 0 means another seeder already holds the value; that
	// race is success, not failure.
	if added == 0 {
		return nil
	}
	now := strconv.FormatInt(time.Now().Unix(), 10)
	err = r.client.HSet(ctx, r.recordKey(value), map[string]any{
		"enabled":       "1",
		"failure_count": "0",
		"created_at":    now,
		"updated_at":    now,
	}).Err()
	if err != nil {
		return fmt.Errorf("write credential record: %w", err)
	}
	return nil
}

func (r *RedisBackend) UpdateFailure(ctx context.Context, value string, newCount int, enabled bool) error {
	exists, err := r.client.SIsMember(ctx, r.indexKey(), value).Result()
	if err != nil {
		return fmt.Errorf("check credential: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", gberrors.ErrCredentialNotFound, value)
	}
	err = r.client.HSet(ctx, r.recordKey(value), map[string]any{
		"enabled":       boolField(enabled),
		"failure_count": strconv.Itoa(newCount),
		"updated_at":    strconv.FormatInt(time.Now().Unix(), 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("update failure state: %w", err)
	}
	return nil
}

func (r *RedisBackend) BulkReset(ctx context.Context) error {
	values, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}
	now := strconv.FormatInt(time.Now().Unix(), 10)
	pipe := r.client.TxPipeline()
	for _, v := range values {
		pipe.HSet(ctx, r.recordKey(v), map[string]any{
			"enabled":       "1",
			"failure_count": "0",
			"updated_at":    now,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bulk reset: %w", err)
	}
	return nil
}

func (r *RedisBackend) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) Close() error { return r.client.Close() }

func recordFromHash(value string, fields map[string]string) (*Record, error) {
	count, err := strconv.Atoi(fields["failure_count"])
	if err != nil {
		return nil, fmt.Errorf("corrupt failure_count for %s: %w", value, err)
	}
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	updated, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	return &Record{
		Value:        value,
		Enabled:      fields["enabled"] == "1",
		FailureCount: count,
		CreatedAt:    time.Unix(created, 0),
		UpdatedAt:    time.Unix(updated, 0),
	}, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
