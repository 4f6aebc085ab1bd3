package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ip-sentry/backend/internal/config"
	"github.com/ip-sentry/backend/internal/logger"
)

// ErrCacheMiss is returned when a key is absent or Redis is not configured.
var ErrCacheMiss = errors.New("cache miss")

var (
	rdb *redis.Client
	ctx = context.Background()
)

// Init connects to Redis when a connection string is configured. Without one
// the cache stays disabled and every Get reports a miss.
func Init(cfg *config.Config) error {
	if cfg.Redis.ConnString == "" {
		logger.Info("redis not configured, cache disabled")
		return nil
	}

	opt, err := redis.ParseURL(cfg.Redis.ConnString)
	if err != nil {
		return fmt.Errorf("parse redis conn string: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	rdb = client
	logger.Info("redis connected", zap.String("addr", opt.Addr))
	return nil
}

// Close releases the client.
func Close() error {
	if rdb == nil {
		return nil
	}
	return rdb.Close()
}

// HealthCheck pings Redis; a disabled cache is healthy.
func HealthCheck() error {
	if rdb == nil {
		return nil
	}
	return rdb.Ping(ctx).Err()
}

// Set stores a JSON-encoded value with a TTL. No-op when disabled.
func Set(key string, value interface{}, ttl time.Duration) error {
	if rdb == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return rdb.Set(ctx, key, data, ttl).Err()
}

// Get loads a JSON-encoded value into dest.
func Get(key string, dest interface{}) error {
	if rdb == nil {
		return ErrCacheMiss
	}
	data, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete removes keys. No-op when disabled.
func Delete(keys ...string) error {
	if rdb == nil || len(keys) == 0 {
		return nil
	}
	return rdb.Del(ctx, keys...).Err()
}

// SetTestClient replaces the client (unit tests only).
func SetTestClient(client *redis.Client) {
	rdb = client
}
