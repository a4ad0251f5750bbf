package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// RedisCache shares cached answers between processes. All keys carry prefix
// so Clear never touches foreign data.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisClient connects to addr and checks the connection.
func NewRedisClient(ctx context.Context, addr string, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, helper.NewError(fmt.Sprintf("connect to redis %s", addr), err)
	}
	return client, nil
}

// NewRedisCache wraps client.
func NewRedisCache(client *redis.Client, config model.CacheConfig, logger *slog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: config.Prefix,
		ttl:    config.TTL,
		logger: helper.OrDiscard(logger).With(slog.String("component", "redis_cache")),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, Key(c.prefix, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &model.CacheError{Op: "get", Err: err}
	}
	return raw, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, Key(c.prefix, key), value, ttl).Err(); err != nil {
		return &model.CacheError{Op: "set", Err: err}
	}
	return nil
}

// Clear deletes every key under the prefix in batches of SCAN results.
func (c *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 200).Result()
		if err != nil {
			return &model.CacheError{Op: "scan", Err: err}
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return &model.CacheError{Op: "delete", Err: err}
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Debug("Cleared answer cache", slog.Int("keys", deleted))
	return nil
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
