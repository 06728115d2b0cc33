package storage

import (
	"context"
	"fmt"
	"time"

	"eino_flow/src/model"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses cfg.URL, applies the timeouts and checks the connection.
func NewRedisClient(ctx context.Context, cfg model.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("REDIS_URL environment variable is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisStorage is a namespaced JSON key/hash store over a shared client.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStorage wraps client; every key is prefixed with prefix + ":".
func NewRedisStorage(client redis.UniversalClient, prefix string) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix}
}

// Key builds a namespaced key from parts.
func (r *RedisStorage) Key(parts ...string) string {
	key := r.prefix
	for _, p := range parts {
		if key == "" {
			key = p
			continue
		}
		key += ":" + p
	}
	return key
}

// HashSet writes every value of fields as a JSON-encoded hash field and
// refreshes the key TTL when ttl > 0.
func (r *RedisStorage) HashSet(ctx context.Context, key string, fields map[string]any, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}

	values := make(map[string]any, len(fields))
	for name, v := range fields {
		encoded, err := sonic.MarshalString(v)
		if err != nil {
			return fmt.Errorf("failed to marshal field %s of %s: %w", name, key, err)
		}
		values[name] = encoded
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write hash %s: %w", key, err)
	}
	return nil
}

// HashGetAll decodes every field of the hash at key. A missing key yields an empty map.
func (r *RedisStorage) HashGetAll(ctx context.Context, key string) (map[string]any, error) {
	raw, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read hash %s: %w", key, err)
	}

	out := make(map[string]any, len(raw))
	for name, encoded := range raw {
		var v any
		if err := sonic.UnmarshalString(encoded, &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal field %s of %s: %w", name, key, err)
		}
		out[name] = v
	}
	return out, nil
}

// Delete removes keys
func (r *RedisStorage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}
