package respcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"integration-gateway/internal/common/errors"
	"integration-gateway/internal/common/logging"
)

const keyPrefix = "respcache:"

// RedisCache is a distributed response cache for multi-instance deployments.
// Entries are JSON documents with Redis-native TTLs.
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     logging.Logger
}

// NewRedisCache creates a Redis-backed cache over an existing client.
func NewRedisCache(client *redis.Client, defaultTTL time.Duration, logger logging.Logger) *RedisCache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &RedisCache{
		client:     client,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) (*Entry, bool) {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		// Treat backend failures as misses: the gateway falls through to
		// the platform rather than failing the read.
		r.logger.Warn("Response cache read failed",
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		r.logger.Warn("Response cache entry corrupted",
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return nil, false
	}
	return &entry, true
}

func (r *RedisCache) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.InternalError("failed to marshal cache entry", err)
	}

	if err := r.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return errors.ConnectionError("failed to write cache entry", err)
	}
	return nil
}

func (r *RedisCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	pattern := keyPrefix + prefix + "*"

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return errors.ConnectionError("failed to scan cache keys", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return errors.ConnectionError("failed to delete cache keys", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (r *RedisCache) Close() error {
	// The client is shared with other components; its owner closes it.
	return nil
}
