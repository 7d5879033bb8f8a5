// Package redisclient constructs the shared Redis connection used by the
// distributed response cache and OAuth state store.
package redisclient

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"integration-gateway/internal/common/errors"
)

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
}

// New creates a Redis client and verifies connectivity.
func New(cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.ConnectionError("failed to connect to Redis", err)
	}
	return client, nil
}

// Health pings the Redis server.
func Health(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.ConnectionError("redis health check failed", err)
	}
	return nil
}
