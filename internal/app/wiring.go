package app

import (
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	commonhttp "integration-gateway/internal/common/http"
	"integration-gateway/internal/common/logging"
	"integration-gateway/internal/config"
	"integration-gateway/internal/oauthflow"
	"integration-gateway/internal/ratelimit"
	"integration-gateway/internal/redisclient"
	"integration-gateway/internal/respcache"
	"integration-gateway/internal/storage"
	"integration-gateway/internal/storage/postgres"
	"integration-gateway/internal/storage/sqlite"
)

func init() {
	storage.RegisterFactory("sqlite", func(cfg storage.FactoryConfig) (storage.Storage, error) {
		return sqlite.NewAdapter(cfg.DatabasePath)
	})
	storage.RegisterFactory("postgres", func(cfg storage.FactoryConfig) (storage.Storage, error) {
		return postgres.NewAdapter(postgres.Config{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Database: cfg.PostgresDB,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		})
	})
}

// NewStorage creates the storage backend named by configuration.
func NewStorage(cfg *config.Config) (storage.Storage, error) {
	return storage.New(storage.FactoryConfig{
		Type:             cfg.DatabaseType,
		DatabasePath:     cfg.DatabasePath,
		PostgresHost:     cfg.PostgresHost,
		PostgresPort:     cfg.PostgresPort,
		PostgresDB:       cfg.PostgresDB,
		PostgresUser:     cfg.PostgresUser,
		PostgresPassword: cfg.PostgresPassword,
		PostgresSSLMode:  cfg.PostgresSSLMode,
	})
}

// NewRedis connects the shared Redis client, or returns nil when Redis is not
// configured. The cache and state store fall back to in-process backends.
func NewRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisAddress == "" {
		return nil, nil
	}
	return redisclient.New(redisclient.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewStateStore picks the OAuth state backend: Redis when available so the
// callback can land on any instance, memory otherwise.
func NewStateStore(cfg *config.Config, redisClient *redis.Client) oauthflow.StateStore {
	if redisClient != nil {
		return oauthflow.NewRedisStateStore(redisClient)
	}
	return oauthflow.NewMemoryStateStore()
}

// NewResponseCache picks the response-cache backend per configuration.
func NewResponseCache(cfg *config.Config, redisClient *redis.Client, logger logging.Logger) respcache.Cache {
	if cfg.CacheBackend == "redis" && redisClient != nil {
		return respcache.NewRedisCache(redisClient, cfg.CacheDefaultTTL, logger)
	}
	return respcache.NewLocalCache(cfg.CacheDefaultTTL)
}

// RateLimitConfigs builds the per-platform rate budgets.
func RateLimitConfigs(cfg *config.Config) map[string]ratelimit.Config {
	configs := make(map[string]ratelimit.Config)
	for _, name := range cfg.EnabledPlatforms() {
		platformCfg := cfg.Platforms[name]
		configs[name] = ratelimit.Config{
			BurstLimit:  platformCfg.BurstLimit,
			Window:      platformCfg.Window,
			MinInterval: platformCfg.MinInterval,
		}
	}
	return configs
}

// NewOAuthHTTPClient builds the client for token endpoint calls: short
// timeout, no redirects expected.
func NewOAuthHTTPClient() *http.Client {
	return commonhttp.NewHTTPClientWithTimeout(15 * time.Second)
}

// NewPlatformHTTPClient builds the client for platform API calls, tuned for
// the gateway's connection reuse across platforms.
func NewPlatformHTTPClient() *http.Client {
	return commonhttp.NewHTTPClient(
		commonhttp.WithTimeout(45*time.Second),
		commonhttp.WithMaxIdleConnsPerHost(20),
	)
}
