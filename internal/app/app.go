// Package app wires the gateway's components together and owns their
// lifecycle: storage, Redis, the OAuth controller, the rate limiter, the
// response cache, the gateway client and the aggregator.
package app

import (
	"context"

	"github.com/go-redis/redis/v8"

	"integration-gateway/internal/aggregator"
	"integration-gateway/internal/auth"
	"integration-gateway/internal/common/logging"
	"integration-gateway/internal/config"
	"integration-gateway/internal/credentials"
	"integration-gateway/internal/crypto"
	"integration-gateway/internal/gateway"
	"integration-gateway/internal/oauthflow"
	"integration-gateway/internal/ratelimit"
	"integration-gateway/internal/respcache"
	"integration-gateway/internal/storage"
)

// App holds all initialized application components
type App struct {
	Config     *config.Config
	Storage    storage.Storage
	Redis      *redis.Client
	Encryptor  *crypto.TokenEncryptor
	Creds      *credentials.Store
	OAuth      *oauthflow.Controller
	Sweeper    *oauthflow.Sweeper
	Limiter    *ratelimit.Limiter
	Cache      respcache.Cache
	Gateway    *gateway.Client
	Aggregator *aggregator.Aggregator
	Auth       *auth.Service
	Logger     logging.Logger

	shutdownCh chan struct{}
}

// New initializes all application components from configuration.
func New(cfg *config.Config) (*App, error) {
	logger := logging.GetGlobalLogger()

	backend, err := NewStorage(cfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := NewRedis(cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}

	encryptor, err := crypto.NewTokenEncryptor(cfg.TokenEncryptionKey)
	if err != nil {
		backend.Close()
		return nil, err
	}

	creds := credentials.NewStore(backend, encryptor, logger)

	providers, err := oauthflow.BuildProviders(cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}

	oauthCtrl := oauthflow.NewController(
		providers, creds, NewStateStore(cfg, redisClient), NewOAuthHTTPClient(), logger)
	sweeper := oauthflow.NewSweeper(oauthCtrl, creds, logger)

	limiter := ratelimit.NewLimiter(RateLimitConfigs(cfg), logger)
	cache := NewResponseCache(cfg, redisClient, logger)

	gatewayClient := gateway.NewClient(
		oauthCtrl, creds, limiter, cache, NewPlatformHTTPClient(),
		cfg.EnabledPlatforms(), logger)

	app := &App{
		Config:     cfg,
		Storage:    backend,
		Redis:      redisClient,
		Encryptor:  encryptor,
		Creds:      creds,
		OAuth:      oauthCtrl,
		Sweeper:    sweeper,
		Limiter:    limiter,
		Cache:      cache,
		Gateway:    gatewayClient,
		Aggregator: aggregator.New(gatewayClient, creds, logger),
		Auth:       auth.NewService(cfg.JWTSecret, logger),
		Logger:     logger,
		shutdownCh: make(chan struct{}),
	}

	logger.Info("Application initialized",
		logging.Field{Key: "storage", Value: cfg.DatabaseType},
		logging.Field{Key: "cache", Value: cfg.CacheBackend},
		logging.Field{Key: "platforms", Value: cfg.EnabledPlatforms()},
	)
	return app, nil
}

// Shutdown stops background workers before the HTTP server drains.
func (app *App) Shutdown(ctx context.Context) error {
	close(app.shutdownCh)

	if app.Sweeper != nil {
		app.Sweeper.Stop()
		app.Logger.Info("Token sweeper stopped")
	}
	return nil
}

// Cleanup releases held resources. Safe to call after Shutdown.
func (app *App) Cleanup() {
	if app.Cache != nil {
		if err := app.Cache.Close(); err != nil {
			app.Logger.Warn("Error closing response cache",
				logging.Field{Key: "error", Value: err.Error()})
		}
	}
	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client",
				logging.Field{Key: "error", Value: err.Error()})
		}
	}
	if app.Storage != nil {
		if err := app.Storage.Close(); err != nil {
			app.Logger.Warn("Error closing storage",
				logging.Field{Key: "error", Value: err.Error()})
		}
	}
}
