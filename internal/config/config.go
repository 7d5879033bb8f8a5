// Package config provides configuration management for the integration gateway.
// It loads configuration from environment variables with sensible defaults and
// validates it so the gateway starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - PUBLIC_BASE_URL: Externally reachable base URL used to build OAuth
//     redirect URIs (default: http://localhost:8080)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./integration_gateway.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL settings
//
// Redis Configuration (optional; enables distributed cache and OAuth state):
//   - REDIS_ADDRESS: Redis server address (empty disables Redis)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number (default: 0)
//
// Security Configuration:
//   - TOKEN_ENCRYPTION_KEY: Encryption passphrase for stored tokens (required)
//   - JWT_SECRET: Bearer-auth signing secret for the API surface (required,
//     minimum 32 characters)
//
// Caching:
//   - CACHE_BACKEND: "local" or "redis" (default: local)
//   - CACHE_DEFAULT_TTL: Default response-cache TTL (default: 5m)
//
// Per-platform blocks, where <P> is CRM, ADS_GOOGLE or ADS_META:
//   - <P>_CLIENT_ID / <P>_CLIENT_SECRET: OAuth client credentials. A platform
//     missing either is disabled at startup; the rest of the gateway still runs.
//   - <P>_WEBHOOK_SECRET: shared secret for inbound webhook HMAC verification
//   - <P>_BURST_LIMIT: requests admitted per window (default: per-platform)
//   - <P>_WINDOW: rate-limit window duration (default: 10s)
//   - <P>_MIN_INTERVAL: minimum inter-request spacing (default: 100ms)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PlatformConfig holds the per-platform OAuth client credentials, webhook
// secret and rate-limit budget. Endpoint URLs carry defaults per platform and
// exist as overrides mainly so tests can point the gateway at fake providers.
type PlatformConfig struct {
	Name          string
	ClientID      string
	ClientSecret  string
	WebhookSecret string

	// Endpoint overrides (defaults are built into the provider table)
	AuthURL  string
	TokenURL string
	BaseURL  string

	// Rate-limit budget
	BurstLimit  int
	Window      time.Duration
	MinInterval time.Duration
}

// Enabled reports whether the platform has usable client credentials.
func (p PlatformConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// Platform identifiers known to the gateway.
const (
	PlatformCRM       = "crm"
	PlatformAdsGoogle = "ads_google"
	PlatformAdsMeta   = "ads_meta"
)

// PlatformNames lists all platforms the gateway can connect, in stable order.
var PlatformNames = []string{PlatformCRM, PlatformAdsGoogle, PlatformAdsMeta}

// Config holds all configuration values for the integration gateway.
type Config struct {
	// Application settings
	Port          string
	LogLevel      string
	PublicBaseURL string

	// Database configuration
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration
	RedisAddress  string
	RedisPassword string
	RedisDB       int

	// Security
	TokenEncryptionKey string
	JWTSecret          string

	// Caching
	CacheBackend    string
	CacheDefaultTTL time.Duration

	// Platforms keyed by platform identifier
	Platforms map[string]PlatformConfig
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Config {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./integration_gateway.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", ""),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", ""),
		PostgresUser:     getEnv("POSTGRES_USER", ""),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		JWTSecret:          getEnv("JWT_SECRET", ""),

		CacheBackend:    getEnv("CACHE_BACKEND", "local"),
		CacheDefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 5*time.Minute),

		Platforms: make(map[string]PlatformConfig),
	}

	for _, name := range PlatformNames {
		prefix := strings.ToUpper(name) + "_"
		cfg.Platforms[name] = PlatformConfig{
			Name:          name,
			ClientID:      getEnv(prefix+"CLIENT_ID", ""),
			ClientSecret:  getEnv(prefix+"CLIENT_SECRET", ""),
			WebhookSecret: getEnv(prefix+"WEBHOOK_SECRET", ""),
			AuthURL:       getEnv(prefix+"AUTH_URL", ""),
			TokenURL:      getEnv(prefix+"TOKEN_URL", ""),
			BaseURL:       getEnv(prefix+"BASE_URL", ""),
			BurstLimit:    getEnvInt(prefix+"BURST_LIMIT", defaultBurstLimit(name)),
			Window:        getEnvDuration(prefix+"WINDOW", 10*time.Second),
			MinInterval:   getEnvDuration(prefix+"MIN_INTERVAL", 100*time.Millisecond),
		}
	}

	return cfg
}

// defaultBurstLimit returns per-platform defaults matching the providers'
// published quotas.
func defaultBurstLimit(platform string) int {
	switch platform {
	case PlatformCRM:
		return 100
	case PlatformAdsGoogle:
		return 50
	case PlatformAdsMeta:
		return 200
	default:
		return 100
	}
}

// Validate checks the configuration. A platform missing client credentials is
// not an error here: it is reported by EnabledPlatforms and disabled for the
// process lifetime, degrading only that platform.
func (c *Config) Validate() error {
	if c.TokenEncryptionKey == "" {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY is required: stored tokens must be encrypted")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is required and must be at least 32 characters")
	}

	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required for sqlite")
		}
	case "postgres":
		if c.PostgresHost == "" || c.PostgresDB == "" || c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_HOST, POSTGRES_DB and POSTGRES_USER are required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}

	switch c.CacheBackend {
	case "local":
	case "redis":
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.CacheBackend)
	}

	if len(c.EnabledPlatforms()) == 0 {
		return fmt.Errorf("no platform has client credentials configured")
	}

	return nil
}

// EnabledPlatforms returns the platforms with usable client credentials, in
// stable order.
func (c *Config) EnabledPlatforms() []string {
	var enabled []string
	for _, name := range PlatformNames {
		if c.Platforms[name].Enabled() {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

// RedirectURL returns the OAuth callback URL built from the public base URL.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/oauth/callback"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
