// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment variable names
const (
	EnvLogLevel = "LOG_LEVEL"

	EnvServerPort       = "SERVER_PORT"
	EnvWebhookURLPrefix = "WEBHOOK_URL_PREFIX"

	EnvDBHost       = "DB_HOST"
	EnvDBPort       = "DB_PORT"
	EnvDBUser       = "DB_USER"
	EnvDBPassword   = "DB_PASSWORD"
	EnvDBName       = "DB_NAME"
	EnvDBSSLEnabled = "DB_SSL_ENABLED"

	EnvBackendMode          = "BACKEND_MODE"
	EnvDockerHost           = "DOCKER_HOST"
	EnvBackendEndpoint      = "BACKEND_ENDPOINT"
	EnvBackendAccessKey     = "BACKEND_ACCESS_KEY"
	EnvBackendSecretKey     = "BACKEND_SECRET_KEY"
	EnvBackendTimeout       = "BACKEND_TIMEOUT"
	EnvBackendRetryAttempts = "BACKEND_RETRY_ATTEMPTS"
	EnvBackendRetryDelay    = "BACKEND_RETRY_DELAY"
	EnvBackendInstanceType  = "BACKEND_INSTANCE_TYPE"
	EnvBackendNetwork       = "BACKEND_NETWORK"

	EnvRenderImage               = "RENDER_IMAGE"
	EnvRenderExpiryTTL           = "RENDER_EXPIRY_TTL"
	EnvRenderSweepAge            = "RENDER_SWEEP_AGE"
	EnvRenderReconcileInterval   = "RENDER_RECONCILE_INTERVAL"
	EnvRenderServeStaleOnFailure = "RENDER_SERVE_STALE_ON_FAILURE"

	EnvStorageMode        = "STORAGE_MODE"
	EnvMediaRoot          = "MEDIA_ROOT"
	EnvHostMediaRoot      = "HOST_MEDIA_ROOT"
	EnvGCSBucket          = "GCS_BUCKET"
	EnvGCSCredentialsJSON = "GCS_CREDENTIALS_JSON"

	EnvLockMode  = "LOCK_MODE"
	EnvRedisAddr = "REDIS_ADDR"
	EnvLockTTL   = "LOCK_TTL"
)

// Config is the full service configuration.
type Config struct {
	LogLevel string
	Server   ServerConfig
	Database DatabaseConfig
	Backend  ExecutionBackendConfig
	Render   RenderConfig
	Storage  StorageConfig
	Lock     LockConfig
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port string
	// WebhookURLPrefix is the externally reachable base URL running jobs call
	// back on, e.g. http://renderd:8080
	WebhookURLPrefix string
}

// DatabaseConfig holds the database connection settings.
type DatabaseConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SSLEnabled bool
}

// RenderConfig holds the render lifecycle policy.
type RenderConfig struct {
	Image               string
	ExpiryTTL           time.Duration
	SweepAge            time.Duration
	ReconcileInterval   time.Duration
	ServeStaleOnFailure bool
}

// StorageMode selects where render sources and outputs live.
type StorageMode string

// Storage modes
const (
	StorageModeLocal StorageMode = "local"
	StorageModeGCS   StorageMode = "gcs"
)

// StorageConfig holds the output storage settings.
type StorageConfig struct {
	Mode StorageMode
	// MediaRoot is the local directory holding sources and outputs.
	MediaRoot string
	// HostMediaRoot is MediaRoot as seen by the container engine's host, used
	// as the bind mount source.
	HostMediaRoot   string
	Bucket          string
	CredentialsJSON string
}

// LockMode selects the advisory lock implementation.
type LockMode string

// Lock modes
const (
	LockModeMemory LockMode = "memory"
	LockModeRedis  LockMode = "redis"
)

// LockConfig holds the advisory lock settings.
type LockConfig struct {
	Mode      LockMode
	RedisAddr string
	TTL       time.Duration
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	// A missing .env file is fine, the environment may already be populated.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		LogLevel: v.GetString(EnvLogLevel),
		Server: ServerConfig{
			Port:             v.GetString(EnvServerPort),
			WebhookURLPrefix: v.GetString(EnvWebhookURLPrefix),
		},
		Database: DatabaseConfig{
			Host:       v.GetString(EnvDBHost),
			Port:       v.GetInt(EnvDBPort),
			User:       v.GetString(EnvDBUser),
			Password:   v.GetString(EnvDBPassword),
			Name:       v.GetString(EnvDBName),
			SSLEnabled: v.GetBool(EnvDBSSLEnabled),
		},
		Backend: ExecutionBackendConfig{
			Mode:          BackendMode(v.GetString(EnvBackendMode)),
			DockerHost:    v.GetString(EnvDockerHost),
			Endpoint:      v.GetString(EnvBackendEndpoint),
			AccessKey:     v.GetString(EnvBackendAccessKey),
			SecretKey:     v.GetString(EnvBackendSecretKey),
			Timeout:       v.GetDuration(EnvBackendTimeout),
			RetryAttempts: v.GetInt(EnvBackendRetryAttempts),
			RetryDelay:    v.GetDuration(EnvBackendRetryDelay),
			InstanceType:  v.GetString(EnvBackendInstanceType),
			Network:       v.GetString(EnvBackendNetwork),
		},
		Render: RenderConfig{
			Image:               v.GetString(EnvRenderImage),
			ExpiryTTL:           v.GetDuration(EnvRenderExpiryTTL),
			SweepAge:            v.GetDuration(EnvRenderSweepAge),
			ReconcileInterval:   v.GetDuration(EnvRenderReconcileInterval),
			ServeStaleOnFailure: v.GetBool(EnvRenderServeStaleOnFailure),
		},
		Storage: StorageConfig{
			Mode:            StorageMode(v.GetString(EnvStorageMode)),
			MediaRoot:       v.GetString(EnvMediaRoot),
			HostMediaRoot:   v.GetString(EnvHostMediaRoot),
			Bucket:          v.GetString(EnvGCSBucket),
			CredentialsJSON: v.GetString(EnvGCSCredentialsJSON),
		},
		Lock: LockConfig{
			Mode:      LockMode(v.GetString(EnvLockMode)),
			RedisAddr: v.GetString(EnvRedisAddr),
			TTL:       v.GetDuration(EnvLockTTL),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(EnvLogLevel, "info")
	v.SetDefault(EnvServerPort, "8080")
	v.SetDefault(EnvWebhookURLPrefix, "http://localhost:8080")

	v.SetDefault(EnvDBHost, "localhost")
	v.SetDefault(EnvDBPort, 5432)
	v.SetDefault(EnvDBUser, "postgres")
	v.SetDefault(EnvDBPassword, "postgres")
	v.SetDefault(EnvDBName, "renderd")
	v.SetDefault(EnvDBSSLEnabled, false)

	v.SetDefault(EnvBackendMode, string(BackendModeLocal))
	v.SetDefault(EnvBackendTimeout, DefaultBackendTimeout)
	v.SetDefault(EnvBackendRetryAttempts, DefaultRetryAttempts)
	v.SetDefault(EnvBackendRetryDelay, DefaultRetryDelay)

	v.SetDefault(EnvRenderImage, "arxivvanity/engrafo")
	v.SetDefault(EnvRenderExpiryTTL, 30*24*time.Hour)
	v.SetDefault(EnvRenderSweepAge, 5*time.Minute)
	v.SetDefault(EnvRenderReconcileInterval, 30*time.Second)
	v.SetDefault(EnvRenderServeStaleOnFailure, true)

	v.SetDefault(EnvStorageMode, string(StorageModeLocal))
	v.SetDefault(EnvMediaRoot, "media")

	v.SetDefault(EnvLockMode, string(LockModeMemory))
	v.SetDefault(EnvLockTTL, 2*time.Minute)
}

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if err := c.Render.Validate(); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Lock.Validate(); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	return nil
}

// Validate checks the render policy.
func (c RenderConfig) Validate() error {
	if c.Image == "" {
		return fmt.Errorf("render image is required")
	}
	if c.ExpiryTTL <= 0 {
		return fmt.Errorf("expiry ttl must be positive")
	}
	if c.SweepAge <= 0 {
		return fmt.Errorf("sweep age must be positive")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}
	return nil
}

// Validate checks the storage settings for the selected mode.
func (c StorageConfig) Validate() error {
	switch c.Mode {
	case StorageModeLocal:
		if c.MediaRoot == "" {
			return fmt.Errorf("media root is required in local mode")
		}
	case StorageModeGCS:
		if c.Bucket == "" {
			return fmt.Errorf("bucket is required in gcs mode")
		}
	default:
		return fmt.Errorf("unsupported storage mode: %s", c.Mode)
	}
	return nil
}

// Validate checks the lock settings for the selected mode.
func (c LockConfig) Validate() error {
	switch c.Mode {
	case LockModeMemory:
	case LockModeRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis address is required in redis mode")
		}
	default:
		return fmt.Errorf("unsupported lock mode: %s", c.Mode)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("lock ttl must be positive")
	}
	return nil
}
