package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// Kreuzberg document parsing configuration
	Kreuzberg KreuzbergConfig

	// Storage configuration
	Storage StorageConfig

	// Ingestion job queue / worker pool configuration
	Queue QueueConfig

	// Webhook dispatcher configuration
	Webhook WebhookConfig

	// Rate limiter configuration
	RateLimit RateLimitConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"ingestcore"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"ingestcore"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// KreuzbergConfig holds the pluggable document-parsing service configuration.
type KreuzbergConfig struct {
	// Enabled determines if the Kreuzberg parser capability is registered
	Enabled bool `env:"KREUZBERG_ENABLED" envDefault:"true"`
	// ServiceURL is the Kreuzberg service URL
	ServiceURL string `env:"KREUZBERG_SERVICE_URL" envDefault:"http://localhost:8000"`
	// TimeoutMs is the request timeout in milliseconds (default: 300000 = 5 minutes)
	TimeoutMs int `env:"KREUZBERG_SERVICE_TIMEOUT" envDefault:"300000"`
	// MaxFileSizeMB is the maximum file size accepted for parsing
	MaxFileSizeMB int `env:"KREUZBERG_MAX_FILE_SIZE_MB" envDefault:"100"`
}

// Timeout returns the request timeout as a Duration
func (k *KreuzbergConfig) Timeout() time.Duration {
	return time.Duration(k.TimeoutMs) * time.Millisecond
}

// StorageConfig holds blob storage (MinIO/S3) configuration
type StorageConfig struct {
	Endpoint        string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	AccessKeyID     string `env:"MINIO_ACCESS_KEY" envDefault:""`
	SecretAccessKey string `env:"MINIO_SECRET_KEY" envDefault:""`
	Bucket          string `env:"MINIO_BUCKET" envDefault:"ingestcore-documents"`
	UseSSL          bool   `env:"MINIO_USE_SSL" envDefault:"false"`
	Region          string `env:"MINIO_REGION" envDefault:"us-east-1"`
}

// IsConfigured returns true if storage credentials are set
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// QueueConfig holds job queue / worker pool tuning knobs.
type QueueConfig struct {
	// WorkerCount is the number of concurrent worker goroutines in the pool
	WorkerCount int `env:"QUEUE_WORKER_COUNT" envDefault:"4"`
	// MaxAttempts is parsed but not read: jobs.Store.Submit gives a job 3
	// attempts unless SubmitInput.MaxAttempts is set
	MaxAttempts int `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`
	// LeaseDuration is how long a dequeued job is invisible to other workers
	LeaseDuration time.Duration `env:"QUEUE_LEASE_DURATION" envDefault:"5m"`
	// IdlePollMinInterval is the floor for the idle-backoff poll loop
	IdlePollMinInterval time.Duration `env:"QUEUE_IDLE_POLL_MIN" envDefault:"100ms"`
	// IdlePollMaxInterval is the ceiling for the idle-backoff poll loop
	IdlePollMaxInterval time.Duration `env:"QUEUE_IDLE_POLL_MAX" envDefault:"2s"`
	// StaleSweepInterval is parsed but not read: the lease sweep runs on
	// domain/scheduler's LEASE_SWEEP_INTERVAL_MS / LEASE_SWEEP_SCHEDULE
	StaleSweepInterval time.Duration `env:"QUEUE_STALE_SWEEP_INTERVAL" envDefault:"30s"`
	// ProgressEventMinInterval rate-limits the per-job progress heartbeats the
	// worker pool writes to the Store (the 100% report is never skipped)
	ProgressEventMinInterval time.Duration `env:"QUEUE_PROGRESS_EVENT_MIN_INTERVAL" envDefault:"500ms"`
}

// RetryDelays returns the fixed backoff schedule (seconds) used for job retries.
// Attempt k (1-indexed) uses index min(k-1, len-1).
func (QueueConfig) RetryDelays() []time.Duration {
	return []time.Duration{
		1 * time.Second,
		5 * time.Second,
		15 * time.Second,
		60 * time.Second,
		300 * time.Second,
	}
}

// WebhookConfig holds outbound webhook dispatcher configuration.
type WebhookConfig struct {
	// RequestTimeout bounds a single delivery attempt's HTTP round trip
	RequestTimeout time.Duration `env:"WEBHOOK_REQUEST_TIMEOUT" envDefault:"30s"`
	// MaxAttempts caps the total delivery attempts before marking exhausted
	MaxAttempts int `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"5"`
	// DispatchConcurrency bounds the number of in-flight deliveries
	DispatchConcurrency int `env:"WEBHOOK_DISPATCH_CONCURRENCY" envDefault:"8"`
	// PerSubscriptionRPS throttles outbound deliveries per subscription
	PerSubscriptionRPS float64 `env:"WEBHOOK_PER_SUBSCRIPTION_RPS" envDefault:"5"`
	// PerSubscriptionBurst is the token bucket burst size per subscription
	PerSubscriptionBurst int `env:"WEBHOOK_PER_SUBSCRIPTION_BURST" envDefault:"10"`
}

// RetryDelays returns the fixed backoff schedule used for webhook delivery retries.
func (WebhookConfig) RetryDelays() []time.Duration {
	return []time.Duration{
		1 * time.Second,
		5 * time.Second,
		15 * time.Second,
		60 * time.Second,
		300 * time.Second,
	}
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	// Enabled toggles rate limiting globally (fail-open when the backend is unavailable regardless)
	Enabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	// ReapInterval is parsed but not read: the rate-limit key reap runs on
	// domain/scheduler's RATE_LIMIT_REAP_INTERVAL_MS / RATE_LIMIT_REAP_SCHEDULE
	ReapInterval time.Duration `env:"RATE_LIMIT_REAP_INTERVAL" envDefault:"1m"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
	)

	return cfg, nil
}
