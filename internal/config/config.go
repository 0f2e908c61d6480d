// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv           string  `env:"APP_ENV" envDefault:"dev"`
	Port             int     `env:"PORT" envDefault:"8080"`
	OTLPEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName  string  `env:"OTEL_SERVICE_NAME" envDefault:"bulk-download-service"`
	TraceSampleRatio float64 `env:"OTEL_TRACES_SAMPLE_RATIO" envDefault:"0.1"`

	// Engine configuration.
	WorkerConcurrency    int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	QueueCapacity        int           `env:"QUEUE_CAPACITY" envDefault:"256"`
	MaxAttempts          int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	PerAttemptTimeout    time.Duration `env:"PER_ATTEMPT_TIMEOUT" envDefault:"180s"`
	DelayMin             time.Duration `env:"DELAY_MIN" envDefault:"10s"`
	DelayMax             time.Duration `env:"DELAY_MAX" envDefault:"120s"`
	ProgressTickInterval time.Duration `env:"PROGRESS_TICK_INTERVAL" envDefault:"500ms"`
	JobTTL               time.Duration `env:"JOB_TTL" envDefault:"1h"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	ArtifactURLTTL       time.Duration `env:"ARTIFACT_URL_TTL" envDefault:"15m"`
	ShutdownGrace        time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`
	BackoffBase          time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`
	BackoffMax           time.Duration `env:"BACKOFF_MAX" envDefault:"30s"`
	// NextPollMs is the polling hint returned to clients on initiate.
	NextPollMs int64 `env:"NEXT_POLL_MS" envDefault:"2000"`

	// Object storage. StorageBackend "memory" keeps artifacts in-process for
	// dev and test runs without a MinIO endpoint.
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"minio"`
	MinioEndpoint  string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY" envDefault:"minioadmin"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY" envDefault:"minioadmin"`
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"downloads"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
	MinioRegion    string `env:"MINIO_REGION" envDefault:""`

	// CatalogPath points at the simulated-transfer size catalog.
	CatalogPath string `env:"CATALOG_PATH" envDefault:"configs/catalog.yaml"`

	CORSAllowOrigins string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin  int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Admin diagnostics surface; disabled unless both are set.
	// AdminPasswordHash is an argon2id PHC string, never a plaintext password.
	AdminUsername     string `env:"ADMIN_USERNAME"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"`
}

// AdminEnabled returns true if the diagnostics endpoints should be mounted.
func (c Config) AdminEnabled() bool {
	return c.AdminUsername != "" && c.AdminPasswordHash != ""
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.WorkerConcurrency < 1:
		return fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.WorkerConcurrency)
	case c.QueueCapacity < 1:
		return fmt.Errorf("QUEUE_CAPACITY must be >= 1, got %d", c.QueueCapacity)
	case c.MaxAttempts < 1:
		return fmt.Errorf("MAX_ATTEMPTS must be >= 1, got %d", c.MaxAttempts)
	case c.ProgressTickInterval <= 0:
		return fmt.Errorf("PROGRESS_TICK_INTERVAL must be positive, got %v", c.ProgressTickInterval)
	case c.JobTTL <= 0:
		return fmt.Errorf("JOB_TTL must be positive, got %v", c.JobTTL)
	case c.DelayMin < 0:
		return fmt.Errorf("DELAY_MIN must not be negative, got %v", c.DelayMin)
	case c.DelayMax < c.DelayMin:
		return fmt.Errorf("DELAY_MAX (%v) must be >= DELAY_MIN (%v)", c.DelayMax, c.DelayMin)
	case c.SweepInterval <= 0:
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %v", c.SweepInterval)
	case c.ArtifactURLTTL <= 0:
		return fmt.Errorf("ARTIFACT_URL_TTL must be positive, got %v", c.ArtifactURLTTL)
	}
	return nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// UseMemoryStorage reports whether the in-process object store should be
// wired instead of MinIO.
func (c Config) UseMemoryStorage() bool {
	return strings.ToLower(c.StorageBackend) == "memory" || c.MinioEndpoint == ""
}
