package infra

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv       string `envconfig:"APP_ENV" default:"development"`
	Port         string `envconfig:"PORT" default:"8080"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	DBMaxConns   int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	JWTSecret    string `envconfig:"JWT_SECRET" required:"true"`
	WorkerSecret string `envconfig:"WORKER_SECRET" required:"true"`

	// Empty trigger URL dispatches batches in-process.
	WorkerTriggerURL     string        `envconfig:"WORKER_TRIGGER_URL"`
	DispatchTimeout      time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"15m"`
	StaleBatchAfter      time.Duration `envconfig:"STALE_BATCH_AFTER" default:"2m"`
	SweepInterval        time.Duration `envconfig:"SWEEP_INTERVAL" default:"10s"`
	AbandonedIngestAfter time.Duration `envconfig:"ABANDONED_INGEST_AFTER" default:"15m"`

	// Zero derives the threshold from the poll ceiling.
	StuckItemAfter time.Duration `envconfig:"STUCK_ITEM_AFTER"`

	MaxImagesPerBatch int           `envconfig:"MAX_IMAGES_PER_BATCH" default:"10"`
	MaxImageBytes     int64         `envconfig:"MAX_IMAGE_BYTES" default:"10485760"`
	ItemConcurrency   int           `envconfig:"ITEM_CONCURRENCY" default:"3"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	PollMaxAttempts   int           `envconfig:"POLL_MAX_ATTEMPTS" default:"60"`
	SourceURLTTL      time.Duration `envconfig:"SOURCE_URL_TTL" default:"10m"`
	OutputURLTTL      time.Duration `envconfig:"OUTPUT_URL_TTL" default:"24h"`
	BundleURLTTL      time.Duration `envconfig:"BUNDLE_URL_TTL" default:"1h"`
	BundleFetchBatch  int           `envconfig:"BUNDLE_FETCH_BATCH" default:"5"`

	StorageDriver     string `envconfig:"STORAGE_DRIVER" default:"fs"`
	StoragePath       string `envconfig:"STORAGE_PATH" default:"./storage"`
	StorageBaseURL    string `envconfig:"STORAGE_BASE_URL"`
	StorageSigningKey string `envconfig:"STORAGE_SIGNING_KEY"`
	S3Endpoint        string `envconfig:"S3_ENDPOINT"`
	S3Bucket          string `envconfig:"S3_BUCKET"`
	S3Region          string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey       string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey       string `envconfig:"S3_SECRET_KEY"`

	EnhanceBaseURL      string        `envconfig:"ENHANCE_BASE_URL" default:"https://api.enhance.example.com"`
	EnhanceAPIKey       string        `envconfig:"ENHANCE_API_KEY"`
	EnhanceAPIKeySecret string        `envconfig:"ENHANCE_API_KEY_SECRET"`
	EnhanceTimeout      time.Duration `envconfig:"ENHANCE_TIMEOUT" default:"60s"`

	GCPProjectID string `envconfig:"GCP_PROJECT_ID"`
	NotifyTopic  string `envconfig:"NOTIFY_TOPIC"`
	GeoIPDBPath  string `envconfig:"GEOIP_DB_PATH"`

	CORSOrigins      []string      `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`
	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"30s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"60s"`
	HTTPIdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	RateLimitPerMin  int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30"`
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if strings.TrimSpace(cfg.WorkerSecret) == "" {
		return nil, fmt.Errorf("WORKER_SECRET is required")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		cfg.Port = "8080"
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if strings.TrimSpace(cfg.StorageBaseURL) == "" {
		cfg.StorageBaseURL = fmt.Sprintf("http://localhost:%s/files", cfg.Port)
	}
	cfg.StorageBaseURL = strings.TrimRight(cfg.StorageBaseURL, "/")
	if _, err := url.Parse(cfg.StorageBaseURL); err != nil {
		return nil, fmt.Errorf("STORAGE_BASE_URL is invalid: %w", err)
	}
	if cfg.StorageSigningKey == "" {
		cfg.StorageSigningKey = cfg.WorkerSecret
	}

	switch cfg.StorageDriver {
	case "fs", "memory":
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER=s3")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.ItemConcurrency < 1 {
		cfg.ItemConcurrency = 1
	}
	if cfg.BundleFetchBatch < 1 {
		cfg.BundleFetchBatch = 1
	}
	if cfg.MaxImagesPerBatch < 1 {
		return nil, fmt.Errorf("MAX_IMAGES_PER_BATCH must be positive")
	}
	if cfg.PollMaxAttempts < 1 {
		return nil, fmt.Errorf("POLL_MAX_ATTEMPTS must be positive")
	}

	return &cfg, nil
}

// UsesDatabase reports whether a PostgreSQL connection is configured.
func (c *Config) UsesDatabase() bool {
	return c != nil && strings.TrimSpace(c.DatabaseURL) != ""
}
