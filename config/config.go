package config

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	BackendFirestore = "firestore"
	BackendMemory    = "memory"

	LogTargetStdout = "stdout"
	LogTargetCloud  = "cloud"
)

type Config struct {
	ProjectID          string        `envconfig:"GOOGLE_CLOUD_PROJECT"`
	StorageBucket      string        `envconfig:"FIREBASE_STORAGE_BUCKET"`
	Backend            string        `envconfig:"BACKEND" default:"firestore"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"INFO"`
	LogTarget          string        `envconfig:"LOG_TARGET" default:"stdout"`
	Port               string        `envconfig:"PORT" default:"8080"`
	MaxPhotoBytes      int64         `envconfig:"MAX_PHOTO_BYTES" default:"5242880"`
	ResolveConcurrency int           `envconfig:"RESOLVE_CONCURRENCY" default:"8"`
	StreamHeartbeat    time.Duration `envconfig:"STREAM_HEARTBEAT" default:"25s"`
	FeedPageSize       int           `envconfig:"FEED_PAGE_SIZE" default:"50"`
}

// Load reads .env (when present) and the environment. On GCP the project
// id falls back to the metadata server.
func Load(ctx context.Context) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}

	if cfg.ProjectID == "" && metadata.OnGCE() {
		projectID, err := metadata.ProjectIDWithContext(ctx)
		if err != nil {
			return Config{}, fmt.Errorf("project id from metadata: %w", err)
		}
		cfg.ProjectID = projectID
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Backend {
	case BackendFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for the %s backend", c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown BACKEND %q", c.Backend)
	}
	switch c.LogTarget {
	case LogTargetStdout:
	case LogTargetCloud:
		if c.ProjectID == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for LOG_TARGET %s", c.LogTarget)
		}
	default:
		return fmt.Errorf("unknown LOG_TARGET %q", c.LogTarget)
	}
	if c.ResolveConcurrency < 1 {
		return fmt.Errorf("RESOLVE_CONCURRENCY must be positive, got %d", c.ResolveConcurrency)
	}
	if c.MaxPhotoBytes < 1 {
		return fmt.Errorf("MAX_PHOTO_BYTES must be positive, got %d", c.MaxPhotoBytes)
	}
	return nil
}
