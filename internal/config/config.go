package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration of the service, read from the environment.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	MaxUploadBytes  int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	CORSOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	Database Database
	Redis    Redis
	FacePP   FacePP
	Storage  Storage
}

// Database selects the gorm dialector and its DSN.
type Database struct {
	Driver string `env:"DB_DRIVER" envDefault:"postgres"`
	DSN    string `env:"DATABASE_DSN" envDefault:"host=postgres user=postgres password=postgres dbname=faces port=5432 sslmode=disable"`
}

// Redis configures the record cache. An empty address disables caching.
type Redis struct {
	Addr string        `env:"REDIS_ADDR"`
	TTL  time.Duration `env:"CACHE_TTL" envDefault:"5m"`
}

// FacePP holds the provider endpoint and its two static credentials.
type FacePP struct {
	BaseURL   string        `env:"FACEPP_BASE_URL" envDefault:"https://api-us.faceplusplus.com"`
	APIKey    string        `env:"FACEPP_API_KEY"`
	APISecret string        `env:"FACEPP_API_SECRET"`
	Timeout   time.Duration `env:"FACEPP_TIMEOUT" envDefault:"30s"`
}

// Storage selects where uploaded images live.
type Storage struct {
	Backend   string `env:"STORAGE_BACKEND" envDefault:"disk"`
	MediaRoot string `env:"MEDIA_ROOT" envDefault:"./media"`
	MediaURL  string `env:"MEDIA_URL" envDefault:"/media/"`

	S3Bucket   string `env:"S3_BUCKET"`
	S3Region   string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Prefix   string `env:"S3_PREFIX"`
	S3Endpoint string `env:"S3_ENDPOINT"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration combinations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver))
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "disk":
		if c.Storage.MediaRoot == "" {
			errs = append(errs, errors.New("MEDIA_ROOT is required for disk storage"))
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend))
	}

	if c.FacePP.APIKey == "" || c.FacePP.APISecret == "" {
		errs = append(errs, errors.New("FACEPP_API_KEY and FACEPP_API_SECRET are required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}

	return errors.Join(errs...)
}
