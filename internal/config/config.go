// Package config loads runtime settings for panelmerge from the environment.
// Every setting has an env tag; unset values fall back to the default tag and
// the whole struct is validated once so misconfiguration fails before any
// source is touched.
package config

import (
	"strconv"
	"time"
)

// Config holds all runtime configuration.
type Config struct {
	Database DatabaseConfig
	Input    InputConfig
	Ingest   IngestConfig
	Server   ServerConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig selects and tunes the store.
type DatabaseConfig struct {
	// Driver is postgres or sqlite (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the connection string: a postgres DSN or a sqlite file path.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// InputConfig locates the export files.
type InputConfig struct {
	// Driver is fs or s3 (default: fs)
	Driver string `env:"INPUT_DRIVER" default:"fs"`

	// Path is the directory for fs, or the key prefix inside the bucket for s3.
	Path string `env:"INPUT_PATH" default:"./data"`

	S3Bucket          string `env:"INPUT_S3_BUCKET"`
	S3Region          string `env:"INPUT_S3_REGION" envAlt:"AWS_REGION" default:"ap-northeast-2"`
	S3Endpoint        string `env:"INPUT_S3_ENDPOINT"`
	S3PathStyle       bool   `env:"INPUT_S3_PATH_STYLE" default:"false"`
	S3AccessKeyID     string `env:"INPUT_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"INPUT_S3_SECRET_ACCESS_KEY"`
}

// IngestConfig tunes a run.
type IngestConfig struct {
	// BatchSize is the number of answer rows per insert batch (default: 1000)
	BatchSize int `env:"INGEST_BATCH_SIZE" default:"1000"`

	// SkipUnchanged skips sources whose input fingerprint matches the last
	// successful run.
	SkipUnchanged bool `env:"INGEST_SKIP_UNCHANGED" default:"false"`

	// Timeout bounds a single source from read to commit (default: 10m)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"10m"`
}

// ServerConfig holds query API settings.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// SecurityConfig holds API authentication settings.
type SecurityConfig struct {
	// RequireAPIKey rejects API requests without a valid X-API-Key header.
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys.
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies lists CIDRs or IPs whose X-Real-IP and X-Forwarded-For
	// headers are believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig controls Prometheus export.
type MetricsConfig struct {
	// PushURL, when set, makes ingest push its run metrics to a Pushgateway.
	PushURL string `env:"METRICS_PUSH_URL"`
	Job     string `env:"METRICS_JOB" default:"panelmerge"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
