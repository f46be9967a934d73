package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/khg9859/Eternal/internal/core"
)

// LoadEnvFile loads a dotenv file into the process environment, overwriting
// variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) (bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := godotenv.Overload(path); err != nil {
		return false, fmt.Errorf("load %s: %w", path, err)
	}
	return true, nil
}

// Load reads configuration from environment variables, applies defaults and
// validates the result. Every failure is a *core.ConfigurationError naming the
// first offending variable; the wrapped error lists all of them.
func Load() (*Config, error) {
	cfg := &Config{}

	var l loader
	l.walk(reflect.ValueOf(cfg).Elem())
	if err := l.err(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

type fieldProblem struct {
	env string
	err error
}

// loader fills tagged struct fields from the environment and keeps going past
// bad values so one run reports every problem.
type loader struct {
	problems []fieldProblem
}

func (l *loader) walk(v reflect.Value) {
	t := v.Type()
	for i := range t.NumField() {
		field, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			l.walk(fv)
			continue
		}

		env := field.Tag.Get("env")
		if env == "" {
			continue
		}
		value, ok := lookup(env, field.Tag.Get("envAlt"))
		if !ok {
			if field.Tag.Get("required") == "true" {
				l.problems = append(l.problems, fieldProblem{env, errors.New("required environment variable is not set")})
				continue
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}
		if err := setField(fv, value); err != nil {
			l.problems = append(l.problems, fieldProblem{env, fmt.Errorf("invalid value %q: %w", value, err)})
		}
	}
}

func (l *loader) err() error {
	if len(l.problems) == 0 {
		return nil
	}
	first := l.problems[0]
	if len(l.problems) == 1 {
		return &core.ConfigurationError{Field: first.env, Err: first.err}
	}
	errs := []error{first.err}
	for _, p := range l.problems[1:] {
		errs = append(errs, fmt.Errorf("%s: %w", p.env, p.err))
	}
	return &core.ConfigurationError{Field: first.env, Err: errors.Join(errs...)}
}

// lookup returns the first non-empty value of the primary or alternate name.
func lookup(env, alt string) (string, bool) {
	if v := os.Getenv(env); v != "" {
		return v, true
	}
	if alt != "" {
		if v := os.Getenv(alt); v != "" {
			return v, true
		}
	}
	return "", false
}

// setField parses value into the field according to its kind.
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem().Kind())
		}
		parts := strings.FieldsFunc(value, func(r rune) bool { return r == ',' })
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		field.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER (%q) must be one of: postgres, sqlite", c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	switch c.Input.Driver {
	case "fs":
		if c.Input.Path == "" {
			errs = append(errs, "INPUT_PATH is required for the fs input driver")
		}
	case "s3":
		if c.Input.S3Bucket == "" {
			errs = append(errs, "INPUT_S3_BUCKET is required for the s3 input driver")
		}
		if (c.Input.S3AccessKeyID == "") != (c.Input.S3SecretAccessKey == "") {
			errs = append(errs, "INPUT_S3_ACCESS_KEY_ID and INPUT_S3_SECRET_ACCESS_KEY must be set together")
		}
	default:
		errs = append(errs, fmt.Sprintf("INPUT_DRIVER (%q) must be one of: fs, s3", c.Input.Driver))
	}

	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, "INGEST_BATCH_SIZE must be positive")
	}
	if c.Ingest.Timeout <= 0 {
		errs = append(errs, "INGEST_TIMEOUT must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty")
	}
	for _, proxy := range c.Security.TrustedProxies {
		if !validProxy(proxy) {
			errs = append(errs, fmt.Sprintf("TRUSTED_PROXIES entry %q is not an IP or CIDR", proxy))
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if c.Metrics.PushURL != "" && c.Metrics.Job == "" {
		errs = append(errs, "METRICS_JOB is required when METRICS_PUSH_URL is set")
	}

	if len(errs) > 0 {
		return &core.ConfigurationError{
			Field: "config",
			Err:   fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - ")),
		}
	}

	return nil
}

// String returns a representation safe for logs. Secrets are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Database: {Driver: %q, URL: [MASKED], MaxConns: %d}, ", c.Database.Driver, c.Database.MaxConns)
	fmt.Fprintf(&b, "Input: {Driver: %q, Path: %q, Bucket: %q}, ", c.Input.Driver, c.Input.Path, c.Input.S3Bucket)
	fmt.Fprintf(&b, "Ingest: {BatchSize: %d, SkipUnchanged: %v}, ", c.Ingest.BatchSize, c.Ingest.SkipUnchanged)
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
