// Package config loads and validates service configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sandeepkv93/finance-tracker-auth/internal/security"
)

type Config struct {
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseDriver string        `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBTimeout      time.Duration `mapstructure:"DB_TIMEOUT"`

	RedisAddr         string        `mapstructure:"REDIS_ADDR"`
	RedisPassword     string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int           `mapstructure:"REDIS_DB"`
	RevocationBackend string        `mapstructure:"REVOCATION_BACKEND"`
	StoreTimeout      time.Duration `mapstructure:"STORE_TIMEOUT"`

	// JWTSecret is the Base64 encoded HS256 key. It is validated when the
	// token codec is built, not here.
	JWTSecret           string        `mapstructure:"JWT_SECRET"`
	JWTIssuer           string        `mapstructure:"JWT_ISSUER"`
	JWTKeyID            string        `mapstructure:"JWT_KEY_ID"`
	JWTAccessTTL        string        `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL       string        `mapstructure:"JWT_REFRESH_TTL"`
	JWTClockSkewSeconds int           `mapstructure:"JWT_CLOCK_SKEW_SECONDS"`
	VerificationTTL     time.Duration `mapstructure:"VERIFICATION_TTL"`
	BcryptCost          int           `mapstructure:"BCRYPT_COST"`

	SMTPHost      string        `mapstructure:"SMTP_HOST"`
	SMTPPort      int           `mapstructure:"SMTP_PORT"`
	SMTPUsername  string        `mapstructure:"SMTP_USERNAME"`
	SMTPPassword  string        `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom      string        `mapstructure:"SMTP_FROM"`
	AppBaseURL    string        `mapstructure:"APP_BASE_URL"`
	NotifyTimeout time.Duration `mapstructure:"NOTIFY_TIMEOUT"`

	AuthRateLimitPerMinute int    `mapstructure:"AUTH_RATE_LIMIT_RPM"`
	APIRateLimitPerMinute  int    `mapstructure:"API_RATE_LIMIT_RPM"`
	RateLimitBackend       string `mapstructure:"RATE_LIMIT_BACKEND"`

	OTELMetricsEnabled        bool          `mapstructure:"OTEL_METRICS_ENABLED"`
	OTELTracingEnabled        bool          `mapstructure:"OTEL_TRACING_ENABLED"`
	OTELLogsEnabled           bool          `mapstructure:"OTEL_LOGS_ENABLED"`
	OTELExporterOTLPEndpoint  string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELExporterOTLPInsecure  bool          `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName           string        `mapstructure:"OTEL_SERVICE_NAME"`
	OTELEnvironment           string        `mapstructure:"OTEL_ENVIRONMENT"`
	OTELMetricsExportInterval time.Duration `mapstructure:"OTEL_METRICS_EXPORT_INTERVAL"`

	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                    ":8080",
	"APP_ENV":                      "development",
	"LOG_LEVEL":                    "info",
	"DATABASE_DRIVER":              "sqlite",
	"DATABASE_URL":                 "file:finance.db",
	"DB_TIMEOUT":                   "3s",
	"REDIS_ADDR":                   "localhost:6379",
	"REDIS_PASSWORD":               "",
	"REDIS_DB":                     0,
	"REVOCATION_BACKEND":           "redis",
	"STORE_TIMEOUT":                "500ms",
	"JWT_SECRET":                   "",
	"JWT_ISSUER":                   "",
	"JWT_KEY_ID":                   "",
	"JWT_ACCESS_TTL":               "30m",
	"JWT_REFRESH_TTL":              "7d",
	"JWT_CLOCK_SKEW_SECONDS":       30,
	"VERIFICATION_TTL":             "900s",
	"BCRYPT_COST":                  12,
	"SMTP_HOST":                    "",
	"SMTP_PORT":                    587,
	"SMTP_USERNAME":                "",
	"SMTP_PASSWORD":                "",
	"SMTP_FROM":                    "no-reply@finance-tracker.local",
	"APP_BASE_URL":                 "http://localhost:8080",
	"NOTIFY_TIMEOUT":               "10s",
	"AUTH_RATE_LIMIT_RPM":          30,
	"API_RATE_LIMIT_RPM":           600,
	"RATE_LIMIT_BACKEND":           "local",
	"OTEL_METRICS_ENABLED":         false,
	"OTEL_TRACING_ENABLED":         false,
	"OTEL_LOGS_ENABLED":            false,
	"OTEL_EXPORTER_OTLP_ENDPOINT":  "localhost:4317",
	"OTEL_EXPORTER_OTLP_INSECURE":  true,
	"OTEL_SERVICE_NAME":            "finance-tracker-auth",
	"OTEL_ENVIRONMENT":             "",
	"OTEL_METRICS_EXPORT_INTERVAL": "15s",
	"SHUTDOWN_TIMEOUT":             "10s",
}

// Load reads .env (if present), then the environment. Env vars override .env.
// A .env that exists but cannot be read or parsed fails with Stage "load".
// Every call records a config.validation.events measurement.
func Load() (*Config, error) {
	cfg, err := load()
	recordLoad(context.Background(), cfg, err)
	return cfg, err
}

// LoadError reports which stage of Load failed.
type LoadError struct {
	Stage string
	Err   error
}

func (e *LoadError) Error() string { return e.Stage + " config: " + e.Err.Error() }

func (e *LoadError) Unwrap() error { return e.Err }

func envFileMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

func load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !envFileMissing(err) {
		return nil, &LoadError{Stage: "load", Err: err}
	}
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &LoadError{Stage: "parse", Err: err}
	}
	if err := cfg.validate(); err != nil {
		return nil, &LoadError{Stage: "validate", Err: err}
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	c.RevocationBackend = strings.ToLower(strings.TrimSpace(c.RevocationBackend))
	c.RateLimitBackend = strings.ToLower(strings.TrimSpace(c.RateLimitBackend))

	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("HTTP_ADDR must be set"))
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.RevocationBackend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("REVOCATION_BACKEND must be redis or memory, got %q", c.RevocationBackend))
	}
	switch c.RateLimitBackend {
	case "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be local or redis, got %q", c.RateLimitBackend))
	}
	if (c.RevocationBackend == "redis" || c.RateLimitBackend == "redis") && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required for the redis backends"))
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, errors.New("BCRYPT_COST must be between 4 and 31"))
	}
	for name, d := range map[string]time.Duration{
		"DB_TIMEOUT":       c.DBTimeout,
		"STORE_TIMEOUT":    c.StoreTimeout,
		"VERIFICATION_TTL": c.VerificationTTL,
		"NOTIFY_TIMEOUT":   c.NotifyTimeout,
		"SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.AuthRateLimitPerMinute <= 0 || c.APIRateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.OTELMetricsEnabled && c.OTELMetricsExportInterval <= 0 {
		errs = append(errs, errors.New("OTEL_METRICS_EXPORT_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// AccessTTL parses JWT_ACCESS_TTL. Unset or invalid values yield 30m.
func (c *Config) AccessTTL() time.Duration {
	return security.ParseTTL(c.JWTAccessTTL, security.DefaultAccessTTL)
}

// RefreshTTL parses JWT_REFRESH_TTL. Unset or invalid values yield 7d.
func (c *Config) RefreshTTL() time.Duration {
	return security.ParseTTL(c.JWTRefreshTTL, security.DefaultRefreshTTL)
}

func (c *Config) ClockSkew() time.Duration {
	if c.JWTClockSkewSeconds < 0 {
		return 0
	}
	return time.Duration(c.JWTClockSkewSeconds) * time.Second
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}
