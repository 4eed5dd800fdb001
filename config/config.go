// Package config loads runtime settings from the environment and builds
// the process logger.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/warp/fleet-ledger/ledger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds runtime configuration for the server and worker.
type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout  time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"fleet.db"`
	PGDSN       string `envconfig:"PG_DSN"`

	// Empty disables the projection cache and the worker.
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	TxTimeout          time.Duration `envconfig:"TX_TIMEOUT" default:"5s"`
	SequenceMaxRetries int           `envconfig:"SEQUENCE_MAX_RETRIES" default:"3"`
	PaymentTolerance   string        `envconfig:"PAYMENT_TOLERANCE" default:"0.00"`

	IntegrityInterval  time.Duration `envconfig:"INTEGRITY_INTERVAL" default:"1h"`
	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"600"`

	tolerance ledger.Amount
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("config: PG_DSN required for STORE_DRIVER=%s", DriverPostgres)
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	tol, err := ledger.ParseAmount(c.PaymentTolerance)
	if err != nil || tol.IsNegative() {
		return fmt.Errorf("config: PAYMENT_TOLERANCE %q must be a non-negative amount", c.PaymentTolerance)
	}
	c.tolerance = tol
	if c.SequenceMaxRetries < 1 {
		return fmt.Errorf("config: SEQUENCE_MAX_RETRIES must be at least 1")
	}
	return nil
}

// Tolerance is PAYMENT_TOLERANCE parsed.
func (c *Config) Tolerance() ledger.Amount { return c.tolerance }

func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// NewLogger returns a text or JSON slog.Logger writing to stdout.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg != nil {
		opts.Level = parseLevel(cfg.LogLevel)
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
