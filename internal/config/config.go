// Package config loads and validates server configuration from the
// environment, following the same pattern the rest of the fleet uses.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// LogLevel controls zerolog's minimum level.
type LogLevel string

// LogFormat selects the output encoder.
type LogFormat string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"

	LogFormatJSON   LogFormat = "json"
	LogFormatPretty LogFormat = "pretty"
)

// Config holds all server configuration.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// Server basics
	Addr          string `env:"TW_ADDR" envDefault:":8080"`
	NATSUrl       string `env:"TW_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	DatabaseURL   string `env:"TW_DATABASE_URL" envDefault:"postgres://localhost:5432/tickwatch"`
	MarketTZ      string `env:"TW_MARKET_TZ" envDefault:"Asia/Kolkata"`
	JWTSigningKey string `env:"TW_JWT_SIGNING_KEY" envDefault:"dev-only-change-me"`

	// Resource limits
	CPULimit    float64 `env:"TW_CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit int64   `env:"TW_MEMORY_LIMIT" envDefault:"536870912"`

	MaxConnections int `env:"TW_MAX_CONNECTIONS" envDefault:"2000"`
	MaxGoroutines  int `env:"TW_MAX_GOROUTINES" envDefault:"4000"`

	CPURejectThreshold float64 `env:"TW_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"TW_CPU_PAUSE_THRESHOLD" envDefault:"80.0"`

	// Timings from spec.md §6
	HeartbeatInterval        time.Duration `env:"TW_HEARTBEAT_INTERVAL" envDefault:"10s"`
	UpstreamReadDeadline      time.Duration `env:"TW_UPSTREAM_READ_DEADLINE" envDefault:"40s"`
	ReconnectBackoffBase      time.Duration `env:"TW_RECONNECT_BACKOFF_BASE" envDefault:"1s"`
	ReconnectBackoffMax       time.Duration `env:"TW_RECONNECT_BACKOFF_MAX" envDefault:"30s"`
	ReconnectBackoffJitter    float64       `env:"TW_RECONNECT_BACKOFF_JITTER" envDefault:"0.2"`
	SubscriptionBatchWindow   time.Duration `env:"TW_SUBSCRIPTION_BATCH_WINDOW" envDefault:"100ms"`
	ChannelSendQueue          int           `env:"TW_CHANNEL_SEND_QUEUE" envDefault:"256"`
	CommandQueue              int           `env:"TW_COMMAND_QUEUE" envDefault:"1024"`
	PersistenceFlushInterval  time.Duration `env:"TW_PERSISTENCE_FLUSH_INTERVAL" envDefault:"5s"`
	SessionTTLWarm            time.Duration `env:"TW_SESSION_TTL_WARM" envDefault:"15m"`
	SessionTTLCold            time.Duration `env:"TW_SESSION_TTL_COLD" envDefault:"720h"`
	SquareOffWindowStart      string        `env:"TW_SQUARE_OFF_WINDOW_START" envDefault:"15:20"`
	SquareOffWindowEnd        string        `env:"TW_SQUARE_OFF_WINDOW_END" envDefault:"15:30"`
	AutoSquareOff             bool          `env:"TW_AUTO_SQUARE_OFF" envDefault:"true"`
	PerTradeCap               float64       `env:"TW_PER_TRADE_CAP" envDefault:"1.0"`

	MetricsInterval time.Duration `env:"TW_METRICS_INTERVAL" envDefault:"15s"`

	LogLevel  string `env:"TW_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"TW_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"TW_ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the
// environment. Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("TW_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("TW_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("TW_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("TW_CPU_PAUSE_THRESHOLD (%.1f) must be >= TW_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}
	if c.PerTradeCap <= 0 || c.PerTradeCap > 1.0 {
		return fmt.Errorf("TW_PER_TRADE_CAP must be in (0, 1.0], got %.2f", c.PerTradeCap)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("TW_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("TW_LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	if _, err := time.ParseInLocation("15:04", c.SquareOffWindowStart, time.UTC); err != nil {
		return fmt.Errorf("TW_SQUARE_OFF_WINDOW_START must be HH:MM: %w", err)
	}
	if _, err := time.ParseInLocation("15:04", c.SquareOffWindowEnd, time.UTC); err != nil {
		return fmt.Errorf("TW_SQUARE_OFF_WINDOW_END must be HH:MM: %w", err)
	}

	return nil
}

// LogConfig emits the resolved configuration as a structured log line.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("market_tz", c.MarketTZ).
		Int("max_connections", c.MaxConnections).
		Int("max_goroutines", c.MaxGoroutines).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Dur("persistence_flush_interval", c.PersistenceFlushInterval).
		Str("square_off_window", c.SquareOffWindowStart+"-"+c.SquareOffWindowEnd).
		Bool("auto_square_off", c.AutoSquareOff).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
