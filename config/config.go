// Package config loads engine configuration from environment variables
// (prefix MP_) and validates it at startup. Invalid numeric semantics are
// fatal: the engine refuses to start rather than run with undefined behavior.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"marketpulse/internal/model"
)

// Config holds all engine configuration.
type Config struct {
	// Tracked instruments: comma-separated "SYMBOL:Display Name" pairs.
	TrackedSymbols string `mapstructure:"tracked_symbols"`

	// Ingestion
	IngestInterval time.Duration `mapstructure:"ingest_interval"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	WorkerPoolSize int           `mapstructure:"worker_pool_size"`

	// Indicator semantics
	OscPeriod     int     `mapstructure:"osc_period"`
	OscOversold   float64 `mapstructure:"osc_oversold"`
	OscOverbought float64 `mapstructure:"osc_overbought"`
	SentPositive  float64 `mapstructure:"sent_pos"`
	SentNegative  float64 `mapstructure:"sent_neg"`

	// Delivery
	SessionQueueDepth   int           `mapstructure:"session_queue_depth"`
	AuthRefreshInterval time.Duration `mapstructure:"auth_refresh_interval"`
	BackfillSamples     int           `mapstructure:"backfill_samples"`

	// Listeners
	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Storage
	SQLitePath    string `mapstructure:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr"` // empty disables the cache tier
	RedisPassword string `mapstructure:"redis_password"`

	// External feed: "sim" or "http"
	FeedMode       string `mapstructure:"feed_mode"`
	FeedURL        string `mapstructure:"feed_url"`
	FeedAPIKey     string `mapstructure:"feed_api_key"`
	FeedTOTPSecret string `mapstructure:"feed_totp_secret"`
}

// Load reads configuration from MP_-prefixed environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("tracked_symbols", "AAPL:Apple Inc.,MSFT:Microsoft Corp.")
	v.SetDefault("ingest_interval", "5s")
	v.SetDefault("fetch_timeout", "3s")
	v.SetDefault("worker_pool_size", 8)
	v.SetDefault("osc_period", 14)
	v.SetDefault("osc_oversold", 30.0)
	v.SetDefault("osc_overbought", 70.0)
	v.SetDefault("sent_pos", 0.05)
	v.SetDefault("sent_neg", -0.05)
	v.SetDefault("session_queue_depth", 256)
	v.SetDefault("auth_refresh_interval", "5s")
	v.SetDefault("backfill_samples", 100)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("sqlite_path", "data/samples.db")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("feed_mode", "sim")
	v.SetDefault("feed_url", "")
	v.SetDefault("feed_api_key", "")
	v.SetDefault("feed_totp_secret", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configured numeric semantics. Any error here is fatal at
// startup.
func (c *Config) Validate() error {
	if c.OscPeriod < 2 {
		return fmt.Errorf("config: osc_period must be >= 2, got %d", c.OscPeriod)
	}
	if c.OscOversold >= c.OscOverbought {
		return fmt.Errorf("config: osc_oversold (%.2f) must be below osc_overbought (%.2f)",
			c.OscOversold, c.OscOverbought)
	}
	if c.OscOversold < 0 || c.OscOverbought > 100 {
		return fmt.Errorf("config: oscillator bands must lie in [0, 100], got [%.2f, %.2f]",
			c.OscOversold, c.OscOverbought)
	}
	if c.SentNegative >= c.SentPositive {
		return fmt.Errorf("config: sent_neg (%.2f) must be below sent_pos (%.2f)",
			c.SentNegative, c.SentPositive)
	}
	if c.SentNegative < -1 || c.SentPositive > 1 {
		return fmt.Errorf("config: sentiment thresholds must lie in [-1, 1]")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: worker_pool_size must be positive, got %d", c.WorkerPoolSize)
	}
	if c.IngestInterval <= 0 {
		return fmt.Errorf("config: ingest_interval must be positive, got %v", c.IngestInterval)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("config: fetch_timeout must be positive, got %v", c.FetchTimeout)
	}
	if c.SessionQueueDepth <= 0 {
		return fmt.Errorf("config: session_queue_depth must be positive, got %d", c.SessionQueueDepth)
	}
	if c.AuthRefreshInterval <= 0 {
		return fmt.Errorf("config: auth_refresh_interval must be positive, got %v", c.AuthRefreshInterval)
	}
	if c.BackfillSamples < 0 {
		return fmt.Errorf("config: backfill_samples must be >= 0, got %d", c.BackfillSamples)
	}
	if c.FeedMode != "sim" && c.FeedMode != "http" {
		return fmt.Errorf("config: feed_mode must be \"sim\" or \"http\", got %q", c.FeedMode)
	}
	if c.FeedMode == "http" && c.FeedURL == "" {
		return fmt.Errorf("config: feed_url is required when feed_mode=http")
	}
	return nil
}

// ParseInstruments parses the TrackedSymbols string into instruments.
// Entries without a display name use the symbol itself.
func (c *Config) ParseInstruments() []model.Instrument {
	parts := strings.Split(c.TrackedSymbols, ",")
	out := make([]model.Instrument, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		symbol, name, found := strings.Cut(p, ":")
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		if !found || strings.TrimSpace(name) == "" {
			name = symbol
		}
		out = append(out, model.Instrument{Symbol: symbol, Name: strings.TrimSpace(name)})
	}
	return out
}
