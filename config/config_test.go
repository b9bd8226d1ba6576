package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		TrackedSymbols:      "AAPL:Apple Inc.",
		IngestInterval:      5 * time.Second,
		FetchTimeout:        3 * time.Second,
		WorkerPoolSize:      8,
		OscPeriod:           14,
		OscOversold:         30,
		OscOverbought:       70,
		SentPositive:        0.05,
		SentNegative:        -0.05,
		SessionQueueDepth:   256,
		AuthRefreshInterval: 5 * time.Second,
		BackfillSamples:     100,
		FeedMode:            "sim",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejectsBadRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"window_too_short", func(c *Config) { c.OscPeriod = 1 }},
		{"inverted_bands", func(c *Config) { c.OscOversold = 70; c.OscOverbought = 30 }},
		{"band_out_of_range", func(c *Config) { c.OscOverbought = 120 }},
		{"inverted_sentiment", func(c *Config) { c.SentNegative = 0.1 }},
		{"zero_pool", func(c *Config) { c.WorkerPoolSize = 0 }},
		{"zero_interval", func(c *Config) { c.IngestInterval = 0 }},
		{"zero_timeout", func(c *Config) { c.FetchTimeout = 0 }},
		{"zero_queue_depth", func(c *Config) { c.SessionQueueDepth = 0 }},
		{"zero_refresh", func(c *Config) { c.AuthRefreshInterval = 0 }},
		{"negative_backfill", func(c *Config) { c.BackfillSamples = -1 }},
		{"bad_feed_mode", func(c *Config) { c.FeedMode = "csv" }},
		{"http_without_url", func(c *Config) { c.FeedMode = "http"; c.FeedURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestParseInstruments(t *testing.T) {
	cfg := validConfig()
	cfg.TrackedSymbols = "AAPL:Apple Inc., MSFT:Microsoft Corp. ,GOOG,  ,:noname"

	got := cfg.ParseInstruments()
	if len(got) != 3 {
		t.Fatalf("expected 3 instruments, got %d: %+v", len(got), got)
	}
	if got[0].Symbol != "AAPL" || got[0].Name != "Apple Inc." {
		t.Errorf("AAPL parsed wrong: %+v", got[0])
	}
	if got[2].Symbol != "GOOG" || got[2].Name != "GOOG" {
		t.Errorf("bare symbol should use symbol as name: %+v", got[2])
	}
}

func TestLoadUsesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OscPeriod != 14 {
		t.Errorf("default osc_period: got %d, want 14", cfg.OscPeriod)
	}
	if cfg.IngestInterval != 5*time.Second {
		t.Errorf("default ingest_interval: got %v", cfg.IngestInterval)
	}
}
