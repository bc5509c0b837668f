package infra

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"market_cache/internal/domain"
)

const minimalConfig = `
feed:
  ws_url: wss://stream.example.com
  symbols: [BTCUSDT, ETHUSDT]
  channels: [ticker, kline]
cache:
  dir: /tmp/cache
`

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Feed.Source != "binance-ws" {
		t.Errorf("Expected default source, got %q", cfg.Feed.Source)
	}
	if cfg.ReconnectDelay() != 5*time.Second {
		t.Errorf("Expected 5s reconnect delay, got %v", cfg.ReconnectDelay())
	}
	if cfg.WriteInterval() != time.Second {
		t.Errorf("Expected 1s write interval, got %v", cfg.WriteInterval())
	}
	if cfg.StreamTTL() >= cfg.RestTTL() {
		t.Errorf("Stream TTL (%v) should be shorter than REST TTL (%v)", cfg.StreamTTL(), cfg.RestTTL())
	}
	if cfg.StreamCachePath() != filepath.Join("/tmp/cache", "binance_ws_prices.json") {
		t.Errorf("Unexpected stream cache path %q", cfg.StreamCachePath())
	}
}

func TestConfig_StreamNames(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	want := []string{"btcusdt@ticker", "btcusdt@kline_1m", "ethusdt@ticker", "ethusdt@kline_1m"}
	if got := cfg.StreamNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("StreamNames() = %v, want %v", got, want)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"bad ws url", "feed: {ws_url: http://x, symbols: [BTCUSDT]}\ncache: {dir: /tmp}", "feed.ws_url"},
		{"no symbols", "feed: {ws_url: wss://x}\ncache: {dir: /tmp}", "feed.symbols"},
		{"unknown channel", "feed: {ws_url: wss://x, symbols: [BTCUSDT], channels: [orders]}\ncache: {dir: /tmp}", "feed.channels"},
		{"no cache dir", "feed: {ws_url: wss://x, symbols: [BTCUSDT]}", "cache.dir"},
		{"write slower than ttl", "feed: {ws_url: wss://x, symbols: [BTCUSDT]}\ncache: {dir: /tmp, write_interval_ms: 20000}", "cache.write_interval_ms"},
		{"rest enabled without url", "feed: {ws_url: wss://x, symbols: [BTCUSDT]}\nrest: {enabled: true}\ncache: {dir: /tmp}", "rest.rest_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, cfgErr.Field)
			}
		})
	}
}

func TestConfig_EnvOverride(t *testing.T) {
	t.Setenv("MARKETCACHE_CACHE_DIR", "/var/cache/prices")
	t.Setenv("MARKETCACHE_LOG_LEVEL", "debug")

	cfg, err := ParseConfig([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Cache.Dir != "/var/cache/prices" {
		t.Errorf("Expected env override for cache dir, got %q", cfg.Cache.Dir)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected env override for log level, got %q", cfg.Logging.Level)
	}
}

func TestLoadConfig_NotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Feed.Symbols) != 2 {
		t.Errorf("Expected 2 symbols, got %d", len(cfg.Feed.Symbols))
	}
}
