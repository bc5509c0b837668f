package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"market_cache/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent on REST requests
	DefaultUserAgent = "market-cache/1.0"
)

// Config holds every externally supplied setting.
// LoadConfig로 로드된 후에 환경 변수를 통해 경로/URL을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		Source           string   `yaml:"source"`   // e.g., "binance-ws"
		Exchange         string   `yaml:"exchange"` // e.g., "BINANCE"
		WSURL            string   `yaml:"ws_url"`
		Symbols          []string `yaml:"symbols"`  // e.g., ["BTCUSDT", "ETHUSDT"]
		Channels         []string `yaml:"channels"` // e.g., ["ticker", "trade"]
		KlineInterval    string   `yaml:"kline_interval"`
		ReconnectDelayMS int      `yaml:"reconnect_delay_ms"`
		PingIntervalSec  int      `yaml:"ping_interval_sec"`
		PongTimeoutSec   int      `yaml:"pong_timeout_sec"`
		QueueSize        int      `yaml:"queue_size"`
	} `yaml:"feed"`

	Rest struct {
		Enabled         bool    `yaml:"enabled"`
		Source          string  `yaml:"source"` // e.g., "binance-rest"
		RestURL         string  `yaml:"rest_url"`
		PollIntervalSec int     `yaml:"poll_interval_sec"`
		RequestsPerSec  float64 `yaml:"requests_per_sec"`
	} `yaml:"rest"`

	Cache struct {
		Dir                 string `yaml:"dir"`
		StreamFile          string `yaml:"stream_file"`
		RestFile            string `yaml:"rest_file"`
		WriteIntervalMS     int    `yaml:"write_interval_ms"`
		StreamTTLSec        int    `yaml:"stream_ttl_sec"`
		RestTTLSec          int    `yaml:"rest_ttl_sec"`
		MinReloadIntervalMS int    `yaml:"min_reload_interval_ms"`
	} `yaml:"cache"`

	Storage struct {
		Path            string `yaml:"path"`
		SyncIntervalSec int    `yaml:"sync_interval_sec"`
	} `yaml:"storage"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
		}
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies defaults and env overrides, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	// 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Feed.Source == "" {
		c.Feed.Source = "binance-ws"
	}
	if c.Feed.Exchange == "" {
		c.Feed.Exchange = "BINANCE"
	}
	if len(c.Feed.Channels) == 0 {
		c.Feed.Channels = []string{"ticker"}
	}
	if c.Feed.KlineInterval == "" {
		c.Feed.KlineInterval = "1m"
	}
	if c.Feed.ReconnectDelayMS == 0 {
		c.Feed.ReconnectDelayMS = 5000
	}
	if c.Feed.PingIntervalSec == 0 {
		c.Feed.PingIntervalSec = 30
	}
	if c.Feed.PongTimeoutSec == 0 {
		c.Feed.PongTimeoutSec = 60
	}
	if c.Feed.QueueSize == 0 {
		c.Feed.QueueSize = 1024
	}
	if c.Rest.Source == "" {
		c.Rest.Source = "binance-rest"
	}
	if c.Rest.PollIntervalSec == 0 {
		c.Rest.PollIntervalSec = 15
	}
	if c.Rest.RequestsPerSec == 0 {
		c.Rest.RequestsPerSec = 1
	}
	if c.Cache.StreamFile == "" {
		c.Cache.StreamFile = "binance_ws_prices.json"
	}
	if c.Cache.RestFile == "" {
		c.Cache.RestFile = "binance_rest_prices.json"
	}
	if c.Cache.WriteIntervalMS == 0 {
		c.Cache.WriteIntervalMS = 1000
	}
	if c.Cache.StreamTTLSec == 0 {
		c.Cache.StreamTTLSec = 10
	}
	if c.Cache.RestTTLSec == 0 {
		c.Cache.RestTTLSec = 60
	}
	if c.Cache.MinReloadIntervalMS == 0 {
		c.Cache.MinReloadIntervalMS = 1000
	}
	if c.Storage.SyncIntervalSec == 0 {
		c.Storage.SyncIntervalSec = 60
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.File == "" {
		c.Logging.File = "feeder.log"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 28
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	// Feed
	if !hasPrefix(c.Feed.WSURL, "ws://") && !hasPrefix(c.Feed.WSURL, "wss://") {
		return &domain.ConfigError{Field: "feed.ws_url", Err: fmt.Errorf("invalid websocket URL %q", c.Feed.WSURL)}
	}
	if len(c.Feed.Symbols) == 0 {
		return &domain.ConfigError{Field: "feed.symbols", Err: errors.New("at least one symbol is required")}
	}
	for _, ch := range c.Feed.Channels {
		switch ch {
		case "trade", "aggTrade", "ticker", "miniTicker", "depth", "kline":
		default:
			return &domain.ConfigError{Field: "feed.channels", Err: fmt.Errorf("unknown channel %q", ch)}
		}
	}
	if c.Feed.ReconnectDelayMS < 0 || c.Feed.PingIntervalSec < 0 || c.Feed.QueueSize < 0 {
		return &domain.ConfigError{Field: "feed", Err: errors.New("durations and sizes must be positive")}
	}
	if c.Feed.PongTimeoutSec <= c.Feed.PingIntervalSec {
		return &domain.ConfigError{Field: "feed.pong_timeout_sec", Err: errors.New("must exceed ping_interval_sec")}
	}

	// REST fallback
	if c.Rest.Enabled && !hasPrefix(c.Rest.RestURL, "http://") && !hasPrefix(c.Rest.RestURL, "https://") {
		return &domain.ConfigError{Field: "rest.rest_url", Err: fmt.Errorf("invalid REST URL %q", c.Rest.RestURL)}
	}

	// Cache
	if c.Cache.Dir == "" {
		return &domain.ConfigError{Field: "cache.dir", Err: errors.New("cache directory is required")}
	}
	if c.Cache.WriteIntervalMS <= 0 || c.Cache.StreamTTLSec <= 0 || c.Cache.RestTTLSec <= 0 {
		return &domain.ConfigError{Field: "cache", Err: errors.New("intervals and TTLs must be positive")}
	}
	if c.WriteInterval() >= c.StreamTTL() {
		return &domain.ConfigError{Field: "cache.write_interval_ms", Err: errors.New("must be shorter than stream_ttl_sec")}
	}

	return nil
}

// StreamNames expands symbols x channels into combined-stream tokens.
func (c *Config) StreamNames() []string {
	names := make([]string, 0, len(c.Feed.Symbols)*len(c.Feed.Channels))
	for _, sym := range c.Feed.Symbols {
		pair := strings.ToLower(sym)
		for _, ch := range c.Feed.Channels {
			if ch == "kline" {
				names = append(names, pair+"@kline_"+c.Feed.KlineInterval)
				continue
			}
			names = append(names, pair+"@"+ch)
		}
	}
	return names
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Feed.ReconnectDelayMS) * time.Millisecond
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Feed.PingIntervalSec) * time.Second
}

func (c *Config) PongTimeout() time.Duration {
	return time.Duration(c.Feed.PongTimeoutSec) * time.Second
}

func (c *Config) WriteInterval() time.Duration {
	return time.Duration(c.Cache.WriteIntervalMS) * time.Millisecond
}

func (c *Config) StreamTTL() time.Duration {
	return time.Duration(c.Cache.StreamTTLSec) * time.Second
}

func (c *Config) RestTTL() time.Duration {
	return time.Duration(c.Cache.RestTTLSec) * time.Second
}

func (c *Config) MinReloadInterval() time.Duration {
	return time.Duration(c.Cache.MinReloadIntervalMS) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Rest.PollIntervalSec) * time.Second
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Storage.SyncIntervalSec) * time.Second
}

// StreamCachePath is the file written by the streaming feed's writer.
func (c *Config) StreamCachePath() string {
	return filepath.Join(c.Cache.Dir, c.Cache.StreamFile)
}

// RestCachePath is the file written by the REST fallback's writer.
func (c *Config) RestCachePath() string {
	return filepath.Join(c.Cache.Dir, c.Cache.RestFile)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if dir := os.Getenv("MARKETCACHE_CACHE_DIR"); dir != "" {
		cfg.Cache.Dir = dir
	}
	if url := os.Getenv("MARKETCACHE_WS_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if url := os.Getenv("MARKETCACHE_REST_URL"); url != "" {
		cfg.Rest.RestURL = url
	}
	if level := os.Getenv("MARKETCACHE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
