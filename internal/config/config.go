// Package config loads the fleet's configuration from a layered source:
// an optional YAML file, overridden by environment variables, the same
// "env wins" precedence the teacher expresses with its envOr/envIntOr/
// envDurationOr helpers — generalized here to also read a config file via
// knadh/koanf, since this system's setting count (DB DSN, proxy API,
// batch sizing) outgrew a flat env-only scheme.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/use-agent/adscraper/internal/cachestore"
)

const envPrefix = "ADSCRAPER_"

// Config is the fleet's full configuration surface.
type Config struct {
	Browser BrowserConfig
	Scraper ScraperConfig
	Cache   CacheConfig
	Queue   QueueConfig
	Proxy   ProxyConfig
	Worker  WorkerConfig
	RPC     RPCConfig
	Log     LogConfig
}

// BrowserConfig controls the headless browser instance.
type BrowserConfig struct {
	Headless       bool
	UserAgentPool  []string
	LaunchTimeout  time.Duration
}

// ScraperConfig controls navigation and smart-wait timing.
type ScraperConfig struct {
	PageLoadTimeout  time.Duration
	SmartWaitPoll    time.Duration
	SearchCrossCheck time.Duration
}

// CacheConfig controls the Cache Store.
type CacheConfig struct {
	Dir         string
	MaxMemBytes int64
	MaxAge      time.Duration
	Strategy    cachestore.ValidationStrategy
}

// QueueConfig controls the database connection.
type QueueConfig struct {
	DSN           string
	StuckAfter    time.Duration
	SweepInterval time.Duration
}

// ProxyConfig controls the Proxy Manager.
type ProxyConfig struct {
	AcquireURL  string
	BearerToken string
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Enabled     bool
	Partial     bool
	Rotate      bool
	RotateEvery time.Duration
}

// WorkerConfig controls fleet sizing.
type WorkerConfig struct {
	Concurrency int
	BatchSize   int
	MaxURLs     int
}

// RPCConfig names the transparency surface's request shape.
type RPCConfig struct {
	BaseURL    string
	OriginURL  string
	RPS        float64
	Burst      int
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string
	Format string // "json" | "text"
}

// Load builds a Config by layering defaults, an optional YAML file at
// path (skipped if path is empty; a path that cannot be read is an
// error), and environment variables prefixed
// "ADSCRAPER_" — the environment always wins, mirroring the teacher's
// envOr precedence.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(defaultsProvider(), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %q: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	cfg.Browser.Headless = k.Bool("browser.headless")
	cfg.Browser.LaunchTimeout = k.Duration("browser.launch_timeout")
	cfg.Scraper.PageLoadTimeout = k.Duration("scraper.page_load_timeout")
	cfg.Scraper.SmartWaitPoll = k.Duration("scraper.smart_wait_poll")
	cfg.Scraper.SearchCrossCheck = k.Duration("scraper.search_cross_check")
	cfg.Cache.Dir = k.String("cache.dir")
	cfg.Cache.MaxMemBytes = k.Int64("cache.max_mem_bytes")
	cfg.Cache.MaxAge = k.Duration("cache.max_age")
	cfg.Cache.Strategy = cachestore.ValidationStrategy(k.String("cache.strategy"))
	cfg.Queue.DSN = k.String("queue.dsn")
	cfg.Queue.StuckAfter = k.Duration("queue.stuck_after")
	cfg.Queue.SweepInterval = k.Duration("queue.sweep_interval")
	cfg.Proxy.AcquireURL = k.String("proxy.acquire_url")
	cfg.Proxy.BearerToken = k.String("proxy.bearer_token")
	cfg.Proxy.MaxAttempts = k.Int("proxy.max_attempts")
	cfg.Proxy.BaseBackoff = k.Duration("proxy.base_backoff")
	cfg.Proxy.MaxBackoff = k.Duration("proxy.max_backoff")
	cfg.Proxy.Enabled = k.Bool("proxy.enabled")
	cfg.Proxy.Partial = k.Bool("proxy.partial")
	cfg.Proxy.Rotate = k.Bool("proxy.rotate")
	cfg.Proxy.RotateEvery = k.Duration("proxy.rotate_every")
	cfg.Worker.Concurrency = k.Int("worker.concurrency")
	cfg.Worker.BatchSize = k.Int("worker.batch_size")
	cfg.Worker.MaxURLs = k.Int("worker.max_urls")
	cfg.RPC.BaseURL = k.String("rpc.base_url")
	cfg.RPC.OriginURL = k.String("rpc.origin_url")
	cfg.RPC.RPS = k.Float64("rpc.rps")
	cfg.RPC.Burst = k.Int("rpc.burst")
	cfg.Log.Level = k.String("log.level")
	cfg.Log.Format = k.String("log.format")

	return cfg, Validate(cfg)
}

// Validate rejects a configuration missing a value nothing can safely
// default.
func Validate(cfg Config) error {
	if cfg.Queue.DSN == "" {
		return fmt.Errorf("config: queue.dsn (ADSCRAPER_QUEUE__DSN) is required")
	}
	if cfg.RPC.BaseURL == "" {
		return fmt.Errorf("config: rpc.base_url (ADSCRAPER_RPC__BASE_URL) is required")
	}
	if cfg.Worker.BatchSize <= 0 {
		return fmt.Errorf("config: worker.batch_size must be positive")
	}
	if cfg.Proxy.Enabled && cfg.Proxy.AcquireURL == "" {
		return fmt.Errorf("config: proxy.acquire_url is required when proxies are enabled")
	}
	return nil
}

// envTransform maps ADSCRAPER_WORKER__BATCH_SIZE to koanf key
// "worker.batch_size": a double underscore separates config sections, a
// single underscore stays within a key name, mirroring how the file
// provider's YAML keys are already written (e.g. "batch_size").
func envTransform(key, value string) (string, any) {
	trimmed := strings.TrimPrefix(key, envPrefix)
	parts := strings.Split(trimmed, "__")
	for i, p := range parts {
		parts[i] = strings.ToLower(p)
	}
	return strings.Join(parts, "."), value
}

func defaultsProvider() koanf.Provider {
	return confmap.Provider(map[string]any{
		"browser.headless":          true,
		"browser.launch_timeout":    "30s",
		"scraper.page_load_timeout": "45s",
		"scraper.smart_wait_poll":   "500ms",
		"scraper.search_cross_check": "3s",
		"cache.dir":                 "./cache-data",
		"cache.max_mem_bytes":       int64(100 * 1024 * 1024),
		"cache.max_age":             "24h",
		"cache.strategy":            "age_and_version",
		"queue.stuck_after":         "10m",
		"queue.sweep_interval":      "2m",
		"proxy.max_attempts":        5,
		"proxy.base_backoff":       "500ms",
		"proxy.max_backoff":        "10s",
		"proxy.enabled":            true,
		"proxy.partial":            true,
		"proxy.rotate":             false,
		"proxy.rotate_every":       "10m",
		"worker.concurrency":       5,
		"worker.batch_size":        20,
		"worker.max_urls":          0,
		"rpc.rps":                  2.0,
		"rpc.burst":                4,
		"log.level":                "info",
		"log.format":               "json",
	})
}
