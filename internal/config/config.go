// Package config loads and validates gateway configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Registry backends supported by the key registry client.
const (
	BackendAirtable = "airtable"
	BackendPostgres = "postgres"
)

// Registry failure policies applied when a stale record is still cached.
const (
	FailClosed = "closed"
	FailSoft   = "soft"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                int      `mapstructure:"port"`
	ShutdownTimeoutSecs int      `mapstructure:"shutdown_timeout_seconds"`
	CORSOrigins         []string `mapstructure:"cors_origins"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RegistryConfig points at the remote key registry.
type RegistryConfig struct {
	Backend       string  `mapstructure:"backend"`
	BaseURL       string  `mapstructure:"base_url"`
	Token         string  `mapstructure:"token"`
	BaseID        string  `mapstructure:"base_id"`
	Table         string  `mapstructure:"table"`
	KeyField      string  `mapstructure:"key_field"`
	ActiveField   string  `mapstructure:"active_field"`
	DSN           string  `mapstructure:"dsn"`
	TimeoutMs     int     `mapstructure:"timeout_ms"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// CacheConfig governs the key validation cache.
type CacheConfig struct {
	TTLSeconds         int    `mapstructure:"ttl_seconds"`
	NegativeTTLSeconds int    `mapstructure:"negative_ttl_seconds"`
	MaxEntries         int    `mapstructure:"max_entries"`
	FailPolicy         string `mapstructure:"fail_policy"`
	RedisAddr          string `mapstructure:"redis_addr"`
	RedisPrefix        string `mapstructure:"redis_prefix"`
}

// AuthConfig holds the static payload served by /auth/request-key.
type AuthConfig struct {
	RequestMessage string `mapstructure:"request_message"`
	Contact        string `mapstructure:"contact"`
}

// CrawlerConfig governs the bundled crawl engine.
type CrawlerConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	DeadlineSeconds  int     `mapstructure:"deadline_seconds"`
	RespectRobots    bool    `mapstructure:"respect_robots"`
	MaxBodyBytes     int     `mapstructure:"max_body_bytes"`
	HostRatePerSec   float64 `mapstructure:"host_rate_per_second"`
	HostBurst        int     `mapstructure:"host_burst"`
	SiteMaxPages     int     `mapstructure:"site_max_pages"`
	SiteParallelism  int     `mapstructure:"site_parallelism"`
	SiteDeadlineSecs int     `mapstructure:"site_deadline_seconds"`
}

// HeadlessConfig configures the chromedp renderer.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DispatcherConfig bounds how many crawls run at once.
type DispatcherConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("port", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind PORT: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	// Cloud Run style PORT wins over the config file.
	if port := v.GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8002)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("registry.backend", BackendAirtable)
	v.SetDefault("registry.base_url", "https://api.airtable.com")
	v.SetDefault("registry.key_field", "API Key")
	v.SetDefault("registry.table", "api_keys")
	v.SetDefault("registry.timeout_ms", 3000)
	v.SetDefault("registry.rate_per_second", 5)
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("cache.negative_ttl_seconds", 300)
	v.SetDefault("cache.max_entries", 4096)
	v.SetDefault("cache.fail_policy", FailClosed)
	v.SetDefault("cache.redis_prefix", "crawlgate:key:")
	v.SetDefault("auth.request_message", "Please contact the administrator to request an API key")
	v.SetDefault("auth.contact", "admin@example.com")
	v.SetDefault("crawler.user_agent", "crawlgate/0.1")
	v.SetDefault("crawler.deadline_seconds", 30)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.host_rate_per_second", 2)
	v.SetDefault("crawler.host_burst", 4)
	v.SetDefault("crawler.site_max_pages", 20)
	v.SetDefault("crawler.site_parallelism", 5)
	v.SetDefault("crawler.site_deadline_seconds", 120)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("dispatcher.max_concurrent", 16)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Registry.Backend {
	case BackendAirtable:
		if c.Registry.Token == "" || c.Registry.BaseID == "" || c.Registry.Table == "" {
			return fmt.Errorf("registry.token, registry.base_id and registry.table are required for airtable")
		}
	case BackendPostgres:
		if c.Registry.DSN == "" {
			return fmt.Errorf("registry.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("registry.backend must be %q or %q", BackendAirtable, BackendPostgres)
	}
	if c.Registry.TimeoutMs <= 0 {
		return fmt.Errorf("registry.timeout_ms must be > 0")
	}
	if c.Crawler.DeadlineSeconds <= 0 {
		return fmt.Errorf("crawler.deadline_seconds must be > 0")
	}
	if c.RegistryTimeout() >= c.CrawlDeadline() {
		return fmt.Errorf("registry.timeout_ms must be shorter than crawler.deadline_seconds")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0")
	}
	if c.Cache.NegativeTTLSeconds < 0 {
		return fmt.Errorf("cache.negative_ttl_seconds must be >= 0")
	}
	if c.Cache.FailPolicy != FailClosed && c.Cache.FailPolicy != FailSoft {
		return fmt.Errorf("cache.fail_policy must be %q or %q", FailClosed, FailSoft)
	}
	if c.Dispatcher.MaxConcurrent <= 0 {
		return fmt.Errorf("dispatcher.max_concurrent must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// RegistryTimeout is the bound applied to a single registry lookup.
func (c Config) RegistryTimeout() time.Duration {
	return time.Duration(c.Registry.TimeoutMs) * time.Millisecond
}

// CrawlDeadline is the per-request budget for a crawl operation.
func (c Config) CrawlDeadline() time.Duration {
	return time.Duration(c.Crawler.DeadlineSeconds) * time.Second
}

// SiteDeadline is the budget for a multi-page /advanced crawl.
func (c Config) SiteDeadline() time.Duration {
	if c.Crawler.SiteDeadlineSecs <= 0 {
		return c.CrawlDeadline()
	}
	return time.Duration(c.Crawler.SiteDeadlineSecs) * time.Second
}

// CacheTTL is how long a positive validation is trusted.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// NegativeCacheTTL is how long a negative validation is trusted.
func (c Config) NegativeCacheTTL() time.Duration {
	return time.Duration(c.Cache.NegativeTTLSeconds) * time.Second
}
