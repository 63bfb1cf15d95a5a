// Package config loads and validates summarizer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Source    SourceConfig    `mapstructure:"source"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// PipelineConfig shapes a run.
type PipelineConfig struct {
	BatchSize          int    `mapstructure:"batch_size"`
	Concurrency        int    `mapstructure:"concurrency"`
	Limit              int    `mapstructure:"limit"`
	BatchFailurePolicy string `mapstructure:"batch_failure_policy"`
	Describe           bool   `mapstructure:"describe"`
}

// ProviderConfig selects and tunes the generation backend.
type ProviderConfig struct {
	Backend        string  `mapstructure:"backend"`
	Model          string  `mapstructure:"model"`
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	AppName        string  `mapstructure:"app_name"`
}

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	Threshold int `mapstructure:"threshold"`
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// CacheConfig selects the summary cache backend.
type CacheConfig struct {
	Backend      string `mapstructure:"backend"`
	Dir          string `mapstructure:"dir"`
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
}

// FetchConfig controls page fetching and extraction.
type FetchConfig struct {
	UserAgent       string  `mapstructure:"user_agent"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	RespectRobots   bool    `mapstructure:"respect_robots"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	MaxBodyBytes    int     `mapstructure:"max_body_bytes"`
	MaxContentChars int     `mapstructure:"max_content_chars"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	// PromotionThresh is the readable-text length, in characters, below
	// which a page with client-rendering markers is rendered headlessly.
	PromotionThresh int  `mapstructure:"promotion_threshold"`
	SettleMs        int  `mapstructure:"settle_ms"`
}

// SourceConfig controls URL discovery. A non-empty URLs list replaces the
// sitemap walk.
type SourceConfig struct {
	SitemapPath string   `mapstructure:"sitemap_path"`
	MaxSitemaps int      `mapstructure:"max_sitemaps"`
	URLs        []string `mapstructure:"urls"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap encoder and minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Enabled     bool   `mapstructure:"enabled"`
}

var (
	cacheBackends    = []string{"memory", "local", "postgres", "gcs"}
	providerBackends = []string{"extractive", "openai", "openrouter", "local"}
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SUMMARIZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.batch_size", 10)
	v.SetDefault("pipeline.concurrency", 5)
	v.SetDefault("pipeline.limit", 0)
	v.SetDefault("pipeline.batch_failure_policy", "abort")
	v.SetDefault("pipeline.describe", true)
	v.SetDefault("provider.backend", "extractive")
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.temperature", 0.2)
	v.SetDefault("provider.max_tokens", 1024)
	v.SetDefault("provider.timeout_seconds", 60)
	v.SetDefault("provider.max_attempts", 3)
	v.SetDefault("provider.app_name", "site-summarizer")
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.timeout_ms", 60000)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.dir", ".summarizer-cache")
	v.SetDefault("cache.dsn", "")
	v.SetDefault("cache.table", "summary_cache")
	v.SetDefault("cache.max_conns", 4)
	v.SetDefault("cache.ensure_schema", true)
	v.SetDefault("cache.bucket", "")
	v.SetDefault("cache.prefix", "summaries")
	v.SetDefault("fetch.user_agent", "site-summarizer/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.rps", 2.0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.max_content_chars", 20000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 400)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("source.sitemap_path", "/sitemap.xml")
	v.SetDefault("source.max_sitemaps", 50)
	v.SetDefault("source.urls", []string{})
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "site-summarizer")
	v.SetDefault("telemetry.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.Limit < 0 {
		return fmt.Errorf("pipeline.limit must be >= 0")
	}
	switch strings.ToLower(c.Pipeline.BatchFailurePolicy) {
	case "", "abort", "skip":
	default:
		return fmt.Errorf("pipeline.batch_failure_policy must be abort or skip, got %q", c.Pipeline.BatchFailurePolicy)
	}
	if !oneOf(c.Provider.Backend, providerBackends) {
		return fmt.Errorf("provider.backend must be one of %v, got %q", providerBackends, c.Provider.Backend)
	}
	if c.Provider.MaxAttempts <= 0 {
		return fmt.Errorf("provider.max_attempts must be > 0")
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return fmt.Errorf("provider.timeout_seconds must be > 0")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be > 0")
	}
	if c.Breaker.TimeoutMs <= 0 {
		return fmt.Errorf("breaker.timeout_ms must be > 0")
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.RPS < 0 || c.Fetch.Burst < 0 {
		return fmt.Errorf("fetch.rps and fetch.burst must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

func (c CacheConfig) validate() error {
	if !oneOf(c.Backend, cacheBackends) {
		return fmt.Errorf("cache.backend must be one of %v, got %q", cacheBackends, c.Backend)
	}
	switch strings.ToLower(c.Backend) {
	case "local":
		if c.Dir == "" {
			return fmt.Errorf("cache.dir is required for the local backend")
		}
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("cache.dsn is required for the postgres backend")
		}
	case "gcs":
		if c.Bucket == "" {
			return fmt.Errorf("cache.bucket is required for the gcs backend")
		}
	}
	return nil
}

func oneOf(value string, allowed []string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// ProviderTimeout is the per-request deadline for chat backends.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// BreakerTimeout is how long an open breaker rejects calls.
func (c Config) BreakerTimeout() time.Duration {
	return time.Duration(c.Breaker.TimeoutMs) * time.Millisecond
}

// FetchTimeout is the per-page fetch deadline.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NavTimeout is the headless navigation deadline.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// SettleDelay is how long headless rendering runs before capture.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Headless.SettleMs) * time.Millisecond
}

// PublishEnabled reports whether run notifications go to Pub/Sub.
func (c Config) PublishEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.TopicName != ""
}
