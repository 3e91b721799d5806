// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Circuit   CircuitConfig   `mapstructure:"circuit"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	SoftBlock SoftBlockConfig `mapstructure:"softblock"`
	Health    HealthConfig    `mapstructure:"health"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Reports   ReportsConfig   `mapstructure:"reports"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the status API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the fetch pipeline.
type CrawlerConfig struct {
	Concurrency      int    `mapstructure:"concurrency"`
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	DomainIntervalMs int    `mapstructure:"domain_interval_ms"`
	URLFile          string `mapstructure:"url_file"`
}

// RetryConfig tunes backoff timing and per-kind attempt budgets.
type RetryConfig struct {
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	JitterFactor     float64 `mapstructure:"jitter_factor"`
	// Budgets overrides the per-kind total attempt counts, keyed by the
	// error kind name (network_timeout, http_rate_limit, ...).
	Budgets map[string]int `mapstructure:"budgets"`
}

// CircuitConfig controls the per-domain circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds"`
}

// ProxyConfig sets pool file paths and scoring constants.
type ProxyConfig struct {
	CandidateFile     string  `mapstructure:"candidate_file"`
	ScoreFile         string  `mapstructure:"score_file"`
	RotatorFile       string  `mapstructure:"rotator_file"`
	SuccessMultiplier float64 `mapstructure:"success_multiplier"`
	FailureMultiplier float64 `mapstructure:"failure_multiplier"`
	MaxFailures       int     `mapstructure:"max_failures"`
	MinScore          float64 `mapstructure:"min_score"`
}

// SoftBlockConfig controls content-level block detection.
type SoftBlockConfig struct {
	MinContentLength int      `mapstructure:"min_content_length"`
	CaptchaPatterns  []string `mapstructure:"captcha_patterns"`
	BlockPatterns    []string `mapstructure:"block_patterns"`
}

// HealthConfig sets per-metric thresholds for report health assessment. Each
// pair is (healthy bound, degraded bound); beyond the degraded bound the
// metric is critical.
type HealthConfig struct {
	SuccessRateHealthy    float64 `mapstructure:"success_rate_healthy"`
	SuccessRateDegraded   float64 `mapstructure:"success_rate_degraded"`
	ErrorRateHealthy      float64 `mapstructure:"error_rate_healthy"`
	ErrorRateDegraded     float64 `mapstructure:"error_rate_degraded"`
	BlockRateHealthy      float64 `mapstructure:"block_rate_healthy"`
	BlockRateDegraded     float64 `mapstructure:"block_rate_degraded"`
	AvgResponseHealthyMs  float64 `mapstructure:"avg_response_healthy_ms"`
	AvgResponseDegradedMs float64 `mapstructure:"avg_response_degraded_ms"`
}

// HeadlessConfig configures the browser-rendering fetcher.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// ReportsConfig controls session report persistence.
type ReportsConfig struct {
	Dir           string `mapstructure:"dir"`
	BaselineDays  int    `mapstructure:"baseline_days"`
	TopErrorCount int    `mapstructure:"top_error_count"`
}

// DBConfig controls the optional report archive database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Environment variables use the
// CRAWLER_ prefix with dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "propwatch-bot/0.1")
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.domain_interval_ms", 1000)
	v.SetDefault("retry.backoff_initial_ms", 250)
	v.SetDefault("retry.backoff_max_ms", 30000)
	v.SetDefault("retry.jitter_factor", 0.3)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.cooldown_seconds", 60)
	v.SetDefault("proxy.success_multiplier", 1.1)
	v.SetDefault("proxy.failure_multiplier", 0.5)
	v.SetDefault("proxy.max_failures", 3)
	v.SetDefault("proxy.min_score", 0.01)
	v.SetDefault("softblock.min_content_length", 500)
	v.SetDefault("health.success_rate_healthy", 90)
	v.SetDefault("health.success_rate_degraded", 75)
	v.SetDefault("health.error_rate_healthy", 5)
	v.SetDefault("health.error_rate_degraded", 15)
	v.SetDefault("health.block_rate_healthy", 5)
	v.SetDefault("health.block_rate_degraded", 15)
	v.SetDefault("health.avg_response_healthy_ms", 5000)
	v.SetDefault("health.avg_response_degraded_ms", 10000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("reports.dir", "reports")
	v.SetDefault("reports.baseline_days", 7)
	v.SetDefault("reports.top_error_count", 5)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Retry.JitterFactor < 0 {
		return fmt.Errorf("retry.jitter_factor must be >= 0")
	}
	if c.Circuit.FailureThreshold <= 0 {
		return fmt.Errorf("circuit.failure_threshold must be > 0")
	}
	if c.Proxy.SuccessMultiplier <= 1 {
		return fmt.Errorf("proxy.success_multiplier must be > 1")
	}
	if c.Proxy.FailureMultiplier <= 0 || c.Proxy.FailureMultiplier >= 1 {
		return fmt.Errorf("proxy.failure_multiplier must be in (0, 1)")
	}
	if c.Health.SuccessRateDegraded > c.Health.SuccessRateHealthy {
		return fmt.Errorf("health.success_rate_degraded must not exceed the healthy bound")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// FetchTimeout converts the crawler timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// DomainInterval converts the per-domain spacing into a duration.
func (c Config) DomainInterval() time.Duration {
	return time.Duration(c.Crawler.DomainIntervalMs) * time.Millisecond
}
