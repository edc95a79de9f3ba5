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
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig governs the pagination walk and worker pool.
type CrawlerConfig struct {
	URLTemplate        string  `mapstructure:"url_template"`
	Concurrency        int     `mapstructure:"concurrency"`
	StartPage          int     `mapstructure:"start_page"`
	EmptyPageThreshold int     `mapstructure:"empty_page_threshold"`
	MaxAttempts        int     `mapstructure:"max_attempts"`
	UserAgent          string  `mapstructure:"user_agent"`
	PolitenessRPS      float64 `mapstructure:"politeness_rps"`
	CooldownSeconds    int     `mapstructure:"cooldown_seconds"`
}

// HTTPConfig configures per-attempt fetch behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// ServerConfig controls the optional metrics endpoint. An empty address
// disables it.
type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. An empty path loads defaults
// and environment overrides only.
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
	v.SetDefault("crawler.url_template", "https://market.android.com/catalog?page=%d")
	v.SetDefault("crawler.concurrency", 10)
	v.SetDefault("crawler.start_page", 0)
	v.SetDefault("crawler.empty_page_threshold", 2)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.user_agent", "market-crawler/0.1")
	v.SetDefault("crawler.politeness_rps", 0)
	v.SetDefault("crawler.cooldown_seconds", 30)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.URLTemplate == "" {
		return fmt.Errorf("crawler.url_template must be set")
	}
	if !strings.Contains(c.Crawler.URLTemplate, "%d") {
		return fmt.Errorf("crawler.url_template must contain a %%d page placeholder")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.StartPage < 0 {
		return fmt.Errorf("crawler.start_page must be >= 0")
	}
	if c.Crawler.EmptyPageThreshold <= 0 {
		return fmt.Errorf("crawler.empty_page_threshold must be > 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	return nil
}

// FetchTimeout returns the per-attempt fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry backoff delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry backoff ceiling.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// Cooldown returns the pool-wide pause after a rate limit signal.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Crawler.CooldownSeconds) * time.Second
}
