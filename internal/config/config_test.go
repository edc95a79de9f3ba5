package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.Concurrency != 10 {
		t.Errorf("concurrency = %d, want 10", cfg.Crawler.Concurrency)
	}
	if cfg.Crawler.StartPage != 0 {
		t.Errorf("start_page = %d, want 0", cfg.Crawler.StartPage)
	}
	if cfg.Crawler.EmptyPageThreshold != 2 {
		t.Errorf("empty_page_threshold = %d, want 2", cfg.Crawler.EmptyPageThreshold)
	}
	if cfg.Crawler.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want 3", cfg.Crawler.MaxAttempts)
	}
	if cfg.FetchTimeout() != 15*time.Second {
		t.Errorf("fetch timeout = %v, want 15s", cfg.FetchTimeout())
	}
	if cfg.Cooldown() != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", cfg.Cooldown())
	}
	if cfg.Server.MetricsAddr != "" {
		t.Errorf("metrics_addr = %q, want empty", cfg.Server.MetricsAddr)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawler:
  url_template: "https://catalog.example.com/apps?page=%d"
  concurrency: 6
  start_page: 40
  empty_page_threshold: 3
  max_attempts: 5
  user_agent: catalog-bot
  politeness_rps: 2.5
  cooldown_seconds: 10
http:
  timeout_seconds: 45
  backoff_initial_ms: 100
  backoff_max_ms: 500
server:
  metrics_addr: "127.0.0.1:9102"
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.URLTemplate != "https://catalog.example.com/apps?page=%d" {
		t.Errorf("url_template = %q", cfg.Crawler.URLTemplate)
	}
	if cfg.Crawler.Concurrency != 6 {
		t.Errorf("concurrency = %d, want 6", cfg.Crawler.Concurrency)
	}
	if cfg.Crawler.StartPage != 40 {
		t.Errorf("start_page = %d, want 40", cfg.Crawler.StartPage)
	}
	if cfg.Crawler.EmptyPageThreshold != 3 {
		t.Errorf("empty_page_threshold = %d, want 3", cfg.Crawler.EmptyPageThreshold)
	}
	if cfg.Crawler.PolitenessRPS != 2.5 {
		t.Errorf("politeness_rps = %v, want 2.5", cfg.Crawler.PolitenessRPS)
	}
	if cfg.BackoffInitial() != 100*time.Millisecond {
		t.Errorf("backoff initial = %v", cfg.BackoffInitial())
	}
	if cfg.BackoffMax() != 500*time.Millisecond {
		t.Errorf("backoff max = %v", cfg.BackoffMax())
	}
	if cfg.Logging.Development {
		t.Error("logging.development should be false")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func(t *testing.T) Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "missing template",
			mutate:  func(c *Config) { c.Crawler.URLTemplate = "" },
			wantSub: "url_template",
		},
		{
			name:    "template without placeholder",
			mutate:  func(c *Config) { c.Crawler.URLTemplate = "https://example.com/apps" },
			wantSub: "placeholder",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Crawler.Concurrency = 0 },
			wantSub: "concurrency",
		},
		{
			name:    "negative start page",
			mutate:  func(c *Config) { c.Crawler.StartPage = -1 },
			wantSub: "start_page",
		},
		{
			name:    "zero empty threshold",
			mutate:  func(c *Config) { c.Crawler.EmptyPageThreshold = 0 },
			wantSub: "empty_page_threshold",
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *Config) { c.Crawler.MaxAttempts = 0 },
			wantSub: "max_attempts",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.HTTP.TimeoutSeconds = 0 },
			wantSub: "timeout_seconds",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}
