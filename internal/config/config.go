package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything required to initialise the crawler engine and
// its collaborators.
type Config struct {
	Crawl   CrawlConfig   `yaml:"crawl"`
	Worker  WorkerConfig  `yaml:"worker"`
	DB      SQLConfig     `yaml:"db"`
	Logging LoggingConfig `yaml:"logging"`
}

// CrawlConfig is the immutable per-run crawl policy. Exclude patterns always
// win over include patterns when both match the same URL.
type CrawlConfig struct {
	SeedURL             string   `yaml:"seed_url" json:"seed_url"`
	MaxPages            int      `yaml:"max_pages" json:"max_pages"`
	MaxDepth            int      `yaml:"max_depth" json:"max_depth"`
	RateLimit           float64  `yaml:"rate_limit" json:"rate_limit"`
	Burst               int      `yaml:"burst" json:"burst"`
	Timeout             Duration `yaml:"timeout" json:"timeout"`
	FollowSubdomains    bool     `yaml:"follow_subdomains" json:"follow_subdomains"`
	IncludePatterns     []string `yaml:"include_patterns" json:"include_patterns,omitempty"`
	ExcludePatterns     []string `yaml:"exclude_patterns" json:"exclude_patterns,omitempty"`
	CSSExcludeSelectors []string `yaml:"css_exclude_selectors" json:"css_exclude_selectors,omitempty"`
	CSSClickSelectors   []string `yaml:"css_click_selectors" json:"css_click_selectors,omitempty"`
	CSSWaitSelectors    []string `yaml:"css_wait_selectors" json:"css_wait_selectors,omitempty"`
	UseSitemap          bool     `yaml:"use_sitemap" json:"use_sitemap"`
	RespectRobotsTxt    bool     `yaml:"respect_robots_txt" json:"respect_robots_txt"`
	UserAgent           string   `yaml:"user_agent" json:"user_agent,omitempty"`
}

// WorkerConfig controls fetch parallelism and the result queue bound.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	QueueSize   int `yaml:"queue_size"`
}

// SQLConfig describes the optional relational sink for finished crawls.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Crawl: CrawlConfig{
			MaxPages:         100,
			MaxDepth:         3,
			RateLimit:        1.0,
			Burst:            1,
			Timeout:          DurationFrom(30 * time.Second),
			FollowSubdomains: true,
			UseSitemap:       true,
			RespectRobotsTxt: true,
		},
		Worker: WorkerConfig{
			Concurrency: 1,
			QueueSize:   64,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and validates a YAML config file. Unknown keys are an error.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on configuration errors, before any network I/O.
func (c *Config) Validate() error {
	crawl := &c.Crawl

	if strings.TrimSpace(crawl.SeedURL) == "" {
		return fmt.Errorf("crawl.seed_url is required")
	}
	parsed, err := url.Parse(crawl.SeedURL)
	if err != nil {
		return fmt.Errorf("parse crawl.seed_url %q: %w", crawl.SeedURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("crawl.seed_url %q must use http or https", crawl.SeedURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("crawl.seed_url %q missing host", crawl.SeedURL)
	}

	if crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0, got %d", crawl.MaxPages)
	}
	if crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be >= 0, got %d", crawl.MaxDepth)
	}
	if crawl.RateLimit <= 0 {
		return fmt.Errorf("crawl.rate_limit must be > 0, got %g", crawl.RateLimit)
	}
	if crawl.Burst < 0 {
		return fmt.Errorf("crawl.burst must be >= 0, got %d", crawl.Burst)
	}
	if crawl.Timeout.Duration <= 0 {
		return fmt.Errorf("crawl.timeout must be > 0")
	}
	for _, pat := range append(crawl.IncludePatterns, crawl.ExcludePatterns...) {
		if strings.TrimSpace(pat) == "" {
			return fmt.Errorf("empty glob pattern in crawl filters")
		}
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0, got %d", c.Worker.Concurrency)
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be > 0, got %d", c.Worker.QueueSize)
	}
	if c.Worker.QueueSize < c.Worker.Concurrency {
		return fmt.Errorf("worker.queue_size must be >= worker.concurrency, got %d < %d",
			c.Worker.QueueSize, c.Worker.Concurrency)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.Logging.Level)
	}
	return nil
}

// Seed returns the parsed seed URL. Validate must have succeeded first.
func (c *CrawlConfig) Seed() (*url.URL, error) {
	return url.Parse(c.SeedURL)
}
