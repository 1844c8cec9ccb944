package api

import (
	"time"

	"github.com/adriejeon/featureDetective/pkg/types"
)

// StartCrawlRequest creates a crawl from the server's base configuration
// with per-request overrides. Pointer fields distinguish "absent" from zero.
type StartCrawlRequest struct {
	SeedURL             string   `json:"seed_url"`
	MaxPages            *int     `json:"max_pages,omitempty"`
	MaxDepth            *int     `json:"max_depth,omitempty"`
	RateLimit           *float64 `json:"rate_limit,omitempty"`
	FollowSubdomains    *bool    `json:"follow_subdomains,omitempty"`
	IncludePatterns     []string `json:"include_patterns,omitempty"`
	ExcludePatterns     []string `json:"exclude_patterns,omitempty"`
	CSSExcludeSelectors []string `json:"css_exclude_selectors,omitempty"`
	UseSitemap          *bool    `json:"use_sitemap,omitempty"`
	RespectRobotsTxt    *bool    `json:"respect_robots_txt,omitempty"`
	UserAgent           string   `json:"user_agent,omitempty"`
}

// CrawlSummary is the status document returned for a crawl.
type CrawlSummary struct {
	ID         string           `json:"id"`
	SeedURL    string           `json:"seed_url"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Stats      types.CrawlStats `json:"stats"`
	Error      string           `json:"error,omitempty"`
}
