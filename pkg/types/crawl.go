package types

import (
	"net/url"
	"time"
)

// Source records how a frontier entry was discovered.
type Source string

const (
	SourceSeed    Source = "seed"
	SourceLink    Source = "link"
	SourceSitemap Source = "sitemap"
)

// ExtractionMethod identifies which heuristic produced a page's cleaned text.
type ExtractionMethod string

const (
	ExtractionMainContent  ExtractionMethod = "main_content"
	ExtractionFallbackBody ExtractionMethod = "fallback_body"
	ExtractionFailed       ExtractionMethod = "failed"
)

// PageStatus is the terminal outcome for a dequeued frontier entry.
type PageStatus string

const (
	StatusCompleted PageStatus = "completed"
	StatusFailed    PageStatus = "failed"
)

// CrawlState tracks the crawl lifecycle.
type CrawlState string

const (
	StateIdle       CrawlState = "idle"
	StateSeeding    CrawlState = "seeding"
	StateTraversing CrawlState = "traversing"
	StateCompleted  CrawlState = "completed"
	StateAborted    CrawlState = "aborted"
)

// FrontierEntry is a discovered-but-not-yet-fetched URL awaiting traversal.
// Entries are owned exclusively by the orchestrator's control loop.
type FrontierEntry struct {
	URL          *url.URL
	Depth        int
	Source       Source
	DiscoveredAt uint64
}

// Page is the raw outcome of a single fetch.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	ContentType     string
	StatusCode      int
	FetchedAt       time.Time
	ResponseLatency time.Duration
}

// PageMetadata carries the secondary artefacts of extraction, or the raw
// error message when the page failed.
type PageMetadata struct {
	Headings []string `json:"headings,omitempty"`
	Links    []string `json:"links,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// PageResult is the immutable record emitted once per dequeued frontier
// entry. Results accumulate until the crawl halts and are handed to the
// caller as a finished sequence.
type PageResult struct {
	URL              string           `json:"url"`
	Title            string           `json:"title"`
	Content          string           `json:"content"`
	ContentLength    int              `json:"content_length"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
	Depth            int              `json:"depth"`
	Source           Source           `json:"source"`
	Status           PageStatus       `json:"status"`
	Metadata         PageMetadata     `json:"metadata"`
	FetchedAt        time.Time        `json:"fetched_at"`
}

// CrawlStats is a snapshot of the running counters. Only the orchestrator's
// control loop mutates the underlying values.
type CrawlStats struct {
	State             CrawlState    `json:"state"`
	PagesAttempted    int           `json:"pages_attempted"`
	PagesSucceeded    int           `json:"pages_succeeded"`
	PagesFailed       int           `json:"pages_failed"`
	PagesExcluded     int           `json:"pages_excluded"`
	FrontierSize      int           `json:"frontier_size"`
	Elapsed           time.Duration `json:"elapsed"`
	LimiterQueueDepth int           `json:"limiter_queue_depth"`
	RecentRequests    int           `json:"recent_requests"`
}
