package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adriejeon/featureDetective/internal/config"
	"github.com/adriejeon/featureDetective/internal/fetcher"
	"github.com/adriejeon/featureDetective/internal/processor"
	robotsclient "github.com/adriejeon/featureDetective/internal/robots"
	"github.com/adriejeon/featureDetective/internal/sitemap"
	"github.com/adriejeon/featureDetective/pkg/types"
)

// Engine owns the crawl frontier, the visited set, and the overall traversal
// policy. A single control loop drives the BFS; parallelism is confined to
// fetch workers feeding results back over a bounded channel.
type Engine struct {
	cfg       config.Config
	fetcher   fetcher.Fetcher
	extractor *processor.Extractor
	robots    *robotsclient.Agent
	sitemaps  *sitemap.Discoverer
	limiter   *RateLimiter
	logger    *slog.Logger

	seed     *url.URL
	seedHost string

	// Counters mutated only by the control loop; read concurrently by
	// Stats.
	state        atomic.Value // types.CrawlState
	attempted    atomic.Int64
	succeeded    atomic.Int64
	failed       atomic.Int64
	excluded     atomic.Int64
	frontierSize atomic.Int64
	startedAt    atomic.Int64 // unix nanos, 0 while idle
}

// Result is the finished output of a crawl: an ordered PageResult sequence
// plus a final stats snapshot.
type Result struct {
	Pages []types.PageResult `json:"pages"`
	Stats types.CrawlStats   `json:"stats"`
}

// NewEngine validates the configuration and assembles the crawl components.
// Configuration errors surface here, before any network I/O.
func NewEngine(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	seed, err := cfg.Crawl.Seed()
	if err != nil {
		return nil, fmt.Errorf("parse seed url: %w", err)
	}

	extractor, err := processor.New(cfg.Crawl.CSSExcludeSelectors)
	if err != nil {
		return nil, err
	}

	limiter := NewRateLimiter(cfg.Crawl.RateLimit, cfg.Crawl.Burst)
	httpFetcher := fetcher.New(fetcher.Options{
		UserAgent: cfg.Crawl.UserAgent,
		Timeout:   cfg.Crawl.Timeout.Duration,
	}, limiter, logger)

	e := &Engine{
		cfg:       cfg,
		fetcher:   httpFetcher,
		extractor: extractor,
		limiter:   limiter,
		logger:    logger,
		seed:      seed,
		seedHost:  strings.ToLower(seed.Hostname()),
	}
	if cfg.Crawl.RespectRobotsTxt {
		e.robots = robotsclient.NewAgent(httpFetcher.Client(), cfg.Crawl.UserAgent)
	}
	if cfg.Crawl.UseSitemap {
		e.sitemaps = sitemap.NewDiscoverer(httpFetcher.Client(), cfg.Crawl.UserAgent, logger)
	}
	e.state.Store(types.StateIdle)
	return e, nil
}

// Stats returns a point-in-time snapshot of the running counters. Safe to
// call from any goroutine while the crawl runs.
func (e *Engine) Stats() types.CrawlStats {
	stats := types.CrawlStats{
		State:             e.state.Load().(types.CrawlState),
		PagesAttempted:    int(e.attempted.Load()),
		PagesSucceeded:    int(e.succeeded.Load()),
		PagesFailed:       int(e.failed.Load()),
		PagesExcluded:     int(e.excluded.Load()),
		FrontierSize:      int(e.frontierSize.Load()),
		LimiterQueueDepth: e.limiter.QueueDepth(),
		RecentRequests:    e.limiter.RecentRequests(),
	}
	if start := e.startedAt.Load(); start > 0 {
		stats.Elapsed = time.Since(time.Unix(0, start))
	}
	return stats
}

type fetchOutcome struct {
	entry    types.FrontierEntry
	result   types.PageResult
	finalKey string
	links    []*url.URL
}

// Run executes the crawl until the frontier drains, maxPages is reached, or
// ctx is cancelled. Cancellation is not an error: the results gathered so
// far are returned with state aborted.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.startedAt.Store(time.Now().UnixNano())
	e.state.Store(types.StateSeeding)
	e.logger.Info("crawl starting", "seed", e.seed.String(),
		"max_pages", e.cfg.Crawl.MaxPages, "max_depth", e.cfg.Crawl.MaxDepth)

	fr := newFrontier()
	visited := make(map[string]struct{})

	fr.push(e.seed, 0, types.SourceSeed)
	if e.sitemaps != nil {
		for _, raw := range e.sitemaps.Discover(ctx, e.seed) {
			u, err := url.Parse(raw)
			if err != nil || !e.admit(u) {
				e.excluded.Add(1)
				continue
			}
			fr.push(u, 0, types.SourceSitemap)
		}
	}
	e.frontierSize.Store(int64(fr.len()))

	e.state.Store(types.StateTraversing)

	workers := e.cfg.Worker.Concurrency
	jobs := make(chan types.FrontierEntry)
	// queue_size >= concurrency (validated), so worker sends never block
	// after the control loop stops draining on abort.
	results := make(chan fetchOutcome, e.cfg.Worker.QueueSize)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				results <- e.process(ctx, entry)
			}
		}()
	}

	var pages []types.PageResult
	inflight := 0
	aborted := false

loop:
	for {
		if ctx.Err() != nil {
			aborted = true
			break
		}

		for inflight < workers && int(e.attempted.Load()) < e.cfg.Crawl.MaxPages {
			entry, ok := fr.pop()
			if !ok {
				break
			}
			key := Normalize(entry.URL)
			if _, seen := visited[key]; seen {
				continue
			}
			visited[key] = struct{}{}
			select {
			case jobs <- entry:
				e.attempted.Add(1)
				inflight++
			case <-ctx.Done():
				aborted = true
				break loop
			}
		}
		e.frontierSize.Store(int64(fr.len()))

		if inflight == 0 {
			break
		}

		select {
		case <-ctx.Done():
			aborted = true
			break loop
		case out := <-results:
			inflight--
			if out.result.Status == types.StatusCompleted {
				// Dedupe against the post-redirect location: when a
				// redirect converges on a page already visited under
				// another URL, the result is dropped rather than emitted
				// a second time.
				if _, seen := visited[out.finalKey]; seen && out.finalKey != Normalize(out.entry.URL) {
					e.excluded.Add(1)
					e.logger.Debug("redirect target already visited", "url", out.entry.URL.String(), "target", out.finalKey)
					continue
				}
				if out.finalKey != "" {
					visited[out.finalKey] = struct{}{}
				}
				pages = append(pages, out.result)
				e.succeeded.Add(1)
				if out.entry.Depth < e.cfg.Crawl.MaxDepth {
					e.enqueueLinks(fr, visited, out)
				}
			} else {
				pages = append(pages, out.result)
				e.failed.Add(1)
				e.logger.Warn("page failed", "url", out.result.URL, "error", out.result.Metadata.Error)
			}
			e.frontierSize.Store(int64(fr.len()))
		}
	}

	close(jobs)
	wg.Wait()

	finalState := types.StateCompleted
	if aborted {
		finalState = types.StateAborted
	}
	e.state.Store(finalState)
	e.frontierSize.Store(int64(fr.len()))

	stats := e.Stats()
	e.logger.Info("crawl finished", "state", string(finalState),
		"attempted", stats.PagesAttempted, "succeeded", stats.PagesSucceeded,
		"failed", stats.PagesFailed, "elapsed", stats.Elapsed)

	return &Result{Pages: pages, Stats: stats}, nil
}

func (e *Engine) enqueueLinks(fr *frontier, visited map[string]struct{}, out fetchOutcome) {
	for _, link := range out.links {
		if !e.admit(link) {
			e.excluded.Add(1)
			continue
		}
		if _, seen := visited[Normalize(link)]; seen {
			continue
		}
		fr.push(link, out.entry.Depth+1, types.SourceLink)
	}
}

// admit applies the scheme check, the baked-in safety-floor exclusions, the
// configured glob patterns (exclude wins), and the domain-scope rule.
func (e *Engine) admit(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if defaultExcluded(u) {
		return false
	}
	if !Matches(u.String(), e.cfg.Crawl.IncludePatterns, e.cfg.Crawl.ExcludePatterns) {
		return false
	}
	return inScope(e.seedHost, strings.ToLower(u.Hostname()), e.cfg.Crawl.FollowSubdomains)
}

// process runs in a fetch worker: fetch, extract, build the PageResult.
// It never touches the frontier or visited set.
func (e *Engine) process(ctx context.Context, entry types.FrontierEntry) fetchOutcome {
	out := fetchOutcome{entry: entry}
	out.result = types.PageResult{
		URL:              Normalize(entry.URL),
		Depth:            entry.Depth,
		Source:           entry.Source,
		Status:           types.StatusFailed,
		ExtractionMethod: types.ExtractionFailed,
		FetchedAt:        time.Now(),
	}

	if e.robots != nil && !e.robots.Allowed(ctx, entry.URL) {
		out.result.Metadata.Error = "blocked by robots.txt"
		return out
	}

	page, err := e.fetcher.Fetch(ctx, entry.URL)
	if err != nil {
		out.result.Metadata.Error = err.Error()
		return out
	}

	extracted, err := e.extractor.Extract(page.Body, page.FinalURL)
	if err != nil {
		out.result.Metadata.Error = err.Error()
		return out
	}

	out.finalKey = Normalize(page.FinalURL)
	out.result.URL = out.finalKey
	out.result.Title = extracted.Title
	out.result.Content = extracted.Content
	out.result.ContentLength = len(extracted.Content)
	out.result.ExtractionMethod = extracted.Method
	out.result.Status = types.StatusCompleted
	out.result.Metadata = types.PageMetadata{
		Headings: extracted.Headings,
		Links:    extracted.Links,
	}
	out.result.FetchedAt = page.FetchedAt

	for _, raw := range extracted.Links {
		if u, err := url.Parse(raw); err == nil && u.IsAbs() {
			out.links = append(out.links, u)
		}
	}
	return out
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
