package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/adriejeon/featureDetective/internal/config"
	"github.com/adriejeon/featureDetective/internal/crawler"
)

var (
	// ErrMaxConcurrency is returned when no crawl slot is free.
	ErrMaxConcurrency = errors.New("maximum concurrent crawls reached")
	// ErrNotFound is returned for unknown crawl IDs.
	ErrNotFound = errors.New("crawl not found")
	// ErrStillRunning is returned when results are requested before the
	// crawl has finished.
	ErrStillRunning = errors.New("crawl still running")
)

// Manager owns the in-memory registry of crawls started over the API. Crawl
// state never leaves the process; a crawl is single-process by design.
type Manager struct {
	base          config.Config
	maxConcurrent int
	rootCtx       context.Context
	logger        *slog.Logger

	mu      sync.Mutex
	crawls  map[string]*Crawl
	running int
}

// Crawl tracks one engine run started by the manager.
type Crawl struct {
	ID        string
	SeedURL   string
	StartedAt time.Time

	engine *crawler.Engine
	cancel context.CancelFunc

	mu         sync.Mutex
	finishedAt time.Time
	result     *crawler.Result
	runErr     error
}

// NewManager builds a crawl registry bounded to maxConcurrent simultaneous
// runs.
func NewManager(base config.Config, maxConcurrent int, rootCtx context.Context, logger *slog.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Manager{
		base:          base,
		maxConcurrent: maxConcurrent,
		rootCtx:       rootCtx,
		logger:        logger,
		crawls:        make(map[string]*Crawl),
	}
}

// Start validates the request, builds an engine, and launches the crawl in
// the background. Configuration errors are surfaced synchronously.
func (m *Manager) Start(req StartCrawlRequest) (*Crawl, error) {
	cfg := m.buildConfig(req)

	engine, err := crawler.NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid crawl request: %w", err)
	}

	m.mu.Lock()
	if m.running >= m.maxConcurrent {
		m.mu.Unlock()
		return nil, ErrMaxConcurrency
	}
	id := newCrawlID()
	ctx, cancel := context.WithCancel(m.rootCtx)
	c := &Crawl{
		ID:        id,
		SeedURL:   cfg.Crawl.SeedURL,
		StartedAt: time.Now(),
		engine:    engine,
		cancel:    cancel,
	}
	m.crawls[id] = c
	m.running++
	m.mu.Unlock()

	m.logger.Info("crawl accepted", "id", id, "seed", cfg.Crawl.SeedURL)

	go func() {
		result, runErr := engine.Run(ctx)
		cancel()

		c.mu.Lock()
		c.result = result
		c.runErr = runErr
		c.finishedAt = time.Now()
		c.mu.Unlock()

		m.mu.Lock()
		m.running--
		m.mu.Unlock()

		if runErr != nil {
			m.logger.Error("crawl failed", "id", id, "error", runErr)
		}
	}()

	return c, nil
}

func (m *Manager) buildConfig(req StartCrawlRequest) config.Config {
	cfg := m.base
	cfg.Crawl.SeedURL = req.SeedURL
	if req.MaxPages != nil {
		cfg.Crawl.MaxPages = *req.MaxPages
	}
	if req.MaxDepth != nil {
		cfg.Crawl.MaxDepth = *req.MaxDepth
	}
	if req.RateLimit != nil {
		cfg.Crawl.RateLimit = *req.RateLimit
	}
	if req.FollowSubdomains != nil {
		cfg.Crawl.FollowSubdomains = *req.FollowSubdomains
	}
	if req.IncludePatterns != nil {
		cfg.Crawl.IncludePatterns = req.IncludePatterns
	}
	if req.ExcludePatterns != nil {
		cfg.Crawl.ExcludePatterns = req.ExcludePatterns
	}
	if req.CSSExcludeSelectors != nil {
		cfg.Crawl.CSSExcludeSelectors = req.CSSExcludeSelectors
	}
	if req.UseSitemap != nil {
		cfg.Crawl.UseSitemap = *req.UseSitemap
	}
	if req.RespectRobotsTxt != nil {
		cfg.Crawl.RespectRobotsTxt = *req.RespectRobotsTxt
	}
	if req.UserAgent != "" {
		cfg.Crawl.UserAgent = req.UserAgent
	}
	return cfg
}

// Get returns the crawl for an ID.
func (m *Manager) Get(id string) (*Crawl, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.crawls[id]
	return c, ok
}

// List returns summaries of all known crawls, newest first.
func (m *Manager) List() []CrawlSummary {
	m.mu.Lock()
	crawls := make([]*Crawl, 0, len(m.crawls))
	for _, c := range m.crawls {
		crawls = append(crawls, c)
	}
	m.mu.Unlock()

	sort.Slice(crawls, func(i, j int) bool {
		return crawls[i].StartedAt.After(crawls[j].StartedAt)
	})
	summaries := make([]CrawlSummary, 0, len(crawls))
	for _, c := range crawls {
		summaries = append(summaries, c.Summary())
	}
	return summaries
}

// Cancel signals a crawl to stop. The crawl transitions to aborted and
// keeps the results gathered so far.
func (m *Manager) Cancel(id string) error {
	c, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	c.cancel()
	return nil
}

// Results returns the finished result sequence for a crawl.
func (m *Manager) Results(id string) (*crawler.Result, error) {
	c, ok := m.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil && c.runErr == nil {
		return nil, ErrStillRunning
	}
	if c.runErr != nil {
		return nil, c.runErr
	}
	return c.result, nil
}

// Shutdown cancels every crawl still running.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.crawls {
		c.cancel()
	}
}

// Summary snapshots the crawl's current status.
func (c *Crawl) Summary() CrawlSummary {
	summary := CrawlSummary{
		ID:        c.ID,
		SeedURL:   c.SeedURL,
		StartedAt: c.StartedAt,
		Stats:     c.engine.Stats(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finishedAt.IsZero() {
		finished := c.finishedAt
		summary.FinishedAt = &finished
	}
	if c.runErr != nil {
		summary.Error = c.runErr.Error()
	}
	return summary
}

func newCrawlID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("crawl-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
