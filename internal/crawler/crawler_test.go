package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adriejeon/featureDetective/internal/config"
	"github.com/adriejeon/featureDetective/pkg/types"
)

// site is an in-process web site that records every request it serves.
type site struct {
	mu        sync.Mutex
	hits      map[string]int
	pages     map[string]string
	redirects map[string]string
	srv       *httptest.Server
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := &site{
		hits:      make(map[string]int),
		pages:     make(map[string]string),
		redirects: make(map[string]string),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		target, redirected := s.redirects[r.URL.Path]
		body, ok := s.pages[r.URL.Path]
		s.mu.Unlock()
		if redirected {
			http.Redirect(w, r, target, http.StatusMovedPermanently)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *site) add(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = body
}

func (s *site) redirect(path, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirects[path] = target
}

func (s *site) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func pageHTML(title string, links ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>", title)
	b.WriteString("<nav><a href=\"/\">Home</a></nav>")
	b.WriteString("<main><h1>")
	b.WriteString(title)
	b.WriteString("</h1><p>This page documents one feature of the product in enough detail ")
	b.WriteString("that the extraction heuristic treats it as real content rather than ")
	b.WriteString("navigation chrome or boilerplate around the edges of the layout.</p>")
	for _, link := range links {
		fmt.Fprintf(&b, "<p><a href=%q>%s</a></p>", link, link)
	}
	b.WriteString("</main><footer>Copyright</footer></body></html>")
	return b.String()
}

func testConfig(seed string) config.Config {
	cfg := config.Default()
	cfg.Crawl.SeedURL = seed
	cfg.Crawl.RateLimit = 500
	cfg.Crawl.Burst = 50
	cfg.Crawl.Timeout = config.DurationFrom(5 * time.Second)
	cfg.Crawl.FollowSubdomains = false
	cfg.Crawl.UseSitemap = false
	cfg.Crawl.RespectRobotsTxt = false
	cfg.Logging.Level = "error"
	return cfg
}

func runCrawl(t *testing.T, cfg config.Config) *Result {
	t.Helper()
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return result
}

func findPage(t *testing.T, pages []types.PageResult, url string) types.PageResult {
	t.Helper()
	for _, p := range pages {
		if p.URL == url {
			return p
		}
	}
	t.Fatalf("no result for %q; got %d pages", url, len(pages))
	return types.PageResult{}
}

func TestRunFollowsInScopeLinks(t *testing.T) {
	s := newSite(t)
	s.add("/", pageHTML("Home",
		"/a", "/b", "/c",
		"https://external.invalid/x",
		"/file.pdf",
		"/a/",        // normalizes to /a
		"/a#section", // normalizes to /a
	))
	s.add("/a", pageHTML("A", "/deep"))
	s.add("/b", pageHTML("B", "/deep"))
	s.add("/c", pageHTML("C", "/deep"))
	s.add("/deep", pageHTML("Deep"))
	s.add("/file.pdf", "not html")

	cfg := testConfig(s.srv.URL + "/")
	cfg.Crawl.MaxPages = 10
	cfg.Crawl.MaxDepth = 1

	result := runCrawl(t, cfg)

	if result.Stats.State != types.StateCompleted {
		t.Fatalf("state = %s, want completed", result.Stats.State)
	}
	if len(result.Pages) != 4 {
		t.Fatalf("crawled %d pages, want 4", len(result.Pages))
	}
	for _, p := range result.Pages {
		if p.Status != types.StatusCompleted {
			t.Errorf("page %s status = %s, want completed", p.URL, p.Status)
		}
		if p.Depth > 1 {
			t.Errorf("page %s depth = %d, exceeds max depth 1", p.URL, p.Depth)
		}
	}

	seed := findPage(t, result.Pages, Normalize(mustParse(t, s.srv.URL+"/")))
	if seed.Depth != 0 || seed.Source != types.SourceSeed {
		t.Errorf("seed page depth/source = %d/%s, want 0/seed", seed.Depth, seed.Source)
	}
	a := findPage(t, result.Pages, Normalize(mustParse(t, s.srv.URL+"/a")))
	if a.Depth != 1 || a.Source != types.SourceLink {
		t.Errorf("/a depth/source = %d/%s, want 1/link", a.Depth, a.Source)
	}

	if n := s.hitCount("/deep"); n != 0 {
		t.Errorf("/deep fetched %d times, links at max depth must not be followed", n)
	}
	if n := s.hitCount("/file.pdf"); n != 0 {
		t.Errorf("/file.pdf fetched %d times, want 0", n)
	}
	if n := s.hitCount("/a"); n != 1 {
		t.Errorf("/a fetched %d times, want exactly 1", n)
	}

	if result.Stats.PagesSucceeded != 4 {
		t.Errorf("pages succeeded = %d, want 4", result.Stats.PagesSucceeded)
	}
	if result.Stats.PagesExcluded < 2 {
		t.Errorf("pages excluded = %d, want at least 2 (external + pdf)", result.Stats.PagesExcluded)
	}
}

func TestRunRespectsMaxPages(t *testing.T) {
	s := newSite(t)
	s.add("/", pageHTML("Home", "/p1", "/p2", "/p3", "/p4", "/p5"))
	for i := 1; i <= 5; i++ {
		s.add(fmt.Sprintf("/p%d", i), pageHTML(fmt.Sprintf("Page %d", i)))
	}

	cfg := testConfig(s.srv.URL + "/")
	cfg.Crawl.MaxPages = 2
	cfg.Crawl.MaxDepth = 3

	result := runCrawl(t, cfg)

	if result.Stats.State != types.StateCompleted {
		t.Fatalf("state = %s, want completed", result.Stats.State)
	}
	if len(result.Pages) != 2 {
		t.Fatalf("crawled %d pages, want exactly 2", len(result.Pages))
	}
	if result.Stats.PagesAttempted != 2 {
		t.Fatalf("pages attempted = %d, want 2", result.Stats.PagesAttempted)
	}
}

func TestRunRecordsFailedPages(t *testing.T) {
	s := newSite(t)
	s.add("/", pageHTML("Home", "/missing", "/ok"))
	s.add("/ok", pageHTML("OK"))

	cfg := testConfig(s.srv.URL + "/")
	cfg.Crawl.MaxPages = 10
	cfg.Crawl.MaxDepth = 2

	result := runCrawl(t, cfg)

	if len(result.Pages) != 3 {
		t.Fatalf("crawled %d pages, want 3", len(result.Pages))
	}
	missing := findPage(t, result.Pages, Normalize(mustParse(t, s.srv.URL+"/missing")))
	if missing.Status != types.StatusFailed {
		t.Fatalf("missing page status = %s, want failed", missing.Status)
	}
	if missing.Metadata.Error == "" {
		t.Fatal("failed page carries no error message")
	}
	if missing.ExtractionMethod != types.ExtractionFailed {
		t.Fatalf("failed page extraction method = %s, want failed", missing.ExtractionMethod)
	}
	if result.Stats.PagesFailed != 1 {
		t.Fatalf("pages failed = %d, want 1", result.Stats.PagesFailed)
	}
	if result.Stats.PagesSucceeded != 2 {
		t.Fatalf("pages succeeded = %d, want 2", result.Stats.PagesSucceeded)
	}
}

func TestRunSeedsFromSitemap(t *testing.T) {
	s := newSite(t)
	s.add("/robots.txt", "User-agent: *\nAllow: /\nSitemap: "+s.srv.URL+"/sitemap.xml\n")
	s.add("/sitemap.xml", `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>`+s.srv.URL+`/s1</loc></url>
  <url><loc>`+s.srv.URL+`/s2</loc></url>
  <url><loc>`+s.srv.URL+`/a</loc></url>
</urlset>`)
	// The seed links to two URLs the sitemap already queued.
	s.add("/", pageHTML("Home", "/a", "/s1"))
	s.add("/a", pageHTML("A"))
	s.add("/s1", pageHTML("S1"))
	s.add("/s2", pageHTML("S2"))

	cfg := testConfig(s.srv.URL + "/")
	cfg.Crawl.MaxPages = 10
	cfg.Crawl.MaxDepth = 1
	cfg.Crawl.UseSitemap = true

	result := runCrawl(t, cfg)

	if len(result.Pages) != 4 {
		t.Fatalf("crawled %d pages, want 4", len(result.Pages))
	}
	for _, path := range []string{"/", "/a", "/s1", "/s2"} {
		if n := s.hitCount(path); n != 1 {
			t.Errorf("%s fetched %d times, want exactly 1", path, n)
		}
	}
	s2 := findPage(t, result.Pages, Normalize(mustParse(t, s.srv.URL+"/s2")))
	if s2.Depth != 0 || s2.Source != types.SourceSitemap {
		t.Errorf("/s2 depth/source = %d/%s, want 0/sitemap", s2.Depth, s2.Source)
	}
}

func TestRunDeduplicatesRedirectTargets(t *testing.T) {
	s := newSite(t)
	s.add("/", pageHTML("Home", "/r1", "/r2"))
	s.redirect("/r1", "/target")
	s.redirect("/r2", "/target")
	s.add("/target", pageHTML("Target"))

	cfg := testConfig(s.srv.URL + "/")
	cfg.Crawl.MaxPages = 10
	cfg.Crawl.MaxDepth = 1

	result := runCrawl(t, cfg)

	if result.Stats.State != types.StateCompleted {
		t.Fatalf("state = %s, want completed", result.Stats.State)
	}
	if len(result.Pages) != 2 {
		t.Fatalf("crawled %d pages, want 2 (seed + one emission for the shared target)", len(result.Pages))
	}
	seen := make(map[string]int)
	for _, p := range result.Pages {
		seen[p.URL]++
	}
	for url, n := range seen {
		if n > 1 {
			t.Errorf("normalized url %q emitted %d results, want at most 1", url, n)
		}
	}
	target := findPage(t, result.Pages, Normalize(mustParse(t, s.srv.URL+"/target")))
	if target.Status != types.StatusCompleted {
		t.Fatalf("target status = %s, want completed", target.Status)
	}
	if result.Stats.PagesAttempted != 3 {
		t.Errorf("pages attempted = %d, want 3 (seed + both redirecting urls)", result.Stats.PagesAttempted)
	}
	if result.Stats.PagesSucceeded != 2 {
		t.Errorf("pages succeeded = %d, want 2", result.Stats.PagesSucceeded)
	}
	if result.Stats.PagesExcluded != 1 {
		t.Errorf("pages excluded = %d, want 1 for the dropped duplicate emission", result.Stats.PagesExcluded)
	}
}

func TestRunDeduplicatesRedirectToVisitedPage(t *testing.T) {
	s := newSite(t)
	s.add("/", pageHTML("Home", "/a", "/alias"))
	s.add("/a", pageHTML("A"))
	s.redirect("/alias", "/a")

	cfg := testConfig(s.srv.URL + "/")
	cfg.Crawl.MaxPages = 10
	cfg.Crawl.MaxDepth = 1

	result := runCrawl(t, cfg)

	if len(result.Pages) != 2 {
		t.Fatalf("crawled %d pages, want 2 (seed + /a once)", len(result.Pages))
	}
	key := Normalize(mustParse(t, s.srv.URL+"/a"))
	count := 0
	for _, p := range result.Pages {
		if p.URL == key {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("/a emitted %d results, want exactly 1", count)
	}
}

func TestRunCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(25 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.URL.Path == "/" {
			var links []string
			for i := 0; i < 20; i++ {
				links = append(links, fmt.Sprintf("/p%d", i))
			}
			_, _ = io.WriteString(w, pageHTML("Home", links...))
			return
		}
		_, _ = io.WriteString(w, pageHTML("Page"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/")
	cfg.Crawl.MaxPages = 50
	cfg.Crawl.MaxDepth = 2

	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type runOutput struct {
		result *Result
		err    error
	}
	done := make(chan runOutput, 1)
	go func() {
		result, err := engine.Run(ctx)
		done <- runOutput{result, err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for engine.Stats().PagesSucceeded < 3 {
		if time.Now().After(deadline) {
			t.Fatal("crawl made no progress before the cancellation deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	var out runOutput
	select {
	case out = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if out.err != nil {
		t.Fatalf("cancelled Run returned error: %v", out.err)
	}
	if out.result.Stats.State != types.StateAborted {
		t.Fatalf("state = %s, want aborted", out.result.Stats.State)
	}
	if len(out.result.Pages) == 0 {
		t.Fatal("cancelled crawl discarded the pages gathered so far")
	}
	if len(out.result.Pages) >= 21 {
		t.Fatalf("crawl finished all %d pages despite cancellation", len(out.result.Pages))
	}
	if out.result.Stats.PagesAttempted < len(out.result.Pages) {
		t.Fatalf("attempted %d < %d gathered pages", out.result.Stats.PagesAttempted, len(out.result.Pages))
	}
	// Attempted counts dispatched fetches only: with one worker at most one
	// job can be in flight and unreported when the crawl aborts.
	if limit := len(out.result.Pages) + 1; out.result.Stats.PagesAttempted > limit {
		t.Fatalf("attempted %d > %d, counts pages that were never dispatched",
			out.result.Stats.PagesAttempted, limit)
	}
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	cfg := testConfig("")
	if _, err := NewEngine(cfg); err == nil {
		t.Fatal("expected error for missing seed url")
	}

	cfg = testConfig("https://example.com/")
	cfg.Crawl.CSSExcludeSelectors = []string{"]["}
	if _, err := NewEngine(cfg); err == nil {
		t.Fatal("expected error for invalid css selector")
	}
}

func TestStatsBeforeRun(t *testing.T) {
	cfg := testConfig("https://example.com/")
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	stats := engine.Stats()
	if stats.State != types.StateIdle {
		t.Fatalf("initial state = %s, want idle", stats.State)
	}
	if stats.PagesAttempted != 0 || stats.Elapsed != 0 {
		t.Fatalf("fresh engine reports progress: %+v", stats)
	}
}
