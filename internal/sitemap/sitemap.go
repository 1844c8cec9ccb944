package sitemap

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Sitemap indexes may reference further indexes; recursion is bounded to
// avoid pathological chains.
const maxIndexDepth = 2

const maxSitemapBytes = 16 * 1024 * 1024

// Probed when robots.txt yields no Sitemap directives.
var commonSitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap/sitemap.xml",
}

// Discoverer resolves robots.txt and sitemap.xml into a candidate URL set
// used to pre-seed the crawl frontier. Every fetch or parse failure is
// logged and skipped; discovery never aborts a crawl.
type Discoverer struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewDiscoverer constructs a discoverer sharing the crawl's HTTP client.
func NewDiscoverer(client *http.Client, userAgent string, logger *slog.Logger) *Discoverer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Discoverer{client: client, userAgent: userAgent, logger: logger}
}

type sitemapDoc struct {
	XMLName  xml.Name
	Sitemaps []locEntry `xml:"sitemap"`
	URLs     []locEntry `xml:"url"`
}

type locEntry struct {
	Loc string `xml:"loc"`
}

// Discover returns the candidate URLs advertised by baseURL's origin,
// possibly empty. It fetches robots.txt for Sitemap directives and falls
// back to common sitemap locations.
func (d *Discoverer) Discover(ctx context.Context, baseURL *url.URL) []string {
	if baseURL == nil || baseURL.Host == "" {
		return nil
	}
	origin := baseURL.Scheme + "://" + baseURL.Host

	sitemaps := d.sitemapsFromRobots(ctx, origin)
	if len(sitemaps) == 0 {
		for _, p := range commonSitemapPaths {
			sitemaps = append(sitemaps, origin+p)
		}
	}

	visited := make(map[string]struct{})
	var urls []string
	for _, sm := range sitemaps {
		urls = d.collect(ctx, sm, 0, visited, urls)
	}
	d.logger.Info("sitemap discovery finished", "origin", origin, "urls", len(urls))
	return urls
}

func (d *Discoverer) sitemapsFromRobots(ctx context.Context, origin string) []string {
	body, err := d.get(ctx, origin+"/robots.txt")
	if err != nil {
		d.logger.Debug("robots.txt unavailable", "origin", origin, "error", err)
		return nil
	}

	var sitemaps []string
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) < len("sitemap:") || !strings.EqualFold(line[:len("sitemap:")], "sitemap:") {
			continue
		}
		loc := strings.TrimSpace(line[len("sitemap:"):])
		if loc != "" {
			sitemaps = append(sitemaps, loc)
		}
	}
	return sitemaps
}

func (d *Discoverer) collect(ctx context.Context, sitemapURL string, depth int, visited map[string]struct{}, urls []string) []string {
	if ctx.Err() != nil {
		return urls
	}
	if _, ok := visited[sitemapURL]; ok {
		return urls
	}
	visited[sitemapURL] = struct{}{}

	body, err := d.get(ctx, sitemapURL)
	if err != nil {
		d.logger.Debug("sitemap fetch failed", "url", sitemapURL, "error", err)
		return urls
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		d.logger.Warn("sitemap parse failed", "url", sitemapURL, "error", err)
		return urls
	}

	switch doc.XMLName.Local {
	case "sitemapindex":
		if depth >= maxIndexDepth {
			d.logger.Warn("sitemap index nesting too deep", "url", sitemapURL)
			return urls
		}
		for _, sm := range doc.Sitemaps {
			loc := strings.TrimSpace(sm.Loc)
			if loc != "" {
				urls = d.collect(ctx, loc, depth+1, visited, urls)
			}
		}
	case "urlset":
		for _, u := range doc.URLs {
			loc := strings.TrimSpace(u.Loc)
			if loc != "" {
				urls = append(urls, loc)
			}
		}
	default:
		d.logger.Warn("unrecognised sitemap root element", "url", sitemapURL, "element", doc.XMLName.Local)
	}
	return urls
}

func (d *Discoverer) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
}
