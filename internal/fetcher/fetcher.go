package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/adriejeon/featureDetective/pkg/types"
)

// Fetcher retrieves a single web page.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL) (*types.Page, error)
}

// Limiter gates outbound request cadence. Acquire is called before every
// HTTP request, including retries.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// ErrPermanent marks failures that must not be retried: 4xx statuses other
// than 429 and malformed responses.
var ErrPermanent = errors.New("permanent fetch failure")

// Options controls HTTP fetching behaviour.
type Options struct {
	UserAgent    string // optional override; empty selects from the rotation pool
	Timeout      time.Duration
	MaxBodyBytes int64
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

// Rotated per request when no override is configured, to reduce trivial
// blocking by user-agent filters.
var userAgentPool = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// HTTPFetcher implements Fetcher with retry and exponential backoff on
// transient failures.
type HTTPFetcher struct {
	client       *http.Client
	limiter      Limiter
	logger       *slog.Logger
	userAgent    string
	maxBodyBytes int64
	maxRetries   int
	backoffBase  time.Duration
	backoffCap   time.Duration
	uaCursor     atomic.Uint64
}

// New constructs an HTTP fetcher. The limiter is required; every request
// first acquires a token from it.
func New(opts Options, limiter Limiter, logger *slog.Logger) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 6 * 1024 * 1024
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 10 * time.Second
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		limiter:      limiter,
		logger:       logger,
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
		maxRetries:   opts.MaxRetries,
		backoffBase:  opts.BackoffBase,
		backoffCap:   opts.BackoffCap,
	}
}

// Client exposes the underlying HTTP client for reuse (robots.txt and
// sitemap fetches share the transport).
func (f *HTTPFetcher) Client() *http.Client {
	return f.client
}

// Fetch downloads a URL, retrying transient failures (connection errors,
// timeouts, 5xx, 429) up to MaxRetries times with exponential backoff. A 429
// additionally doubles the remaining backoff once. Permanent failures (other
// 4xx, unreadable bodies) are reported immediately.
func (f *HTTPFetcher) Fetch(ctx context.Context, u *url.URL) (*types.Page, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: nil url", ErrPermanent)
	}

	backoff := f.backoffBase
	rateLimited := false
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			backoff = min(backoff*2, f.backoffCap)
		}

		if err := f.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		page, err := f.doRequest(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, ErrPermanent) {
				return nil, err
			}
			lastErr = err
			f.logger.Debug("fetch attempt failed", "url", u.String(), "attempt", attempt+1, "error", err)
			continue
		}

		switch sc := page.StatusCode; {
		case sc == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("status %d", sc)
			if !rateLimited {
				rateLimited = true
				backoff = min(backoff*2, f.backoffCap)
			}
		case sc >= 500:
			lastErr = fmt.Errorf("status %d", sc)
		case sc >= 400:
			return nil, fmt.Errorf("%w: status %d", ErrPermanent, sc)
		default:
			return page, nil
		}
		f.logger.Debug("transient status", "url", u.String(), "attempt", attempt+1, "status", page.StatusCode)
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", f.maxRetries+1, lastErr)
}

func (f *HTTPFetcher) doRequest(ctx context.Context, u *url.URL) (*types.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}

	req.Header.Set("User-Agent", f.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http fetch failed: %w", err)
	}

	body, err := f.readBody(resp)
	if err != nil {
		return nil, err
	}

	finalURL := u
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	return &types.Page{
		URL:             u,
		FinalURL:        finalURL,
		Body:            body,
		ContentType:     resp.Header.Get("Content-Type"),
		StatusCode:      resp.StatusCode,
		FetchedAt:       time.Now(),
		ResponseLatency: time.Since(start),
	}, nil
}

func (f *HTTPFetcher) nextUserAgent() string {
	if f.userAgent != "" {
		return f.userAgent
	}
	idx := f.uaCursor.Add(1) - 1
	return userAgentPool[idx%uint64(len(userAgentPool))]
}

func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, fmt.Errorf("%w: empty response body", ErrPermanent)
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: gzip decode: %v", ErrPermanent, err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, f.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("%w: response body exceeds limit of %d bytes", ErrPermanent, f.maxBodyBytes)
	}
	return body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
