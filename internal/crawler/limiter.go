package crawler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is the token-bucket gate for outbound requests. One instance
// is constructed per crawl and shared by every fetch worker; it is the only
// crawl structure that requires concurrency-safe access.
type RateLimiter struct {
	bucket *rate.Limiter

	queued atomic.Int64

	mu     sync.Mutex
	recent []time.Time
}

// NewRateLimiter creates a limiter replenishing at perSecond tokens, capped
// at burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		bucket: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Acquire blocks until a token is available or the context is cancelled.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	l.queued.Add(1)
	defer l.queued.Add(-1)

	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}
	l.record(time.Now())
	return nil
}

// QueueDepth reports how many callers are currently blocked in Acquire.
func (l *RateLimiter) QueueDepth() int {
	return int(l.queued.Load())
}

// RecentRequests reports the number of tokens consumed in the trailing
// one-second window.
func (l *RateLimiter) RecentRequests() int {
	cutoff := time.Now().Add(-time.Second)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trimLocked(cutoff)
	return len(l.recent)
}

func (l *RateLimiter) record(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trimLocked(now.Add(-time.Second))
	l.recent = append(l.recent, now)
}

func (l *RateLimiter) trimLocked(cutoff time.Time) {
	idx := 0
	for idx < len(l.recent) && l.recent[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		l.recent = append(l.recent[:0], l.recent[idx:]...)
	}
}
