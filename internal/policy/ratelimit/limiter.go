// Package ratelimit implements keyed token bucket limiters for outbound traffic.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawlgate/internal/metrics"
)

// Limiter manages one token bucket per key (a target host, or a single upstream).
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	scope    string
}

// Config holds rate limiter configuration.
type Config struct {
	// Scope labels delay metrics, e.g. "crawl_host" or "registry".
	Scope string
	RPS   float64
	Burst int
}

// New creates a new Limiter. A non-positive RPS disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		scope:    cfg.Scope,
	}
}

// Wait blocks until a token is available for key, respecting the context.
// It fails fast when the context deadline would expire before a token frees up.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	limiter := l.forKey(key)
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(l.scope, d)
	}
	return nil
}

// WaitHost waits on the bucket for the host of rawURL.
func (l *Limiter) WaitHost(ctx context.Context, rawURL string) error {
	return l.Wait(ctx, hostOf(rawURL))
}

func (l *Limiter) forKey(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
