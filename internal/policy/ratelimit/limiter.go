// Package ratelimit implements a per-host token bucket so extraction stays
// polite toward the site being summarized.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/site-summarizer/internal/metrics"
)

const defaultMaxHosts = 1024

// Config holds rate limiter configuration. A non-positive RPS disables
// limiting.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// MaxHosts bounds the number of host buckets kept. The least recently
	// used bucket is dropped when a new host would exceed it.
	MaxHosts int
}

type bucket struct {
	limiter *rate.Limiter
	lastUse uint64
}

// Limiter hands out per-host tokens.
type Limiter struct {
	limit    rate.Limit
	burst    int
	maxHosts int

	mu      sync.Mutex
	tick    uint64
	buckets map[string]*bucket
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		limit = rate.Inf
	}
	burst := max(cfg.DefaultBurst, 1)
	maxHosts := cfg.MaxHosts
	if maxHosts <= 0 {
		maxHosts = defaultMaxHosts
	}
	return &Limiter{
		limit:    limit,
		burst:    burst,
		maxHosts: maxHosts,
		buckets:  make(map[string]*bucket),
	}
}

// Wait blocks until the URL's host has a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.bucketFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

// Hosts returns the number of hosts with a live bucket.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) bucketFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tick++
	if b, ok := l.buckets[host]; ok {
		b.lastUse = l.tick
		return b.limiter
	}
	if len(l.buckets) >= l.maxHosts {
		l.evictLocked()
	}
	b := &bucket{limiter: rate.NewLimiter(l.limit, l.burst), lastUse: l.tick}
	l.buckets[host] = b
	return b.limiter
}

func (l *Limiter) evictLocked() {
	var (
		oldest string
		lowest uint64
	)
	for host, b := range l.buckets {
		if oldest == "" || b.lastUse < lowest {
			oldest, lowest = host, b.lastUse
		}
	}
	delete(l.buckets, oldest)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
