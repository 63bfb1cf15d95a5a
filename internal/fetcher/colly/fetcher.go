// Package collyfetcher is the probe fetcher: one plain HTTP GET per page
// through a gocolly collector, returning the raw document for extraction.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

const defaultTimeout = 15 * time.Second

var (
	// ErrDisallowed is returned when robots.txt forbids the page.
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrNotHTML is returned for documents that are not HTML (PDFs, images).
	ErrNotHTML = errors.New("response is not an HTML document")
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodyBytes caps the downloaded body; zero keeps colly's default.
	MaxBodyBytes int
}

// Fetcher implements summary.Fetcher. Every Fetch gets its own collector so
// callbacks and per-fetch robots state never leak between concurrent calls;
// the HTTP transport (and its connection pool) is shared.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	backoff   []time.Duration
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		backoff:   defaultRobotsBackoff,
	}
}

// visit is the state of one Fetch.
type visit struct {
	started time.Time
	resp    summary.FetchResponse
	got     bool
	err     error
	robots  *robotsGuard
}

// Fetch GETs request.URL. Non-2xx statuses, robots.txt refusals and
// non-HTML documents are errors.
func (f *Fetcher) Fetch(ctx context.Context, request summary.FetchRequest) (summary.FetchResponse, error) {
	v := &visit{started: time.Now()}
	collector := f.collector(request, v)

	done := make(chan error, 1)
	go func() { done <- collector.Visit(request.URL) }()

	var visitErr error
	select {
	case <-ctx.Done():
		return summary.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
	case visitErr = <-done:
	}

	switch {
	case errors.Is(visitErr, colly.ErrRobotsTxtBlocked):
		return summary.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ErrDisallowed)
	case v.err != nil:
		return summary.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, v.err)
	case visitErr != nil:
		return summary.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, visitErr)
	case !v.got:
		return summary.FetchResponse{}, fmt.Errorf("fetch %s: no response received", request.URL)
	}
	if ct := v.resp.Headers.Get("Content-Type"); !isHTML(ct) {
		return summary.FetchResponse{}, fmt.Errorf("fetch %s: %w (content type %q)", request.URL, ErrNotHTML, ct)
	}
	if v.robots != nil {
		v.resp.RobotsFallback = v.robots.fallbackReason()
	}
	return v.resp, nil
}

func (f *Fetcher) collector(request summary.FetchRequest, v *visit) *colly.Collector {
	c := colly.NewCollector(colly.AllowURLRevisit())
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	if f.cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = f.cfg.MaxBodyBytes
	}
	c.SetRequestTimeout(f.cfg.Timeout)

	respect := f.cfg.RespectRobots && request.RespectRobots
	c.IgnoreRobotsTxt = !respect
	if respect {
		v.robots = newRobotsGuard(f.transport, f.backoff)
		c.WithTransport(v.robots)
	} else {
		c.WithTransport(f.transport)
	}

	c.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, value := range values {
				r.Headers.Add(key, value)
			}
		}
	})
	c.OnResponse(func(r *colly.Response) {
		v.got = true
		v.resp = summary.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(v.started),
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			v.err = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		v.err = err
	})
	return c
}

// isHTML accepts a missing content type; servers often omit it for HTML.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return media == "text/html" || media == "application/xhtml+xml"
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
