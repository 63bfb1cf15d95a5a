package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/stream"
)

const (
	defaultSitemapPath = "/sitemap.xml"
	defaultMaxSitemaps = 50
	defaultTimeout     = 15 * time.Second
)

// SitemapConfig controls sitemap discovery.
type SitemapConfig struct {
	Path        string
	UserAgent   string
	Timeout     time.Duration
	MaxSitemaps int
}

// Sitemap lists a site's pages from its sitemap.xml, following sitemap
// indexes. Documents are fetched only as the stream is consumed. When the
// site has no readable sitemap the stream yields the site root alone.
type Sitemap struct {
	cfg    SitemapConfig
	base   *colly.Collector
	logger *zap.Logger
}

// NewSitemap builds a sitemap source.
func NewSitemap(cfg SitemapConfig, logger *zap.Logger) *Sitemap {
	if cfg.Path == "" {
		cfg.Path = defaultSitemapPath
	}
	if cfg.MaxSitemaps <= 0 {
		cfg.MaxSitemaps = defaultMaxSitemaps
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Sitemap{cfg: cfg, base: c, logger: logger.Named("sitemap")}
}

// ListURLs returns a lazy stream of page URLs for site.
func (s *Sitemap) ListURLs(_ context.Context, site string) (stream.Iterator[string], error) {
	root, err := siteRoot(site)
	if err != nil {
		return nil, err
	}
	start := root.ResolveReference(&url.URL{Path: s.cfg.Path})
	return &sitemapWalker{
		source:  s,
		root:    root,
		pending: []string{start.String()},
		visited: make(map[string]struct{}),
		seen:    make(map[string]struct{}),
	}, nil
}

type sitemapDoc struct {
	sitemaps []string
	pages    []string
}

func (s *Sitemap) fetch(ctx context.Context, target string) (sitemapDoc, error) {
	var (
		doc      sitemapDoc
		fetchErr error
	)
	collector := s.base.Clone()
	collector.OnXML("//sitemapindex/sitemap/loc", func(e *colly.XMLElement) {
		if loc := strings.TrimSpace(e.Text); loc != "" {
			doc.sitemaps = append(doc.sitemaps, loc)
		}
	})
	collector.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		if loc := strings.TrimSpace(e.Text); loc != "" {
			doc.pages = append(doc.pages, loc)
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return sitemapDoc{}, fmt.Errorf("sitemap fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return sitemapDoc{}, fmt.Errorf("fetch sitemap %s: %w", target, fetchErr)
		}
		if err != nil {
			return sitemapDoc{}, fmt.Errorf("fetch sitemap %s: %w", target, err)
		}
		return doc, nil
	}
}

// sitemapWalker visits sitemap documents breadth-first, buffering at most
// one document's worth of page URLs.
type sitemapWalker struct {
	source   *Sitemap
	root     *url.URL
	pending  []string
	buffer   []string
	visited  map[string]struct{}
	seen     map[string]struct{}
	fetched  int
	yielded  bool
	rootSent bool
}

func (w *sitemapWalker) Next(ctx context.Context) (string, bool, error) {
	for {
		if len(w.buffer) > 0 {
			next := w.buffer[0]
			w.buffer = w.buffer[1:]
			w.yielded = true
			return next, true, nil
		}
		if err := ctx.Err(); err != nil {
			return "", false, fmt.Errorf("list urls: %w", err)
		}
		if len(w.pending) == 0 {
			if !w.yielded && !w.rootSent {
				w.rootSent = true
				return w.root.String(), true, nil
			}
			return "", false, nil
		}

		target := w.pending[0]
		w.pending = w.pending[1:]
		if _, ok := w.visited[target]; ok {
			continue
		}
		w.visited[target] = struct{}{}
		if w.fetched >= w.source.cfg.MaxSitemaps {
			w.source.logger.Warn("sitemap limit reached", zap.Int("max_sitemaps", w.source.cfg.MaxSitemaps))
			w.pending = nil
			continue
		}
		w.fetched++

		doc, err := w.source.fetch(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, err
			}
			w.source.logger.Warn("sitemap unavailable", zap.String("sitemap", target), zap.Error(err))
			continue
		}
		w.pending = append(w.pending, doc.sitemaps...)
		for _, loc := range doc.pages {
			w.accept(loc)
		}
	}
}

func (w *sitemapWalker) accept(loc string) {
	u, err := url.Parse(loc)
	if err != nil || !sameSite(u, w.root) {
		return
	}
	u.Fragment = ""
	key := u.String()
	if _, ok := w.seen[key]; ok {
		return
	}
	w.seen[key] = struct{}{}
	w.buffer = append(w.buffer, key)
}

func sameSite(u, root *url.URL) bool {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	rootHost := strings.TrimPrefix(strings.ToLower(root.Hostname()), "www.")
	return host == rootHost
}

func siteRoot(site string) (*url.URL, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return nil, fmt.Errorf("site is required")
	}
	if !strings.Contains(site, "://") {
		site = "https://" + site
	}
	u, err := url.Parse(site)
	if err != nil {
		return nil, fmt.Errorf("parse site: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("parse site: %q has no host", site)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, nil
}
