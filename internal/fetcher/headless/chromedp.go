// Package headless renders JavaScript-heavy pages in headless Chrome so the
// extractor sees the same text a visitor would.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

const (
	defaultNavigationTimeout = 25 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
	defaultWaitSelector      = "body"
)

// stripNoise removes nodes that never contribute readable text so the
// rendered document handed to the extractor stays small.
const stripNoise = `document.querySelectorAll("script,style,noscript,template,iframe").forEach(function (n) { n.remove(); })`

// Config controls the renderer.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	WaitSelector      string
}

// Renderer implements summary.Fetcher on top of a shared headless Chrome
// allocator. Every render gets its own tab.
type Renderer struct {
	cfg         Config
	slots       *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
	closeOnce   sync.Once
}

// NewChromedp prepares a renderer. Chrome itself starts lazily on the first
// render.
func NewChromedp(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless: max parallel must not be negative")
	}
	cfg = withDefaults(cfg)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	r := &Renderer{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}
	if cfg.MaxParallel > 0 {
		r.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return r, nil
}

func withDefaults(cfg Config) Config {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if strings.TrimSpace(cfg.WaitSelector) == "" {
		cfg.WaitSelector = defaultWaitSelector
	}
	return cfg
}

// Close shuts the browser down. Safe to call more than once.
func (r *Renderer) Close() {
	r.closeOnce.Do(r.allocCancel)
}

// Fetch loads the page in a fresh tab, waits for client-side rendering to
// settle, and returns the resulting DOM with scripts and styles removed.
func (r *Renderer) Fetch(ctx context.Context, request summary.FetchRequest) (summary.FetchResponse, error) {
	if r.slots != nil {
		if err := r.slots.Acquire(ctx, 1); err != nil {
			return summary.FetchResponse{}, fmt.Errorf("headless: waiting for a tab: %w", err)
		}
		defer r.slots.Release(1)
	}

	tabCtx, closeTab := chromedp.NewContext(r.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, r.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentStatus{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	started := time.Now()
	var html, location string
	err := chromedp.Run(tabCtx,
		r.prepare(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(r.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
		chromedp.Evaluate(stripNoise, nil),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return summary.FetchResponse{}, ctx.Err()
		}
		return summary.FetchResponse{}, fmt.Errorf("headless: render %s: %w", request.URL, err)
	}

	status, contentType := doc.result()
	if status < 200 || status > 299 {
		return summary.FetchResponse{}, fmt.Errorf("headless: render %s: status %d", request.URL, status)
	}
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	if location == "" {
		location = request.URL
	}
	return summary.FetchResponse{
		URL:          location,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(started),
		UsedHeadless: true,
	}, nil
}

func (r *Renderer) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if ua := r.userAgent(headers); ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user agent: %w", err)
			}
		}
		if extra := extraHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set headers: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) userAgent(headers http.Header) string {
	if ua := headers.Get("User-Agent"); ua != "" {
		return ua
	}
	return r.cfg.UserAgent
}

// extraHeaders converts request headers for the DevTools protocol. The user
// agent travels through the emulation domain instead.
func extraHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		if len(values) == 0 || http.CanonicalHeaderKey(key) == "User-Agent" {
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// documentStatus remembers the first document response seen in a tab.
// Redirect hops never surface as responses and frames load after the page
// itself, so the first one belongs to the navigated URL.
type documentStatus struct {
	mu          sync.Mutex
	status      int
	contentType string
}

func (d *documentStatus) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != 0 {
		return
	}
	d.status = int(resp.Response.Status)
	d.contentType = resp.Response.MimeType
}

// result reports 200 when no document event arrived, which happens for
// pages served from cache or about: URLs.
func (d *documentStatus) result() (int, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == 0 {
		return http.StatusOK, d.contentType
	}
	return d.status, d.contentType
}
