// Package extract turns a URL into the title and readable text handed to the
// generation provider. A cheap probe fetch is tried first and promoted to a
// headless render when the probe looks like a client-rendered shell.
package extract

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

const defaultMaxContentChars = 20000

// ErrNoContent is returned when a document yields no readable text.
var ErrNoContent = errors.New("no readable content")

// Waiter throttles outbound requests per host.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls extraction.
type Config struct {
	RespectRobots   bool
	UserAgent       string
	MaxContentChars int
}

// Extractor implements summary.Extractor.
type Extractor struct {
	cfg      Config
	probe    summary.Fetcher
	headless summary.Fetcher
	detector summary.HeadlessDetector
	limiter  Waiter
	logger   *zap.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithHeadless enables promotion of thin probes to a headless fetch.
func WithHeadless(fetcher summary.Fetcher, detector summary.HeadlessDetector) Option {
	return func(e *Extractor) {
		e.headless = fetcher
		e.detector = detector
	}
}

// WithLimiter throttles every fetch through limiter.
func WithLimiter(limiter Waiter) Option {
	return func(e *Extractor) {
		e.limiter = limiter
	}
}

// New builds an Extractor around a probe fetcher.
func New(probe summary.Fetcher, cfg Config, logger *zap.Logger, opts ...Option) (*Extractor, error) {
	if probe == nil {
		return nil, fmt.Errorf("probe fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = defaultMaxContentChars
	}
	e := &Extractor{cfg: cfg, probe: probe, logger: logger.Named("extract")}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Extract fetches url and returns its title and text. Every failure wraps
// summary.ErrResourceUnavailable.
func (e *Extractor) Extract(ctx context.Context, url string) (summary.PageContent, error) {
	resp, err := e.fetch(ctx, url)
	if err != nil {
		return summary.PageContent{}, fmt.Errorf("%w: %s: %w", summary.ErrResourceUnavailable, url, err)
	}
	title, content, err := Parse(resp.Body, e.cfg.MaxContentChars)
	if err != nil {
		return summary.PageContent{}, fmt.Errorf("%w: %s: %w", summary.ErrResourceUnavailable, url, err)
	}
	if content == "" {
		return summary.PageContent{}, fmt.Errorf("%w: %s: %w", summary.ErrResourceUnavailable, url, ErrNoContent)
	}
	if title == "" {
		title = url
	}
	return summary.PageContent{Title: title, Content: content}, nil
}

func (e *Extractor) fetch(ctx context.Context, url string) (summary.FetchResponse, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, url); err != nil {
			return summary.FetchResponse{}, err
		}
	}
	req := summary.FetchRequest{URL: url, RespectRobots: e.cfg.RespectRobots}
	if e.cfg.UserAgent != "" {
		req.Headers = map[string][]string{"User-Agent": {e.cfg.UserAgent}}
	}
	resp, err := e.probe.Fetch(ctx, req)
	if err != nil {
		return summary.FetchResponse{}, fmt.Errorf("probe fetch: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return summary.FetchResponse{}, fmt.Errorf("probe fetch: unexpected status %d", resp.StatusCode)
	}
	if resp.RobotsFallback != "" {
		e.logger.Debug("robots.txt unavailable; proceeding", zap.String("url", url), zap.String("reason", resp.RobotsFallback))
	}
	if e.headless == nil || e.detector == nil || !e.detector.ShouldPromote(resp) {
		return resp, nil
	}

	req.UseHeadless = true
	rendered, err := e.headless.Fetch(ctx, req)
	if err != nil {
		e.logger.Warn("headless render failed; using probe body", zap.String("url", url), zap.Error(err))
		return resp, nil
	}
	e.logger.Debug("promoted to headless", zap.String("url", url), zap.Duration("duration", rendered.Duration))
	return rendered, nil
}
