// Package processor drives a summarization run: it streams a site's URLs in
// batches, extracts each batch concurrently, serves what it can from the
// cache, and asks the generation provider for the rest.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/cache"
	"github.com/JakeFAU/site-summarizer/internal/clock/system"
	"github.com/JakeFAU/site-summarizer/internal/id/uuid"
	"github.com/JakeFAU/site-summarizer/internal/limiter"
	"github.com/JakeFAU/site-summarizer/internal/metrics"
	"github.com/JakeFAU/site-summarizer/internal/resilience"
	"github.com/JakeFAU/site-summarizer/internal/stream"
	"github.com/JakeFAU/site-summarizer/internal/summary"
)

const tracerName = "github.com/JakeFAU/site-summarizer/internal/processor"

var (
	// ErrNoSummaries is returned when a description is requested but no
	// page was summarized.
	ErrNoSummaries = errors.New("no summarized pages to describe")
	// ErrInvalidRequest marks a malformed ProcessPages request.
	ErrInvalidRequest = errors.New("invalid process request")
)

// BatchFailurePolicy decides what a provider failure in one batch does to
// the rest of the run.
type BatchFailurePolicy string

// Batch failure policies.
const (
	// PolicyAbort stops the run and returns the records so far with the error.
	PolicyAbort BatchFailurePolicy = "abort"
	// PolicySkip logs the failure, leaves the batch unsummarized, and continues.
	PolicySkip BatchFailurePolicy = "skip"
)

// ParsePolicy validates a policy name; empty means PolicyAbort.
func ParsePolicy(s string) (BatchFailurePolicy, error) {
	switch BatchFailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicySkip:
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("unknown batch failure policy %q", s)
	}
}

// Options tunes a Processor.
type Options struct {
	BatchFailurePolicy BatchFailurePolicy
	Tracer             trace.Tracer
	// IDs and Clock stamp Run results; they default to UUIDv7 and UTC wall time.
	IDs   summary.IDGenerator
	Clock summary.Clock
}

// Processor orchestrates ProcessPages and ProcessDescription.
type Processor struct {
	source    summary.URLSource
	extractor summary.Extractor
	cache     *cache.Gateway
	policy    BatchFailurePolicy
	tracer    trace.Tracer
	ids       summary.IDGenerator
	clock     summary.Clock
	logger    *zap.Logger
}

// New builds a Processor. A nil gateway disables caching.
func New(
	source summary.URLSource,
	extractor summary.Extractor,
	gateway *cache.Gateway,
	opts Options,
	logger *zap.Logger,
) (*Processor, error) {
	if source == nil {
		return nil, fmt.Errorf("url source is required")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gateway == nil {
		gateway = cache.NewGateway(nil, logger)
	}
	policy, err := ParsePolicy(string(opts.BatchFailurePolicy))
	if err != nil {
		return nil, err
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	ids := opts.IDs
	if ids == nil {
		ids = uuid.New()
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	return &Processor{
		source:    source,
		extractor: extractor,
		cache:     gateway,
		policy:    policy,
		tracer:    tracer,
		ids:       ids,
		clock:     clock,
		logger:    logger.Named("processor"),
	}, nil
}

// Request parameterizes ProcessPages.
type Request struct {
	Site        string
	Model       string
	Provider    summary.Provider
	BatchSize   int
	Limit       int
	Concurrency int
	OnProgress  summary.ProgressFunc
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.Site) == "":
		return fmt.Errorf("%w: site is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Model) == "":
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	case r.Provider == nil:
		return fmt.Errorf("%w: provider is required", ErrInvalidRequest)
	case r.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidRequest, r.BatchSize)
	}
	return nil
}

// ProcessPages summarizes up to req.Limit pages of req.Site. Batches run one
// at a time; pages within a batch are extracted concurrently. Extraction
// failures become failed records and never stop the run. A provider failure
// is handled per the configured BatchFailurePolicy; under PolicyAbort the
// records accumulated so far are returned with the error.
func (p *Processor) ProcessPages(ctx context.Context, req Request) ([]*summary.Page, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Concurrency <= 0 {
		req.Concurrency = 1
	}

	ctx, span := p.tracer.Start(ctx, "processor.ProcessPages", trace.WithAttributes(
		attribute.String("site", req.Site),
		attribute.String("model", req.Model),
		attribute.String("provider", req.Provider.Name()),
		attribute.Int("batch_size", req.BatchSize),
		attribute.Int("limit", req.Limit),
	))
	defer span.End()

	logger := p.logger.With(zap.String("site", req.Site), zap.String("model", req.Model))

	urls, err := p.source.ListURLs(ctx, req.Site)
	if err != nil {
		return nil, p.fail(span, fmt.Errorf("list urls for %s: %w", req.Site, err))
	}
	batches, err := stream.Batch(stream.Take(urls, req.Limit), req.BatchSize)
	if err != nil {
		return nil, p.fail(span, err)
	}

	var (
		records   []*summary.Page
		processed int
	)
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return records, p.fail(span, fmt.Errorf("process pages: %w", err))
		}
		batch, ok, err := batches.Next(ctx)
		if err != nil {
			return records, p.fail(span, fmt.Errorf("list urls for %s: %w", req.Site, err))
		}
		if !ok {
			break
		}

		batchRecords, err := p.processBatch(ctx, req, index, batch, logger)
		records = append(records, batchRecords...)
		if err != nil {
			if p.policy == PolicyAbort || ctx.Err() != nil {
				return records, p.fail(span, fmt.Errorf("batch %d: %w", index, err))
			}
			logger.Warn("batch generation failed; continuing unsummarized",
				zap.Int("batch", index), zap.Int("pages", len(batch)), zap.Error(err))
		}

		processed += len(batch)
		if req.OnProgress != nil {
			total := processed
			if req.Limit > 0 {
				total = req.Limit
			}
			req.OnProgress(processed, total)
		}
	}

	span.SetAttributes(attribute.Int("pages", len(records)))
	logger.Info("pages processed", zap.Int("pages", len(records)))
	return records, nil
}

func (p *Processor) processBatch(
	ctx context.Context,
	req Request,
	index int,
	urls []string,
	logger *zap.Logger,
) ([]*summary.Page, error) {
	ctx, span := p.tracer.Start(ctx, "processor.batch", trace.WithAttributes(
		attribute.Int("batch", index),
		attribute.Int("pages", len(urls)),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		metrics.ObserveBatch(req.Site, time.Since(start))
	}()

	slots := limiter.Map(ctx, urls, req.Concurrency, func(ctx context.Context, url string) (*summary.Page, error) {
		return p.load(ctx, req, url, logger), nil
	}, logger)

	records := make([]*summary.Page, len(urls))
	for i, slot := range slots {
		if slot.OK && slot.Value != nil {
			records[i] = slot.Value
			continue
		}
		records[i] = summary.NewFailedPage(urls[i], slot.Err)
		metrics.ObservePage(req.Site, "failed")
	}

	var pending []*summary.Page
	for _, rec := range records {
		if !rec.Failed() && !rec.Summarized() {
			pending = append(pending, rec)
		}
	}

	if len(pending) > 0 {
		if err := p.generate(ctx, req, pending); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return records, err
		}
	}

	for _, rec := range records {
		if text, ok := rec.Summary(); ok {
			p.store(ctx, req, rec, text, logger)
		}
	}
	return records, nil
}

// load extracts one page and fills its summary from the cache when present.
func (p *Processor) load(ctx context.Context, req Request, url string, logger *zap.Logger) *summary.Page {
	content, err := p.extractor.Extract(ctx, url)
	if err != nil {
		logger.Warn("extraction failed", zap.String("url", url), zap.Error(err))
		metrics.ObservePage(req.Site, "failed")
		return summary.NewFailedPage(url, err)
	}
	page := summary.NewPage(url, content.Title, content.Content)

	key, err := cache.PageKey(req.Model, req.Site, url)
	if err != nil {
		logger.Warn("cache key derivation failed", zap.String("url", url), zap.Error(err))
		metrics.ObservePage(req.Site, "failed")
		return summary.NewFailedPage(url, err)
	}
	value, found, err := p.cache.Get(ctx, key, nil)
	if err != nil || !found {
		return page
	}
	entry := cache.DecodePageEntry(value)
	if strings.TrimSpace(entry.Summary) == "" {
		logger.Debug("cached entry has no summary; regenerating", zap.String("url", url))
		return page
	}
	if err := page.ApplyCached(entry.Title, entry.Summary); err != nil {
		logger.Warn("cached summary rejected", zap.String("url", url), zap.Error(err))
		return page
	}
	metrics.ObservePage(req.Site, "cached")
	return page
}

func (p *Processor) generate(ctx context.Context, req Request, pending []*summary.Page) error {
	inputs := make([]summary.PageInput, len(pending))
	for i, rec := range pending {
		inputs[i] = summary.InputFromPage(rec)
	}
	summaries, err := req.Provider.GenerateBatchSummaries(ctx, inputs)
	if err != nil {
		return err
	}
	if len(summaries) != len(pending) {
		return fmt.Errorf("provider %s broke the batch contract: %w",
			req.Provider.Name(), resilience.CountMismatch(len(pending), len(summaries)))
	}
	for i, rec := range pending {
		if err := rec.SetSummary(summaries[i]); err != nil {
			return fmt.Errorf("assign summary for %s: %w", rec.URL(), err)
		}
		metrics.ObservePage(req.Site, "generated")
	}
	return nil
}

func (p *Processor) store(ctx context.Context, req Request, rec *summary.Page, text string, logger *zap.Logger) {
	key, err := cache.PageKey(req.Model, req.Site, rec.URL())
	if err != nil {
		return
	}
	value, err := cache.EncodePageEntry(rec.Title(), text)
	if err != nil {
		logger.Warn("encode cache entry failed", zap.String("url", rec.URL()), zap.Error(err))
		return
	}
	p.cache.Set(ctx, key, value)
}

// ProcessDescription returns the site description, from the cache when
// present, otherwise generated from the summaries of the successful pages
// and cached. ErrNoSummaries is returned on a miss with nothing to describe.
func (p *Processor) ProcessDescription(
	ctx context.Context,
	model, site string,
	provider summary.Provider,
	pages []*summary.Page,
) (string, error) {
	if provider == nil {
		return "", fmt.Errorf("%w: provider is required", ErrInvalidRequest)
	}
	ctx, span := p.tracer.Start(ctx, "processor.ProcessDescription", trace.WithAttributes(
		attribute.String("site", site),
		attribute.String("model", model),
	))
	defer span.End()

	key, err := cache.DescriptionKey(model, site)
	if err != nil {
		return "", p.fail(span, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	var inputs []summary.PageInput
	for _, page := range summary.Successful(pages) {
		if page.Summarized() {
			inputs = append(inputs, summary.InputFromPage(page))
		}
	}

	description, _, err := p.cache.Get(ctx, key, func(ctx context.Context) (string, error) {
		if len(inputs) == 0 {
			return "", ErrNoSummaries
		}
		return provider.GenerateDescription(ctx, site, inputs)
	})
	if err != nil {
		return "", p.fail(span, fmt.Errorf("describe %s: %w", site, err))
	}
	return description, nil
}

func (p *Processor) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
