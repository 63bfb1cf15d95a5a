// Package app builds the long-lived services of the summarizer from
// configuration and runs summarization jobs with them. It is the
// dependency injection container shared by the CLI commands and the ops
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/cache"
	cachegcs "github.com/JakeFAU/site-summarizer/internal/cache/gcs"
	cachelocal "github.com/JakeFAU/site-summarizer/internal/cache/local"
	cachememory "github.com/JakeFAU/site-summarizer/internal/cache/memory"
	cachepostgres "github.com/JakeFAU/site-summarizer/internal/cache/postgres"
	"github.com/JakeFAU/site-summarizer/internal/clock/system"
	"github.com/JakeFAU/site-summarizer/internal/config"
	"github.com/JakeFAU/site-summarizer/internal/extract"
	collyfetcher "github.com/JakeFAU/site-summarizer/internal/fetcher/colly"
	"github.com/JakeFAU/site-summarizer/internal/fetcher/headless"
	"github.com/JakeFAU/site-summarizer/internal/hash/sha256"
	"github.com/JakeFAU/site-summarizer/internal/headless/detector"
	"github.com/JakeFAU/site-summarizer/internal/id/uuid"
	"github.com/JakeFAU/site-summarizer/internal/policy/ratelimit"
	"github.com/JakeFAU/site-summarizer/internal/processor"
	"github.com/JakeFAU/site-summarizer/internal/progress"
	"github.com/JakeFAU/site-summarizer/internal/progress/sinks"
	"github.com/JakeFAU/site-summarizer/internal/provider"
	"github.com/JakeFAU/site-summarizer/internal/publisher"
	pubmemory "github.com/JakeFAU/site-summarizer/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/site-summarizer/internal/publisher/pubsub"
	"github.com/JakeFAU/site-summarizer/internal/resilience"
	"github.com/JakeFAU/site-summarizer/internal/source"
	"github.com/JakeFAU/site-summarizer/internal/summary"
)

// defaultTopic names the notification topic for the in-memory publisher.
const defaultTopic = "summarizer-runs"

// ErrProviderOpen is reported by Ready while the provider breaker is open.
var ErrProviderOpen = errors.New("provider circuit is open")

// App holds the shared, long-lived services. It is built once at startup
// and closed when the command finishes.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	processor *processor.Processor
	provider  summary.Provider
	model     string
	breaker   *resilience.Breaker
	hub       *progress.Hub
	notifier  *publisher.Notifier
	ids       summary.IDGenerator
	closers   []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

type options struct {
	store      cache.Store
	source     summary.URLSource
	extractor  summary.Extractor
	provider   summary.Provider
	model      string
	publisher  summary.Publisher
	registerer prometheus.Registerer
	ids        summary.IDGenerator
}

// Option overrides a collaborator that New would otherwise build from
// configuration.
type Option func(*options)

// WithStore replaces the configured cache backend.
func WithStore(store cache.Store) Option {
	return func(o *options) { o.store = store }
}

// WithSource replaces the static/sitemap URL source.
func WithSource(src summary.URLSource) Option {
	return func(o *options) { o.source = src }
}

// WithExtractor replaces the fetch-and-parse extractor.
func WithExtractor(e summary.Extractor) Option {
	return func(o *options) { o.extractor = e }
}

// WithProvider replaces the configured generation provider; model is the
// cache scope used for its summaries.
func WithProvider(p summary.Provider, model string) Option {
	return func(o *options) {
		o.provider = p
		o.model = model
	}
}

// WithPublisher replaces the notification publisher.
func WithPublisher(p summary.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRegisterer registers progress collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithIDGenerator replaces the UUIDv7 run ID generator.
func WithIDGenerator(ids summary.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

// New wires every service from cfg. It fails fast when a backend cannot be
// reached; anything opened before the failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.wire(ctx, o); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := a.Close(closeCtx); closeErr != nil {
			logger.Warn("cleanup after failed init", zap.Error(closeErr))
		}
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("provider", a.provider.Name()),
		zap.String("model", a.model),
		zap.String("cache", cfg.Cache.Backend))
	return a, nil
}

func (a *App) wire(ctx context.Context, o options) error {
	a.ids = o.ids
	if a.ids == nil {
		a.ids = uuid.New()
	}
	clock := system.New()

	store := o.store
	if store == nil {
		var err error
		if store, err = a.buildStore(ctx); err != nil {
			return err
		}
	}
	gateway := cache.NewGateway(store, a.logger)

	src := o.source
	if src == nil {
		src = a.buildSource()
	}

	extractor := o.extractor
	if extractor == nil {
		var err error
		if extractor, err = a.buildExtractor(); err != nil {
			return err
		}
	}

	a.provider, a.model = o.provider, o.model
	if a.provider == nil {
		gen, err := provider.New(provider.Config{
			Backend:     provider.BackendName(a.cfg.Provider.Backend),
			Model:       a.cfg.Provider.Model,
			BaseURL:     a.cfg.Provider.BaseURL,
			APIKey:      a.cfg.Provider.APIKey,
			Temperature: a.cfg.Provider.Temperature,
			MaxTokens:   a.cfg.Provider.MaxTokens,
			Timeout:     a.cfg.ProviderTimeout(),
			MaxAttempts: a.cfg.Provider.MaxAttempts,
			Breaker: resilience.BreakerConfig{
				Threshold: a.cfg.Breaker.Threshold,
				Timeout:   a.cfg.BreakerTimeout(),
			},
			AppName: a.cfg.Provider.AppName,
		}, clock, a.logger)
		if err != nil {
			return fmt.Errorf("build provider: %w", err)
		}
		a.provider, a.model, a.breaker = gen, gen.Model(), gen.Breaker()
	}
	if a.model == "" {
		a.model = a.provider.Name()
	}

	proc, err := processor.New(src, extractor, gateway, processor.Options{
		BatchFailurePolicy: processor.BatchFailurePolicy(a.cfg.Pipeline.BatchFailurePolicy),
		IDs:                a.ids,
		Clock:              clock,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("build processor: %w", err)
	}
	a.processor = proc

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return err
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger}, sinks.NewLogSink(a.logger), promSink)
	a.closers = append(a.closers, closer{name: "progress hub", fn: a.hub.Close})

	pub := o.publisher
	topic := defaultTopic
	if pub == nil {
		if pub, err = a.buildPublisher(ctx); err != nil {
			return err
		}
	}
	if a.cfg.PublishEnabled() {
		topic = a.cfg.PubSub.TopicName
	}
	a.notifier = publisher.NewNotifier(pub, topic, a.logger)
	return nil
}

func (a *App) buildStore(ctx context.Context) (cache.Store, error) {
	cfg := a.cfg.Cache
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		a.logger.Info("using in-memory summary cache; entries are lost on exit")
		return cachememory.New(), nil
	case "local":
		store, err := cachelocal.New(cachelocal.Config{BaseDir: cfg.Dir}, sha256.New())
		if err != nil {
			return nil, fmt.Errorf("open local cache: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := cachepostgres.New(ctx, cachepostgres.Config{
			DSN:          cfg.DSN,
			Table:        cfg.Table,
			MaxConns:     cfg.MaxConns,
			EnsureSchema: cfg.EnsureSchema,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres cache: %w", err)
		}
		a.closers = append(a.closers, closer{name: "postgres cache", fn: func(context.Context) error {
			store.Close()
			return nil
		}})
		return store, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, closer{name: "gcs client", fn: func(context.Context) error {
			return client.Close()
		}})
		store, err := cachegcs.New(client, cachegcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix}, sha256.New())
		if err != nil {
			return nil, fmt.Errorf("open gcs cache: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func (a *App) buildSource() summary.URLSource {
	if len(a.cfg.Source.URLs) > 0 {
		return source.NewStatic(a.cfg.Source.URLs...)
	}
	return source.NewSitemap(source.SitemapConfig{
		Path:        a.cfg.Source.SitemapPath,
		UserAgent:   a.cfg.Fetch.UserAgent,
		Timeout:     a.cfg.FetchTimeout(),
		MaxSitemaps: a.cfg.Source.MaxSitemaps,
	}, a.logger)
}

func (a *App) buildExtractor() (summary.Extractor, error) {
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetch.UserAgent,
		RespectRobots: a.cfg.Fetch.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
		MaxBodyBytes:  a.cfg.Fetch.MaxBodyBytes,
	})
	opts := []extract.Option{
		extract.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Fetch.RPS,
			DefaultBurst: a.cfg.Fetch.Burst,
		})),
	}
	if a.cfg.Headless.Enabled {
		renderer, err := headless.NewChromedp(headless.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Fetch.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
			SettleDelay:       a.cfg.SettleDelay(),
		})
		if err != nil {
			return nil, fmt.Errorf("start headless renderer: %w", err)
		}
		a.closers = append(a.closers, closer{name: "headless renderer", fn: func(context.Context) error {
			renderer.Close()
			return nil
		}})
		opts = append(opts, extract.WithHeadless(renderer, detector.NewHeuristic(a.cfg.Headless.PromotionThresh)))
	}
	extractor, err := extract.New(probe, extract.Config{
		RespectRobots:   a.cfg.Fetch.RespectRobots,
		UserAgent:       a.cfg.Fetch.UserAgent,
		MaxContentChars: a.cfg.Fetch.MaxContentChars,
	}, a.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}
	return extractor, nil
}

func (a *App) buildPublisher(ctx context.Context) (summary.Publisher, error) {
	if !a.cfg.PublishEnabled() {
		return pubmemory.New(), nil
	}
	pub, err := pubsubpublisher.Open(ctx, pubsubpublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		TopicName: a.cfg.PubSub.TopicName,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, closer{name: "pubsub publisher", fn: func(context.Context) error {
		return pub.Close()
	}})
	return pub, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Processor exposes the pipeline for callers that drive it directly.
func (a *App) Processor() *processor.Processor { return a.processor }

// Model is the cache scope of the configured provider.
func (a *App) Model() string { return a.model }

// RunOptions parameterizes one run. Zero Limit, BatchSize and Concurrency
// fall back to the pipeline configuration; an empty RunID is allocated.
type RunOptions struct {
	RunID       string
	Site        string
	Limit       int
	BatchSize   int
	Concurrency int
	Describe    bool
}

// Run summarizes a site end to end: it reports progress to the hub and
// announces the result to the notification topic. The Result is returned
// even when the run fails part way.
func (a *App) Run(ctx context.Context, opts RunOptions) (processor.Result, error) {
	runID := opts.RunID
	if runID == "" {
		id, err := a.ids.NewID()
		if err != nil {
			return processor.Result{}, fmt.Errorf("allocate run id: %w", err)
		}
		runID = id
	}
	reporter, err := progress.NewReporter(a.hub, runID, opts.Site)
	if err != nil {
		return processor.Result{}, err
	}

	req := processor.RunRequest{
		RunID:    runID,
		Describe: opts.Describe,
		Request: processor.Request{
			Site:        opts.Site,
			Model:       a.model,
			Provider:    a.provider,
			BatchSize:   orDefault(opts.BatchSize, a.cfg.Pipeline.BatchSize),
			Limit:       orDefault(opts.Limit, a.cfg.Pipeline.Limit),
			Concurrency: orDefault(opts.Concurrency, a.cfg.Pipeline.Concurrency),
			OnProgress:  reporter.OnProgress(),
		},
	}

	reporter.Start()
	result, runErr := a.processor.Run(ctx, req)
	reporter.Pages(result.Pages)
	reporter.Finish(result.Duration(), runErr)
	a.notifier.Notify(context.WithoutCancel(ctx), result, runErr)
	return result, runErr
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Ready reports whether the App can accept work. It fails while the
// provider breaker is open.
func (a *App) Ready(context.Context) error {
	if a.breaker == nil {
		return nil
	}
	if snap := a.breaker.Snapshot(); snap.State == resilience.StateOpen {
		return fmt.Errorf("%w until %s", ErrProviderOpen, snap.NextAttempt.Format(time.RFC3339))
	}
	return nil
}

// Close shuts services down in reverse order of creation and syncs the
// logger. Every closer runs; the errors are joined.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	// Sync errors on stderr-backed loggers are expected.
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
