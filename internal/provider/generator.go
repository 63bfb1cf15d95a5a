package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/resilience"
	"github.com/JakeFAU/site-summarizer/internal/summary"
)

// Kind distinguishes the two generation operations.
type Kind string

// Generation operations.
const (
	KindBatch       Kind = "batch_summaries"
	KindDescription Kind = "description"
)

// Request is one raw generation call. Network backends use System and
// Prompt; offline backends may work from Pages directly.
type Request struct {
	Kind   Kind
	System string
	Prompt string
	Site   string
	Pages  []summary.PageInput
}

// Backend produces raw text for a Request.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Generator adapts a Backend to summary.Provider. Each Generator owns one
// circuit breaker shared by both operations.
type Generator struct {
	name        string
	model       string
	backend     Backend
	breaker     *resilience.Breaker
	batch       *resilience.Invoker[[]string]
	description *resilience.Invoker[string]
	logger      *zap.Logger
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Name        string
	Model       string
	MaxAttempts int
	Breaker     resilience.BreakerConfig
	Clock       resilience.Clock
}

// NewGenerator wires a backend behind a breaker and the two invokers.
func NewGenerator(backend Backend, cfg GeneratorConfig, logger *zap.Logger) (*Generator, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("provider").With(zap.String("provider", cfg.Name))
	breaker := resilience.NewBreaker(cfg.Name, cfg.Breaker, cfg.Clock, logger)
	return &Generator{
		name:    cfg.Name,
		model:   cfg.Model,
		backend: backend,
		breaker: breaker,
		batch: resilience.NewInvoker(breaker, resilience.InvokerConfig[[]string]{
			Operation:   string(KindBatch),
			Parser:      ParseSummaries,
			Validators:  []resilience.Validator[[]string]{NonBlankItems},
			MaxAttempts: cfg.MaxAttempts,
		}, logger),
		description: resilience.NewInvoker(breaker, resilience.InvokerConfig[string]{
			Operation:   string(KindDescription),
			Parser:      ParseDescription,
			MaxAttempts: cfg.MaxAttempts,
		}, logger),
		logger: logger,
	}, nil
}

// Name returns the backend name.
func (g *Generator) Name() string { return g.name }

// Model returns the configured model identifier.
func (g *Generator) Model() string { return g.model }

// Breaker exposes the generator's circuit breaker.
func (g *Generator) Breaker() *resilience.Breaker { return g.breaker }

// GenerateBatchSummaries returns exactly one summary per page, in order.
func (g *Generator) GenerateBatchSummaries(ctx context.Context, pages []summary.PageInput) ([]string, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	req := Request{
		Kind:   KindBatch,
		System: batchSystemPrompt,
		Pages:  pages,
	}
	summaries, err := g.batch.Invoke(ctx, BatchPrompt(pages), g.call(req), ExpectCount(len(pages)))
	if err != nil {
		return nil, fmt.Errorf("generate batch summaries: %w", err)
	}
	return summaries, nil
}

// GenerateDescription writes a site description from page summaries.
func (g *Generator) GenerateDescription(ctx context.Context, site string, pages []summary.PageInput) (string, error) {
	req := Request{
		Kind:   KindDescription,
		System: descriptionSystemPrompt,
		Site:   site,
		Pages:  pages,
	}
	description, err := g.description.Invoke(ctx, DescriptionPrompt(site, pages), g.call(req))
	if err != nil {
		return "", fmt.Errorf("generate description: %w", err)
	}
	return description, nil
}

// call binds a request template to the prompt chosen by the invoker.
func (g *Generator) call(template Request) resilience.Call {
	return func(ctx context.Context, prompt string) (string, error) {
		req := template
		req.Prompt = prompt
		return g.backend.Complete(ctx, req)
	}
}
