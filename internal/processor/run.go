package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

// RunRequest is a Request plus whether to describe the site afterwards.
// RunID is allocated when empty.
type RunRequest struct {
	Request
	RunID    string
	Describe bool
}

// Stats tallies page outcomes for a run.
type Stats struct {
	Total        int `json:"total"`
	Summarized   int `json:"summarized"`
	Failed       int `json:"failed"`
	Unsummarized int `json:"unsummarized"`
}

// Result is the report of one Run.
type Result struct {
	RunID       string          `json:"run_id"`
	Site        string          `json:"site"`
	Model       string          `json:"model"`
	Provider    string          `json:"provider"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Pages       []*summary.Page `json:"pages"`
	Description string          `json:"description,omitempty"`
	Stats       Stats           `json:"stats"`
}

// Duration is the wall time between start and finish.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ComputeStats counts outcomes across pages.
func ComputeStats(pages []*summary.Page) Stats {
	var st Stats
	for _, page := range pages {
		if page == nil {
			continue
		}
		st.Total++
		switch {
		case page.Failed():
			st.Failed++
		case page.Summarized():
			st.Summarized++
		default:
			st.Unsummarized++
		}
	}
	return st
}

// Run processes the site's pages and, when asked, describes the site. The
// returned Result is populated even on error so callers can report partial
// progress. A site with nothing to describe is not an error; the
// description is simply left empty.
func (p *Processor) Run(ctx context.Context, req RunRequest) (Result, error) {
	runID := req.RunID
	if runID == "" {
		id, err := p.ids.NewID()
		if err != nil {
			return Result{}, fmt.Errorf("allocate run id: %w", err)
		}
		runID = id
	}
	result := Result{
		RunID:     runID,
		Site:      req.Site,
		Model:     req.Model,
		StartedAt: p.clock.Now(),
	}
	if req.Provider != nil {
		result.Provider = req.Provider.Name()
	}
	logger := p.logger.With(zap.String("run_id", runID), zap.String("site", req.Site))
	logger.Info("run started", zap.String("model", req.Model), zap.String("provider", result.Provider))

	finish := func(err error) (Result, error) {
		result.FinishedAt = p.clock.Now()
		result.Stats = ComputeStats(result.Pages)
		if err != nil {
			logger.Error("run failed", zap.Error(err), zap.Int("pages", result.Stats.Total))
			return result, err
		}
		logger.Info("run finished",
			zap.Int("pages", result.Stats.Total),
			zap.Int("summarized", result.Stats.Summarized),
			zap.Int("failed", result.Stats.Failed),
			zap.Duration("duration", result.Duration()))
		return result, nil
	}

	pages, err := p.ProcessPages(ctx, req.Request)
	result.Pages = pages
	if err != nil {
		return finish(err)
	}
	if !req.Describe {
		return finish(nil)
	}

	description, err := p.ProcessDescription(ctx, req.Model, req.Site, req.Provider, pages)
	switch {
	case errors.Is(err, ErrNoSummaries):
		logger.Warn("nothing to describe", zap.Error(err))
	case err != nil:
		return finish(err)
	default:
		result.Description = description
	}
	return finish(nil)
}
