package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-summarizer/internal/cache"
	"github.com/JakeFAU/site-summarizer/internal/cache/memory"
	"github.com/JakeFAU/site-summarizer/internal/resilience"
	"github.com/JakeFAU/site-summarizer/internal/source"
	"github.com/JakeFAU/site-summarizer/internal/summary"
)

const (
	testSite  = "example.com"
	testModel = "m"
)

type fakeExtractor struct {
	mu    sync.Mutex
	fail  map[string]error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, url string) (summary.PageContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.fail[url]; ok {
		return summary.PageContent{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	return summary.PageContent{
		Title:   "Title " + url[strings.LastIndex(url, "/")+1:],
		Content: "content of " + url,
	}, nil
}

type fakeProvider struct {
	mu         sync.Mutex
	batchCalls int
	descCalls  int
	seen       [][]summary.PageInput
	failOn     map[int]error
	short      bool
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) GenerateBatchSummaries(_ context.Context, pages []summary.PageInput) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	f.seen = append(f.seen, append([]summary.PageInput(nil), pages...))
	if err, ok := f.failOn[f.batchCalls]; ok {
		return nil, err
	}
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = "summary of " + p.URL
	}
	if f.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeProvider) GenerateDescription(_ context.Context, site string, pages []summary.PageInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descCalls++
	return fmt.Sprintf("%s has %d pages", site, len(pages)), nil
}

func (f *fakeProvider) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchCalls, f.descCalls
}

func pageURLs(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/p%d", i+1)
	}
	return urls
}

func newTestProcessor(
	t *testing.T,
	urls []string,
	extractor summary.Extractor,
	store *memory.Store,
	opts Options,
) *Processor {
	t.Helper()
	p, err := New(source.NewStatic(urls...), extractor, cache.NewGateway(store, nil), opts, nil)
	require.NoError(t, err)
	return p
}

func baseRequest(provider summary.Provider) Request {
	return Request{
		Site:        testSite,
		Model:       testModel,
		Provider:    provider,
		BatchSize:   2,
		Concurrency: 3,
	}
}

func TestProcessPages_CachesEveryPageAndRerunSkipsProvider(t *testing.T) {
	t.Parallel()

	store := memory.New()
	urls := pageURLs(5)
	provider := &fakeProvider{}
	p := newTestProcessor(t, urls, &fakeExtractor{}, store, Options{})

	records, err := p.ProcessPages(context.Background(), baseRequest(provider))
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, rec := range records {
		assert.Equal(t, urls[i], rec.URL())
		text, ok := rec.Summary()
		require.True(t, ok)
		assert.Equal(t, "summary of "+urls[i], text)
	}

	batchCalls, _ := provider.counts()
	assert.Equal(t, 3, batchCalls)
	assert.Equal(t, 5, store.Len())
	fields := store.Fields("m:example.com")
	require.Len(t, fields, 5)
	entry := cache.DecodePageEntry(fields["/p3"])
	assert.Equal(t, "Title p3", entry.Title)
	assert.Equal(t, "summary of https://example.com/p3", entry.Summary)

	rerun := newTestProcessor(t, urls, &fakeExtractor{}, store, Options{})
	again, err := rerun.ProcessPages(context.Background(), baseRequest(provider))
	require.NoError(t, err)
	require.Len(t, again, 5)
	for i, rec := range again {
		text, ok := rec.Summary()
		require.True(t, ok)
		assert.Equal(t, "summary of "+urls[i], text)
	}
	batchCalls, _ = provider.counts()
	assert.Equal(t, 3, batchCalls, "rerun must be served entirely from the cache")
}

func TestProcessPages_EmptyCachedSummaryIsRegenerated(t *testing.T) {
	t.Parallel()

	store := memory.New()
	blank, err := cache.EncodePageEntry("Stale title", "")
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "m:example.com", "/p1", blank))

	provider := &fakeProvider{}
	p := newTestProcessor(t, pageURLs(1), &fakeExtractor{}, store, Options{})
	records, err := p.ProcessPages(context.Background(), baseRequest(provider))
	require.NoError(t, err)
	require.Len(t, records, 1)

	text, ok := records[0].Summary()
	require.True(t, ok)
	assert.Equal(t, "summary of https://example.com/p1", text)
	assert.NotContains(t, text, "{")
	batchCalls, _ := provider.counts()
	assert.Equal(t, 1, batchCalls)
}

func TestProcessPages_FailedExtractionNeverReachesProvider(t *testing.T) {
	t.Parallel()

	store := memory.New()
	urls := pageURLs(3)
	extractor := &fakeExtractor{fail: map[string]error{urls[1]: summary.ErrResourceUnavailable}}
	provider := &fakeProvider{}
	p := newTestProcessor(t, urls, extractor, store, Options{})

	req := baseRequest(provider)
	req.BatchSize = 3
	records, err := p.ProcessPages(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.False(t, records[0].Failed())
	assert.True(t, records[1].Failed())
	errText, failed := records[1].Err()
	assert.True(t, failed)
	assert.Contains(t, errText, "resource unavailable")
	assert.False(t, records[1].Summarized())
	assert.True(t, records[2].Summarized())

	require.Len(t, provider.seen, 1)
	require.Len(t, provider.seen[0], 2)
	for _, in := range provider.seen[0] {
		assert.NotEqual(t, urls[1], in.URL)
	}
	assert.Equal(t, 2, store.Len())
}

func TestProcessPages_AbortPolicyStopsAtFailingBatch(t *testing.T) {
	t.Parallel()

	boom := fmt.Errorf("upstream: %w", summary.ErrProviderUnavailable)
	provider := &fakeProvider{failOn: map[int]error{2: boom}}
	extractor := &fakeExtractor{}
	store := memory.New()
	p := newTestProcessor(t, pageURLs(5), extractor, store, Options{BatchFailurePolicy: PolicyAbort})

	records, err := p.ProcessPages(context.Background(), baseRequest(provider))
	require.Error(t, err)
	require.ErrorIs(t, err, summary.ErrProviderUnavailable)
	require.Len(t, records, 4)
	assert.True(t, records[0].Summarized())
	assert.True(t, records[1].Summarized())
	assert.False(t, records[2].Summarized())
	assert.False(t, records[3].Summarized())

	batchCalls, _ := provider.counts()
	assert.Equal(t, 2, batchCalls)
	assert.Equal(t, 4, extractor.calls, "the third batch must never be extracted")
	assert.Equal(t, 2, store.Len())
}

func TestProcessPages_SkipPolicyContinues(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{failOn: map[int]error{2: summary.ErrProviderUnavailable}}
	store := memory.New()
	p := newTestProcessor(t, pageURLs(5), &fakeExtractor{}, store, Options{BatchFailurePolicy: PolicySkip})

	records, err := p.ProcessPages(context.Background(), baseRequest(provider))
	require.NoError(t, err)
	require.Len(t, records, 5)

	st := ComputeStats(records)
	assert.Equal(t, Stats{Total: 5, Summarized: 3, Unsummarized: 2}, st)
	assert.False(t, records[2].Summarized())
	assert.False(t, records[3].Summarized())
	assert.True(t, records[4].Summarized())
	assert.Equal(t, 3, store.Len())
}

func TestProcessPages_CountMismatchIsValidationError(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{short: true}
	p := newTestProcessor(t, pageURLs(2), &fakeExtractor{}, memory.New(), Options{})

	records, err := p.ProcessPages(context.Background(), baseRequest(provider))
	require.Error(t, err)
	var verr *resilience.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, resilience.KindCountMismatch, verr.Kind)
	assert.Len(t, records, 2)
}

func TestProcessPages_LimitAndProgress(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	p := newTestProcessor(t, pageURLs(8), &fakeExtractor{}, memory.New(), Options{})

	var (
		mu    sync.Mutex
		calls [][2]int
	)
	req := baseRequest(provider)
	req.Limit = 5
	req.OnProgress = func(processed, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, [2]int{processed, total})
	}

	records, err := p.ProcessPages(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, records, 5)
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, calls)
}

func TestProcessPages_EmptySite(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	p := newTestProcessor(t, nil, &fakeExtractor{}, memory.New(), Options{})

	records, err := p.ProcessPages(context.Background(), baseRequest(provider))
	require.NoError(t, err)
	assert.Empty(t, records)
	batchCalls, _ := provider.counts()
	assert.Zero(t, batchCalls)
}

func TestProcessPages_CanceledContext(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	p := newTestProcessor(t, pageURLs(4), &fakeExtractor{}, memory.New(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	records, err := p.ProcessPages(ctx, baseRequest(provider))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, records)
}

func TestProcessPages_RejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t, pageURLs(1), &fakeExtractor{}, memory.New(), Options{})
	tests := map[string]Request{
		"no site":     {Model: testModel, Provider: &fakeProvider{}, BatchSize: 1},
		"no model":    {Site: testSite, Provider: &fakeProvider{}, BatchSize: 1},
		"no provider": {Site: testSite, Model: testModel, BatchSize: 1},
		"zero batch":  {Site: testSite, Model: testModel, Provider: &fakeProvider{}},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := p.ProcessPages(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestProcessDescription_GeneratedOnceThenCached(t *testing.T) {
	t.Parallel()

	store := memory.New()
	provider := &fakeProvider{}
	p := newTestProcessor(t, pageURLs(3), &fakeExtractor{}, store, Options{})

	pages, err := p.ProcessPages(context.Background(), baseRequest(provider))
	require.NoError(t, err)

	first, err := p.ProcessDescription(context.Background(), testModel, testSite, provider, pages)
	require.NoError(t, err)
	assert.Equal(t, "example.com has 3 pages", first)

	second, err := p.ProcessDescription(context.Background(), testModel, testSite, provider, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, descCalls := provider.counts()
	assert.Equal(t, 1, descCalls)
	assert.Equal(t, first, store.Fields("m:example.com")[cache.DescriptionField])
}

func TestProcessDescription_NoSummaries(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	p := newTestProcessor(t, nil, &fakeExtractor{}, memory.New(), Options{})
	pages := []*summary.Page{
		summary.NewFailedPage("https://example.com/a", errors.New("boom")),
		summary.NewPage("https://example.com/b", "B", "unsummarized"),
	}

	_, err := p.ProcessDescription(context.Background(), testModel, testSite, provider, pages)
	require.ErrorIs(t, err, ErrNoSummaries)
	_, descCalls := provider.counts()
	assert.Zero(t, descCalls)
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Second)
	return t
}

func TestRun_ReportsPagesDescriptionAndStats(t *testing.T) {
	t.Parallel()

	urls := pageURLs(3)
	extractor := &fakeExtractor{fail: map[string]error{urls[0]: summary.ErrResourceUnavailable}}
	provider := &fakeProvider{}
	clock := &steppingClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	p := newTestProcessor(t, urls, extractor, memory.New(), Options{
		IDs:   fixedIDs{id: "run-1"},
		Clock: clock,
	})

	result, err := p.Run(context.Background(), RunRequest{Request: baseRequest(provider), Describe: true})
	require.NoError(t, err)
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, "fake", result.Provider)
	assert.Equal(t, time.Second, result.Duration())
	assert.Equal(t, Stats{Total: 3, Summarized: 2, Failed: 1}, result.Stats)
	assert.Equal(t, "example.com has 2 pages", result.Description)
}

func TestRun_NothingToDescribeIsNotAnError(t *testing.T) {
	t.Parallel()

	urls := pageURLs(2)
	extractor := &fakeExtractor{fail: map[string]error{
		urls[0]: summary.ErrResourceUnavailable,
		urls[1]: summary.ErrResourceUnavailable,
	}}
	provider := &fakeProvider{}
	p := newTestProcessor(t, urls, extractor, memory.New(), Options{IDs: fixedIDs{id: "run-2"}})

	result, err := p.Run(context.Background(), RunRequest{Request: baseRequest(provider), Describe: true})
	require.NoError(t, err)
	assert.Empty(t, result.Description)
	assert.Equal(t, 2, result.Stats.Failed)
	batchCalls, descCalls := provider.counts()
	assert.Zero(t, batchCalls)
	assert.Zero(t, descCalls)
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	got, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAbort, got)

	got, err = ParsePolicy(" Skip ")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, got)

	_, err = ParsePolicy("retry")
	require.Error(t, err)
}
