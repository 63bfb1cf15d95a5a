package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-summarizer/internal/app"
	"github.com/JakeFAU/site-summarizer/internal/cache/memory"
	"github.com/JakeFAU/site-summarizer/internal/config"
	"github.com/JakeFAU/site-summarizer/internal/publisher"
	"github.com/JakeFAU/site-summarizer/internal/source"
	"github.com/JakeFAU/site-summarizer/internal/summary"
)

const runID = "01890a5d-ac96-774b-bcce-b302099a8057"

// MockProvider mocks summary.Provider.
type MockProvider struct {
	mock.Mock
}

// Name satisfies summary.Provider.
func (m *MockProvider) Name() string {
	args := m.Called()
	return args.String(0)
}

// GenerateBatchSummaries satisfies summary.Provider.
func (m *MockProvider) GenerateBatchSummaries(ctx context.Context, pages []summary.PageInput) ([]string, error) {
	args := m.Called(ctx, pages)
	out, _ := args.Get(0).([]string)
	return out, args.Error(1)
}

// GenerateDescription satisfies summary.Provider.
func (m *MockProvider) GenerateDescription(ctx context.Context, site string, pages []summary.PageInput) (string, error) {
	args := m.Called(ctx, site, pages)
	return args.String(0), args.Error(1)
}

// MockPublisher mocks summary.Publisher.
type MockPublisher struct {
	mock.Mock
}

// Publish satisfies summary.Publisher.
func (m *MockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, url string) (summary.PageContent, error) {
	return summary.PageContent{Title: url, Content: "body of " + url}, nil
}

type fixedID struct{}

func (fixedID) NewID() (string, error) { return runID, nil }

func testConfig() config.Config {
	return config.Config{
		Pipeline: config.PipelineConfig{BatchSize: 2, Concurrency: 2, BatchFailurePolicy: "abort", Describe: true},
		Provider: config.ProviderConfig{Backend: "extractive", MaxAttempts: 3, TimeoutSeconds: 5},
		Breaker:  config.BreakerConfig{Threshold: 5, TimeoutMs: 1000},
		Cache:    config.CacheConfig{Backend: "memory"},
		Fetch:    config.FetchConfig{UserAgent: "test-agent", TimeoutSeconds: 5, RPS: 10, Burst: 10},
		Source: config.SourceConfig{
			URLs: []string{"https://example.com/a", "https://example.com/b"},
		},
	}
}

func TestNewApp_BuildsFromConfig(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	a, err := app.New(context.Background(), testConfig(), nil, app.WithRegisterer(reg))
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.NotNil(t, a.Logger())
	assert.NotNil(t, a.Processor())
	assert.Equal(t, "extractive", a.Model())
	assert.NoError(t, a.Ready(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestNewApp_LocalCacheBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Cache = config.CacheConfig{Backend: "local", Dir: t.TempDir()}
	a, err := app.New(context.Background(), cfg, nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
}

func TestNewApp_UnknownCacheBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Cache.Backend = "redis"
	_, err := app.New(context.Background(), cfg, nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cache backend")
}

func TestNewApp_ChatBackendRequiresKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Provider.Backend = "openai"
	_, err := app.New(context.Background(), cfg, nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestApp_RunSummarizesDescribesAndNotifies(t *testing.T) {
	t.Parallel()

	prov := &MockProvider{}
	prov.On("Name").Return("mock")
	prov.On("GenerateBatchSummaries", mock.Anything, mock.Anything).Return([]string{"sum a", "sum b"}, nil).Once()
	prov.On("GenerateDescription", mock.Anything, "example.com", mock.Anything).Return("an example site", nil).Once()

	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, "summarizer-runs", mock.MatchedBy(func(m publisher.RunCompleted) bool {
		return m.RunID == runID && m.Error == "" && m.Stats.Summarized == 2
	})).Return("msg-1", nil).Once()

	reg := prometheus.NewRegistry()
	store := memory.New()
	a, err := app.New(context.Background(), testConfig(), nil,
		app.WithRegisterer(reg),
		app.WithStore(store),
		app.WithSource(source.NewStatic("https://example.com/a", "https://example.com/b")),
		app.WithExtractor(stubExtractor{}),
		app.WithProvider(prov, "mock-model"),
		app.WithPublisher(pub),
		app.WithIDGenerator(fixedID{}),
	)
	require.NoError(t, err)

	result, err := a.Run(context.Background(), app.RunOptions{Site: "example.com", Describe: true})
	require.NoError(t, err)
	assert.Equal(t, runID, result.RunID)
	assert.Equal(t, "mock-model", result.Model)
	assert.Equal(t, "an example site", result.Description)
	assert.Equal(t, 2, result.Stats.Summarized)
	assert.Len(t, store.Fields("mock-model:example.com"), 3)

	require.NoError(t, a.Close(context.Background()))
	prov.AssertExpectations(t)
	pub.AssertExpectations(t)

	count, err := testutil.GatherAndCount(reg, "summarizer_runs_started_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1.0, gatherCounter(t, reg, "summarizer_runs_completed_total"))
}

func TestApp_RunFailureIsStillAnnounced(t *testing.T) {
	t.Parallel()

	prov := &MockProvider{}
	prov.On("Name").Return("mock")
	prov.On("GenerateBatchSummaries", mock.Anything, mock.Anything).
		Return(nil, errors.New("upstream down")).Once()

	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, "summarizer-runs", mock.MatchedBy(func(m publisher.RunCompleted) bool {
		return m.Error != "" && m.Stats.Unsummarized == 2
	})).Return("", errors.New("publish failed")).Once()

	a, err := app.New(context.Background(), testConfig(), nil,
		app.WithRegisterer(prometheus.NewRegistry()),
		app.WithStore(memory.New()),
		app.WithExtractor(stubExtractor{}),
		app.WithProvider(prov, "mock-model"),
		app.WithPublisher(pub),
	)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	result, err := a.Run(context.Background(), app.RunOptions{Site: "example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Len(t, result.Pages, 2)
	pub.AssertExpectations(t)
}

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
