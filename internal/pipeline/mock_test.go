package pipeline

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sift/internal/analyze"
	"github.com/sells-group/sift/internal/cache"
	"github.com/sells-group/sift/internal/extract"
	"github.com/sells-group/sift/internal/metrics"
	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/internal/quota"
	"github.com/sells-group/sift/internal/resilience"
	"github.com/sells-group/sift/internal/store"
	"github.com/sells-group/sift/pkg/anthropic"
	"github.com/sells-group/sift/pkg/apify"
)

type MockApify struct {
	mock.Mock
}

func (m *MockApify) RunSync(ctx context.Context, actorID string, input any, _ ...apify.RunOption) ([]apify.Item, error) {
	args := m.Called(ctx, actorID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]apify.Item), args.Error(1)
}

type MockAnthropic struct {
	mock.Mock
}

func (m *MockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 800, OutputTokens: 150},
	}
}

type MockRehoster struct {
	mock.Mock
}

func (m *MockRehoster) Rehost(ctx context.Context, sourceURL string) (string, error) {
	args := m.Called(ctx, sourceURL)
	return args.String(0), args.Error(1)
}

// stubExtractor returns canned content for every URL of its platforms.
type stubExtractor struct {
	name      string
	platforms []model.Platform
	content   *model.Content
	err       error
	block     bool
	calls     atomic.Int32
}

func (s *stubExtractor) Name() string { return s.name }

func (s *stubExtractor) Supports(p model.Platform) bool {
	for _, sp := range s.platforms {
		if sp == p {
			return true
		}
	}
	return false
}

func (s *stubExtractor) Extract(ctx context.Context, _ string) (*model.Content, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	c := *s.content
	return &c, nil
}

// failingSaveStore rejects terminal writes.
type failingSaveStore struct {
	store.Store
	err error
}

func (f *failingSaveStore) SaveSift(context.Context, *model.Sift) error {
	return f.err
}

type harness struct {
	store      store.Store
	strategies []extract.Extractor
	web        *stubExtractor
	apify      *MockApify
	anthropic  *MockAnthropic
	assets     *MockRehoster
	metrics    *metrics.Metrics
	pipeline   *Pipeline
}

type harnessOption func(*harness, *Deps)

func withFreeLimit(n int) harnessOption {
	return func(h *harness, d *Deps) {
		d.Quota = quota.New(h.store, quota.Config{FreeDailyLimit: n})
	}
}

func withExtractionCache(c cache.Store) harnessOption {
	return func(h *harness, d *Deps) {
		d.Dispatcher = extract.NewDispatcher(h.strategies,
			extract.WithAttemptHook(h.metrics.ObserveExtraction),
			extract.WithCache(c, time.Hour),
		)
	}
}

func withStore(wrap func(store.Store) store.Store) harnessOption {
	return func(_ *harness, d *Deps) {
		d.Store = wrap(d.Store)
	}
}

func recipeContent() *model.Content {
	return &model.Content{
		Title:    "Best Buttermilk Pancakes",
		Text:     "Ingredients: 2 cups flour, 2 eggs, 1 cup buttermilk. Whisk, rest, and fry in butter.",
		ImageURL: "https://example.com/images/pancakes.jpg",
		Author:   "Anna",
		Platform: model.PlatformWeb,
		Source:   "web",
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "sift.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		store:     newTestStore(t),
		web:       &stubExtractor{name: "web", platforms: []model.Platform{model.PlatformWeb}, content: recipeContent()},
		apify:     new(MockApify),
		anthropic: new(MockAnthropic),
		assets:    new(MockRehoster),
		metrics:   metrics.New(),
	}

	social := extract.NewSocialExtractor(h.apify, extract.SocialConfig{
		Timeout: time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	})
	h.strategies = []extract.Extractor{social, h.web, extract.ImageExtractor{}}
	dispatcher := extract.NewDispatcher(h.strategies, extract.WithAttemptHook(h.metrics.ObserveExtraction))

	tax := analyze.DefaultTaxonomy()
	d := Deps{
		Store:      h.store,
		Dispatcher: dispatcher,
		Analyzer:   analyze.New(h.anthropic, analyze.Config{Timeout: 5 * time.Second}),
		Quota:      quota.New(h.store, quota.Config{}),
		Assets:     h.assets,
		Metrics:    h.metrics,
		Taxonomy:   &tax,
	}
	for _, opt := range opts {
		opt(h, &d)
	}
	h.pipeline = New(d)
	return h
}

func (h *harness) analysisReturns(text string) {
	h.anthropic.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(text), nil)
}

func (h *harness) rehostReturns(hosted string, err error) {
	h.assets.On("Rehost", mock.Anything, mock.Anything).Return(hosted, err)
}
