package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sift/internal/cache"
	"github.com/sells-group/sift/internal/classify"
	"github.com/sells-group/sift/internal/model"
)

const (
	// DefaultBudget bounds a whole dispatch, fallbacks included.
	DefaultBudget = 60 * time.Second
	// DefaultCacheTTL is how long successful extractions are reused.
	DefaultCacheTTL = 6 * time.Hour

	cacheKeyPrefix = "extract:"
	stage          = "extract"
)

// Dispatcher picks strategies for a classified URL, falls back to generic
// web extraction when social scraping fails, and records every attempt.
type Dispatcher struct {
	strategies []Extractor
	meta       Extractor
	cache      cache.Store
	cacheTTL   time.Duration
	budget     time.Duration
	onAttempt  func(strategy string, ok bool)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMetaFetcher sets the extractor used to read page metadata alongside
// social scraping and as the social fallback.
func WithMetaFetcher(e Extractor) DispatcherOption {
	return func(d *Dispatcher) {
		d.meta = e
	}
}

// WithCache enables caching of successful extractions.
func WithCache(s cache.Store, ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.cache = s
		if ttl > 0 {
			d.cacheTTL = ttl
		}
	}
}

// WithBudget overrides the overall dispatch timeout.
func WithBudget(b time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if b > 0 {
			d.budget = b
		}
	}
}

// WithAttemptHook registers a callback invoked after every strategy attempt.
func WithAttemptHook(fn func(strategy string, ok bool)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onAttempt = fn
	}
}

// NewDispatcher creates a Dispatcher. Strategies are tried in the given order
// among those that support the platform.
func NewDispatcher(strategies []Extractor, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		strategies: strategies,
		cacheTTL:   DefaultCacheTTL,
		budget:     DefaultBudget,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch extracts content for c. It never returns a Go error; failures are
// reported in the Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, c classify.Classification) Result {
	return d.dispatch(ctx, c, true)
}

// Refresh is Dispatch without the cache read. A successful result still
// replaces the cached entry.
func (d *Dispatcher) Refresh(ctx context.Context, c classify.Classification) Result {
	return d.dispatch(ctx, c, false)
}

func (d *Dispatcher) dispatch(ctx context.Context, c classify.Classification, readCache bool) Result {
	target := c.Raw()
	res := Result{}

	if readCache {
		if content, ok := d.fromCache(ctx, c.NormalizedURL); ok {
			res.Content = content
			res.Strategy = "cache"
			res.Cached = true
			res.Trail = append(res.Trail, model.NewDebugEntry(stage, 0, "cache hit (%s)", content.Source))
			return res
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.budget)
	defer cancel()

	if c.Platform.Social() {
		d.dispatchSocial(ctx, c, target, &res)
	} else {
		d.runChain(ctx, c.Platform, target, nil, &res)
	}

	if res.OK() {
		d.toCache(ctx, c.NormalizedURL, res.Content)
	}
	return res
}

func (d *Dispatcher) dispatchSocial(ctx context.Context, c classify.Classification, target string, res *Result) {
	var (
		primary   Result
		meta      *model.Content
		metaErr   error
		metaStart time.Time
		metaDur   time.Duration
	)

	var g errgroup.Group
	g.Go(func() error {
		d.runChain(ctx, c.Platform, target, d.meta, &primary)
		return nil
	})
	if d.meta != nil {
		g.Go(func() error {
			metaStart = time.Now()
			meta, metaErr = d.meta.Extract(ctx, target)
			metaDur = time.Since(metaStart)
			return nil
		})
	}
	_ = g.Wait()

	res.Trail = append(res.Trail, primary.Trail...)
	if d.meta != nil {
		if metaErr != nil {
			res.Trail = append(res.Trail, model.NewDebugEntry(stage, metaDur, "meta %s failed: %v", d.meta.Name(), metaErr))
		} else {
			res.Trail = append(res.Trail, model.NewDebugEntry(stage, metaDur, "meta %s ok", d.meta.Name()))
		}
	}

	if primary.OK() {
		res.Content = mergeMeta(primary.Content, meta)
		res.Strategy = primary.Strategy
		return
	}

	// Social scraping failed: fall back to the page itself.
	if meta != nil && !meta.Empty() {
		d.record(d.meta.Name(), true)
		res.Content = meta
		res.Strategy = d.meta.Name()
		res.Trail = append(res.Trail, model.NewDebugEntry(stage, 0, "fallback to %s after %v", d.meta.Name(), primary.Err))
		return
	}

	var fallback Result
	d.runChain(ctx, model.PlatformWeb, target, d.meta, &fallback)
	res.Trail = append(res.Trail, fallback.Trail...)
	if fallback.OK() {
		res.Content = fallback.Content
		res.Strategy = fallback.Strategy
		return
	}

	res.Err = primary.Err
	if res.Err == nil {
		res.Err = fallback.Err
	}
	if res.Err == nil && metaErr != nil {
		res.Err = Failure(d.meta.Name(), metaErr)
	}
	if res.Err == nil {
		res.Err = Permanent("dispatch", eris.Errorf("no strategy for platform %q", c.Platform))
	}
}

// runChain tries each strategy supporting p in order until one succeeds.
// skip excludes one extractor, used when it already ran as the meta fetcher.
func (d *Dispatcher) runChain(ctx context.Context, p model.Platform, target string, skip Extractor, res *Result) {
	var lastErr *ExtractionError
	for _, s := range d.strategies {
		if skip != nil && s == skip {
			continue
		}
		if !s.Supports(p) {
			continue
		}
		if ctx.Err() != nil {
			lastErr = Failure(s.Name(), context.Cause(ctx))
			res.Trail = append(res.Trail, model.NewDebugEntry(stage, 0, "%s skipped: %v", s.Name(), ctx.Err()))
			break
		}

		start := time.Now()
		content, err := s.Extract(ctx, target)
		elapsed := time.Since(start)

		if err == nil && !content.Empty() {
			d.record(s.Name(), true)
			res.Trail = append(res.Trail, model.NewDebugEntry(stage, elapsed, "%s ok", s.Name()))
			res.Content = content
			res.Strategy = s.Name()
			res.Err = nil
			return
		}
		if err == nil {
			err = eris.New("empty content")
		}

		d.record(s.Name(), false)
		lastErr = Failure(s.Name(), err)
		res.Trail = append(res.Trail, model.NewDebugEntry(stage, elapsed, "%s failed: %v", s.Name(), err))
		zap.L().Debug("extract: strategy failed, trying next",
			zap.String("strategy", s.Name()),
			zap.String("url", target),
			zap.Bool("transient", lastErr.Transient),
			zap.Error(err),
		)
	}

	if lastErr == nil {
		lastErr = Permanent("dispatch", eris.Errorf("no strategy for platform %q", p))
	}
	res.Err = lastErr
}

// mergeMeta fills gaps in primary with page metadata.
func mergeMeta(primary, meta *model.Content) *model.Content {
	if meta == nil {
		return primary
	}
	if primary.Title == "" {
		primary.Title = meta.Title
	}
	if primary.ImageURL == "" {
		primary.ImageURL = meta.ImageURL
	}
	if primary.RawFields == nil {
		primary.RawFields = map[string]any{}
	}
	if meta.Title != "" {
		primary.RawFields["og_title"] = meta.Title
	}
	if meta.ImageURL != "" {
		primary.RawFields["og_image"] = meta.ImageURL
	}
	return primary
}

func (d *Dispatcher) record(strategy string, ok bool) {
	if d.onAttempt != nil {
		d.onAttempt(strategy, ok)
	}
}

func (d *Dispatcher) fromCache(ctx context.Context, key string) (*model.Content, bool) {
	if d.cache == nil || key == "" {
		return nil, false
	}
	var content model.Content
	found, err := cache.GetJSON(ctx, d.cache, cacheKeyPrefix+key, &content)
	if err != nil {
		zap.L().Warn("extract: cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !found || content.Empty() {
		return nil, false
	}
	return &content, true
}

func (d *Dispatcher) toCache(ctx context.Context, key string, content *model.Content) {
	if d.cache == nil || key == "" {
		return
	}
	if err := cache.SetJSON(ctx, d.cache, cacheKeyPrefix+key, content, d.cacheTTL); err != nil {
		zap.L().Warn("extract: cache write failed", zap.String("key", key), zap.Error(err))
	}
}
