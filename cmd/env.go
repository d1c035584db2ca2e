package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sift/internal/analyze"
	"github.com/sells-group/sift/internal/assets"
	"github.com/sells-group/sift/internal/cache"
	"github.com/sells-group/sift/internal/config"
	"github.com/sells-group/sift/internal/extract"
	"github.com/sells-group/sift/internal/metrics"
	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/internal/pipeline"
	"github.com/sells-group/sift/internal/quota"
	"github.com/sells-group/sift/internal/resilience"
	"github.com/sells-group/sift/internal/store"
	anthropicpkg "github.com/sells-group/sift/pkg/anthropic"
	"github.com/sells-group/sift/pkg/apify"
	"github.com/sells-group/sift/pkg/firecrawl"
	"github.com/sells-group/sift/pkg/jina"
)

// appEnv holds the store, pipeline and metrics used by serve and submit.
type appEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
	closers  []func() error
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

// initApp validates config for mode, opens the store and wires the
// pipeline. Callers should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Metrics: metrics.New()}
	env.closers = append(env.closers, st.Close)

	tax := analyze.DefaultTaxonomy()
	if cfg.Analysis.TaxonomyFile != "" {
		tax, err = analyze.LoadTaxonomy(cfg.Analysis.TaxonomyFile)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "load taxonomy")
		}
	}

	cacheStore := initCache(ctx, cfg.Cache, env)
	dispatcher := buildDispatcher(cfg, cacheStore, env.Metrics)

	engine := analyze.New(anthropicpkg.NewClient(cfg.Anthropic.Key), analyze.Config{
		Model:         cfg.Anthropic.Model,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		Timeout:       secs(cfg.Anthropic.TimeoutSecs),
		MaxInputChars: cfg.Analysis.MaxInputChars,
		Taxonomy:      &tax,
	})

	deps := pipeline.Deps{
		Store:           st,
		Dispatcher:      dispatcher,
		Analyzer:        engine,
		Quota:           quota.New(st, quota.Config{FreeDailyLimit: cfg.Quota.FreeDailyLimit, Window: cfg.Quota.Window()}),
		Metrics:         env.Metrics,
		Taxonomy:        &tax,
		FinalizeTimeout: cfg.Pipeline.FinalizeTimeout(),
	}

	rehoster, err := initAssets(ctx, cfg.Assets)
	if err != nil {
		env.Close()
		return nil, err
	}
	if rehoster != nil {
		deps.Assets = rehoster
	}

	env.Pipeline = pipeline.New(deps)
	return env, nil
}

// buildDispatcher assembles the extraction strategies. Strategies whose
// provider has no credentials are left out.
func buildDispatcher(c *config.Config, cacheStore cache.Store, m *metrics.Metrics) *extract.Dispatcher {
	web := extract.NewWebExtractor()

	var strategies []extract.Extractor
	if c.Apify.Token != "" {
		client := apify.NewClient(c.Apify.Token, apify.WithBaseURL(c.Apify.BaseURL))
		strategies = append(strategies, extract.NewSocialExtractor(client, extract.SocialConfig{
			Actors: map[model.Platform]string{
				model.PlatformTikTok:    c.Apify.TikTokActor,
				model.PlatformInstagram: c.Apify.InstagramActor,
				model.PlatformYouTube:   c.Apify.YouTubeActor,
			},
			Timeout: secs(c.Apify.TimeoutSecs),
			Breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name:          "apify",
				OnStateChange: logCircuitChange,
			}),
		}))
	} else {
		zap.L().Warn("SIFT_APIFY_TOKEN not set, social posts fall back to page metadata")
	}

	strategies = append(strategies, web)
	if c.Jina.Key != "" {
		strategies = append(strategies, extract.NewJinaExtractor(jina.NewClient(c.Jina.Key, jina.WithBaseURL(c.Jina.BaseURL))))
	}
	if c.Firecrawl.Key != "" {
		strategies = append(strategies, extract.NewFirecrawlExtractor(firecrawl.NewClient(c.Firecrawl.Key, firecrawl.WithBaseURL(c.Firecrawl.BaseURL))))
	}
	strategies = append(strategies, extract.ImageExtractor{})

	opts := []extract.DispatcherOption{
		extract.WithMetaFetcher(web),
		extract.WithBudget(c.Pipeline.Budget()),
		extract.WithAttemptHook(m.ObserveExtraction),
	}
	if cacheStore != nil {
		opts = append(opts, extract.WithCache(cacheStore, c.Cache.TTL()))
	}
	return extract.NewDispatcher(strategies, opts...)
}

func initCache(ctx context.Context, c config.CacheConfig, env *appEnv) cache.Store {
	switch c.Driver {
	case "redis":
		rs, err := cache.NewRedisStore(ctx, c.RedisAddr, "sift:")
		if err != nil {
			zap.L().Warn("redis cache unavailable, using in-memory cache", zap.String("addr", c.RedisAddr), zap.Error(err))
			return cache.NewMemoryStore()
		}
		env.closers = append(env.closers, rs.Close)
		return rs
	case "memory":
		return cache.NewMemoryStore()
	default:
		return nil
	}
}

func initAssets(ctx context.Context, c config.AssetsConfig) (assets.Rehoster, error) {
	if c.Bucket == "" {
		zap.L().Debug("SIFT_ASSETS_BUCKET not set, cover images keep their source urls")
		return nil, nil
	}
	s3Cfg := assets.S3Config{
		Endpoint:        c.Endpoint,
		Region:          c.Region,
		Bucket:          c.Bucket,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		UsePathStyle:    c.UsePathStyle,
		PublicBaseURL:   c.PublicBaseURL,
	}
	client, err := assets.NewS3Client(ctx, s3Cfg)
	if err != nil {
		return nil, eris.Wrap(err, "init s3 client")
	}
	r, err := assets.NewS3Rehoster(client, s3Cfg)
	if err != nil {
		return nil, eris.Wrap(err, "init cover rehoster")
	}
	zap.L().Info("cover re-hosting enabled", zap.String("bucket", c.Bucket))
	return r, nil
}

func logCircuitChange(name string, from, to resilience.CircuitState) {
	zap.L().Warn("circuit breaker state change",
		zap.String("provider", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
