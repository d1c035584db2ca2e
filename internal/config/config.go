package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Apify     ApifyConfig     `yaml:"apify" mapstructure:"apify"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Firecrawl FirecrawlConfig `yaml:"firecrawl" mapstructure:"firecrawl"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Quota     QuotaConfig     `yaml:"quota" mapstructure:"quota"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Assets    AssetsConfig    `yaml:"assets" mapstructure:"assets"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ApifyConfig holds scraping service settings for social platforms.
type ApifyConfig struct {
	Token          string `yaml:"token" mapstructure:"token"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	TikTokActor    string `yaml:"tiktok_actor" mapstructure:"tiktok_actor"`
	InstagramActor string `yaml:"instagram_actor" mapstructure:"instagram_actor"`
	YouTubeActor   string `yaml:"youtube_actor" mapstructure:"youtube_actor"`
}

// JinaConfig holds Jina AI Reader settings. Empty key disables the strategy.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds Firecrawl API settings (fallback only).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnalysisConfig tunes the analysis prompt.
type AnalysisConfig struct {
	TaxonomyFile  string `yaml:"taxonomy_file" mapstructure:"taxonomy_file"`
	MaxInputChars int    `yaml:"max_input_chars" mapstructure:"max_input_chars"`
}

// PipelineConfig bounds a single submission.
type PipelineConfig struct {
	BudgetSecs          int `yaml:"budget_secs" mapstructure:"budget_secs"`
	FinalizeTimeoutSecs int `yaml:"finalize_timeout_secs" mapstructure:"finalize_timeout_secs"`
}

// QuotaConfig sets the free tier limit.
type QuotaConfig struct {
	FreeDailyLimit int `yaml:"free_daily_limit" mapstructure:"free_daily_limit"`
	WindowHours    int `yaml:"window_hours" mapstructure:"window_hours"`
}

// CacheConfig configures the extraction cache.
type CacheConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"` // "redis", "memory" or "none"
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr"`
	TTLHours  int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// AssetsConfig configures cover image re-hosting. Empty bucket disables it.
type AssetsConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Region          string `yaml:"region" mapstructure:"region"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style" mapstructure:"use_path_style"`
	PublicBaseURL   string `yaml:"public_base_url" mapstructure:"public_base_url"`
}

// Budget returns the pipeline extraction budget.
func (c PipelineConfig) Budget() time.Duration {
	return time.Duration(c.BudgetSecs) * time.Second
}

// FinalizeTimeout returns the bound on the terminal write.
func (c PipelineConfig) FinalizeTimeout() time.Duration {
	return time.Duration(c.FinalizeTimeoutSecs) * time.Second
}

// Window returns the quota window.
func (c QuotaConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default to empty so environment overrides reach
	// Unmarshal.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("apify.token", "")
	v.SetDefault("apify.base_url", "https://api.apify.com/v2")
	v.SetDefault("apify.timeout_secs", 45)
	v.SetDefault("apify.tiktok_actor", "clockworks/tiktok-scraper")
	v.SetDefault("apify.instagram_actor", "apify/instagram-scraper")
	v.SetDefault("apify.youtube_actor", "streamers/youtube-scraper")
	v.SetDefault("jina.key", "")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("firecrawl.key", "")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.timeout_secs", 45)
	v.SetDefault("analysis.taxonomy_file", "")
	v.SetDefault("analysis.max_input_chars", 20000)
	v.SetDefault("pipeline.budget_secs", 60)
	v.SetDefault("pipeline.finalize_timeout_secs", 10)
	v.SetDefault("quota.free_daily_limit", 10)
	v.SetDefault("quota.window_hours", 24)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.ttl_hours", 6)
	v.SetDefault("assets.bucket", "")
	v.SetDefault("assets.region", "us-east-1")
	v.SetDefault("assets.endpoint", "")
	v.SetDefault("assets.access_key_id", "")
	v.SetDefault("assets.secret_access_key", "")
	v.SetDefault("assets.use_path_style", false)
	v.SetDefault("assets.public_base_url", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs. Modes: "serve",
// "submit", "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required (sqlite file path)")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}

	switch mode {
	case "store":
	case "serve", "submit":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Pipeline.BudgetSecs <= 0 {
			errs = append(errs, "pipeline.budget_secs must be > 0")
		}
		if c.Quota.FreeDailyLimit <= 0 {
			errs = append(errs, "quota.free_daily_limit must be > 0")
		}
		switch c.Cache.Driver {
		case "redis", "memory", "none", "":
		default:
			errs = append(errs, fmt.Sprintf("cache.driver %q must be redis, memory or none", c.Cache.Driver))
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
