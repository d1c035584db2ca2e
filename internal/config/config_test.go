package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://api.apify.com/v2", cfg.Apify.BaseURL)
	assert.Equal(t, 45, cfg.Apify.TimeoutSecs)
	assert.Equal(t, "clockworks/tiktok-scraper", cfg.Apify.TikTokActor)
	assert.Equal(t, "apify/instagram-scraper", cfg.Apify.InstagramActor)
	assert.Equal(t, "streamers/youtube-scraper", cfg.Apify.YouTubeActor)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "https://api.firecrawl.dev/v1", cfg.Firecrawl.BaseURL)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, 20000, cfg.Analysis.MaxInputChars)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.Budget())
	assert.Equal(t, 10*time.Second, cfg.Pipeline.FinalizeTimeout())
	assert.Equal(t, 10, cfg.Quota.FreeDailyLimit)
	assert.Equal(t, 24*time.Hour, cfg.Quota.Window())
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 6*time.Hour, cfg.Cache.TTL())
	assert.Equal(t, "us-east-1", cfg.Assets.Region)
	assert.Empty(t, cfg.Assets.Bucket)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: sift.db
log:
  level: debug
  format: console
server:
  port: 9090
quota:
  free_daily_limit: 3
cache:
  driver: redis
  redis_addr: redis:6379
assets:
  bucket: sift-covers
  public_base_url: https://cdn.sift.app
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "sift.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Quota.FreeDailyLimit)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, "sift-covers", cfg.Assets.Bucket)
	assert.Equal(t, "https://cdn.sift.app", cfg.Assets.PublicBaseURL)
	// Defaults still apply for unset values
	assert.Equal(t, 24, cfg.Quota.WindowHours)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SIFT_STORE_DRIVER", "postgres")
	t.Setenv("SIFT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvSecrets(t *testing.T) {
	chdirTemp(t)

	t.Setenv("SIFT_ANTHROPIC_KEY", "sk-ant-test")
	t.Setenv("SIFT_APIFY_TOKEN", "apify_api_test")
	t.Setenv("SIFT_STORE_DATABASE_URL", "postgres://localhost/sift")
	t.Setenv("SIFT_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
	assert.Equal(t, "apify_api_test", cfg.Apify.Token)
	assert.Equal(t, "postgres://localhost/sift", cfg.Store.DatabaseURL)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/sift"
	cfg.Server.Port = 8080
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Pipeline.BudgetSecs = 60
	cfg.Quota.FreeDailyLimit = 10
	cfg.Cache.Driver = "memory"
	return cfg
}

func TestValidateServe(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Anthropic.Key = ""
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateSubmit_IgnoresPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	assert.NoError(t, cfg.Validate("submit"))
}

func TestValidateStore_OnlyNeedsDatabase(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "sift.db"
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be postgres or sqlite")
}

func TestValidateBadCacheDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Cache.Driver = "memcached"
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.driver")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
