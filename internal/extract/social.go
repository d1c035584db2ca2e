package extract

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sift/internal/classify"
	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/internal/resilience"
	"github.com/sells-group/sift/pkg/apify"
)

// Default actors per platform.
const (
	DefaultTikTokActor    = "clockworks/tiktok-scraper"
	DefaultInstagramActor = "apify/instagram-scraper"
	DefaultYouTubeActor   = "streamers/youtube-scraper"
)

// ErrNoItems is returned when an actor run yields an empty dataset.
var ErrNoItems = errors.New("scraper returned no items")

// SocialConfig configures a SocialExtractor.
type SocialConfig struct {
	Actors  map[model.Platform]string
	Timeout time.Duration
	Retry   resilience.RetryConfig
	Breaker *resilience.CircuitBreaker
}

// SocialExtractor extracts TikTok, Instagram, and YouTube posts through
// Apify actors.
type SocialExtractor struct {
	client  apify.Client
	actors  map[model.Platform]string
	timeout time.Duration
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewSocialExtractor creates a SocialExtractor. Zero config values take
// defaults: the stock actors, a 45s per-attempt timeout, and one retry.
func NewSocialExtractor(client apify.Client, cfg SocialConfig) *SocialExtractor {
	actors := map[model.Platform]string{
		model.PlatformTikTok:    DefaultTikTokActor,
		model.PlatformInstagram: DefaultInstagramActor,
		model.PlatformYouTube:   DefaultYouTubeActor,
	}
	for p, a := range cfg.Actors {
		if a != "" {
			actors[p] = a
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.OneRetry()
	}
	cfg.Retry.ShouldRetry = IsTransient
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("apify", "run_sync")
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "apify",
			FailureThreshold: 5,
			Cooldown:         time.Minute,
			ShouldTrip:       IsTransient,
		})
	}
	return &SocialExtractor{
		client:  client,
		actors:  actors,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		breaker: cfg.Breaker,
	}
}

func (s *SocialExtractor) Name() string { return "social" }

func (s *SocialExtractor) Supports(p model.Platform) bool {
	return p.Social() && s.actors[p] != ""
}

// Extract runs the platform actor for targetURL and maps the first item.
func (s *SocialExtractor) Extract(ctx context.Context, targetURL string) (*model.Content, error) {
	c, err := classify.Classify(targetURL)
	if err != nil {
		return nil, Permanent(s.Name(), err)
	}
	actor := s.actors[c.Platform]
	if actor == "" {
		return nil, Permanent(s.Name(), eris.Errorf("no actor for platform %q", c.Platform))
	}

	items, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]apify.Item, error) {
		return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) ([]apify.Item, error) {
			return s.run(ctx, actor, c.Platform, targetURL)
		})
	})
	if err != nil {
		return nil, Failure(s.Name(), err)
	}

	content := mapItem(c.Platform, items[0])
	content.RawFields["actor"] = actor
	if content.Empty() {
		return nil, Permanent(s.Name(), eris.New("item has no usable fields"))
	}
	return content, nil
}

// run performs a single bounded actor call.
func (s *SocialExtractor) run(ctx context.Context, actor string, p model.Platform, targetURL string) ([]apify.Item, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	items, err := s.client.RunSync(callCtx, actor, actorInput(p, targetURL),
		apify.WithRunTimeout(s.timeout),
		apify.WithMaxItems(1),
	)
	zap.L().Debug("extract: apify run",
		zap.String("actor", actor),
		zap.String("url", targetURL),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("items", len(items)),
		zap.Error(err),
	)
	if err != nil {
		var apiErr *apify.APIError
		if errors.As(err, &apiErr) {
			return nil, Failure(s.Name(), resilience.FromHTTPStatus(err, apiErr.StatusCode))
		}
		return nil, Failure(s.Name(), err)
	}
	if len(items) == 0 {
		return nil, Permanent(s.Name(), ErrNoItems)
	}
	return items, nil
}

func actorInput(p model.Platform, targetURL string) map[string]any {
	proxy := map[string]any{"useApifyProxy": true}
	switch p {
	case model.PlatformYouTube:
		return map[string]any{
			"startUrls":         []map[string]string{{"url": targetURL}},
			"maxResults":        1,
			"downloadSubtitles": true,
			"subtitlesFormat":   "plaintext",
			"saveSubsToKVS":     false,
		}
	case model.PlatformInstagram:
		return map[string]any{
			"directUrls":         []string{targetURL},
			"resultsType":        "posts",
			"resultsLimit":       1,
			"addParentData":      false,
			"proxyConfiguration": proxy,
		}
	default:
		return map[string]any{
			"postURLs":                      []string{targetURL},
			"shouldDownloadVideos":          false,
			"shouldDownloadCovers":          false,
			"shouldDownloadSlideshowImages": false,
			"proxyConfiguration":            proxy,
		}
	}
}

// mapItem converts a loosely typed actor item into Content.
func mapItem(p model.Platform, it apify.Item) *model.Content {
	c := &model.Content{
		Platform:  p,
		Source:    "social",
		RawFields: map[string]any{},
	}

	switch p {
	case model.PlatformYouTube:
		c.Title = it.String("title")
		c.Author = it.String("channelName", "channel")
		c.ImageURL = it.String("thumbnailUrl", "thumbnail")
		description := it.String("text", "description")
		transcript := youtubeTranscript(it)
		c.RawFields["has_transcript"] = transcript != ""
		c.Text = description
		if transcript != "" {
			c.Text = strings.TrimSpace(description + "\n\nTranscript:\n" + transcript)
		}
		if d := it.String("duration"); d != "" {
			c.RawFields["duration"] = d
		}

	case model.PlatformInstagram:
		caption := it.Map("caption").String("text")
		if caption == "" {
			caption = it.String("caption", "text", "alt")
		}
		c.Text = caption
		c.Author = it.String("ownerUsername")
		if c.Author == "" {
			c.Author = it.Map("owner").String("username")
		}
		c.ImageURL = it.String("displayUrl", "thumbnailUrl")
		if kind := it.String("type"); kind != "" {
			c.RawFields["post_type"] = kind
		}

	default:
		c.Text = it.String("text", "description")
		c.Author = it.Map("authorMeta").String("name", "nickName")
		if c.Author == "" {
			c.Author = it.String("author")
		}
		c.ImageURL = it.String("imageUrl")
		if c.ImageURL == "" {
			c.ImageURL = it.Map("videoMeta").String("coverUrl", "originalCoverUrl")
		}
		if tags := hashtags(it); len(tags) > 0 {
			c.RawFields["hashtags"] = tags
		}
	}

	if c.Author != "" {
		c.RawFields["author"] = c.Author
	}
	return c
}

// youtubeTranscript joins subtitle tracks into plain text.
func youtubeTranscript(it apify.Item) string {
	var parts []string
	for _, raw := range it.Slice("subtitles") {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		track := apify.Item(m)
		if t := track.String("plaintext", "srt", "vtt", "text"); t != "" {
			parts = append(parts, t)
			break
		}
	}
	if len(parts) == 0 {
		if s, ok := it["subtitles"].(string); ok {
			return strings.TrimSpace(s)
		}
		if raw, ok := it["subtitles"]; ok && raw != nil {
			if b, err := json.Marshal(raw); err == nil && string(b) != "null" && string(b) != "[]" {
				return string(b)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func hashtags(it apify.Item) []string {
	var out []string
	for _, raw := range it.Slice("hashtags") {
		switch v := raw.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if name := apify.Item(v).String("name"); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}
