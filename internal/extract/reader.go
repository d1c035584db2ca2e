package extract

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/internal/resilience"
	"github.com/sells-group/sift/pkg/firecrawl"
	"github.com/sells-group/sift/pkg/jina"
)

// minReaderText is the shortest reader output accepted as real content.
const minReaderText = 100

// JinaExtractor reads generic web pages through Jina Reader, guarded by a
// circuit breaker so a flaky upstream is skipped quickly.
type JinaExtractor struct {
	client  jina.Client
	breaker *resilience.CircuitBreaker
	maxText int
}

// NewJinaExtractor creates a JinaExtractor. Three consecutive transient
// failures open the circuit for a minute.
func NewJinaExtractor(client jina.Client) *JinaExtractor {
	return &JinaExtractor{
		client: client,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "jina",
			FailureThreshold: 3,
			Cooldown:         time.Minute,
		}),
		maxText: DefaultMaxText,
	}
}

func (j *JinaExtractor) Name() string { return "jina" }

// Supports returns true for web pages unless the circuit is open.
func (j *JinaExtractor) Supports(p model.Platform) bool {
	return p == model.PlatformWeb && j.breaker.State() != resilience.CircuitOpen
}

func (j *JinaExtractor) Extract(ctx context.Context, targetURL string) (*model.Content, error) {
	resp, err := resilience.ExecuteVal(ctx, j.breaker, func(ctx context.Context) (*jina.ReadResponse, error) {
		resp, err := j.client.Read(ctx, targetURL)
		var apiErr *jina.APIError
		if errors.As(err, &apiErr) {
			return nil, resilience.FromHTTPStatus(err, apiErr.StatusCode)
		}
		return resp, err
	})
	if err != nil {
		return nil, Failure(j.Name(), err)
	}

	text := strings.TrimSpace(resp.Data.Content)
	if resp.Code != 0 && resp.Code != 200 {
		return nil, Permanent(j.Name(), eris.Errorf("reader code %d", resp.Code))
	}
	if len(text) < minReaderText || looksBlocked(text) {
		return nil, Permanent(j.Name(), eris.New("reader returned no usable content"))
	}

	raw := map[string]any{}
	if resp.Data.Description != "" {
		raw["description"] = resp.Data.Description
	}
	return &model.Content{
		Title:     strings.TrimSpace(resp.Data.Title),
		Text:      truncateRunes(text, j.maxText),
		ImageURL:  firstImage(resp.Data.Images),
		Platform:  model.PlatformWeb,
		Source:    j.Name(),
		RawFields: raw,
	}, nil
}

// firstImage returns the image with the lowest key so the choice is stable.
func firstImage(images map[string]string) string {
	keys := make([]string, 0, len(images))
	for k := range images {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(images[k]); v != "" {
			return v
		}
	}
	return ""
}

// FirecrawlExtractor scrapes generic web pages through Firecrawl.
type FirecrawlExtractor struct {
	client  firecrawl.Client
	maxText int
}

// NewFirecrawlExtractor creates a FirecrawlExtractor.
func NewFirecrawlExtractor(client firecrawl.Client) *FirecrawlExtractor {
	return &FirecrawlExtractor{client: client, maxText: DefaultMaxText}
}

func (f *FirecrawlExtractor) Name() string { return "firecrawl" }

func (f *FirecrawlExtractor) Supports(p model.Platform) bool {
	return p == model.PlatformWeb
}

func (f *FirecrawlExtractor) Extract(ctx context.Context, targetURL string) (*model.Content, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             targetURL,
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
	})
	if err != nil {
		var apiErr *firecrawl.APIError
		if errors.As(err, &apiErr) {
			err = resilience.FromHTTPStatus(err, apiErr.StatusCode)
		}
		return nil, Failure(f.Name(), err)
	}

	md := strings.TrimSpace(resp.Data.Markdown)
	if md == "" || looksBlocked(md) {
		return nil, Permanent(f.Name(), eris.New("scrape returned no usable content"))
	}

	meta := resp.Data.Metadata
	raw := map[string]any{}
	if meta.Description != "" {
		raw["description"] = meta.Description
	}
	return &model.Content{
		Title:     strings.TrimSpace(meta.Title),
		Text:      truncateRunes(md, f.maxText),
		ImageURL:  strings.TrimSpace(meta.OGImage),
		Platform:  model.PlatformWeb,
		Source:    f.Name(),
		RawFields: raw,
	}, nil
}
