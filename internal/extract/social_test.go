package extract

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/internal/resilience"
	"github.com/sells-group/sift/pkg/apify"
)

func fastSocial(client apify.Client, attempts int) *SocialExtractor {
	return NewSocialExtractor(client, SocialConfig{
		Timeout: time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    attempts,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	})
}

func TestSocialExtractor_TikTok(t *testing.T) {
	m := new(MockApify)
	m.On("RunSync", mock.Anything, DefaultTikTokActor, mock.Anything).Return([]apify.Item{{
		"text":       "Three ingredient pancakes #breakfast",
		"authorMeta": map[string]any{"name": "chefanna"},
		"videoMeta":  map[string]any{"coverUrl": "https://p16.tiktokcdn.com/cover.jpg"},
		"hashtags":   []any{map[string]any{"name": "breakfast"}},
	}}, nil).Once()

	c, err := fastSocial(m, 2).Extract(context.Background(), "https://www.tiktok.com/@chefanna/video/123")
	require.NoError(t, err)

	assert.Equal(t, "Three ingredient pancakes #breakfast", c.Text)
	assert.Equal(t, "chefanna", c.Author)
	assert.Equal(t, "https://p16.tiktokcdn.com/cover.jpg", c.ImageURL)
	assert.Equal(t, model.PlatformTikTok, c.Platform)
	assert.Equal(t, "social", c.Source)
	assert.Equal(t, DefaultTikTokActor, c.RawFields["actor"])
	assert.Equal(t, []string{"breakfast"}, c.RawFields["hashtags"])
	m.AssertExpectations(t)
}

func TestSocialExtractor_ActorInput(t *testing.T) {
	target := "https://www.instagram.com/p/abc/"
	m := new(MockApify)
	m.On("RunSync", mock.Anything, DefaultInstagramActor, mock.MatchedBy(func(in map[string]any) bool {
		urls, ok := in["directUrls"].([]string)
		return ok && len(urls) == 1 && urls[0] == target && in["resultsType"] == "posts"
	})).Return([]apify.Item{{"caption": "hello", "ownerUsername": "me"}}, nil).Once()

	c, err := fastSocial(m, 1).Extract(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "hello", c.Text)
	m.AssertExpectations(t)
}

func TestMapItem(t *testing.T) {
	tests := []struct {
		name     string
		platform model.Platform
		item     apify.Item
		want     model.Content
	}{
		{
			name:     "instagram caption object",
			platform: model.PlatformInstagram,
			item: apify.Item{
				"caption":    map[string]any{"text": "Sunset in Lisbon"},
				"owner":      map[string]any{"username": "traveler"},
				"displayUrl": "https://cdn.instagram.com/x.jpg",
			},
			want: model.Content{Text: "Sunset in Lisbon", Author: "traveler", ImageURL: "https://cdn.instagram.com/x.jpg"},
		},
		{
			name:     "instagram thumbnail fallback",
			platform: model.PlatformInstagram,
			item:     apify.Item{"text": "caption text", "ownerUsername": "u", "thumbnailUrl": "https://t.jpg"},
			want:     model.Content{Text: "caption text", Author: "u", ImageURL: "https://t.jpg"},
		},
		{
			name:     "tiktok author string and image url",
			platform: model.PlatformTikTok,
			item:     apify.Item{"description": "desc", "author": "someone", "imageUrl": "https://i.jpg"},
			want:     model.Content{Text: "desc", Author: "someone", ImageURL: "https://i.jpg"},
		},
		{
			name:     "youtube without transcript",
			platform: model.PlatformYouTube,
			item: apify.Item{
				"title":        "Learn Go",
				"text":         "A course.",
				"channelName":  "GopherTV",
				"thumbnailUrl": "https://i.ytimg.com/t.jpg",
			},
			want: model.Content{Title: "Learn Go", Text: "A course.", Author: "GopherTV", ImageURL: "https://i.ytimg.com/t.jpg"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapItem(tt.platform, tt.item)
			assert.Equal(t, tt.want.Title, got.Title)
			assert.Equal(t, tt.want.Text, got.Text)
			assert.Equal(t, tt.want.Author, got.Author)
			assert.Equal(t, tt.want.ImageURL, got.ImageURL)
			assert.Equal(t, tt.platform, got.Platform)
		})
	}
}

func TestMapItem_YouTubeTranscript(t *testing.T) {
	got := mapItem(model.PlatformYouTube, apify.Item{
		"title": "Talk",
		"text":  "Description.",
		"subtitles": []any{
			map[string]any{"language": "en", "plaintext": "hello and welcome"},
		},
	})
	assert.Equal(t, "Description.\n\nTranscript:\nhello and welcome", got.Text)
	assert.Equal(t, true, got.RawFields["has_transcript"])

	got = mapItem(model.PlatformYouTube, apify.Item{"title": "Talk"})
	assert.Equal(t, false, got.RawFields["has_transcript"])
}

func TestSocialExtractor_TimeoutRetriedOnce(t *testing.T) {
	m := new(MockApify)
	m.On("RunSync", mock.Anything, DefaultYouTubeActor, mock.Anything).
		Return(nil, context.DeadlineExceeded).Twice()

	_, err := fastSocial(m, 2).Extract(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.Error(t, err)

	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.True(t, ee.Transient)
	assert.ErrorIs(t, err, model.ErrExtractionFailed)
	m.AssertNumberOfCalls(t, "RunSync", 2)
}

func TestSocialExtractor_TransientThenSuccess(t *testing.T) {
	m := new(MockApify)
	m.On("RunSync", mock.Anything, DefaultTikTokActor, mock.Anything).
		Return(nil, &apify.APIError{StatusCode: http.StatusBadGateway, Body: "upstream"}).Once()
	m.On("RunSync", mock.Anything, DefaultTikTokActor, mock.Anything).
		Return([]apify.Item{{"text": "second time lucky"}}, nil).Once()

	c, err := fastSocial(m, 2).Extract(context.Background(), "https://www.tiktok.com/@a/video/1")
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", c.Text)
	m.AssertNumberOfCalls(t, "RunSync", 2)
}

func TestSocialExtractor_PermanentNotRetried(t *testing.T) {
	tests := []struct {
		name  string
		items []apify.Item
		err   error
	}{
		{"no items", []apify.Item{}, nil},
		{"bad request", nil, &apify.APIError{StatusCode: http.StatusBadRequest, Body: "invalid input"}},
		{"unusable item", []apify.Item{{"id": "1"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockApify)
			if tt.err != nil {
				m.On("RunSync", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)
			} else {
				m.On("RunSync", mock.Anything, mock.Anything, mock.Anything).Return(tt.items, nil)
			}

			_, err := fastSocial(m, 2).Extract(context.Background(), "https://www.instagram.com/reel/xyz/")
			require.Error(t, err)
			assert.False(t, IsTransient(err))
			m.AssertNumberOfCalls(t, "RunSync", 1)
		})
	}
}

func TestSocialExtractor_CircuitOpens(t *testing.T) {
	m := new(MockApify)
	m.On("RunSync", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &apify.APIError{StatusCode: http.StatusServiceUnavailable})

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "apify-test",
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})
	s := NewSocialExtractor(m, SocialConfig{
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
		Breaker: breaker,
	})

	_, err := s.Extract(context.Background(), "https://www.tiktok.com/@a/video/1")
	require.Error(t, err)
	assert.Equal(t, resilience.CircuitOpen, breaker.State())

	_, err = s.Extract(context.Background(), "https://www.tiktok.com/@a/video/2")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.True(t, IsTransient(err))
	m.AssertNumberOfCalls(t, "RunSync", 1)
}

func TestSocialExtractor_Supports(t *testing.T) {
	s := NewSocialExtractor(new(MockApify), SocialConfig{})
	assert.True(t, s.Supports(model.PlatformTikTok))
	assert.True(t, s.Supports(model.PlatformInstagram))
	assert.True(t, s.Supports(model.PlatformYouTube))
	assert.False(t, s.Supports(model.PlatformWeb))
	assert.False(t, s.Supports(model.PlatformDirectImage))
}
