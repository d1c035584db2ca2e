package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a sift.
type Status string

const (
	StatusReceived         Status = "received"
	StatusExtracting       Status = "extracting"
	StatusExtractionFailed Status = "extraction_failed"
	StatusAnalyzing        Status = "analyzing"
	StatusAnalysisFailed   Status = "analysis_failed"
	StatusComplete         Status = "complete"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusAnalysisFailed, StatusExtractionFailed:
		return true
	}
	return false
}

// Platform is the source classification of a submitted URL.
type Platform string

const (
	PlatformTikTok      Platform = "tiktok"
	PlatformInstagram   Platform = "instagram"
	PlatformYouTube     Platform = "youtube"
	PlatformDirectImage Platform = "direct_image"
	PlatformWeb         Platform = "web"
)

// Social reports whether the platform is served by the scraping service.
func (p Platform) Social() bool {
	return p == PlatformTikTok || p == PlatformInstagram || p == PlatformYouTube
}

// DebugEntry is one trace line in a sift's debug trail.
type DebugEntry struct {
	At         time.Time `json:"at"`
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// NewDebugEntry builds a debug entry stamped with the current time.
func NewDebugEntry(stage string, d time.Duration, format string, args ...any) DebugEntry {
	return DebugEntry{
		At:         time.Now().UTC(),
		Stage:      stage,
		Message:    fmt.Sprintf(format, args...),
		DurationMs: d.Milliseconds(),
	}
}

// Metadata holds pipeline bookkeeping for a sift.
type Metadata struct {
	Status    Status         `json:"status"`
	DebugInfo []DebugEntry   `json:"debug_info"`
	SmartData map[string]any `json:"smart_data,omitempty"`
}

// Sift is one ingested URL owned by a user.
type Sift struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	URL           string    `json:"url"`
	NormalizedURL string    `json:"normalized_url"`
	Platform      Platform  `json:"platform"`
	Title         string    `json:"title"`
	Summary       string    `json:"summary"`
	Content       string    `json:"content"`
	Tags          []string  `json:"tags"`
	Category      string    `json:"category"`
	CoverImage    string    `json:"cover_image,omitempty"`
	IsArchived    bool      `json:"is_archived"`
	Metadata      Metadata  `json:"metadata"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Status returns the lifecycle state recorded in the metadata.
func (s *Sift) Status() Status {
	return s.Metadata.Status
}

// AppendDebug adds entries to the debug trail.
func (s *Sift) AppendDebug(entries ...DebugEntry) {
	s.Metadata.DebugInfo = append(s.Metadata.DebugInfo, entries...)
}

// Content is the normalized output of an extraction strategy.
type Content struct {
	Title     string         `json:"title"`
	Text      string         `json:"text"`
	ImageURL  string         `json:"image_url,omitempty"`
	Author    string         `json:"author,omitempty"`
	Platform  Platform       `json:"platform"`
	Source    string         `json:"source"`
	RawFields map[string]any `json:"raw_fields,omitempty"`
}

// Empty reports whether the content carries nothing worth analyzing.
func (c *Content) Empty() bool {
	return c == nil || (c.Title == "" && c.Text == "" && c.ImageURL == "")
}

// Analysis is the structured result of the analysis engine.
type Analysis struct {
	Title    string     `json:"title"`
	Category string     `json:"category"`
	Tags     []string   `json:"tags"`
	Summary  string     `json:"summary"`
	Usage    TokenUsage `json:"usage"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Cost += other.Cost
}
