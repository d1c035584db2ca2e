// Package analyze turns extracted content into a title, category, tags and
// a markdown summary using a Claude model.
package analyze

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/pkg/anthropic"
)

const (
	DefaultModel         = "claude-haiku-4-5-20251001"
	DefaultMaxTokens     = 4096
	DefaultTimeout       = 45 * time.Second
	DefaultMaxInputChars = 20_000

	maxAttempts = 2
)

// Analyzer produces an Analysis for extracted content.
type Analyzer interface {
	Analyze(ctx context.Context, c model.Content) (*model.Analysis, error)
}

// Config configures an Engine. Zero values take defaults.
type Config struct {
	Model         string
	MaxTokens     int64
	Timeout       time.Duration
	MaxInputChars int
	Taxonomy      *Taxonomy
}

// AnalysisError reports a failed analysis. It matches
// model.ErrAnalysisFailed under errors.Is.
type AnalysisError struct {
	Attempts int
	Err      error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze: failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AnalysisError) Unwrap() []error {
	return []error{e.Err, model.ErrAnalysisFailed}
}

// Engine calls the model with a fixed, cached system prompt and validates
// the JSON it returns.
type Engine struct {
	client   anthropic.Client
	model    string
	maxTok   int64
	timeout  time.Duration
	maxInput int
	taxonomy Taxonomy
	system   []anthropic.SystemBlock
}

// New creates an Engine.
func New(client anthropic.Client, cfg Config) *Engine {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	tax := DefaultTaxonomy()
	if cfg.Taxonomy != nil {
		tax = *cfg.Taxonomy
	}

	return &Engine{
		client:   client,
		model:    cfg.Model,
		maxTok:   cfg.MaxTokens,
		timeout:  cfg.Timeout,
		maxInput: cfg.MaxInputChars,
		taxonomy: tax,
		system:   anthropic.BuildCachedSystemBlocks(systemPrompt(tax)),
	}
}

// Taxonomy returns the categories and tags the engine normalizes against.
func (e *Engine) Taxonomy() Taxonomy {
	return e.taxonomy
}

// Analyze asks the model for an analysis of c. A malformed or incomplete
// response is retried once with a stricter instruction; a transport error
// also consumes an attempt.
func (e *Engine) Analyze(ctx context.Context, c model.Content) (*model.Analysis, error) {
	if c.Empty() {
		return nil, &AnalysisError{Err: eris.New("analyze: nothing to analyze")}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var images []string
	if strings.HasPrefix(c.ImageURL, "https://") || strings.HasPrefix(c.ImageURL, "http://") {
		images = []string{c.ImageURL}
	}
	msgs := []anthropic.Message{{
		Role:      "user",
		Content:   userPrompt(c, e.maxInput),
		ImageURLs: images,
	}}

	var (
		usage   anthropic.TokenUsage
		lastErr error
		attempt int
	)
	defer func() { usage.LogCost(e.model, "analyze") }()

	for attempt = 1; attempt <= maxAttempts; attempt++ {
		resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.model,
			MaxTokens: e.maxTok,
			System:    e.system,
			Messages:  msgs,
		})
		if err != nil {
			lastErr = eris.Wrap(err, "analyze: model call")
			zap.L().Warn("analyze: model call failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		usage.Add(resp.Usage)

		text := resp.Text()
		analysis, err := parseAnalysis(text, e.taxonomy)
		if err == nil {
			analysis.Usage = toModelUsage(usage, e.model)
			return analysis, nil
		}

		lastErr = err
		zap.L().Warn("analyze: invalid model response",
			zap.Int("attempt", attempt),
			zap.String("stop_reason", resp.StopReason),
			zap.Error(err),
		)
		if strings.TrimSpace(text) != "" {
			msgs = append(msgs, anthropic.Message{Role: "assistant", Content: text})
		}
		msgs = append(msgs, anthropic.Message{Role: "user", Content: retryInstruction})
	}

	if attempt > maxAttempts {
		attempt = maxAttempts
	}
	return nil, &AnalysisError{Attempts: attempt, Err: lastErr}
}

func toModelUsage(u anthropic.TokenUsage, modelID string) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
		Cost:                u.EstimateCost(modelID),
	}
}
