// Package extract turns a classified URL into normalized content using
// platform-specific strategies with fallback.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/internal/resilience"
)

// Extractor is a single extraction strategy.
type Extractor interface {
	Name() string
	Supports(p model.Platform) bool
	Extract(ctx context.Context, url string) (*model.Content, error)
}

// ExtractionError describes a failed strategy attempt. It matches
// model.ErrExtractionFailed under errors.Is.
type ExtractionError struct {
	Strategy  string
	Transient bool
	Err       error
}

func (e *ExtractionError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("extract: %s (%s): %v", e.Strategy, kind, e.Err)
}

func (e *ExtractionError) Unwrap() []error {
	return []error{e.Err, model.ErrExtractionFailed}
}

// Failure wraps err as an ExtractionError for strategy. Transience is derived
// from the error chain.
func Failure(strategy string, err error) *ExtractionError {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee
	}
	return &ExtractionError{Strategy: strategy, Transient: resilience.IsTransient(err), Err: err}
}

// Permanent builds a non-retryable ExtractionError.
func Permanent(strategy string, err error) *ExtractionError {
	return &ExtractionError{Strategy: strategy, Err: err}
}

// IsTransient reports whether err is worth retrying, honoring the flag on
// an ExtractionError when present.
func IsTransient(err error) bool {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Transient
	}
	return resilience.IsTransient(err)
}

// Outcome is the tagged result of extraction: exactly one of Content or Err
// is set.
type Outcome struct {
	Content *model.Content
	Err     *ExtractionError
}

// OK reports whether extraction produced content.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Content != nil
}

// Result is an Outcome plus the trail of attempts that produced it.
type Result struct {
	Outcome
	Strategy string
	Cached   bool
	Trail    []model.DebugEntry
}
