// Package pipeline runs a submitted URL through quota, classification,
// extraction, analysis and persistence, leaving every claimed record in a
// terminal state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sift/internal/analyze"
	"github.com/sells-group/sift/internal/assets"
	"github.com/sells-group/sift/internal/classify"
	"github.com/sells-group/sift/internal/extract"
	"github.com/sells-group/sift/internal/metrics"
	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/internal/quota"
	"github.com/sells-group/sift/internal/store"
)

// DefaultFinalizeTimeout bounds the terminal write once the request
// context is gone.
const DefaultFinalizeTimeout = 10 * time.Second

// Dispatcher extracts content for a classified URL. Refresh bypasses any
// extraction cache.
type Dispatcher interface {
	Dispatch(ctx context.Context, c classify.Classification) extract.Result
	Refresh(ctx context.Context, c classify.Classification) extract.Result
}

// QuotaChecker decides whether a user may submit.
type QuotaChecker interface {
	Check(ctx context.Context, userID, requestTier string) (quota.Decision, error)
}

// Deps are the pipeline's collaborators. Assets and Metrics are optional.
type Deps struct {
	Store      store.Store
	Dispatcher Dispatcher
	Analyzer   analyze.Analyzer
	Quota      QuotaChecker
	Assets     assets.Rehoster
	Metrics    *metrics.Metrics
	// Taxonomy supplies fallback category and tags for degraded records.
	Taxonomy        *analyze.Taxonomy
	FinalizeTimeout time.Duration
}

// Request is one submission.
type Request struct {
	URL      string `json:"url"`
	UserID   string `json:"user_id"`
	UserTier string `json:"user_tier,omitempty"`
	// PendingID is an optional client-generated id for the record.
	PendingID string `json:"id,omitempty"`
}

// Pipeline orchestrates one submission at a time; it is safe for
// concurrent use.
type Pipeline struct {
	store           store.Store
	dispatcher      Dispatcher
	analyzer        analyze.Analyzer
	quota           QuotaChecker
	assets          assets.Rehoster
	metrics         *metrics.Metrics
	taxonomy        analyze.Taxonomy
	finalizeTimeout time.Duration
}

// New creates a Pipeline from its dependencies.
func New(d Deps) *Pipeline {
	p := &Pipeline{
		store:           d.Store,
		dispatcher:      d.Dispatcher,
		analyzer:        d.Analyzer,
		quota:           d.Quota,
		assets:          d.Assets,
		metrics:         d.Metrics,
		taxonomy:        analyze.DefaultTaxonomy(),
		finalizeTimeout: d.FinalizeTimeout,
	}
	if d.Taxonomy != nil {
		p.taxonomy = *d.Taxonomy
	}
	if p.finalizeTimeout <= 0 {
		p.finalizeTimeout = DefaultFinalizeTimeout
	}
	return p
}

// run carries the state of one submission.
type run struct {
	sift     *model.Sift
	class    classify.Classification
	log      *zap.Logger
	start    time.Time
	existing bool
}

// Submit processes req. Degraded records (extraction or analysis failure)
// are returned without error; errors are reserved for invalid input,
// quota and persistence failures.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*model.Sift, error) {
	start := time.Now()
	log := zap.L().With(zap.String("user_id", req.UserID), zap.String("url", req.URL))

	if req.UserID == "" {
		return nil, eris.Wrap(model.ErrInvalidRequest, "pipeline: user_id is required")
	}

	if _, err := p.quota.Check(ctx, req.UserID, req.UserTier); err != nil {
		log.Info("pipeline: submission rejected by quota", zap.Error(err))
		return nil, eris.Wrap(err, "pipeline: quota")
	}

	class, err := classify.Classify(req.URL)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: classify")
	}

	r := &run{
		sift: &model.Sift{
			ID:            p.pendingID(req.PendingID, log),
			UserID:        req.UserID,
			URL:           req.URL,
			NormalizedURL: class.NormalizedURL,
			Platform:      class.Platform,
			Metadata: model.Metadata{
				Status:    model.StatusReceived,
				SmartData: map[string]any{},
			},
		},
		class: class,
		start: start,
	}
	r.sift.AppendDebug(model.NewDebugEntry("received", 0, "platform %s, normalized %s", class.Platform, class.NormalizedURL))

	id, existing, err := p.store.ClaimSift(ctx, r.sift)
	if err != nil {
		return nil, persistenceError(err, "pipeline: claim sift")
	}
	r.sift.ID = id
	r.existing = existing
	r.log = log.With(zap.String("sift_id", id), zap.String("platform", string(class.Platform)))
	if existing {
		r.log.Info("pipeline: updating existing live sift")
		r.sift.AppendDebug(model.NewDebugEntry("received", 0, "resubmitted, updating existing record"))
	}

	content, ok := p.extract(ctx, r)
	if !ok {
		p.degradeExtraction(r)
		return p.finalize(ctx, r)
	}

	p.transition(ctx, r, model.StatusAnalyzing, model.NewDebugEntry("analyze", 0, "analyzing %d chars", len(content.Text)))

	var (
		analysis   *model.Analysis
		analyzeErr error
		cover      string
	)
	analyzeStart := time.Now()
	var g errgroup.Group
	g.Go(func() error {
		analysis, analyzeErr = p.analyzer.Analyze(ctx, *content)
		return nil
	})
	g.Go(func() error {
		cover = p.rehostCover(ctx, r, content.ImageURL)
		return nil
	})
	_ = g.Wait()
	analyzeDur := time.Since(analyzeStart)

	r.sift.CoverImage = cover
	if analyzeErr != nil {
		r.log.Warn("pipeline: analysis failed, saving degraded record", zap.Error(analyzeErr))
		p.degradeAnalysis(r, content, analyzeErr, analyzeDur)
		return p.finalize(ctx, r)
	}

	p.complete(r, content, analysis, analyzeDur)
	return p.finalize(ctx, r)
}

func (p *Pipeline) pendingID(raw string, log *zap.Logger) string {
	if raw == "" {
		return ""
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		log.Warn("pipeline: ignoring malformed pending id", zap.String("pending_id", raw))
		return ""
	}
	return id.String()
}

// extract moves the record to extracting and dispatches. Resubmissions
// re-fetch instead of reading the extraction cache. The returned bool
// reports success.
func (p *Pipeline) extract(ctx context.Context, r *run) (*model.Content, bool) {
	p.transition(ctx, r, model.StatusExtracting, model.NewDebugEntry("extract", 0, "dispatching %s", r.class.Platform))

	var res extract.Result
	if r.existing {
		res = p.dispatcher.Refresh(ctx, r.class)
	} else {
		res = p.dispatcher.Dispatch(ctx, r.class)
	}
	r.sift.AppendDebug(res.Trail...)

	if !res.OK() {
		msg := "no content"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		if cause := context.Cause(ctx); cause != nil {
			msg = fmt.Sprintf("%s (request: %v)", msg, cause)
		}
		r.sift.AppendDebug(model.NewDebugEntry("extract", time.Since(r.start), "extraction failed: %s", msg))
		r.log.Warn("pipeline: extraction failed", zap.String("reason", msg))
		return nil, false
	}

	r.sift.Metadata.SmartData["strategy"] = res.Strategy
	r.sift.Metadata.SmartData["cached"] = res.Cached
	return res.Content, true
}

// transition records an intermediate status. Failures are logged only;
// the terminal write carries the full trail.
func (p *Pipeline) transition(ctx context.Context, r *run, status model.Status, entry model.DebugEntry) {
	r.sift.Metadata.Status = status
	r.sift.AppendDebug(entry)

	wctx, cancel := p.writeContext(ctx)
	defer cancel()
	if err := p.store.UpdateStatus(wctx, r.sift.ID, status, entry); err != nil {
		r.log.Warn("pipeline: failed to update status",
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) rehostCover(ctx context.Context, r *run, imageURL string) string {
	if imageURL == "" || p.assets == nil {
		return imageURL
	}
	hosted, err := p.assets.Rehost(ctx, imageURL)
	if err != nil {
		r.log.Warn("pipeline: cover re-host failed, keeping source url",
			zap.String("image_url", imageURL),
			zap.Error(err),
		)
		return imageURL
	}
	r.sift.Metadata.SmartData["cover_source"] = imageURL
	return hosted
}

func (p *Pipeline) complete(r *run, content *model.Content, a *model.Analysis, d time.Duration) {
	s := r.sift
	s.Title = a.Title
	s.Summary = a.Summary
	s.Content = content.Text
	s.Category = p.taxonomy.Category(a.Category)
	s.Tags = p.taxonomy.NormalizeTags(a.Tags)
	s.Metadata.Status = model.StatusComplete
	mergeSmartData(s.Metadata.SmartData, content)
	s.Metadata.SmartData["usage"] = a.Usage
	s.AppendDebug(model.NewDebugEntry("analyze", d,
		"complete: category %s, %d input / %d output tokens", s.Category, a.Usage.InputTokens, a.Usage.OutputTokens))
}

// finalize performs the single terminal write on a context detached from
// the request so cancelled submissions still land in a terminal state.
func (p *Pipeline) finalize(ctx context.Context, r *run) (*model.Sift, error) {
	wctx, cancel := p.writeContext(ctx)
	defer cancel()

	s := r.sift
	if err := p.store.SaveSift(wctx, s); err != nil {
		r.log.Error("pipeline: terminal write failed", zap.String("status", string(s.Status())), zap.Error(err))
		return nil, persistenceError(err, "pipeline: save sift")
	}
	p.metrics.ObserveSubmission(s.Platform, s.Status(), time.Since(r.start))

	r.log.Info("pipeline: sift finished",
		zap.String("status", string(s.Status())),
		zap.String("category", s.Category),
		zap.Duration("elapsed", time.Since(r.start)),
	)

	saved, err := p.store.GetSift(wctx, s.ID, s.UserID)
	if err != nil {
		r.log.Warn("pipeline: re-read after save failed", zap.Error(err))
		return s, nil
	}
	return saved, nil
}

func (p *Pipeline) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.finalizeTimeout)
}

func persistenceError(err error, op string) error {
	return eris.Wrap(errors.Join(err, model.ErrPersistenceFailed), op)
}
