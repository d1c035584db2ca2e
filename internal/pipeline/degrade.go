package pipeline

import (
	"strings"
	"time"

	"github.com/sells-group/sift/internal/model"
)

const (
	noSummary        = "No summary available"
	maxDegradedTitle = 120
)

// degradeExtraction turns r into a bookmark-style record after every
// extraction strategy failed.
func (p *Pipeline) degradeExtraction(r *run) {
	s := r.sift
	s.Title = "Saved from " + r.class.Host()
	s.Summary = noSummary
	s.Content = ""
	s.Category = p.taxonomy.FallbackCategory
	s.Tags = p.taxonomy.NormalizeTags(nil)
	s.Metadata.Status = model.StatusExtractionFailed
}

// degradeAnalysis keeps the extracted content but substitutes fallbacks for
// everything the model should have produced.
func (p *Pipeline) degradeAnalysis(r *run, content *model.Content, cause error, d time.Duration) {
	s := r.sift
	s.Title = truncateRunes(strings.TrimSpace(content.Title), maxDegradedTitle)
	if s.Title == "" {
		s.Title = hostPath(r)
	}
	s.Summary = noSummary
	s.Content = content.Text
	s.Category = p.taxonomy.FallbackCategory
	s.Tags = p.taxonomy.NormalizeTags(nil)
	s.Metadata.Status = model.StatusAnalysisFailed
	mergeSmartData(s.Metadata.SmartData, content)
	s.AppendDebug(model.NewDebugEntry("analyze", d, "analysis failed: %v", cause))
}

func hostPath(r *run) string {
	host := r.class.Host()
	if r.class.URL == nil {
		return host
	}
	return host + strings.TrimSuffix(r.class.URL.EscapedPath(), "/")
}

func mergeSmartData(dst map[string]any, c *model.Content) {
	for k, v := range c.RawFields {
		dst[k] = v
	}
	if c.Author != "" {
		dst["author"] = c.Author
	}
	if c.Source != "" {
		dst["source"] = c.Source
	}
	if c.ImageURL != "" {
		dst["image_url"] = c.ImageURL
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
