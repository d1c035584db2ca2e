package analyze

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sift/internal/model"
)

const maxTitleRunes = 200

// tagList accepts either a JSON array or a comma-separated string.
type tagList []string

func (l *tagList) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return eris.Wrap(err, "tags must be an array or string")
	}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	if *l == nil {
		*l = tagList{}
	}
	return nil
}

type rawAnalysis struct {
	Title    string   `json:"title"`
	Category *string  `json:"category"`
	Tags     *tagList `json:"tags"`
	Summary  string   `json:"summary"`
}

// parseAnalysis decodes a model response and normalizes it against t.
func parseAnalysis(text string, t Taxonomy) (*model.Analysis, error) {
	cleaned := cleanJSON(text)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, eris.New("analyze: no json object in response")
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "analyze: decode response")
	}

	raw.Title = strings.TrimSpace(raw.Title)
	raw.Summary = strings.TrimSpace(raw.Summary)
	switch {
	case raw.Title == "":
		return nil, eris.New("analyze: missing title")
	case raw.Summary == "":
		return nil, eris.New("analyze: missing summary")
	case raw.Category == nil:
		return nil, eris.New("analyze: missing category")
	case raw.Tags == nil:
		return nil, eris.New("analyze: missing tags")
	}

	return &model.Analysis{
		Title:    truncate(raw.Title, maxTitleRunes),
		Category: t.Category(*raw.Category),
		Tags:     t.NormalizeTags(*raw.Tags),
		Summary:  raw.Summary,
	}, nil
}

// cleanJSON extracts a JSON object from text that may contain markdown
// code fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
