package analyze

import (
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Taxonomy is the closed set of categories and tags the model may choose
// from. Anything outside it is mapped to the fallbacks.
type Taxonomy struct {
	Categories       []string `yaml:"categories"`
	Tags             []string `yaml:"tags"`
	FallbackCategory string   `yaml:"fallback_category"`
	FallbackTag      string   `yaml:"fallback_tag"`
}

const (
	minTags = 2
	maxTags = 3
)

// DefaultTaxonomy returns the built-in categories and tag vocabulary.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		Categories:       []string{"Cooking", "Tech", "Design", "Health", "Fashion", "News", "Random"},
		Tags:             []string{"Cooking", "Baking", "Tech", "Health", "Lifestyle", "Professional"},
		FallbackCategory: "Random",
		FallbackTag:      "Lifestyle",
	}
}

// LoadTaxonomy reads a YAML override. Omitted fields keep their defaults.
func LoadTaxonomy(path string) (Taxonomy, error) {
	t := DefaultTaxonomy()
	data, err := os.ReadFile(path)
	if err != nil {
		return t, eris.Wrapf(err, "analyze: read taxonomy %s", path)
	}

	var override Taxonomy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return t, eris.Wrapf(err, "analyze: parse taxonomy %s", path)
	}
	if len(override.Categories) > 0 {
		t.Categories = override.Categories
	}
	if len(override.Tags) > 0 {
		t.Tags = override.Tags
	}
	if override.FallbackCategory != "" {
		t.FallbackCategory = override.FallbackCategory
	}
	if override.FallbackTag != "" {
		t.FallbackTag = override.FallbackTag
	}
	return t, t.Validate()
}

// Validate checks that the fallbacks belong to their sets and that the
// vocabulary can fill the minimum tag count.
func (t Taxonomy) Validate() error {
	if !slices.Contains(t.Categories, t.FallbackCategory) {
		return eris.Errorf("analyze: fallback category %q not in categories", t.FallbackCategory)
	}
	if !slices.Contains(t.Tags, t.FallbackTag) {
		return eris.Errorf("analyze: fallback tag %q not in tags", t.FallbackTag)
	}
	if len(t.Tags) < minTags {
		return eris.Errorf("analyze: need at least %d tags, have %d", minTags, len(t.Tags))
	}
	return nil
}

// Category maps raw onto a known category, case-insensitively.
func (t Taxonomy) Category(raw string) string {
	if c, ok := lookup(t.Categories, raw); ok {
		return c
	}
	return t.FallbackCategory
}

// NormalizeTags maps each tag onto the vocabulary, drops duplicates, pads
// to two tags and caps at three.
func (t Taxonomy) NormalizeTags(raw []string) []string {
	out := make([]string, 0, maxTags)
	add := func(tag string) {
		if !slices.Contains(out, tag) {
			out = append(out, tag)
		}
	}

	for _, r := range raw {
		tag, ok := lookup(t.Tags, r)
		if !ok {
			tag = t.FallbackTag
		}
		add(tag)
	}

	if len(out) < minTags {
		add(t.FallbackTag)
	}
	for _, tag := range t.Tags {
		if len(out) >= minTags {
			break
		}
		add(tag)
	}

	if len(out) > maxTags {
		out = out[:maxTags]
	}
	return out
}

// Contains reports whether every tag is in the vocabulary.
func (t Taxonomy) Contains(tags []string) bool {
	for _, tag := range tags {
		if !slices.Contains(t.Tags, tag) {
			return false
		}
	}
	return true
}

func lookup(set []string, raw string) (string, bool) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "#"))
	for _, s := range set {
		if strings.EqualFold(s, raw) {
			return s, true
		}
	}
	return "", false
}
