package analyze

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/sift/internal/model"
)

const retryInstruction = "Return ONLY a JSON object with the keys title, category, tags and summary. No prose, no code fences."

const imageOnlyInstruction = "Analyze this image and return the structured JSON."

// systemPrompt renders the curator instructions for a taxonomy.
func systemPrompt(t Taxonomy) string {
	return fmt.Sprintf(`You are an expert curator and archivist.
Your goal is to read the provided content and synthesize it into a structured JSON response.

OUTPUT FORMAT:
Return a valid JSON object with exactly these keys:
{
  "title": "A short, catchy title",
  "category": "%s",
  "tags": ["Tag1", "Tag2"],
  "summary": "The full formatted content in Markdown"
}

CATEGORY: choose exactly one of %s. Use "%s" if nothing fits.

TAGGING RULES (STRICT):
- Select tags ONLY from this list: %s.
- Do not create new tags.
- If no tag fits, use "%s".
- Select exactly 2-3 tags.

SUMMARY RULES:
- Voice: clean, concise, functional.
- Start with a 1-sentence synopsis.
- Use H2 (##) for headers.
- Use **bold** for key items.
- Use bullet points for lists.

RECIPES AND HOW-TO:
- If the content is a recipe, include the full Ingredients and Preparation steps verbatim.
- Use the headers ## Ingredients and ## Preparation.

When only an image is provided, describe what it shows and apply the same rules.
Return ONLY the JSON object.`,
		strings.Join(t.Categories, ", "),
		strings.Join(t.Categories, ", "),
		t.FallbackCategory,
		quoteList(t.Tags),
		t.FallbackTag,
	)
}

func quoteList(vals []string) string {
	b, _ := json.Marshal(vals)
	return string(b)
}

// promptInput is the JSON document sent as the user turn.
type promptInput struct {
	Title       string   `json:"title,omitempty"`
	Text        string   `json:"text,omitempty"`
	Author      string   `json:"author,omitempty"`
	Platform    string   `json:"platform,omitempty"`
	Description string   `json:"description,omitempty"`
	SiteName    string   `json:"site_name,omitempty"`
	Hashtags    []string `json:"hashtags,omitempty"`
	Image       string   `json:"image,omitempty"`
}

// userPrompt serializes c with its text capped at maxChars runes.
func userPrompt(c model.Content, maxChars int) string {
	if c.Title == "" && c.Text == "" {
		return imageOnlyInstruction
	}

	in := promptInput{
		Title:    c.Title,
		Text:     truncate(c.Text, maxChars),
		Author:   c.Author,
		Platform: string(c.Platform),
		Image:    c.ImageURL,
	}
	if v, ok := c.RawFields["description"].(string); ok && v != c.Text {
		in.Description = v
	}
	if v, ok := c.RawFields["site_name"].(string); ok {
		in.SiteName = v
	}
	switch tags := c.RawFields["hashtags"].(type) {
	case []string:
		in.Hashtags = tags
	case []any:
		for _, t := range tags {
			if s, ok := t.(string); ok {
				in.Hashtags = append(in.Hashtags, s)
			}
		}
	}

	b, _ := json.Marshal(in)
	return string(b)
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
