package extract

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/internal/resilience"
)

const (
	// DefaultMaxBody bounds how much of a page is read.
	DefaultMaxBody = 2 << 20
	// DefaultMaxText caps the extracted readable text.
	DefaultMaxText = 20_000

	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
)

// WebExtractor fetches a page over HTTP and extracts metadata and readable
// text with goquery.
type WebExtractor struct {
	client  *http.Client
	maxBody int64
	maxText int
}

// WebOption configures a WebExtractor.
type WebOption func(*WebExtractor)

// WithWebHTTPClient overrides the HTTP client.
func WithWebHTTPClient(hc *http.Client) WebOption {
	return func(w *WebExtractor) {
		w.client = hc
	}
}

// WithMaxBody overrides the body read limit in bytes.
func WithMaxBody(n int64) WebOption {
	return func(w *WebExtractor) {
		w.maxBody = n
	}
}

// WithMaxText overrides the readable text cap in characters.
func WithMaxText(n int) WebOption {
	return func(w *WebExtractor) {
		w.maxText = n
	}
}

// NewWebExtractor creates a WebExtractor with sensible defaults.
func NewWebExtractor(opts ...WebOption) *WebExtractor {
	w := &WebExtractor{
		client: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		maxBody: DefaultMaxBody,
		maxText: DefaultMaxText,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebExtractor) Name() string { return "web" }

// Supports returns true for generic web pages. For social platforms the
// dispatcher uses it as the metadata fetcher instead.
func (w *WebExtractor) Supports(p model.Platform) bool {
	return p == model.PlatformWeb
}

// Extract fetches targetURL and parses it into Content.
func (w *WebExtractor) Extract(ctx context.Context, targetURL string) (*model.Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, Permanent(w.Name(), eris.Wrap(err, "create request"))
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, Failure(w.Name(), eris.Wrap(err, "fetch"))
	}
	defer func() { _ = resp.Body.Close() }()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "image/") && resp.StatusCode < 300 {
		return &model.Content{
			ImageURL: resp.Request.URL.String(),
			Platform: model.PlatformDirectImage,
			Source:   "image",
		}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.maxBody))
	if err != nil {
		return nil, Failure(w.Name(), eris.Wrap(err, "read body"))
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		return nil, Permanent(w.Name(), eris.Errorf("blocked (%s)", kind))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Failure(w.Name(), resilience.FromHTTPStatus(eris.Errorf("status %d", resp.StatusCode), resp.StatusCode))
	}

	if mediaType != "" && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		return nil, Permanent(w.Name(), eris.Errorf("unsupported content type %q", mediaType))
	}

	content, err := ParseHTML(body, resp.Request.URL, w.maxText)
	if err != nil {
		return nil, Permanent(w.Name(), err)
	}
	if content.Empty() {
		return nil, Permanent(w.Name(), eris.New("empty page"))
	}
	return content, nil
}

// ParseHTML extracts title, description, primary image, and readable text.
// base resolves relative image URLs and may be nil.
func ParseHTML(body []byte, base *url.URL, maxText int) (*model.Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "parse html")
	}

	title := firstNonEmpty(
		metaContent(doc, "og:title"),
		metaContent(doc, "twitter:title"),
		doc.Find("title").First().Text(),
		doc.Find("h1").First().Text(),
	)
	description := firstNonEmpty(
		metaContent(doc, "og:description"),
		metaContent(doc, "description"),
		metaContent(doc, "twitter:description"),
	)
	image := resolve(base, firstNonEmpty(
		metaContent(doc, "og:image"),
		metaContent(doc, "og:image:url"),
		metaContent(doc, "twitter:image"),
		metaContent(doc, "twitter:image:src"),
		primaryImage(doc),
	))

	text := readableText(doc)
	if text == "" {
		text = description
	}

	raw := map[string]any{}
	if description != "" {
		raw["description"] = description
	}
	if site := metaContent(doc, "og:site_name"); site != "" {
		raw["site_name"] = site
	}
	if kind := metaContent(doc, "og:type"); kind != "" {
		raw["og_type"] = kind
	}
	if author := metaContent(doc, "author"); author != "" {
		raw["author"] = author
	}

	return &model.Content{
		Title:     collapse(title),
		Text:      truncateRunes(text, maxText),
		ImageURL:  image,
		Author:    metaContent(doc, "author"),
		Platform:  model.PlatformWeb,
		Source:    "web",
		RawFields: raw,
	}, nil
}

func metaContent(doc *goquery.Document, key string) string {
	sel := doc.Find(`meta[property="` + key + `"], meta[name="` + key + `"]`).First()
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

// primaryImage picks the first <img> declaring a size of at least 200px, or
// failing that the first image that does not look like an icon.
func primaryImage(doc *goquery.Document) string {
	var sized, fallback string
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := imgSource(s)
		if src == "" || strings.HasPrefix(src, "data:") {
			return true
		}
		w, _ := strconv.Atoi(s.AttrOr("width", ""))
		h, _ := strconv.Atoi(s.AttrOr("height", ""))
		if w >= 200 || h >= 200 {
			sized = src
			return false
		}
		if fallback == "" && !looksLikeIcon(src) && (w == 0 || w >= 64) {
			fallback = src
		}
		return true
	})
	return firstNonEmpty(sized, fallback)
}

func imgSource(s *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return ""
}

func looksLikeIcon(src string) bool {
	lower := strings.ToLower(src)
	for _, marker := range []string{"icon", "logo", "sprite", "avatar", "pixel", "badge", ".svg"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

const boilerplate = "script, style, noscript, template, nav, footer, header, aside, form, iframe, svg, button"

const textBlocks = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, figcaption, td, dt, dd"

// readableText returns the main text of the page, preferring <article> and
// <main> over <body>.
func readableText(doc *goquery.Document) string {
	doc.Find(boilerplate).Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main, [role=main]").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var parts []string
	root.Find(textBlocks).Each(func(_ int, s *goquery.Selection) {
		// Leaf blocks only, so nested lists and cells are not counted twice.
		if s.Find(textBlocks).Length() > 0 {
			return
		}
		if t := collapse(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return collapse(root.Text())
	}
	return strings.Join(parts, "\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
