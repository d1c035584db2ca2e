// Package apify provides a client for running Apify actors synchronously.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.apify.com/v2"

// Client runs actors and returns their dataset items.
type Client interface {
	// RunSync starts actorID with input, waits for the run to finish, and
	// returns the items of its default dataset.
	RunSync(ctx context.Context, actorID string, input any, opts ...RunOption) ([]Item, error)
}

// Item is one loosely typed dataset record.
type Item map[string]any

// String returns the first non-empty string value among keys.
func (it Item) String(keys ...string) string {
	for _, k := range keys {
		if s, ok := it[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// Map returns the nested object stored at key.
func (it Item) Map(key string) Item {
	if m, ok := it[key].(map[string]any); ok {
		return Item(m)
	}
	return nil
}

// Slice returns the nested array stored at key.
func (it Item) Slice(key string) []any {
	if s, ok := it[key].([]any); ok {
		return s
	}
	return nil
}

// APIError is returned when Apify responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apify: HTTP %d: %s", e.StatusCode, e.Body)
}

// RunOption configures a single actor run.
type RunOption func(*runOpts)

type runOpts struct {
	timeout  time.Duration
	maxItems int
	memoryMB int
}

// WithRunTimeout bounds the actor run on the Apify side.
func WithRunTimeout(d time.Duration) RunOption {
	return func(o *runOpts) {
		o.timeout = d
	}
}

// WithMaxItems caps the number of dataset items returned.
func WithMaxItems(n int) RunOption {
	return func(o *runOpts) {
		o.maxItems = n
	}
}

// WithMemory sets the run memory in megabytes.
func WithMemory(mb int) RunOption {
	return func(o *runOpts) {
		o.memoryMB = mb
	}
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit limits outbound runs to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Apify client authenticated with token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// actorPath converts "owner/name" to the "owner~name" form the API expects.
func actorPath(actorID string) string {
	return url.PathEscape(strings.ReplaceAll(actorID, "/", "~"))
}

func (c *httpClient) RunSync(ctx context.Context, actorID string, input any, opts ...RunOption) ([]Item, error) {
	if actorID == "" {
		return nil, eris.New("apify: run sync: empty actor id")
	}
	o := runOpts{}
	for _, opt := range opts {
		opt(&o)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "apify: rate limit wait")
		}
	}

	q := url.Values{}
	if o.timeout > 0 {
		q.Set("timeout", strconv.Itoa(int(o.timeout.Seconds())))
	}
	if o.maxItems > 0 {
		q.Set("limit", strconv.Itoa(o.maxItems))
	}
	if o.memoryMB > 0 {
		q.Set("memory", strconv.Itoa(o.memoryMB))
	}
	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items", c.baseURL, actorPath(actorID))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	buf, err := json.Marshal(input)
	if err != nil {
		return nil, eris.Wrap(err, "apify: marshal input")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "apify: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	var items []Item
	if err := c.do(req, &items); err != nil {
		return nil, eris.Wrapf(err, "apify: run %s", actorID)
	}
	return items, nil
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data), 512),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
