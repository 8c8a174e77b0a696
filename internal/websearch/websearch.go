// Package websearch fetches fresh web results for queries that need
// real-time information the document index cannot answer.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxResults bounds how many results flow into a prompt.
	DefaultMaxResults = 3
	defaultTimeout    = 30 * time.Second
)

// ErrSearch wraps failures from the search provider.
var ErrSearch = fmt.Errorf("web search failed")

// realTimeKeywords flag queries that ask about the present moment.
var realTimeKeywords = []string{
	"今天", "今日", "现在", "当前", "最新", "天气", "新闻",
	"today", "now", "current", "latest", "weather", "news",
	"实时", "real-time", "昨天", "yesterday", "明天", "tomorrow",
}

// NeedsSearch decides whether a chat turn should consult the web:
// either the query asks for real-time information, or retrieval found
// nothing to ground the answer on.
func NeedsSearch(query string, haveChunks bool) bool {
	if !haveChunks {
		return true
	}
	lower := strings.ToLower(query)
	for _, kw := range realTimeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Result is one web hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Config selects the search provider endpoint.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxResults int
}

// Client calls a JSON search API. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New applies defaults for zero config fields.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Enabled reports whether a provider is configured.
func (c *Client) Enabled() bool {
	return c.cfg.BaseURL != ""
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// searchResponse tolerates the field names used by common providers.
type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Body    string `json:"body"`
		Content string `json:"content"`
		URL     string `json:"url"`
		Href    string `json:"href"`
		Link    string `json:"link"`
	} `json:"results"`
}

// Search returns up to MaxResults hits for the query. Failures are
// reported, never fatal: callers treat an empty slice as "no web
// context".
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if !c.Enabled() {
		return nil, nil
	}

	body, err := json.Marshal(searchRequest{Query: query, MaxResults: c.cfg.MaxResults})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearch, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearch, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearch, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearch, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", ErrSearch, resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSearch, err)
	}

	out := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		res := Result{Title: r.Title, Snippet: r.Snippet, URL: r.URL}
		if res.Snippet == "" {
			res.Snippet = r.Body
		}
		if res.Snippet == "" {
			res.Snippet = r.Content
		}
		if res.URL == "" {
			res.URL = r.Href
		}
		if res.URL == "" {
			res.URL = r.Link
		}
		out = append(out, res)
		if len(out) == c.cfg.MaxResults {
			break
		}
	}
	c.logger.Debug("Web search completed", zap.String("query", query), zap.Int("results", len(out)))
	return out, nil
}

// FormatResults renders hits as one context block for the LLM prompt.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Web Search Results:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   Source: %s\n\n", i+1, r.Title, r.Snippet, r.URL)
	}
	return b.String()
}
