// Package rerank reorders retrieved chunks with a cross-encoder scoring
// endpoint. Reranking is strictly best effort: any failure downgrades to
// the original embedding order, and a client that cannot initialize in
// time is downgraded for good.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// InitTimeout caps how long a reranker probe may take before the
	// client is permanently downgraded.
	InitTimeout    = 15 * time.Second
	defaultTimeout = 30 * time.Second
	defaultModel   = "BAAI/bge-reranker-v2-m3"
)

// ErrRerank wraps failures from the scoring endpoint.
var ErrRerank = fmt.Errorf("rerank failed")

// Config selects the reranker endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client scores query/document pairs. Safe for concurrent use.
type Client struct {
	cfg      Config
	http     *http.Client
	logger   *zap.Logger
	disabled atomic.Bool
}

// New applies defaults for zero config fields. A client without a
// BaseURL starts disabled.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	if cfg.BaseURL == "" {
		c.disabled.Store(true)
	}
	return c
}

// Enabled reports whether the client will attempt reranking.
func (c *Client) Enabled() bool {
	return !c.disabled.Load()
}

// Init probes the endpoint with a trivial scoring request. A probe that
// fails or exceeds InitTimeout downgrades the client permanently;
// retrieval then keeps the embedding order.
func (c *Client) Init(ctx context.Context) {
	if c.disabled.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	if _, err := c.score(ctx, "ping", []string{"ping"}); err != nil {
		c.disabled.Store(true)
		c.logger.Warn("Reranker unavailable, downgrading permanently", zap.Error(err))
		return
	}
	c.logger.Info("Reranker initialized", zap.String("model", c.cfg.Model))
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
		Score          float64 `json:"score"`
	} `json:"results"`
}

// Rerank returns the indices of docs ordered by relevance to the query,
// truncated to topN. On any failure, or when the client is disabled, it
// returns the first topN indices in their original order.
func (c *Client) Rerank(ctx context.Context, query string, docs []string, topN int) []int {
	if topN > len(docs) {
		topN = len(docs)
	}
	if topN <= 0 {
		return nil
	}

	identity := make([]int, topN)
	for i := range identity {
		identity[i] = i
	}
	if c.disabled.Load() || len(docs) <= 1 {
		return identity
	}

	scores, err := c.score(ctx, query, docs)
	if err != nil {
		c.logger.Warn("Rerank failed, keeping embedding order", zap.Error(err))
		return identity
	}

	order := make([]int, len(docs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order[:topN]
}

func (c *Client) score(ctx context.Context, query string, docs []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Model: c.cfg.Model, Query: query, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerank, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerank, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerank, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerank, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", ErrRerank, resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrRerank, err)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("%w: empty results", ErrRerank)
	}

	scores := make([]float64, len(docs))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			return nil, fmt.Errorf("%w: index %d out of range", ErrRerank, r.Index)
		}
		score := r.RelevanceScore
		if score == 0 {
			score = r.Score
		}
		scores[r.Index] = score
	}
	return scores, nil
}
