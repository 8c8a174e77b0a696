// Package embeddings turns text into vectors through any OpenAI-compatible
// embeddings endpoint, with an in-process LRU in front.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/metrics"
)

// ErrEmbed wraps every provider-side embedding failure.
var ErrEmbed = errors.New("embedding request failed")

// Config selects the provider endpoint and cache sizing.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	CacheSize int
	BatchSize int
}

// Service is safe for concurrent use.
type Service struct {
	cfg    Config
	http   *http.Client
	lru    *LocalLRU
	logger *zap.Logger
}

// New applies defaults for zero config fields.
func New(cfg Config, logger *zap.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 200
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Service{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		lru:    NewLocalLRU(cfg.CacheSize),
		logger: logger,
	}
}

// WithOverrides returns a service on the same cache but pointed at a user's
// own provider settings. Empty fields keep the base configuration.
func (s *Service) WithOverrides(baseURL, apiKey, model string) *Service {
	cfg := s.cfg
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if model != "" {
		cfg.Model = model
	}
	return &Service{cfg: cfg, http: s.http, lru: s.lru, logger: s.logger}
}

// Model returns the model this service embeds with.
func (s *Service) Model() string {
	return s.cfg.Model
}

// Configured reports whether a provider endpoint is set.
func (s *Service) Configured() bool {
	return s.cfg.BaseURL != ""
}

// Embed returns the vector for one text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order. Cached vectors are reused; misses are
// fetched in batches of at most BatchSize.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := s.lru.Get(MakeKey(s.cfg.Model, text)); ok {
			out[i] = vec
			metrics.EmbeddingRequests.WithLabelValues("cache_hit").Inc()
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	for start := 0; start < len(missTexts); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		vecs, err := s.fetch(ctx, missTexts[start:end])
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			i := missIdx[start+j]
			out[i] = vec
			s.lru.Set(MakeKey(s.cfg.Model, texts[i]), vec)
			metrics.EmbeddingRequests.WithLabelValues("miss").Inc()
		}
	}

	return out, nil
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// fetch posts one batch to <base>/v1/embeddings. Providers disagree on the
// response shape, so three layouts are accepted.
func (s *Service) fetch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: no embedding endpoint configured", ErrEmbed)
	}

	url := endpointURL(s.cfg.BaseURL)
	body, err := json.Marshal(embedRequest{Input: texts, Model: s.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrEmbed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues("embeddings", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrEmbed, err)
	}
	defer resp.Body.Close()
	metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		metrics.ProviderCalls.WithLabelValues("embeddings", "error").Inc()
		return nil, fmt.Errorf("%w: read response: %v", ErrEmbed, err)
	}

	if resp.StatusCode >= 400 {
		metrics.ProviderCalls.WithLabelValues("embeddings", "error").Inc()
		s.logger.Warn("Embedding provider returned error",
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrEmbed, resp.StatusCode)
	}
	metrics.ProviderCalls.WithLabelValues("embeddings", "ok").Inc()

	vecs, err := decodeResponse(raw)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbed, len(vecs), len(texts))
	}
	return vecs, nil
}

// endpointURL appends /v1/embeddings, tolerating bases that already carry
// the /v1 segment.
func endpointURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/embeddings"
	}
	return base + "/v1/embeddings"
}

// decodeResponse accepts {"data":[{"embedding":[...]}]}, {"embeddings":[[...]]},
// and a bare array of vectors.
func decodeResponse(raw []byte) ([][]float32, error) {
	var openai struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &openai); err == nil && len(openai.Data) > 0 {
		out := make([][]float32, len(openai.Data))
		for i, d := range openai.Data {
			out[i] = d.Embedding
		}
		return out, nil
	}

	var named struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(raw, &named); err == nil && len(named.Embeddings) > 0 {
		return named.Embeddings, nil
	}

	var bare [][]float32
	if err := json.Unmarshal(raw, &bare); err == nil && len(bare) > 0 {
		return bare, nil
	}

	return nil, fmt.Errorf("%w: unrecognized response shape", ErrEmbed)
}
