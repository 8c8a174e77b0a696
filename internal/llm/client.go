// Package llm calls OpenAI-compatible chat-completions endpoints with
// provider error classification, outbound pacing, and backoff retries.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ragnote/ragcore/internal/metrics"
)

// Message is one chat turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options overrides per-call generation parameters.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Config selects the provider endpoint and defaults.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	RatePerSec  float64
}

// Client is safe for concurrent use. All requests share one pacing
// limiter so bursts of chats do not trip provider limits.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New applies defaults for zero config fields.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(cfg.RatePerSec)+1),
		logger:  logger,
	}
}

// WithOverrides returns a client on the same limiter pointed at a user's
// own provider. Empty fields keep the base configuration.
func (c *Client) WithOverrides(baseURL, apiKey, model string) *Client {
	cfg := c.cfg
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if model != "" {
		cfg.Model = model
	}
	return &Client{cfg: cfg, http: c.http, limiter: c.limiter, logger: c.logger}
}

// Model returns the model this client generates with.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Configured reports whether a provider endpoint is set.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != ""
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends one completion request and returns the assistant text.
// Transient failures retry with backoff; all failures surface as
// *ProviderError.
func (c *Client) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	var out string
	err := WithRetry(ctx, DefaultRetryPolicy, c.logger, "llm", func() error {
		var callErr error
		out, callErr = c.chatOnce(ctx, messages, opts)
		return callErr
	})
	return out, err
}

func (c *Client) chatOnce(ctx context.Context, messages []Message, opts Options) (string, error) {
	if c.cfg.BaseURL == "" {
		return "", &ProviderError{Kind: KindBadRequest, Err: fmt.Errorf("no chat endpoint configured")}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", &ProviderError{Kind: KindTimeout, Err: err}
	}

	temperature := c.cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := c.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", &ProviderError{Kind: KindBadRequest, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL(c.cfg.BaseURL), bytes.NewReader(body))
	if err != nil {
		return "", &ProviderError{Kind: KindBadRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues("llm", "error").Inc()
		return "", &ProviderError{Kind: classifyMessage(err.Error()), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		metrics.ProviderCalls.WithLabelValues("llm", "error").Inc()
		return "", &ProviderError{Kind: KindUnknown, Err: err}
	}

	if resp.StatusCode >= 400 {
		metrics.ProviderCalls.WithLabelValues("llm", "error").Inc()
		kind := classifyStatus(resp.StatusCode)
		c.logger.Warn("Chat provider returned error",
			zap.Int("status", resp.StatusCode), zap.String("kind", string(kind)))
		return "", &ProviderError{
			Kind: kind,
			Err:  fmt.Errorf("status %s", strconv.Itoa(resp.StatusCode)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		metrics.ProviderCalls.WithLabelValues("llm", "error").Inc()
		return "", &ProviderError{Kind: KindUnknown, Err: fmt.Errorf("decode response: %v", err)}
	}
	if parsed.Error != nil {
		metrics.ProviderCalls.WithLabelValues("llm", "error").Inc()
		return "", &ProviderError{Kind: classifyMessage(parsed.Error.Message), Err: fmt.Errorf("%s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		metrics.ProviderCalls.WithLabelValues("llm", "error").Inc()
		return "", &ProviderError{Kind: KindUnknown, Err: fmt.Errorf("empty completion")}
	}

	metrics.ProviderCalls.WithLabelValues("llm", "ok").Inc()
	return parsed.Choices[0].Message.Content, nil
}

func chatURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}
