package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Base: 2.0}
}

func completionHandler(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		})
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	return New(Config{BaseURL: url, APIKey: "test-key", Model: "test-model", RatePerSec: 1000}, zap.NewNop())
}

func TestChatSuccess(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		completionHandler("hello there")(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.InDelta(t, 0.7, gotReq.Temperature, 1e-9)
	assert.Equal(t, 1024, gotReq.MaxTokens)
}

func TestChatURLHandlesV1Suffix(t *testing.T) {
	assert.Equal(t, "https://api.example.com/v1/chat/completions", chatURL("https://api.example.com"))
	assert.Equal(t, "https://api.example.com/v1/chat/completions", chatURL("https://api.example.com/v1"))
	assert.Equal(t, "https://api.example.com/v1/chat/completions", chatURL("https://api.example.com/v1/"))
}

func TestChatRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		completionHandler("recovered")(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	var out string
	err := WithRetry(context.Background(), fastPolicy(), zap.NewNop(), "llm", func() error {
		var callErr error
		out, callErr = c.chatOnce(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
		return callErr
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.EqualValues(t, 3, calls.Load())
}

func TestChatAuthFailureDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := WithRetry(context.Background(), fastPolicy(), zap.NewNop(), "llm", func() error {
		_, callErr := c.chatOnce(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
		return callErr
	})
	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindAuth, pe.Kind)
	assert.EqualValues(t, 1, calls.Load())
}

func TestChatEmptyCompletionIsError(t *testing.T) {
	srv := httptest.NewServer(completionHandler("   "))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.chatOnce(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	require.Error(t, err)
}

func TestChatOptionsOverrideDefaults(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		completionHandler("ok")(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	temp := 0.3
	_, err := c.chatOnce(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{Temperature: &temp, MaxTokens: 50})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, gotReq.Temperature, 1e-9)
	assert.Equal(t, 50, gotReq.MaxTokens)
}

func TestWithOverrides(t *testing.T) {
	base := newTestClient(t, "https://base.example.com")
	derived := base.WithOverrides("https://user.example.com", "user-key", "user-model")

	assert.Equal(t, "https://user.example.com", derived.cfg.BaseURL)
	assert.Equal(t, "user-key", derived.cfg.APIKey)
	assert.Equal(t, "user-model", derived.cfg.Model)
	assert.Same(t, base.limiter, derived.limiter, "override clients share pacing")

	same := base.WithOverrides("", "", "")
	assert.Equal(t, base.cfg, same.cfg)
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, KindRateLimited, classifyStatus(429))
	assert.Equal(t, KindAuth, classifyStatus(401))
	assert.Equal(t, KindAuth, classifyStatus(403))
	assert.Equal(t, KindTimeout, classifyStatus(408))
	assert.Equal(t, KindTimeout, classifyStatus(504))
	assert.Equal(t, KindUnavailable, classifyStatus(502))
	assert.Equal(t, KindUnavailable, classifyStatus(503))
	assert.Equal(t, KindBadRequest, classifyStatus(400))
	assert.Equal(t, KindUnknown, classifyStatus(500))
}

func TestClassifyMessageMarkers(t *testing.T) {
	assert.Equal(t, KindTimeout, classifyMessage("context deadline exceeded"))
	assert.Equal(t, KindRateLimited, classifyMessage("HTTP 429 Too Many Requests"))
	assert.Equal(t, KindUnavailable, classifyMessage("connection refused"))
	assert.Equal(t, KindUnavailable, classifyMessage("当前模型饱和，请稍后再试"))
	assert.Equal(t, KindUnknown, classifyMessage("invalid schema"))
}

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	var calls int
	err := WithRetry(context.Background(), fastPolicy(), zap.NewNop(), "llm", func() error {
		calls++
		return &ProviderError{Kind: KindUnavailable, Err: assert.AnError}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus MaxRetries")
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Base: 2.0}

	done := make(chan error, 1)
	go func() {
		done <- WithRetry(ctx, policy, zap.NewNop(), "llm", func() error {
			return &ProviderError{Kind: KindUnavailable, Err: assert.AnError}
		})
	}()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}
