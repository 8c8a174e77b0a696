package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNeedsSearch(t *testing.T) {
	assert.True(t, NeedsSearch("what is the weather like", true))
	assert.True(t, NeedsSearch("今天有什么新闻", true))
	assert.True(t, NeedsSearch("What happened YESTERDAY?", true))
	assert.True(t, NeedsSearch("summarize my document", false), "empty retrieval falls back to the web")
	assert.False(t, NeedsSearch("summarize my document", true))
}

func TestSearchParsesProviderShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "go generics", req.Query)
		assert.Equal(t, 3, req.MaxResults)
		_, _ = w.Write([]byte(`{"results": [
			{"title": "A", "snippet": "s1", "url": "https://a"},
			{"title": "B", "body": "s2", "href": "https://b"},
			{"title": "C", "content": "s3", "link": "https://c"},
			{"title": "D", "snippet": "s4", "url": "https://d"}
		]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	results, err := c.Search(context.Background(), "go generics")
	require.NoError(t, err)
	require.Len(t, results, 3, "capped at max results")
	assert.Equal(t, Result{Title: "A", Snippet: "s1", URL: "https://a"}, results[0])
	assert.Equal(t, Result{Title: "B", Snippet: "s2", URL: "https://b"}, results[1])
	assert.Equal(t, Result{Title: "C", Snippet: "s3", URL: "https://c"}, results[2])
}

func TestSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, zap.NewNop())
	_, err := c.Search(context.Background(), "q")
	assert.ErrorIs(t, err, ErrSearch)
}

func TestSearchDisabledWithoutEndpoint(t *testing.T) {
	c := New(Config{}, zap.NewNop())
	assert.False(t, c.Enabled())
	results, err := c.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestFormatResults(t *testing.T) {
	assert.Empty(t, FormatResults(nil))

	got := FormatResults([]Result{{Title: "T", Snippet: "S", URL: "https://u"}})
	assert.Contains(t, got, "Web Search Results:")
	assert.Contains(t, got, "1. T")
	assert.Contains(t, got, "Source: https://u")
}
