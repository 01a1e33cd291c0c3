package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tavilyStub(t *testing.T, status int, n int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req tavilyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "basic", req.SearchDepth)
		assert.Equal(t, 5, req.MaxResults)
		assert.Equal(t, "tvly-test", req.APIKey)

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		results := make([]map[string]string, 0, n)
		for i := 0; i < n; i++ {
			results = append(results, map[string]string{
				"url":     fmt.Sprintf("https://site%d.example", i),
				"title":   fmt.Sprintf("Site %d", i),
				"content": fmt.Sprintf("content %d", i),
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newProvider(t *testing.T, key, endpoint string) *SearchProvider {
	t.Helper()
	p, err := NewSearchProvider(SearchOptions{
		APIKey:   key,
		Endpoint: endpoint,
		RPS:      100,
		Logger:   zerolog.Nop(),
		Metrics:  NewMetrics(),
	})
	require.NoError(t, err)
	return p
}

func TestSearchUpstreamCapsAndCaches(t *testing.T) {
	srv, calls := tavilyStub(t, http.StatusOK, 7)
	p := newProvider(t, "tvly-test", srv.URL)

	got, err := p.Search(context.Background(), "Go  Generics")
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, Result{URL: "https://site0.example", Title: "Site 0", Snippet: "content 0"}, got[0])

	again, err := p.Search(context.Background(), "go generics")
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearchUpstreamFailure(t *testing.T) {
	srv, _ := tavilyStub(t, http.StatusTooManyRequests, 0)
	p := newProvider(t, "tvly-test", srv.URL)

	_, err := p.Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	assert.Equal(t, Mock("q"), p.SearchOrMock(context.Background(), "q"))
}

func TestSearchWithoutKeyServesMock(t *testing.T) {
	p := newProvider(t, "", "http://127.0.0.1:1")
	got, err := p.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, Mock("q"), got)
}

func TestMock(t *testing.T) {
	got := Mock("rust vs go")
	require.Len(t, got, 5)
	assert.Equal(t, "https://en.wikipedia.org/wiki/rust%20vs%20go", got[0].URL)
	assert.Equal(t, "https://www.example.com/search?q=rust+vs+go", got[1].URL)
	assert.Equal(t, "https://news.ycombinator.com/", got[2].URL)
	assert.Equal(t, "https://www.nature.com/search?q=rust+vs+go", got[3].URL)
	assert.Equal(t, "https://www.reddit.com/search/?q=rust+vs+go", got[4].URL)
	assert.Equal(t, Mock("rust vs go"), got)
}
