package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultTavilyEndpoint = "https://api.tavily.com/search"
	maxSearchResults      = 5
)

type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

type SearchOptions struct {
	APIKey    string
	Endpoint  string
	RPS       float64
	CacheSize int
	Client    *http.Client
	Logger    zerolog.Logger
	Metrics   *Metrics
}

// SearchProvider queries Tavily. Without an API key every query is answered
// from Mock.
type SearchProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	cache    *lru.Cache[string, []Result]
	logger   zerolog.Logger
	metrics  *Metrics
}

func NewSearchProvider(opts SearchOptions) (*SearchProvider, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultTavilyEndpoint
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 20 * time.Second}
	}
	rps := opts.RPS
	if rps <= 0 {
		rps = 1
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, []Result](size)
	if err != nil {
		return nil, fmt.Errorf("create search cache: %w", err)
	}
	return &SearchProvider{
		apiKey:   opts.APIKey,
		endpoint: opts.Endpoint,
		client:   opts.Client,
		limiter:  rate.NewLimiter(rate.Limit(rps), 2),
		cache:    cache,
		logger:   opts.Logger.With().Str("component", "search").Logger(),
		metrics:  opts.Metrics,
	}, nil
}

// Search returns at most five results. Upstream failures are returned to the
// caller; see SearchOrMock for the forgiving variant.
func (p *SearchProvider) Search(ctx context.Context, query string) ([]Result, error) {
	key := cacheKey(query)
	if cached, ok := p.cache.Get(key); ok {
		p.metrics.observeSearch("cache", 0)
		return cached, nil
	}
	if p.apiKey == "" {
		p.metrics.observeSearch("mock", 0)
		return Mock(query), nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search rate limit: %w", err)
	}
	start := time.Now()
	results, err := p.tavily(ctx, query)
	if err != nil {
		p.metrics.observeSearch("error", time.Since(start))
		return nil, err
	}
	p.metrics.observeSearch("upstream", time.Since(start))
	p.cache.Add(key, results)
	return results, nil
}

// SearchOrMock never fails: upstream errors fall back to Mock.
func (p *SearchProvider) SearchOrMock(ctx context.Context, query string) []Result {
	results, err := p.Search(ctx, query)
	if err != nil {
		p.logger.Warn().Err(err).Str("query", query).Msg("search failed, returning mock results")
		return Mock(query)
	}
	return results
}

type tavilyRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	MaxResults     int      `json:"max_results"`
	IncludeAnswer  bool     `json:"include_answer"`
	IncludeImages  bool     `json:"include_images"`
	IncludeDomains []string `json:"include_domains"`
}

type tavilyResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

func (p *SearchProvider) tavily(ctx context.Context, query string) ([]Result, error) {
	body, err := json.Marshal(tavilyRequest{
		APIKey:         p.apiKey,
		Query:          query,
		SearchDepth:    "basic",
		MaxResults:     maxSearchResults,
		IncludeDomains: []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tavily error %d", resp.StatusCode)
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if len(out) == maxSearchResults {
			break
		}
		out = append(out, Result{URL: r.URL, Title: r.Title, Snippet: r.Content})
	}
	return out, nil
}

func cacheKey(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Mock is the deterministic result set served when no search backend is
// reachable.
func Mock(query string) []Result {
	q := url.QueryEscape(query)
	return []Result{
		{
			URL:     "https://en.wikipedia.org/wiki/" + url.PathEscape(query),
			Title:   "Wikipedia: " + query,
			Snippet: fmt.Sprintf("Encyclopedic overview and references related to %q.", query),
		},
		{
			URL:     "https://www.example.com/search?q=" + q,
			Title:   "Example.com results for " + query,
			Snippet: "Curated links and resources relevant to your query. Click through to explore more.",
		},
		{
			URL:     "https://news.ycombinator.com/",
			Title:   "Hacker News discussions",
			Snippet: fmt.Sprintf("Community discussions that may include topics about %q.", query),
		},
		{
			URL:     "https://www.nature.com/search?q=" + q,
			Title:   "Nature: Research related to " + query,
			Snippet: "Peer-reviewed articles and scientific coverage.",
		},
		{
			URL:     "https://www.reddit.com/search/?q=" + q,
			Title:   "Reddit: " + query,
			Snippet: "Community threads and opinions around the topic.",
		},
	}
}

func urlsOf(results []Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.URL)
	}
	return out
}
