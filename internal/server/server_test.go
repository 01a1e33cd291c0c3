package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"search-assist/internal/conversation"
	"search-assist/internal/memory"
	"search-assist/internal/session"
	"search-assist/internal/stream"
)

// recordingGenerator answers with a fixed text and remembers every request.
type recordingGenerator struct {
	mu     sync.Mutex
	reqs   []AnswerRequest
	chunks []string
	err    error
}

func (g *recordingGenerator) Generate(ctx context.Context, req AnswerRequest, onChunk func(string) error) (string, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	for _, c := range g.chunks {
		if onChunk != nil {
			if err := onChunk(c); err != nil {
				return "", err
			}
		}
	}
	return strings.Join(g.chunks, ""), nil
}

func (g *recordingGenerator) requests() []AnswerRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]AnswerRequest(nil), g.reqs...)
}

type fixture struct {
	srv     *httptest.Server
	threads *memory.Store
	gen     *recordingGenerator
}

func newFixture(t *testing.T, searchEndpoint, searchKey string) *fixture {
	t.Helper()
	threads, err := memory.New(filepath.Join(t.TempDir(), "threads.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = threads.Close() })

	metrics := NewMetrics()
	searcher, err := NewSearchProvider(SearchOptions{
		APIKey:   searchKey,
		Endpoint: searchEndpoint,
		RPS:      100,
		Logger:   zerolog.Nop(),
		Metrics:  metrics,
	})
	require.NoError(t, err)

	gen := &recordingGenerator{chunks: []string{"The ", "answer."}}
	s := New(threads, searcher, gen, metrics, zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, threads: threads, gen: gen}
}

func readEvents(t *testing.T, body io.Reader) []stream.Event {
	t.Helper()
	r := stream.NewReader(body)
	var out []stream.Event
	for {
		frame, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		ev, err := stream.Decode(frame)
		require.NoError(t, err, string(frame))
		out = append(out, ev)
	}
}

func (f *fixture) stream(t *testing.T, query, checkpoint string) []stream.Event {
	t.Helper()
	addr := f.srv.URL + "/chat_stream/" + url.PathEscape(query)
	if checkpoint != "" {
		addr += "?checkpoint_id=" + url.QueryEscape(checkpoint)
	}
	resp, err := http.Get(addr)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return readEvents(t, resp.Body)
}

func TestChatStreamNewThread(t *testing.T) {
	f := newFixture(t, "", "")

	events := f.stream(t, "weather today", "")
	require.Len(t, events, 6)

	cp, ok := events[0].(stream.Checkpoint)
	require.True(t, ok)
	assert.NotEmpty(t, cp.ID)
	assert.Equal(t, stream.SearchStart{Query: "weather today"}, events[1])
	assert.Equal(t, stream.SearchResults{URLs: urlsOf(Mock("weather today"))}, events[2])
	assert.Equal(t, stream.Content{Text: "The "}, events[3])
	assert.Equal(t, stream.Content{Text: "answer."}, events[4])
	assert.Equal(t, stream.End{}, events[5])

	turns, err := f.threads.History(context.Background(), cp.ID, 8)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "weather today", turns[0].Content)
	assert.Equal(t, "The answer.", turns[1].Content)
}

func TestChatStreamResumesThreadWithHistory(t *testing.T) {
	f := newFixture(t, "", "")

	first := f.stream(t, "first question", "")
	cp := first[0].(stream.Checkpoint)

	second := f.stream(t, "and a/b?", cp.ID)
	require.NotEmpty(t, second)
	for _, ev := range second {
		assert.NotEqual(t, stream.KindCheckpoint, ev.Kind(), "resumed threads get no checkpoint frame")
	}
	assert.Equal(t, stream.SearchStart{Query: "and a/b?"}, second[0])

	reqs := f.gen.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []HistoryEntry{
		{Role: memory.RoleUser, Content: "first question"},
		{Role: memory.RoleAssistant, Content: "The answer."},
	}, reqs[1].History)
}

func TestChatStreamUnknownCheckpointStartsNewThread(t *testing.T) {
	f := newFixture(t, "", "")
	events := f.stream(t, "q", "does-not-exist")
	cp, ok := events[0].(stream.Checkpoint)
	require.True(t, ok)
	assert.NotEqual(t, "does-not-exist", cp.ID)
}

func TestChatStreamSearchError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(upstream.Close)
	f := newFixture(t, upstream.URL, "tvly-test")

	events := f.stream(t, "q", "")
	require.GreaterOrEqual(t, len(events), 3)
	se, ok := events[2].(stream.SearchError)
	require.True(t, ok, "got %#v", events[2])
	assert.Contains(t, se.Message, "500")
	assert.Equal(t, stream.End{}, events[len(events)-1])
}

func TestChatStreamFallsBackWhenGeneratorFails(t *testing.T) {
	f := newFixture(t, "", "")
	f.gen.err = errors.New("model unavailable")

	events := f.stream(t, "go", "")
	var text strings.Builder
	for _, ev := range events {
		if c, ok := ev.(stream.Content); ok {
			text.WriteString(c.Text)
		}
	}
	assert.Contains(t, text.String(), "Here is what I found about **go**")
	assert.Equal(t, stream.End{}, events[len(events)-1])
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t, "", "")

	resp, err := http.Post(f.srv.URL+"/api/search", "application/json", strings.NewReader(`{"query":"go"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body searchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, Mock("go"), body.Results)

	bad, err := http.Post(f.srv.URL+"/api/search", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestAnswerEndpoint(t *testing.T) {
	f := newFixture(t, "", "")

	payload, _ := json.Marshal(AnswerRequest{Query: "go", Results: Mock("go")})
	resp, err := http.Post(f.srv.URL+"/api/answer", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body answerResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "The answer.", body.Text)
}

func TestThreadsHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "", "")
	f.stream(t, "paris weather", "")

	resp, err := http.Get(f.srv.URL + "/api/threads?q=paris")
	require.NoError(t, err)
	var listed struct {
		Threads []threadView `json:"threads"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed.Threads, 1)
	assert.Equal(t, "paris weather", listed.Threads[0].Preview)

	resp, err = http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `search_assist_chat_streams_total{outcome="ok"} 1`)
	assert.Contains(t, string(raw), `search_assist_stream_frames_total{kind="end"} 1`)
}

func TestControllerAgainstServer(t *testing.T) {
	f := newFixture(t, "", "")

	store := conversation.NewSeededStore()
	ctrl := session.NewController(store, nil, stream.NewHTTPTransport(nil, zerolog.Nop()), session.Options{
		ServerURL:   f.srv.URL,
		IdleTimeout: 5 * time.Second,
		Logger:      zerolog.Nop(),
	})

	ask := func(q string) conversation.Message {
		s, err := ctrl.Submit(q)
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, s.Run(ctx))
		msg, ok := store.Get(s.MessageID())
		require.True(t, ok)
		return msg
	}

	msg := ask("what is go/golang?")
	assert.Equal(t, "The answer.", msg.Content)
	assert.False(t, msg.IsLoading)
	require.NotNil(t, msg.Search)
	assert.Equal(t, "what is go/golang?", msg.Search.Query)
	assert.True(t, msg.Search.Has(conversation.StageWriting))
	assert.Len(t, msg.Search.URLs, 5)

	token, ok := ctrl.Checkpoint().Get()
	require.True(t, ok)

	ask("follow up")
	again, _ := ctrl.Checkpoint().Get()
	assert.Equal(t, token, again)
	assert.Equal(t, 5, store.Len())

	reqs := f.gen.requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].History, 2)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	threads, err := memory.New(filepath.Join(t.TempDir(), "threads.sqlite"))
	require.NoError(t, err)
	defer threads.Close()
	searcher, err := NewSearchProvider(SearchOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	s := New(threads, searcher, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
