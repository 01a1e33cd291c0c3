package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"search-assist/internal/conversation"
	"search-assist/internal/memory"
	"search-assist/internal/server"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	threads, err := memory.New(filepath.Join(t.TempDir(), "threads.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = threads.Close() })

	searcher, err := server.NewSearchProvider(server.SearchOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)

	s := server.New(threads, searcher, server.ExtractiveGenerator{}, server.NewMetrics(), zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	t.Setenv("SEARCH_ASSIST_HOME", t.TempDir())
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()))
	return out.String()
}

func TestAskStreamsAnswerAndSources(t *testing.T) {
	srv := startServer(t)

	out := runRoot(t, "ask", "--server", srv.URL, "go", "generics")

	assert.True(t, strings.HasPrefix(out, "Searching for: go generics\n\n"), out)
	assert.Contains(t, out, "Here is what I found about **go generics**:")
	assert.Contains(t, out, "\nSources:\n1. https://en.wikipedia.org/wiki/go%20generics\n")
	assert.Contains(t, out, "5. https://www.reddit.com/search/?q=go+generics\n")
}

func TestThreadsListsAskedQuestions(t *testing.T) {
	srv := startServer(t)
	runRoot(t, "ask", "--server", srv.URL, "weather in paris")

	out := runRoot(t, "threads", "--server", srv.URL)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2, out)
	assert.True(t, strings.HasPrefix(lines[0], "ID"), out)
	assert.Contains(t, lines[1], "weather in paris")

	out = runRoot(t, "threads", "--server", srv.URL, "-q", "tokyo")
	assert.Equal(t, "No threads yet.\n", out)
}

func TestAskResumesThread(t *testing.T) {
	srv := startServer(t)
	runRoot(t, "ask", "--server", srv.URL, "weather in paris")

	threads, err := fetchThreads(context.Background(), &http.Client{}, srv.URL, "", 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)

	runRoot(t, "ask", "--server", srv.URL, "--thread", threads[0].ID, "and tomorrow?")

	threads, err = fetchThreads(context.Background(), &http.Client{}, srv.URL, "", 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, 4, threads[0].TurnCount)
}

func TestFetchThreadsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fetchThreads(context.Background(), srv.Client(), srv.URL, "", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestAnswerPrinterWritesOnlyNewText(t *testing.T) {
	var out bytes.Buffer
	p := &answerPrinter{out: &out}
	info := &conversation.SearchInfo{Query: "q", URLs: []string{"https://a.example"}}

	p.print(conversation.Message{Search: info})
	p.print(conversation.Message{Content: "Hello", Search: info})
	p.print(conversation.Message{Content: "Hello world", Search: info})
	p.finish(conversation.Message{Content: "Hello world", Search: info})
	p.finish(conversation.Message{Content: "Hello world", Search: info})

	assert.Equal(t, "Searching for: q\n\nHello world\n\nSources:\n1. https://a.example\n", out.String())
}

func TestVersion(t *testing.T) {
	out := runRoot(t, "version")
	assert.Equal(t, "search-assist dev\n", out)
}
