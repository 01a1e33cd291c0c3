package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"search-assist/internal/memory"
)

const historyTurns = 8

type Server struct {
	threads   *memory.Store
	searcher  *SearchProvider
	generator Generator
	metrics   *Metrics
	logger    zerolog.Logger
	router    *mux.Router
}

func New(threads *memory.Store, searcher *SearchProvider, generator Generator, metrics *Metrics, logger zerolog.Logger) *Server {
	if generator == nil {
		generator = ExtractiveGenerator{}
	}
	s := &Server{
		threads:   threads,
		searcher:  searcher,
		generator: generator,
		metrics:   metrics,
		logger:    logger.With().Str("component", "server").Logger(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	// Queries may contain "/", so route on the escaped path.
	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc("/chat_stream/{query}", s.handleChatStream).Methods(http.MethodGet)
	r.HandleFunc("/api/search", s.handleSearch).Methods(http.MethodPost)
	r.HandleFunc("/api/answer", s.handleAnswer).Methods(http.MethodPost)
	r.HandleFunc("/api/threads", s.handleListThreads).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler())
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// handleSearch handles POST /api/search. Upstream failures fall back to the
// mock result set.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: s.searcher.SearchOrMock(r.Context(), req.Query)})
}

type answerResponse struct {
	Text string `json:"text"`
}

// handleAnswer handles POST /api/answer.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	text, err := s.generator.Generate(r.Context(), req, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("answer generation failed")
		writeError(w, http.StatusBadGateway, "answer generation failed")
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Text: text})
}

type threadView struct {
	ID           string `json:"id"`
	Preview      string `json:"preview"`
	TurnCount    int    `json:"turn_count"`
	LastActivity string `json:"last_activity"`
}

// handleListThreads handles GET /api/threads with optional q and limit
// parameters.
func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	threads, err := s.threads.ListThreads(r.Context(), q.Get("q"), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list threads failed")
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	out := make([]threadView, 0, len(threads))
	for _, t := range threads {
		out = append(out, threadView{
			ID:           t.ID,
			Preview:      t.Preview,
			TurnCount:    t.TurnCount,
			LastActivity: memory.FormatUnix(t.LastActivityTS),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
