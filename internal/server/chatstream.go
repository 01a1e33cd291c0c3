package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"search-assist/internal/stream"
)

var errClientGone = errors.New("client disconnected")

// sseWriter writes event frames and flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	metrics *Metrics
}

func (s *sseWriter) send(ev stream.Event) error {
	payload, err := stream.Encode(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("%w: %v", errClientGone, err)
	}
	s.flusher.Flush()
	s.metrics.observeFrame(string(ev.Kind()))
	return nil
}

// handleChatStream handles GET /chat_stream/{query}. A checkpoint frame is
// sent only when a new thread is started.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	query, err := url.PathUnescape(mux.Vars(r)["query"])
	if err != nil || strings.TrimSpace(query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	threadID, isNew, err := s.resolveThread(ctx, r.URL.Query().Get("checkpoint_id"))
	if err != nil {
		s.logger.Error().Err(err).Msg("resolve thread failed")
		s.metrics.observeStream("setup_error")
		http.Error(w, "failed to open thread", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	out := &sseWriter{w: w, flusher: flusher, metrics: s.metrics}

	answer, err := s.streamAnswer(ctx, out, threadID, isNew, query)
	if err != nil {
		s.logger.Warn().Err(err).Str("thread", threadID).Msg("chat stream aborted")
		s.metrics.observeStream("aborted")
		return
	}

	// Persist before end so a follow-up sent on end sees this exchange.
	if err := s.threads.AppendExchange(context.WithoutCancel(ctx), threadID, query, answer); err != nil {
		s.logger.Error().Err(err).Str("thread", threadID).Msg("persist exchange failed")
	}
	if err := out.send(stream.End{}); err != nil {
		s.metrics.observeStream("aborted")
		return
	}
	s.metrics.observeStream("ok")
}

func (s *Server) resolveThread(ctx context.Context, checkpointID string) (string, bool, error) {
	if checkpointID != "" {
		ok, err := s.threads.Exists(ctx, checkpointID)
		if err != nil {
			return "", false, err
		}
		if ok {
			return checkpointID, false, nil
		}
		s.logger.Info().Str("checkpoint", checkpointID).Msg("unknown checkpoint, starting a new thread")
	}
	id, err := s.threads.CreateThread(ctx)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// streamAnswer sends every frame up to, but not including, end and returns
// the full answer text.
func (s *Server) streamAnswer(ctx context.Context, out *sseWriter, threadID string, isNew bool, query string) (string, error) {
	if isNew {
		if err := out.send(stream.Checkpoint{ID: threadID}); err != nil {
			return "", err
		}
	}

	turns, err := s.threads.History(ctx, threadID, historyTurns)
	if err != nil {
		s.logger.Warn().Err(err).Str("thread", threadID).Msg("load history failed")
	}
	history := make([]HistoryEntry, 0, len(turns))
	for _, t := range turns {
		history = append(history, HistoryEntry{Role: t.Role, Content: t.Content})
	}

	if err := out.send(stream.SearchStart{Query: query}); err != nil {
		return "", err
	}
	results, err := s.searcher.Search(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Warn().Err(err).Str("query", query).Msg("search failed")
		if err := out.send(stream.SearchError{Message: err.Error()}); err != nil {
			return "", err
		}
	} else if err := out.send(stream.SearchResults{URLs: urlsOf(results)}); err != nil {
		return "", err
	}

	req := AnswerRequest{Query: query, Results: results, History: history}
	streamed := false
	emit := func(chunk string) error {
		streamed = true
		return out.send(stream.Content{Text: chunk})
	}
	answer, err := s.generator.Generate(ctx, req, emit)
	if err != nil {
		if errors.Is(err, errClientGone) || ctx.Err() != nil {
			return "", err
		}
		s.logger.Error().Err(err).Msg("answer generation failed")
		if streamed {
			return "", err
		}
		answer, err = ExtractiveGenerator{}.Generate(ctx, req, emit)
		if err != nil {
			return "", err
		}
	}

	return answer, nil
}
