package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// ErrStreamClosed reports that the server ended the body without an end
// event.
var ErrStreamClosed = errors.New("event stream closed by server")

// Transport opens one event subscription per address.
type Transport interface {
	Open(ctx context.Context, addr string) (Subscription, error)
}

// Subscription delivers frames in arrival order. Frames is closed when the
// stream ends; Err then reports why. Close may be called any number of times.
type Subscription interface {
	Frames() <-chan []byte
	Err() error
	Close() error
}

type HTTPTransport struct {
	client *http.Client
	logger zerolog.Logger
}

func NewHTTPTransport(client *http.Client, logger zerolog.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{
		client: client,
		logger: logger.With().Str("component", "transport").Logger(),
	}
}

func (t *HTTPTransport) Open(ctx context.Context, addr string) (Subscription, error) {
	readCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(readCtx, http.MethodGet, addr, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream endpoint returned status %d", resp.StatusCode)
	}

	sub := &httpSubscription{
		frames: make(chan []byte, 16),
		cancel: cancel,
		body:   resp.Body,
	}
	t.logger.Debug().Str("addr", addr).Msg("stream opened")
	go sub.readLoop(readCtx)
	return sub, nil
}

type httpSubscription struct {
	frames chan []byte
	cancel context.CancelFunc
	body   io.ReadCloser

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func (s *httpSubscription) Frames() <-chan []byte { return s.frames }

func (s *httpSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *httpSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.body.Close()
	})
	return nil
}

func (s *httpSubscription) readLoop(ctx context.Context) {
	defer close(s.frames)
	defer s.Close()

	reader := NewReader(s.body)
	for {
		frame, err := reader.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				s.setErr(ctx.Err())
			case errors.Is(err, io.EOF):
				s.setErr(ErrStreamClosed)
			default:
				s.setErr(fmt.Errorf("read event stream: %w", err))
			}
			return
		}

		select {
		case s.frames <- frame:
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		}
	}
}

func (s *httpSubscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
