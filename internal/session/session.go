package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"search-assist/internal/conversation"
	"search-assist/internal/stream"

	"github.com/rs/zerolog"
)

// TransportErrorText replaces the assistant message when a session fails
// before any answer text arrived.
const TransportErrorText = "Sorry, there was an error processing your request."

var ErrIdleTimeout = errors.New("event stream idle timeout")

type State int

const (
	StateIdle State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the lifetime of one stream subscription feeding one assistant
// message. Handle, fail and settle are only called from the goroutine running
// Run (or directly by tests); Close and State are safe from any goroutine.
type Session struct {
	messageID int
	query     string
	addr      string

	store      *conversation.Store
	checkpoint *Checkpoint
	transport  stream.Transport
	idle       time.Duration
	logger     zerolog.Logger
	onClose    func(*Session)

	mu     sync.Mutex
	state  State
	sub    stream.Subscription
	cancel context.CancelFunc
	cause  error

	content strings.Builder
	loading bool
	search  *conversation.SearchInfo
	ended   bool
	settled bool
}

func (s *Session) MessageID() int { return s.messageID }
func (s *Session) Query() string { return s.query }
func (s *Session) Address() string { return s.addr }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the reason a session closed abnormally, nil after a clean end.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Run opens the transport and applies frames until the session closes. It
// returns nil when the stream reached its end event. Opening the stream is
// bounded by the idle timeout as well.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.settle()
		return s.Err()
	}
	s.cancel = cancel
	s.mu.Unlock()

	var guard *time.Timer
	if s.idle > 0 {
		guard = time.AfterFunc(s.idle, cancel)
	}
	sub, err := s.open(ctx)
	if guard != nil && !guard.Stop() {
		err = ErrIdleTimeout
	}
	if err != nil {
		s.fail(err)
		return s.Err()
	}

	var idle <-chan time.Time
	var timer *time.Timer
	if s.idle > 0 {
		timer = time.NewTimer(s.idle)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				err := sub.Err()
				if err == nil {
					err = stream.ErrStreamClosed
				}
				s.fail(err)
				return s.Err()
			}
			s.Handle(frame)
			if s.State() == StateClosed {
				return s.Err()
			}
			if timer != nil {
				timer.Reset(s.idle)
			}
		case <-idle:
			s.fail(ErrIdleTimeout)
			return s.Err()
		case <-ctx.Done():
			s.fail(ctx.Err())
			return s.Err()
		}
	}
}

func (s *Session) open(ctx context.Context) (stream.Subscription, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, errors.New("session already started")
	}
	s.mu.Unlock()

	sub, err := s.transport.Open(ctx, s.addr)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		_ = sub.Close()
		return nil, s.cause
	}
	s.state = StateOpen
	s.sub = sub
	s.logger.Debug().Str("addr", s.addr).Msg("session open")
	return sub, nil
}

// Handle decodes and applies one frame. Frames that fail to decode leave the
// conversation untouched.
func (s *Session) Handle(frame []byte) {
	if s.State() == StateClosed {
		return
	}

	ev, err := stream.Decode(frame)
	if err != nil {
		if errors.Is(err, stream.ErrUnknownKind) {
			s.logger.Debug().Err(err).Msg("ignoring event")
		} else {
			s.logger.Warn().Err(err).Str("frame", truncate(string(frame), 200)).Msg("dropping frame")
		}
		return
	}
	s.Apply(ev)
}

// Apply folds a decoded event into the conversation.
func (s *Session) Apply(ev stream.Event) {
	if s.State() == StateClosed {
		return
	}

	switch ev := ev.(type) {
	case stream.Checkpoint:
		if ev.ID == "" {
			s.logger.Debug().Msg("ignoring empty checkpoint")
			return
		}
		s.checkpoint.Set(ev.ID)
		s.logger.Debug().Str("checkpoint_id", ev.ID).Msg("checkpoint updated")

	case stream.Content:
		s.content.WriteString(ev.Text)
		text := s.content.String()
		s.update(conversation.Patch{Content: &text})

	case stream.SearchStart, stream.SearchResults, stream.SearchError:
		s.search = conversation.ReduceSearch(s.search, ev)
		s.update(conversation.Patch{Search: s.search})

	case stream.End:
		s.ended = true
		s.search = conversation.ReduceSearch(s.search, ev)
		s.update(conversation.Patch{Search: s.search})
		s.close(nil)
	}
}

// update writes p to the assistant message, clearing the loading flag the
// first time through.
func (s *Session) update(p conversation.Patch) {
	if s.loading {
		s.loading = false
		loading := false
		p.IsLoading = &loading
	}
	if p.Content == nil && p.IsLoading == nil && p.Search == nil {
		return
	}
	if !s.store.Update(s.messageID, p) {
		s.logger.Debug().Int("message_id", s.messageID).Msg("message no longer tracked")
	}
}

// fail is the transport-error transition. It also settles a session that
// was closed from outside before reaching its end event. Partial answers are
// kept.
func (s *Session) fail(err error) {
	if s.State() != StateClosed {
		s.logger.Warn().Err(err).Msg("event stream failed")
		s.close(err)
	}
	s.settle()
}

// settle replaces an empty placeholder with the apology once a session has
// closed without its end event.
func (s *Session) settle() {
	if s.ended || s.settled {
		return
	}
	s.settled = true
	if s.content.Len() > 0 {
		return
	}
	text := TransportErrorText
	loading := false
	s.loading = false
	s.store.Update(s.messageID, conversation.Patch{Content: &text, IsLoading: &loading})
}

// Close ends the session with context.Canceled as its cause and stops a
// pending open or read. Calling it more than once has no further effect.
func (s *Session) Close() {
	s.close(context.Canceled)
}

func (s *Session) close(cause error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.cause = cause
	sub := s.sub
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		_ = sub.Close()
	}
	if s.onClose != nil {
		s.onClose(s)
	}
	s.logger.Debug().Err(cause).Msg("session closed")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
