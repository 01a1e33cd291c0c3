package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"search-assist/internal/conversation"
	"search-assist/internal/stream"

	"github.com/rs/zerolog"
)

// SetupErrorText is appended as a new assistant message when a request
// address cannot be built.
const SetupErrorText = "Sorry, there was an error connecting to the server."

const DefaultIdleTimeout = 60 * time.Second

var (
	ErrEmptyInput = errors.New("empty input")
	ErrBusy       = errors.New("a response is still streaming")
	ErrSetup      = errors.New("session setup failed")
)

type Options struct {
	ServerURL   string
	IdleTimeout time.Duration
	Logger      zerolog.Logger
}

// Controller turns submissions into sessions. Only one session may be
// outstanding at a time; further submissions are rejected with ErrBusy
// until it closes.
type Controller struct {
	store      *conversation.Store
	checkpoint *Checkpoint
	transport  stream.Transport
	serverURL  string
	idle       time.Duration
	logger     zerolog.Logger

	mu     sync.Mutex
	active *Session
}

func NewController(store *conversation.Store, checkpoint *Checkpoint, transport stream.Transport, opts Options) *Controller {
	if checkpoint == nil {
		checkpoint = &Checkpoint{}
	}
	idle := opts.IdleTimeout
	if idle == 0 {
		idle = DefaultIdleTimeout
	}
	return &Controller{
		store:      store,
		checkpoint: checkpoint,
		transport:  transport,
		serverURL:  opts.ServerURL,
		idle:       idle,
		logger:     opts.Logger.With().Str("component", "session").Logger(),
	}
}

func (c *Controller) Store() *conversation.Store { return c.store }

func (c *Controller) Checkpoint() *Checkpoint { return c.checkpoint }

// Busy reports whether a session is still idle or open.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Submit records the user message and an assistant placeholder and returns
// the session that will fill the placeholder. The caller drives it with Run.
func (c *Controller) Submit(text string) (*Session, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return nil, ErrEmptyInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, ErrBusy
	}

	userID := c.store.NextID()
	c.store.Append(conversation.Message{ID: userID, Content: text, IsUser: true})

	token, _ := c.checkpoint.Get()
	addr, err := BuildAddress(c.serverURL, query, token)
	if err != nil {
		c.logger.Error().Err(err).Msg("could not build stream address")
		c.store.Append(conversation.Message{ID: userID + 1, Content: SetupErrorText})
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}

	assistantID := userID + 1
	c.store.Append(conversation.Message{ID: assistantID, IsLoading: true})

	s := &Session{
		messageID:  assistantID,
		query:      query,
		addr:       addr,
		store:      c.store,
		checkpoint: c.checkpoint,
		transport:  c.transport,
		idle:       c.idle,
		logger:     c.logger.With().Int("message_id", assistantID).Logger(),
		onClose:    c.release,
		loading:    true,
	}
	c.active = s
	c.logger.Info().Str("query", query).Bool("resumed", token != "").Msg("submitted")
	return s, nil
}

// Cancel closes the outstanding session, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (c *Controller) release(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == s {
		c.active = nil
	}
}
