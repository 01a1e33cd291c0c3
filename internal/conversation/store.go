package conversation

import "sync"

// Store is the append-only message log. Every mutation goes through Append or
// Update and wakes the Changes channel.
type Store struct {
	mu       sync.RWMutex
	messages []Message
	changes  chan struct{}
}

func NewStore(seed ...Message) *Store {
	s := &Store{changes: make(chan struct{}, 1)}
	for _, m := range seed {
		s.messages = append(s.messages, m.clone())
	}
	return s
}

// NewSeededStore starts a conversation with the assistant greeting as id 1.
func NewSeededStore() *Store {
	return NewStore(Message{ID: 1, Content: Greeting})
}

func (s *Store) Append(msg Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg.clone())
	s.mu.Unlock()
	s.notify()
}

// Update merges p into the message with the given id. It reports false and
// changes nothing when no such message exists.
func (s *Store) Update(id int, p Patch) bool {
	s.mu.Lock()
	found := false
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].apply(p)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.notify()
	}
	return found
}

func (s *Store) Get(id int) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m.clone(), true
		}
	}
	return Message{}, false
}

func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// NextID is max existing id + 1, or 1 for an empty store.
func (s *Store) NextID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	next := 1
	for _, m := range s.messages {
		if m.ID >= next {
			next = m.ID + 1
		}
	}
	return next
}

// Changes delivers a coalesced signal after each mutation. Readers should
// snapshot with Messages after receiving.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
