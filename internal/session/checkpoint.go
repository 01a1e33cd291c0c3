package session

import "sync"

// Checkpoint holds the continuation token shared by every session of one
// process. The zero value holds no token.
type Checkpoint struct {
	mu sync.RWMutex
	id string
}

// Get returns the latest token and whether one has been written.
func (c *Checkpoint) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id, c.id != ""
}

func (c *Checkpoint) Set(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}
