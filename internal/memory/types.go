package memory

import "errors"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrNotFound = errors.New("thread not found")

type Thread struct {
	ID             string
	CreatedTS      int64
	LastActivityTS int64
	TurnCount      int
	Preview        string
}

type Turn struct {
	ID       int64
	ThreadID string
	TS       int64
	Role     string
	Content  string
}
