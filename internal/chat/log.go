package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversational exchange unit in the log.
type Turn struct {
	// ID is a client-generated correlation id for the turn.
	ID string `json:"id"`

	// Role is who authored the turn.
	Role Role `json:"role"`

	// Content is the turn text.
	Content string `json:"content"`

	// Timestamp records when the turn was appended.
	Timestamp time.Time `json:"timestamp"`
}

// Log is the append-only, ordered conversation history consumed by the view
// layer. Ordering is the causal order of completion: a user turn is always
// appended strictly before the assistant turn that answers it.
//
// Only the [Pipeline] appends turns (append is unexported on purpose); every
// other component reads snapshots. All methods are safe for concurrent use.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewLog creates an empty conversation log.
func NewLog() *Log {
	return &Log{}
}

// append adds a turn and returns it with its generated id and timestamp.
func (l *Log) append(role Role, content string) Turn {
	t := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}

	l.mu.Lock()
	l.turns = append(l.turns, t)
	l.mu.Unlock()
	return t
}

// Turns returns a copy of all turns in append order.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Last returns the most recent turn. ok is false when the log is empty.
func (l *Log) Last() (t Turn, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1], true
}
