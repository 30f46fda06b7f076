// Package transcript records the turns exchanged during one conversation.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role is who produced a turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// RoleFromSource maps a transport message source to a Role. Only "user" is
// the user; every other source is the agent.
func RoleFromSource(source string) Role {
	if source == string(RoleUser) {
		return RoleUser
	}
	return RoleAgent
}

// Turn is one exchanged message. IDs are ULIDs, so they sort by creation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is an append-only ordered list of turns.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// Append records a turn. Blank content is dropped and reported with ok=false.
func (t *Transcript) Append(role Role, content string) (Turn, bool) {
	if strings.TrimSpace(content) == "" {
		return Turn{}, false
	}

	turn := Turn{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}

	t.mu.Lock()
	t.turns = append(t.turns, turn)
	t.mu.Unlock()

	return turn, true
}

// Turns returns a copy of all turns in order.
func (t *Transcript) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Format renders turns as "role: content" lines.
func Format(turns []Turn) string {
	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Content)
	}
	return b.String()
}
