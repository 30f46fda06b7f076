package session

import (
	"time"

	"granny-companion/internal/transcript"
)

// Status is the conversation state shown to the user.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusListening    Status = "listening"
	StatusSpeaking     Status = "speaking"
	StatusThinking     Status = "thinking"
	StatusError        Status = "error"
)

// Active reports whether a session in this status blocks a new start.
func (s Status) Active() bool {
	return s != StatusDisconnected && s != StatusError && s != ""
}

// Session is the one live conversation. Fields are guarded by the
// controller's mutex.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	// ScreenContext is the latest screen description captured for this
	// session. view_screen answers from it when no question is asked.
	ScreenContext string `json:"-"`
	// SharedContext is the screen description forwarded to the agent as a
	// context update. At most one is sent per session.
	SharedContext    string `json:"-"`
	UserInitiatedEnd bool   `json:"userInitiatedEnd"`
	EndedReason      string `json:"endedReason,omitempty"`

	capturing bool
	ending    bool
}

// Record is the immutable summary kept after a session ends.
type Record struct {
	ID               string        `json:"id"`
	StartedAt        time.Time     `json:"startedAt"`
	EndedAt          time.Time     `json:"endedAt"`
	Duration         time.Duration `json:"duration"`
	TranscriptLength int           `json:"transcriptLength"`
	EndedReason      string        `json:"endedReason"`
	FinalStatus      Status        `json:"finalStatus"`
}

// Snapshot is the current controller state.
type Snapshot struct {
	Status           Status    `json:"status"`
	SessionID        string    `json:"sessionId,omitempty"`
	StartedAt        time.Time `json:"startedAt,omitempty"`
	TranscriptLength int       `json:"transcriptLength"`
	HasScreenContext bool      `json:"hasScreenContext"`
	// Speaking is true while local text-to-speech is in flight.
	Speaking         bool      `json:"speaking"`
	FinishedSessions int       `json:"finishedSessions"`
}

// UpdateKind distinguishes status changes from new turns.
type UpdateKind string

const (
	UpdateStatus UpdateKind = "status"
	UpdateTurn   UpdateKind = "turn"
	UpdateAudio  UpdateKind = "audio"
)

// Update is pushed to subscribers.
type Update struct {
	Kind      UpdateKind       `json:"kind"`
	SessionID string           `json:"sessionId,omitempty"`
	Status    Status           `json:"status,omitempty"`
	Turn      *transcript.Turn `json:"turn,omitempty"`
	Audio     []byte           `json:"audio,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
