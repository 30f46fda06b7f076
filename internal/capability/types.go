package capability

import "time"

// Role identifies which family member a record belongs to.
type Role string

const (
	RoleGrandma  Role = "grandma"
	RoleGrandson Role = "grandson"
)

// MemoryCategory classifies a Memory.
type MemoryCategory string

const (
	CategoryMilestone   MemoryCategory = "milestone"
	CategoryHealth      MemoryCategory = "health"
	CategoryStruggle    MemoryCategory = "struggle"
	CategoryDailyUpdate MemoryCategory = "daily_update"
)

// Memory is a short durable fact extracted from a finished conversation.
type Memory struct {
	ID        string         `json:"id"`
	UserID    Role           `json:"userId"`
	Content   string         `json:"content"`
	Category  MemoryCategory `json:"category"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NudgeType is either an alert or an update for the related party.
type NudgeType string

const (
	NudgeAlert  NudgeType = "alert"
	NudgeUpdate NudgeType = "update"
)

const NudgeStatusPending = "pending"

// Nudge is a message queued for a family member.
type Nudge struct {
	ID        string    `json:"id"`
	Type      NudgeType `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Context   string    `json:"context"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Box is a screen rectangle in pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Location is the result of looking for a described element on screen.
type Location struct {
	Found       bool   `json:"found"`
	Box         Box    `json:"box"`
	Description string `json:"description"`
}

// HighlightRequest is a transient pointer drawn over the user's screen.
type HighlightRequest struct {
	Box
	Label       string `json:"label"`
	Instruction string `json:"instruction"`
}

// Event is a calendar entry.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"allDay"`
}

// NewEvent describes an event to create.
type NewEvent struct {
	Title       string
	Start       time.Time
	End         time.Time
	Location    string
	Description string
}

// Email is a message summary, with Body filled only by Mailbox.Get.
type Email struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	MessageID string    `json:"messageId,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Snippet   string    `json:"snippet"`
	Body      string    `json:"body,omitempty"`
	Date      time.Time `json:"date"`
	Unread    bool      `json:"unread"`
}

// OutgoingEmail is a message to send. InReplyTo and ThreadID are set for replies.
type OutgoingEmail struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string
	ThreadID  string
}

// VoiceOptions selects the synthesized voice.
type VoiceOptions struct {
	VoiceID string
	ModelID string
}

// SessionConfig is the renegotiable part of a session handshake.
type SessionConfig struct {
	VoiceID string `json:"voiceId,omitempty"`
}

// Credentials are what a duplex session needs to open.
type Credentials struct {
	SignedURL string        `json:"signedUrl"`
	Config    SessionConfig `json:"config"`
}
