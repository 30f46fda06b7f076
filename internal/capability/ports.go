// Package capability declares the narrow ports the companion core calls
// through to reach screens, speech, accounts and storage.
package capability

import (
	"context"
	"io"
	"time"
)

// ScreenReader captures the screen and asks a vision model about it.
type ScreenReader interface {
	CaptureAndDescribe(ctx context.Context) (string, error)
	Analyze(ctx context.Context, question string) (string, error)
	Locate(ctx context.Context, description string) (Location, error)
}

// Highlighter owns the single on-screen highlight slot.
type Highlighter interface {
	Show(req HighlightRequest)
	Clear()
}

// Account is the Google account connection.
type Account interface {
	IsAuthenticated() bool
	Connect(ctx context.Context) error
	SignOut() error
}

// Calendar operations. Implementations check authentication before any
// network call and return ErrAuthRequired when it fails.
type Calendar interface {
	UpcomingEvents(ctx context.Context, max int) ([]Event, error)
	EventsBetween(ctx context.Context, from, to time.Time) ([]Event, error)
	SearchEvents(ctx context.Context, query string, max int) ([]Event, error)
	CreateEvent(ctx context.Context, ev NewEvent) (Event, error)
}

// Mailbox operations, with the same authentication contract as Calendar.
type Mailbox interface {
	RecentEmails(ctx context.Context, max int, unreadOnly bool) ([]Email, error)
	UnreadCount(ctx context.Context) (int, error)
	SearchEmails(ctx context.Context, query string, max int) ([]Email, error)
	GetEmail(ctx context.Context, id string) (Email, error)
	Send(ctx context.Context, msg OutgoingEmail) error
}

// MemoryStore persists memories and nudges.
type MemoryStore interface {
	SaveMemory(ctx context.Context, m Memory) error
	RecentMemories(ctx context.Context, role Role, limit int) ([]Memory, error)
	SendNudge(ctx context.Context, n Nudge) error
}

// System launches applications and runs shell commands.
type System interface {
	Launch(ctx context.Context, app string) error
	Execute(ctx context.Context, command string) (string, error)
}

// Window moves the companion window out of the way while listening.
type Window interface {
	MoveToCorner(ctx context.Context) error
	MoveBack(ctx context.Context) error
}

// SessionCredentials fetches a signed conversation URL and its config.
type SessionCredentials interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Synthesizer streams synthesized speech. The returned reader is closed by
// the caller; cancelling ctx aborts the stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts VoiceOptions) (io.ReadCloser, error)
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Summarizer answers a single free-form prompt.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}
