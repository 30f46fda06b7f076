package session

import (
	"context"

	"granny-companion/internal/capability"
	"granny-companion/internal/transcript"
)

// Mode is the agent's turn-taking state reported by the transport.
type Mode string

const (
	ModeListening Mode = "listening"
	ModeSpeaking  Mode = "speaking"
	ModeThinking  Mode = "thinking"
)

// Message is a text message relayed by the transport. Source is "user" for
// the user's own speech and anything else for the agent.
type Message struct {
	Source string
	Text   string
}

// ToolCall is a remote request to run a client tool.
type ToolCall struct {
	Name   string
	CallID string
	Params map[string]any
}

// ToolReply is sent back for a ToolCall.
type ToolReply struct {
	Text    string
	IsError bool
}

// ToolFunc runs one registered tool.
type ToolFunc func(ctx context.Context, call ToolCall) ToolReply

// Events are the callbacks a transport delivers, in arrival order.
type Events struct {
	OnConnect    func()
	OnDisconnect func(reason string)
	OnMessage    func(msg Message)
	OnError      func(err error)
	OnModeChange func(mode Mode)
	// OnAudio receives agent speech chunks for local playback.
	OnAudio func(chunk []byte)
	// OnUnhandledToolCall handles names missing from the tool map; its
	// return value is sent back as an error result.
	OnUnhandledToolCall func(ctx context.Context, call ToolCall) string
}

// OpenOptions configures a new duplex conversation.
type OpenOptions struct {
	SignedURL string
	VoiceID   string
	Tools     map[string]ToolFunc
	Events    Events
}

// Transport opens duplex conversations. ctx bounds the handshake only; the
// conversation lives until Close or a disconnect.
type Transport interface {
	Open(ctx context.Context, opts OpenOptions) (Conversation, error)
}

// Conversation is an open duplex session.
type Conversation interface {
	SendContextualUpdate(text string) error
	Close(ctx context.Context) error
}

// Interrupter is implemented by conversations that can cut the agent off.
type Interrupter interface {
	Interrupt() error
}

// AudioInput is implemented by conversations that take microphone audio.
type AudioInput interface {
	SendAudio(chunk []byte) error
}

// MemoryExtractor persists memories from a finished transcript.
type MemoryExtractor interface {
	Extract(ctx context.Context, turns []transcript.Turn) ([]capability.Memory, error)
}

// SpeechOutput synthesizes speech one request at a time.
type SpeechOutput interface {
	Speak(ctx context.Context, text string, opts capability.VoiceOptions) ([]byte, error)
	Cancel()
	Speaking() bool
}
