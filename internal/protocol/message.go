// Package protocol defines the JSON envelope and payloads exchanged with the
// companion window over the local websocket.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all websocket messages. ID is set by the
// client on requests and echoed on the matching result or error.
type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResult answers the request req with payload.
func NewResult(req *Message, payload interface{}) (*Message, error) {
	msg, err := NewMessage(ResultType(req.Type), payload)
	if err != nil {
		return nil, err
	}
	msg.ID = req.ID
	return msg, nil
}

// ResultType is the type of the reply to a request of type t.
func ResultType(t string) string {
	return t + ".result"
}

// Server → Client push types.
const (
	TypeStatusUpdate   = "status.update"
	TypeTranscriptTurn = "transcript.turn"
	TypeAudio          = "audio"
	TypeHighlightShow  = "highlight.show"
	TypeHighlightClear = "highlight.clear"
	TypeWindowMove     = "window.move"
	TypeAuthUpdate     = "auth.update"
	TypeError          = "error"
)

// Client → Server request types.
const (
	TypeSessionStart     = "session.start"
	TypeSessionEnd       = "session.end"
	TypeSessionInterrupt = "session.interrupt"
	TypeSessionStatus    = "session.status"
	TypeSessionAudio     = "session.audio"
	TypeToolExecute      = "tool.execute"
	TypeSignedURL        = "conversation.signedUrl"
	TypeSessionConfig    = "conversation.config"
	TypeTTSSpeak         = "tts.speak"
	TypeTTSCancel        = "tts.cancel"
	TypeSTTTranscribe    = "stt.transcribe"
	TypeVisionAnalyze    = "vision.analyze"
	TypeVisionCapture    = "vision.capture"
	TypeHighlightFind    = "highlight.find"
	TypeSystemLaunch     = "system.launch"
	TypeSystemExecute    = "system.execute"
	TypeMemorySave       = "memory.save"
	TypeMemoryRecent     = "memory.recent"
	TypeNudgeSend        = "nudge.send"
	TypeAuthStatus       = "auth.status"
	TypeAuthConnect      = "auth.connect"
	TypeAuthSignOut      = "auth.signOut"
)

// Error codes.
const (
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrNoActiveSession = "NO_ACTIVE_SESSION"
	ErrNotConfigured   = "NOT_CONFIGURED"
	ErrAuthRequired    = "AUTH_REQUIRED"
	ErrUnavailable     = "UNAVAILABLE"
	ErrInternal        = "INTERNAL"
)

// Window positions carried by window.move.
const (
	PositionCorner = "corner"
	PositionBack   = "back"
)

// Server → Client payloads.

type StatusPayload struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type TurnPayload struct {
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type AudioPayload struct {
	Audio []byte `json:"audio"` // base64 in JSON
}

type WindowMovePayload struct {
	Position string `json:"position"`
}

type AuthPayload struct {
	Authenticated bool `json:"authenticated"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ToolResultPayload struct {
	Text    string `json:"text"`
	IsError bool   `json:"isError,omitempty"`
}

type TextPayload struct {
	Text string `json:"text"`
}

// SpeechPayload answers tts.speak. Cancelled is set when a newer request
// superseded this one.
type SpeechPayload struct {
	Audio     []byte `json:"audio,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

type SignedURLPayload struct {
	SignedURL string `json:"signedUrl"`
}

// Client → Server payloads.

type ToolExecutePayload struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
}

type SpeakPayload struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
}

type TranscribePayload struct {
	Audio    []byte `json:"audio"`
	Filename string `json:"filename,omitempty"`
}

type AnalyzePayload struct {
	Question string `json:"question,omitempty"`
}

type HighlightPayload struct {
	X           *float64 `json:"x"`
	Y           *float64 `json:"y"`
	Width       *float64 `json:"width"`
	Height      *float64 `json:"height"`
	Label       string   `json:"label,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
}

type FindPayload struct {
	Element string `json:"element"`
}

type LaunchPayload struct {
	App string `json:"app"`
}

type ExecutePayload struct {
	Command string `json:"command"`
}

type MemorySavePayload struct {
	Content  string `json:"content"`
	Category string `json:"category"`
	Role     string `json:"role,omitempty"`
}

type MemoryRecentPayload struct {
	Role  string `json:"role,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type NudgePayload struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}
