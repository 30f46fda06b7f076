package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// validClientTypes is the set of allowed client→server request types.
var validClientTypes = map[string]bool{
	TypeSessionStart:     true,
	TypeSessionEnd:       true,
	TypeSessionInterrupt: true,
	TypeSessionStatus:    true,
	TypeSessionAudio:     true,
	TypeToolExecute:      true,
	TypeSignedURL:        true,
	TypeSessionConfig:    true,
	TypeTTSSpeak:         true,
	TypeTTSCancel:        true,
	TypeSTTTranscribe:    true,
	TypeVisionAnalyze:    true,
	TypeVisionCapture:    true,
	TypeHighlightShow:    true,
	TypeHighlightClear:   true,
	TypeHighlightFind:    true,
	TypeSystemLaunch:     true,
	TypeSystemExecute:    true,
	TypeMemorySave:       true,
	TypeMemoryRecent:     true,
	TypeNudgeSend:        true,
	TypeAuthStatus:       true,
	TypeAuthConnect:      true,
	TypeAuthSignOut:      true,
}

var memoryCategories = map[string]bool{
	"milestone":    true,
	"health":       true,
	"struggle":     true,
	"daily_update": true,
}

// ValidateClientMessage validates a raw JSON request from the window.
// Requests without parameters may omit the payload.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		msg.Payload = json.RawMessage("{}")
	}

	switch msg.Type {
	case TypeToolExecute:
		var p ToolExecutePayload
		if err := decode(&msg, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, missing(msg.Type, "name")
		}

	case TypeSessionAudio, TypeSTTTranscribe:
		var p TranscribePayload
		if err := decode(&msg, &p); err != nil {
			return nil, err
		}
		if len(p.Audio) == 0 {
			return nil, missing(msg.Type, "audio")
		}

	case TypeTTSSpeak:
		var p SpeakPayload
		if err := decode(&msg, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Text) == "" {
			return nil, missing(msg.Type, "text")
		}

	case TypeHighlightShow:
		var p HighlightPayload
		if err := decode(&msg, &p); err != nil {
			return nil, err
		}
		if p.X == nil || p.Y == nil || p.Width == nil || p.Height == nil {
			return nil, fmt.Errorf("%s requires numeric 'x', 'y', 'width' and 'height'", msg.Type)
		}

	case TypeHighlightFind:
		var p FindPayload
		if err := decode(&msg, &p); err != nil {
			return nil, err
		}
		if p.Element == "" {
			return nil, missing(msg.Type, "element")
		}

	case TypeSystemLaunch:
		var p LaunchPayload
		if err := decode(&msg, &p); err != nil {
			return nil, err
		}
		if p.App == "" {
			return nil, missing(msg.Type, "app")
		}

	case TypeSystemExecute:
		var p ExecutePayload
		if err := decode(&msg, &p); err != nil {
			return nil, err
		}
		if p.Command == "" {
			return nil, missing(msg.Type, "command")
		}

	case TypeMemorySave:
		var p MemorySavePayload
		if err := decode(&msg, &p); err != nil {
			return nil, err
		}
		if p.Content == "" {
			return nil, missing(msg.Type, "content")
		}
		if !memoryCategories[p.Category] {
			return nil, fmt.Errorf("invalid category %q in %s payload", p.Category, msg.Type)
		}

	case TypeMemoryRecent:
		var p MemoryRecentPayload
		if err := decode(&msg, &p); err != nil {
			return nil, err
		}
		if p.Limit < 0 {
			return nil, fmt.Errorf("'limit' must not be negative in %s payload", msg.Type)
		}

	case TypeNudgeSend:
		var p NudgePayload
		if err := decode(&msg, &p); err != nil {
			return nil, err
		}
		if p.Type != "alert" && p.Type != "update" {
			return nil, fmt.Errorf("invalid nudge type %q", p.Type)
		}
		if p.Title == "" || p.Message == "" {
			return nil, fmt.Errorf("missing required fields 'title' and 'message' in %s payload", msg.Type)
		}

	case TypeVisionAnalyze:
		var p AnalyzePayload
		if err := decode(&msg, &p); err != nil {
			return nil, err
		}
	}

	return &msg, nil
}

func decode(msg *Message, v interface{}) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
	}
	return nil
}

func missing(msgType, field string) error {
	return fmt.Errorf("missing required field '%s' in %s payload", field, msgType)
}

// NewErrorMessage creates an error message ready to send to the client.
// A non-empty id ties it to the failed request.
func NewErrorMessage(id, code, message string) (*Message, error) {
	msg, err := NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return nil, err
	}
	msg.ID = id
	return msg, nil
}
