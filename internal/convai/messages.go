package convai

import "encoding/json"

// Server event types.
const (
	TypeInitiationMetadata = "conversation_initiation_metadata"
	TypePing               = "ping"
	TypeUserTranscript     = "user_transcript"
	TypeAgentResponse      = "agent_response"
	TypeAudio              = "audio"
	TypeInterruption       = "interruption"
	TypeClientToolCall     = "client_tool_call"
	TypeError              = "error"
)

// Client event types.
const (
	TypeInitiationClientData = "conversation_initiation_client_data"
	TypePong                 = "pong"
	TypeClientToolResult     = "client_tool_result"
	TypeContextualUpdate     = "contextual_update"
)

type serverEvent struct {
	Type string `json:"type"`

	InitiationMetadata *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	PingEvent *struct {
		EventID int `json:"event_id"`
		PingMS  int `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	UserTranscription *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponse *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	AudioEvent *struct {
		Audio   string `json:"audio_base_64"`
		EventID int    `json:"event_id"`
	} `json:"audio_event,omitempty"`

	InterruptionEvent *struct {
		EventID int `json:"event_id"`
	} `json:"interruption_event,omitempty"`

	ClientToolCall *struct {
		ToolName   string         `json:"tool_name"`
		ToolCallID string         `json:"tool_call_id"`
		Parameters map[string]any `json:"parameters"`
	} `json:"client_tool_call,omitempty"`

	ErrorEvent *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error_event,omitempty"`
}

type initiationClientData struct {
	Type     string          `json:"type"`
	Override *configOverride `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	TTS struct {
		VoiceID string `json:"voice_id"`
	} `json:"tts"`
}

type pong struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

type toolResult struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Result     string `json:"result"`
	IsError    bool   `json:"is_error"`
}

type contextualUpdate struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type userAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

func encode(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
