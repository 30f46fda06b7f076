package convai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"granny-companion/internal/capability"
	"granny-companion/internal/session"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestSignedURL_Direct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/convai/conversation/get_signed_url", r.URL.Path)
		require.Equal(t, "agent-1", r.URL.Query().Get("agent_id"))
		require.Equal(t, "key-1", r.Header.Get("xi-api-key"))
		_, _ = w.Write([]byte(`{"signed_url":"wss://agent.test/convai?sig=1"}`))
	}))
	defer srv.Close()

	c := &Credentials{AgentID: "agent-1", APIKey: "key-1", VoiceID: "v9", APIBase: srv.URL}
	creds, err := c.Credentials(context.Background())
	require.NoError(t, err)
	require.Equal(t, "wss://agent.test/convai?sig=1", creds.SignedURL)
	require.Equal(t, "v9", creds.Config.VoiceID)
}

func TestSignedURL_Backend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("xi-api-key"))
		_, _ = w.Write([]byte(`{"signed_url":"wss://agent.test/from-backend"}`))
	}))
	defer srv.Close()

	c := &Credentials{Endpoint: srv.URL + "/api/signed-url"}
	u, err := c.SignedURL(context.Background())
	require.NoError(t, err)
	require.Equal(t, "wss://agent.test/from-backend", u)
}

func TestSignedURL_MissingConfiguration(t *testing.T) {
	_, err := (&Credentials{}).Credentials(context.Background())

	var ce *capability.ConfigurationError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, []string{"ELEVENLABS_AGENT_ID", "ELEVENLABS_API_KEY"}, ce.Missing)
}

func TestSignedURL_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad agent", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := (&Credentials{Endpoint: srv.URL}).SignedURL(context.Background())
	var te *capability.TransientError
	require.ErrorAs(t, err, &te)
	require.Contains(t, err.Error(), "404")
}

// fakeAgent is a scripted agent endpoint. Everything the client sends is
// collected in received.
type fakeAgent struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	conn     *websocket.Conn
	received []map[string]any
	ready    chan struct{}
}

func newFakeAgent(t *testing.T) *fakeAgent {
	a := &fakeAgent{t: t, ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()
		close(a.ready)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				a.mu.Lock()
				a.received = append(a.received, m)
				a.mu.Unlock()
			}
		}
	}))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *fakeAgent) url() string {
	return "ws" + strings.TrimPrefix(a.srv.URL, "http")
}

func (a *fakeAgent) send(v any) {
	<-a.ready
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NoError(a.t, a.conn.WriteJSON(v))
}

func (a *fakeAgent) closeWith(code int, text string) {
	<-a.ready
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	_ = a.conn.Close()
}

func (a *fakeAgent) messages(typ string) []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []map[string]any
	for _, m := range a.received {
		if m["type"] == typ || (typ == "" && m["type"] == nil) {
			out = append(out, m)
		}
	}
	return out
}

type recorded struct {
	connected   int
	modes       []session.Mode
	messages    []session.Message
	audio       [][]byte
	disconnects []string
	errors      []error
}

type recorder struct {
	mu          sync.Mutex
	connected   int
	modes       []session.Mode
	messages    []session.Message
	audio       [][]byte
	disconnects []string
	errors      []error
}

func (r *recorder) events() session.Events {
	return session.Events{
		OnConnect: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.connected++
		},
		OnModeChange: func(m session.Mode) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.modes = append(r.modes, m)
		},
		OnMessage: func(m session.Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.messages = append(r.messages, m)
		},
		OnAudio: func(chunk []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.audio = append(r.audio, chunk)
		},
		OnDisconnect: func(reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.disconnects = append(r.disconnects, reason)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, err)
		},
		OnUnhandledToolCall: func(ctx context.Context, call session.ToolCall) string {
			return "Unhandled tool " + call.Name
		},
	}
}

func (r *recorder) snapshot() recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorded{
		connected:   r.connected,
		modes:       append([]session.Mode(nil), r.modes...),
		messages:    append([]session.Message(nil), r.messages...),
		audio:       append([][]byte(nil), r.audio...),
		disconnects: append([]string(nil), r.disconnects...),
		errors:      append([]error(nil), r.errors...),
	}
}

func dialAgent(t *testing.T, a *fakeAgent, rec *recorder, tools map[string]session.ToolFunc) session.Conversation {
	t.Helper()
	tr := &Transport{SpeakingIdle: 30 * time.Millisecond}
	conv, err := tr.Open(context.Background(), session.OpenOptions{
		SignedURL: a.url(),
		VoiceID:   "voice-7",
		Tools:     tools,
		Events:    rec.events(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conv.Close(context.Background()) })
	return conv
}

func TestConversation_HandshakeAndEvents(t *testing.T) {
	a := newFakeAgent(t)
	rec := &recorder{}
	dialAgent(t, a, rec, nil)

	require.Eventually(t, func() bool { return len(a.messages(TypeInitiationClientData)) == 1 }, time.Second, 5*time.Millisecond)
	hello := a.messages(TypeInitiationClientData)[0]
	override := hello["conversation_config_override"].(map[string]any)
	require.Equal(t, "voice-7", override["tts"].(map[string]any)["voice_id"])

	a.send(map[string]any{"type": TypeInitiationMetadata, "conversation_initiation_metadata_event": map[string]any{"conversation_id": "conv-1"}})
	a.send(map[string]any{"type": TypeUserTranscript, "user_transcription_event": map[string]any{"user_transcript": "Hello"}})
	a.send(map[string]any{"type": TypeAgentResponse, "agent_response_event": map[string]any{"agent_response": "Hi dear"}})
	a.send(map[string]any{"type": TypeAudio, "audio_event": map[string]any{"audio_base_64": base64.StdEncoding.EncodeToString([]byte("pcm")), "event_id": 1}})

	require.Eventually(t, func() bool {
		s := rec.snapshot()
		return len(s.modes) == 4
	}, time.Second, 5*time.Millisecond)

	s := rec.snapshot()
	require.Equal(t, 1, s.connected)
	require.Equal(t, []session.Mode{session.ModeListening, session.ModeThinking, session.ModeSpeaking, session.ModeListening}, s.modes)
	require.Equal(t, []session.Message{{Source: "user", Text: "Hello"}, {Source: "ai", Text: "Hi dear"}}, s.messages)
	require.Equal(t, [][]byte{[]byte("pcm")}, s.audio)
}

func TestConversation_PingPong(t *testing.T) {
	a := newFakeAgent(t)
	dialAgent(t, a, &recorder{}, nil)

	a.send(map[string]any{"type": TypePing, "ping_event": map[string]any{"event_id": 42, "ping_ms": 10}})
	require.Eventually(t, func() bool { return len(a.messages(TypePong)) == 1 }, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 42, a.messages(TypePong)[0]["event_id"])
}

func TestConversation_ToolCalls(t *testing.T) {
	a := newFakeAgent(t)
	tools := map[string]session.ToolFunc{
		"get_unread_count": func(ctx context.Context, call session.ToolCall) session.ToolReply {
			return session.ToolReply{Text: "You have 3 unread emails."}
		},
	}
	dialAgent(t, a, &recorder{}, tools)

	a.send(map[string]any{"type": TypeClientToolCall, "client_tool_call": map[string]any{
		"tool_name": "get_unread_count", "tool_call_id": "call-1", "parameters": map[string]any{},
	}})
	a.send(map[string]any{"type": TypeClientToolCall, "client_tool_call": map[string]any{
		"tool_name": "order_pizza", "tool_call_id": "call-2", "parameters": map[string]any{},
	}})

	require.Eventually(t, func() bool { return len(a.messages(TypeClientToolResult)) == 2 }, time.Second, 5*time.Millisecond)

	byID := map[string]map[string]any{}
	for _, m := range a.messages(TypeClientToolResult) {
		byID[m["tool_call_id"].(string)] = m
	}
	require.Equal(t, "You have 3 unread emails.", byID["call-1"]["result"])
	require.Equal(t, false, byID["call-1"]["is_error"])
	require.Equal(t, "Unhandled tool order_pizza", byID["call-2"]["result"])
	require.Equal(t, true, byID["call-2"]["is_error"])
}

func TestConversation_ContextualUpdateAndAudioInput(t *testing.T) {
	a := newFakeAgent(t)
	conv := dialAgent(t, a, &recorder{}, nil)

	require.NoError(t, conv.SendContextualUpdate("The screen shows a calendar."))
	require.NoError(t, conv.(session.AudioInput).SendAudio([]byte{1, 2, 3}))

	require.Eventually(t, func() bool { return len(a.messages(TypeContextualUpdate)) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "The screen shows a calendar.", a.messages(TypeContextualUpdate)[0]["text"])

	require.Eventually(t, func() bool { return len(a.messages("")) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), a.messages("")[0]["user_audio_chunk"])
}

func TestConversation_InterruptMutesAudio(t *testing.T) {
	a := newFakeAgent(t)
	rec := &recorder{}
	conv := dialAgent(t, a, rec, nil)

	require.NoError(t, conv.(session.Interrupter).Interrupt())
	a.send(map[string]any{"type": TypeAudio, "audio_event": map[string]any{"audio_base_64": base64.StdEncoding.EncodeToString([]byte("late")), "event_id": 2}})
	a.send(map[string]any{"type": TypeAgentResponse, "agent_response_event": map[string]any{"agent_response": "Next"}})
	a.send(map[string]any{"type": TypeAudio, "audio_event": map[string]any{"audio_base_64": base64.StdEncoding.EncodeToString([]byte("new")), "event_id": 3}})

	require.Eventually(t, func() bool { return len(rec.snapshot().audio) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []byte("new"), rec.snapshot().audio[0])
}

func TestConversation_ClientCloseReason(t *testing.T) {
	a := newFakeAgent(t)
	rec := &recorder{}
	conv := dialAgent(t, a, rec, nil)
	<-a.ready

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = conv.Close(ctx)

	require.Equal(t, []string{clientClosedReason}, rec.snapshot().disconnects)
	require.ErrorIs(t, conv.SendContextualUpdate("late"), errClosed)
}

func TestConversation_AgentCloseReason(t *testing.T) {
	a := newFakeAgent(t)
	rec := &recorder{}
	dialAgent(t, a, rec, nil)

	a.closeWith(websocket.CloseGoingAway, "agent ended the call")
	require.Eventually(t, func() bool { return len(rec.snapshot().disconnects) == 1 }, time.Second, 5*time.Millisecond)
	require.Contains(t, rec.snapshot().disconnects[0], "agent ended the call")
}

func TestConversation_AgentErrorFrame(t *testing.T) {
	a := newFakeAgent(t)
	rec := &recorder{}
	dialAgent(t, a, rec, nil)

	a.send(map[string]any{"type": TypeError, "error_event": map[string]any{"code": 1011, "message": "quota exceeded"}})
	require.Eventually(t, func() bool { return len(rec.snapshot().errors) == 1 }, time.Second, 5*time.Millisecond)
	require.ErrorContains(t, rec.snapshot().errors[0], "quota exceeded")
	require.Empty(t, rec.snapshot().disconnects)
}
