package convai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"granny-companion/internal/observability"
	"granny-companion/internal/session"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 90 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 256

	// DefaultSpeakingIdle is how long after the last audio chunk the agent
	// is considered to be listening again.
	DefaultSpeakingIdle = 800 * time.Millisecond

	clientClosedReason = "closed by client"
)

var errClosed = errors.New("conversation closed")

// Transport dials agent conversations. It implements session.Transport.
type Transport struct {
	Dialer       *websocket.Dialer
	SpeakingIdle time.Duration
}

func NewTransport() *Transport {
	return &Transport{Dialer: websocket.DefaultDialer, SpeakingIdle: DefaultSpeakingIdle}
}

// Open dials the signed URL and sends the handshake. Events are delivered
// from the connection's read loop.
func (t *Transport) Open(ctx context.Context, opts session.OpenOptions) (session.Conversation, error) {
	if opts.SignedURL == "" {
		return nil, fmt.Errorf("open conversation: empty signed url")
	}
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, opts.SignedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}

	init := initiationClientData{Type: TypeInitiationClientData}
	if opts.VoiceID != "" {
		init.Override = &configOverride{}
		init.Override.TTS.VoiceID = opts.VoiceID
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(init); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	idle := t.SpeakingIdle
	if idle <= 0 {
		idle = DefaultSpeakingIdle
	}

	c := newConversation(conn, opts, idle)
	go c.writePump()
	go c.readPump()
	return c, nil
}

type conversation struct {
	conn   *websocket.Conn
	tools  map[string]session.ToolFunc
	events session.Events
	idle   time.Duration
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	send     chan []byte
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once

	closing atomic.Bool
	muted   atomic.Bool

	// evMu serializes event callbacks.
	evMu     sync.Mutex
	mode     session.Mode
	finished bool

	timerMu  sync.Mutex
	timer    *time.Timer
	timerGen uint64

	conversationID string
}

func newConversation(conn *websocket.Conn, opts session.OpenOptions, idle time.Duration) *conversation {
	ctx, cancel := context.WithCancel(context.Background())
	return &conversation{
		conn:   conn,
		tools:  opts.Tools,
		events: opts.Events,
		idle:   idle,
		logger: observability.Component("convai"),
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *conversation) SendContextualUpdate(text string) error {
	return c.enqueue(encode(contextualUpdate{Type: TypeContextualUpdate, Text: text}))
}

// SendAudio forwards a microphone chunk (16 kHz PCM) to the agent.
func (c *conversation) SendAudio(chunk []byte) error {
	return c.enqueue(encode(userAudioChunk{UserAudioChunk: base64.StdEncoding.EncodeToString(chunk)}))
}

// Interrupt drops the rest of the current agent utterance locally.
func (c *conversation) Interrupt() error {
	c.muted.Store(true)
	c.stopIdle()

	c.evMu.Lock()
	c.mode = session.ModeListening
	c.evMu.Unlock()
	return nil
}

// Close sends a close frame and waits for the peer to finish the handshake
// or for ctx to expire.
func (c *conversation) Close(ctx context.Context) error {
	if !c.closing.CompareAndSwap(false, true) {
		<-c.done
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.conn.Close()
		<-c.done
		return nil
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.conn.Close()
		<-c.done
		return ctx.Err()
	}
}

func (c *conversation) enqueue(data []byte) error {
	select {
	case <-c.quit:
		return errClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.quit:
		return errClosed
	}
}

func (c *conversation) readPump() {
	defer close(c.done)
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(c.disconnectReason(err))
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		c.handle(data)
	}
}

func (c *conversation) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !c.closing.Load() {
					c.fail(fmt.Errorf("write to agent: %w", err))
				}
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conversation) disconnectReason(err error) string {
	if c.closing.Load() {
		return clientClosedReason
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return fmt.Sprintf("closed by agent (%d): %s", ce.Code, ce.Text)
		}
		return fmt.Sprintf("closed by agent (%d)", ce.Code)
	}
	return err.Error()
}

// finish runs once, when the read loop ends.
func (c *conversation) finish(reason string) {
	c.quitOnce.Do(func() { close(c.quit) })
	c.cancel()
	c.stopIdle()

	c.evMu.Lock()
	defer c.evMu.Unlock()
	if c.finished {
		return
	}
	c.finished = true
	c.logger.Info("agent conversation ended", "conversation_id", c.conversationID, "reason", reason)
	if c.events.OnDisconnect != nil {
		c.events.OnDisconnect(reason)
	}
}

func (c *conversation) handle(data []byte) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Debug("ignoring malformed agent event", "error", err)
		return
	}

	switch ev.Type {
	case TypeInitiationMetadata:
		if ev.InitiationMetadata != nil {
			c.conversationID = ev.InitiationMetadata.ConversationID
		}
		c.emit(func() {
			if c.events.OnConnect != nil {
				c.events.OnConnect()
			}
		})
		c.setMode(session.ModeListening)

	case TypePing:
		if ev.PingEvent != nil {
			_ = c.enqueue(encode(pong{Type: TypePong, EventID: ev.PingEvent.EventID}))
		}

	case TypeUserTranscript:
		if ev.UserTranscription == nil {
			return
		}
		c.message("user", ev.UserTranscription.UserTranscript)
		c.setMode(session.ModeThinking)

	case TypeAgentResponse:
		if ev.AgentResponse == nil {
			return
		}
		c.muted.Store(false)
		c.message("ai", ev.AgentResponse.AgentResponse)

	case TypeAudio:
		if ev.AudioEvent == nil || c.muted.Load() {
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(ev.AudioEvent.Audio)
		if err != nil || len(chunk) == 0 {
			return
		}
		c.setMode(session.ModeSpeaking)
		c.emit(func() {
			if c.events.OnAudio != nil {
				c.events.OnAudio(chunk)
			}
		})
		c.resetIdle()

	case TypeInterruption:
		c.stopIdle()
		c.setMode(session.ModeListening)

	case TypeClientToolCall:
		if ev.ClientToolCall == nil {
			return
		}
		call := session.ToolCall{
			Name:   ev.ClientToolCall.ToolName,
			CallID: ev.ClientToolCall.ToolCallID,
			Params: ev.ClientToolCall.Parameters,
		}
		go c.runTool(call)

	case TypeError:
		msg := "agent reported an error"
		if ev.ErrorEvent != nil && ev.ErrorEvent.Message != "" {
			msg = ev.ErrorEvent.Message
		}
		c.fail(fmt.Errorf("agent error: %s", msg))
	}
}

// fail reports a transport failure that is not a clean close.
func (c *conversation) fail(err error) {
	c.logger.Warn("agent conversation failed", "conversation_id", c.conversationID, "error", err)
	c.emit(func() {
		if c.events.OnError != nil {
			c.events.OnError(err)
		}
	})
}

func (c *conversation) runTool(call session.ToolCall) {
	var reply session.ToolReply
	if fn, ok := c.tools[call.Name]; ok {
		reply = fn(c.ctx, call)
	} else if c.events.OnUnhandledToolCall != nil {
		reply = session.ToolReply{Text: c.events.OnUnhandledToolCall(c.ctx, call), IsError: true}
	} else {
		reply = session.ToolReply{Text: fmt.Sprintf("Unknown tool %q.", call.Name), IsError: true}
	}

	err := c.enqueue(encode(toolResult{
		Type:       TypeClientToolResult,
		ToolCallID: call.CallID,
		Result:     reply.Text,
		IsError:    reply.IsError,
	}))
	if err != nil {
		c.logger.Debug("tool result dropped", "tool", call.Name, "call_id", call.CallID, "error", err)
	}
}

func (c *conversation) message(source, text string) {
	c.emit(func() {
		if c.events.OnMessage != nil {
			c.events.OnMessage(session.Message{Source: source, Text: text})
		}
	})
}

func (c *conversation) emit(fn func()) {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	if !c.finished {
		fn()
	}
}

func (c *conversation) setMode(m session.Mode) {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	if c.finished || c.mode == m {
		return
	}
	c.mode = m
	if c.events.OnModeChange != nil {
		c.events.OnModeChange(m)
	}
}

func (c *conversation) resetIdle() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerGen++
	gen := c.timerGen
	c.timer = time.AfterFunc(c.idle, func() {
		c.timerMu.Lock()
		stale := gen != c.timerGen
		c.timerMu.Unlock()
		if !stale {
			c.setMode(session.ModeListening)
		}
	})
}

func (c *conversation) stopIdle() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}
