// Package realtime serves the local websocket and HTTP surface used by the
// companion window and by external helpers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"granny-companion/internal/capability"
	"granny-companion/internal/observability"
	"granny-companion/internal/protocol"
	"granny-companion/internal/session"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 256
	maxFrameSize  = 16 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Only bound to loopback.
	},
}

// ConversationInfo exposes the agent connection settings to the window.
type ConversationInfo interface {
	SignedURL(ctx context.Context) (string, error)
	Config() capability.SessionConfig
}

// Deps are the collaborators requests are routed to. Nil collaborators
// answer with NOT_CONFIGURED.
type Deps struct {
	Controller   *session.Controller
	Highlighter  capability.Highlighter
	Screen       capability.ScreenReader
	System       capability.System
	Transcriber  capability.Transcriber
	Memory       capability.MemoryStore
	Account      capability.Account
	Conversation ConversationInfo
	Role         capability.Role
	AllowShell   bool
	Metrics      http.Handler
}

type handlerFunc func(ctx context.Context, msg *protocol.Message) (interface{}, error)

// errNotConfigured marks a request whose collaborator is absent.
var errNotConfigured = errors.New("not configured")

// Server routes window requests to the session controller and the
// capabilities, and forwards controller updates to every window.
type Server struct {
	hub      *Hub
	deps     Deps
	handlers map[string]handlerFunc
	logger   *slog.Logger
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	server *Server
}

// New creates a realtime server pushing through hub.
func New(hub *Hub, deps Deps) *Server {
	if deps.Role == "" {
		deps.Role = capability.RoleGrandma
	}
	s := &Server{
		hub:    hub,
		deps:   deps,
		logger: observability.Component("realtime"),
	}
	s.handlers = s.routes()
	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /highlight", s.handleHighlight)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("GET /clear", s.handleClear)
	mux.HandleFunc("POST /session/start", s.handleSessionStart)
	mux.HandleFunc("POST /session/end", s.handleSessionEnd)
	mux.HandleFunc("GET /session", s.handleGetSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /tools/{name}", s.handleExecuteTool)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Run forwards controller updates to connected windows until ctx is done
// or the controller shuts down.
func (s *Server) Run(ctx context.Context) error {
	if s.deps.Controller == nil {
		<-ctx.Done()
		return nil
	}

	subID, updates := s.deps.Controller.Subscribe()
	defer s.deps.Controller.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			s.pushUpdate(u)
		}
	}
}

func (s *Server) pushUpdate(u session.Update) {
	switch u.Kind {
	case session.UpdateStatus:
		p := protocol.StatusPayload{Status: string(u.Status), SessionID: u.SessionID}
		if u.Status == session.StatusError {
			p.Error = u.Reason
		}
		s.hub.Push(protocol.TypeStatusUpdate, p)
	case session.UpdateTurn:
		if u.Turn == nil {
			return
		}
		s.hub.Push(protocol.TypeTranscriptTurn, protocol.TurnPayload{
			SessionID: u.SessionID,
			Role:      string(u.Turn.Role),
			Text:      u.Turn.Content,
			Timestamp: u.Turn.Timestamp,
		})
	case session.UpdateAudio:
		s.hub.Push(protocol.TypeAudio, protocol.AudioPayload{Audio: u.Audio})
	}
}

// OnAuthChange tells every window the current account state. It is the
// callback for the token file watcher.
func (s *Server) OnAuthChange(path string, exists bool) {
	s.logger.Info("google token changed", "path", path, "exists", exists)
	s.pushAuth()
}

func (s *Server) pushAuth() {
	if s.deps.Account == nil {
		return
	}
	s.hub.Push(protocol.TypeAuthUpdate, protocol.AuthPayload{Authenticated: s.deps.Account.IsAuthenticated()})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		server: s,
	}

	s.hub.add(c)
	s.sendInitialState(c)

	go c.writePump()
	go c.readPump()
}

// sendInitialState tells a new window where things stand.
func (s *Server) sendInitialState(c *client) {
	if s.deps.Controller != nil {
		snap := s.deps.Controller.Snapshot()
		c.sendMessage(protocol.NewMessage(protocol.TypeStatusUpdate, protocol.StatusPayload{
			Status:    string(snap.Status),
			SessionID: snap.SessionID,
		}))
	}
	if s.deps.Account != nil {
		c.sendMessage(protocol.NewMessage(protocol.TypeAuthUpdate, protocol.AuthPayload{
			Authenticated: s.deps.Account.IsAuthenticated(),
		}))
	}
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// trySend queues data unless the client is gone or its buffer is full.
func (c *client) trySend(data []byte) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) sendMessage(msg *protocol.Message, err error) {
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// removeClient cleans up a disconnected client. In-flight requests see a
// cancelled context.
func (s *Server) removeClient(c *client) {
	s.hub.remove(c)
	c.cancel()
}

// handleMessage validates a request and runs it off the read loop so slow
// work such as session.start does not block later requests.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		c.sendMessage(protocol.NewErrorMessage(requestID(raw), protocol.ErrInvalidMessage, err.Error()))
		return
	}

	h := s.handlers[msg.Type]
	go func() {
		result, err := h(c.ctx, msg)
		if err != nil {
			code := errorCode(err)
			if code == protocol.ErrInternal {
				s.logger.Warn("request failed", "type", msg.Type, "error", err)
			}
			c.sendMessage(protocol.NewErrorMessage(msg.ID, code, err.Error()))
			return
		}
		if result == nil {
			result = struct{}{}
		}
		c.sendMessage(protocol.NewResult(msg, result))
	}()
}

// requestID recovers the id of a request that failed validation.
func requestID(raw []byte) string {
	var env struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &env)
	return env.ID
}

func errorCode(err error) string {
	var te *capability.TransientError
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		return protocol.ErrNoActiveSession
	case errors.Is(err, errNotConfigured), capability.IsConfiguration(err):
		return protocol.ErrNotConfigured
	case errors.Is(err, capability.ErrAuthRequired):
		return protocol.ErrAuthRequired
	case errors.As(err, &te), errors.Is(err, capability.ErrTimeout):
		return protocol.ErrUnavailable
	default:
		return protocol.ErrInternal
	}
}
