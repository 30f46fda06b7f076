package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"granny-companion/internal/capability"
	"granny-companion/internal/protocol"
)

// Hub tracks connected windows and pushes messages to all of them. It also
// serves as the overlay presenter and window mover, both of which are
// carried out by the window process.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

// remove reports whether c was still registered.
func (h *Hub) remove(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return false
	}
	delete(h.clients, c)
	return true
}

// Clients returns the number of connected windows.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends msg to all connected clients.
func (h *Hub) Broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		c.trySend(data)
	}
}

// Push builds and broadcasts a message.
func (h *Hub) Push(msgType string, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return
	}
	h.Broadcast(msg)
}

// ShowHighlight implements highlight.Presenter.
func (h *Hub) ShowHighlight(req capability.HighlightRequest) {
	h.Push(protocol.TypeHighlightShow, req)
}

// ClearHighlight implements highlight.Presenter.
func (h *Hub) ClearHighlight() {
	h.Push(protocol.TypeHighlightClear, struct{}{})
}

// MoveToCorner implements capability.Window.
func (h *Hub) MoveToCorner(ctx context.Context) error {
	h.Push(protocol.TypeWindowMove, protocol.WindowMovePayload{Position: protocol.PositionCorner})
	return nil
}

// MoveBack implements capability.Window.
func (h *Hub) MoveBack(ctx context.Context) error {
	h.Push(protocol.TypeWindowMove, protocol.WindowMovePayload{Position: protocol.PositionBack})
	return nil
}
