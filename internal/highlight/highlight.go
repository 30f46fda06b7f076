// Package highlight keeps at most one on-screen highlight alive and clears
// it after a fixed time.
package highlight

import (
	"sync"
	"time"

	"granny-companion/internal/capability"
	"granny-companion/internal/observability"
)

const DefaultTTL = 10 * time.Second

// Presenter draws and removes the overlay.
type Presenter interface {
	ShowHighlight(req capability.HighlightRequest)
	ClearHighlight()
}

// Manager implements capability.Highlighter with a single slot.
type Manager struct {
	mu        sync.Mutex
	presenter Presenter
	ttl       time.Duration
	current   *capability.HighlightRequest
	timer     *time.Timer
	// gen identifies the highlight a timer belongs to. A timer whose
	// generation is stale does nothing.
	gen uint64
}

// New creates a Manager. A non-positive ttl uses DefaultTTL.
func New(p Presenter, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{presenter: p, ttl: ttl}
}

// Show replaces any current highlight and schedules its expiry.
func (m *Manager) Show(req capability.HighlightRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()
	m.gen++
	gen := m.gen
	m.current = &req
	m.timer = time.AfterFunc(m.ttl, func() {
		m.expire(gen)
	})

	observability.Component("highlight").Debug("highlight shown", "label", req.Label, "ttl", m.ttl.String())
	if m.presenter != nil {
		m.presenter.ShowHighlight(req)
	}
}

// Clear removes the current highlight, if any, and cancels its expiry.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()
	m.gen++
	m.current = nil
	if m.presenter != nil {
		m.presenter.ClearHighlight()
	}
}

// Current returns the active highlight.
func (m *Manager) Current() (capability.HighlightRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return capability.HighlightRequest{}, false
	}
	return *m.current, true
}

// Pending reports whether an expiry timer is scheduled.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// Shutdown cancels the pending expiry without touching the overlay.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.gen++
}

func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}
	m.timer = nil
	m.current = nil
	if m.presenter != nil {
		m.presenter.ClearHighlight()
	}
}

func (m *Manager) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
