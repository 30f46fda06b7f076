package highlight

import (
	"sync"
	"testing"
	"time"

	"granny-companion/internal/capability"

	"github.com/stretchr/testify/require"
)

type recordingPresenter struct {
	mu      sync.Mutex
	shown   []string
	cleared int
}

func (p *recordingPresenter) ShowHighlight(req capability.HighlightRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, req.Label)
}

func (p *recordingPresenter) ClearHighlight() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
}

func (p *recordingPresenter) clears() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleared
}

func TestNew_DefaultTTL(t *testing.T) {
	m := New(nil, 0)
	require.Equal(t, DefaultTTL, m.ttl)
}

func TestShow_ExpiresAfterTTL(t *testing.T) {
	p := &recordingPresenter{}
	m := New(p, 50*time.Millisecond)

	m.Show(capability.HighlightRequest{Label: "A"})
	cur, ok := m.Current()
	require.True(t, ok)
	require.Equal(t, "A", cur.Label)
	require.True(t, m.Pending())

	require.Eventually(t, func() bool { return p.clears() == 1 }, time.Second, 5*time.Millisecond)
	_, ok = m.Current()
	require.False(t, ok)
	require.False(t, m.Pending())
}

func TestShow_ReplacesAndCancelsPreviousExpiry(t *testing.T) {
	p := &recordingPresenter{}
	m := New(p, 300*time.Millisecond)

	m.Show(capability.HighlightRequest{Label: "A"})
	time.Sleep(150 * time.Millisecond)
	m.Show(capability.HighlightRequest{Label: "B"})

	// Past A's original deadline, B must still be showing.
	time.Sleep(200 * time.Millisecond)
	cur, ok := m.Current()
	require.True(t, ok)
	require.Equal(t, "B", cur.Label)
	require.Equal(t, 0, p.clears())
	require.True(t, m.Pending())

	require.Eventually(t, func() bool { return p.clears() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, p.clears())
	require.Equal(t, []string{"A", "B"}, p.shown)
}

func TestClear_CancelsExpiry(t *testing.T) {
	p := &recordingPresenter{}
	m := New(p, 40*time.Millisecond)

	m.Show(capability.HighlightRequest{Label: "A"})
	m.Clear()
	require.False(t, m.Pending())

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, p.clears())
}

func TestShutdown_StopsTimer(t *testing.T) {
	p := &recordingPresenter{}
	m := New(p, 30*time.Millisecond)

	m.Show(capability.HighlightRequest{Label: "A"})
	m.Shutdown()
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, 0, p.clears())
}
