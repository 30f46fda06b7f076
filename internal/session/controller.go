// Package session owns the single live conversation: its start guard,
// status state machine, transcript, screen context and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"granny-companion/internal/capability"
	"granny-companion/internal/observability"
	"granny-companion/internal/tools"
	"granny-companion/internal/transcript"

	"github.com/google/uuid"
)

const (
	defaultHistoryCap       = 50
	defaultSubscriberBufCap = 100
	effectQueueCap          = 32
	captureTimeout          = 30 * time.Second
	closeTimeout            = 10 * time.Second

	contextUpdatePrefix = "The user's screen currently shows: "
)

// ErrNoActiveSession is returned by End when there is nothing to end.
var ErrNoActiveSession = errors.New("no active session")

// Options are the controller's collaborators. Transport, Credentials and
// Registry are required; the rest may be nil.
type Options struct {
	Transport   Transport
	Credentials capability.SessionCredentials
	Registry    *tools.Registry
	Screen      capability.ScreenReader
	Window      capability.Window
	Highlighter capability.Highlighter
	Memory      MemoryExtractor
	Speech      SpeechOutput
	Sink        observability.Sink
	HistoryCap  int
}

// Controller is the single source of truth for session lifecycle and status.
type Controller struct {
	transport   Transport
	credentials capability.SessionCredentials
	registry    *tools.Registry
	screen      capability.ScreenReader
	window      capability.Window
	highlighter capability.Highlighter
	memory      MemoryExtractor
	speech      SpeechOutput
	sink        observability.Sink
	logger      *slog.Logger

	mu     sync.Mutex
	status Status
	sess   *Session
	conv   Conversation
	tr     *transcript.Transcript

	history *RingBuffer

	subscribers map[string]chan Update
	subMu       sync.RWMutex

	effects   chan func(context.Context)
	stop      chan struct{}
	stopOnce  sync.Once
	effectsWG sync.WaitGroup
}

// NewController creates a controller in the disconnected state.
func NewController(opts Options) *Controller {
	if opts.Sink == nil {
		opts.Sink = observability.Nop{}
	}
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = defaultHistoryCap
	}

	c := &Controller{
		transport:   opts.Transport,
		credentials: opts.Credentials,
		registry:    opts.Registry,
		screen:      opts.Screen,
		window:      opts.Window,
		highlighter: opts.Highlighter,
		memory:      opts.Memory,
		speech:      opts.Speech,
		sink:        opts.Sink,
		logger:      observability.Component("session"),
		status:      StatusDisconnected,
		tr:          transcript.New(),
		history:     NewRingBuffer(opts.HistoryCap),
		subscribers: make(map[string]chan Update),
		effects:     make(chan func(context.Context), effectQueueCap),
		stop:        make(chan struct{}),
	}

	c.effectsWG.Add(1)
	go c.runEffects()
	return c
}

// Start opens a new session. A call while another session is connecting or
// active is a logged no-op. A credential or transport failure, or a
// disconnect before Open returns, leaves the status at error and is returned.
// An End during the handshake is not a failure.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status.Active() {
		status := c.status
		c.mu.Unlock()
		c.logger.Info("start ignored, session already in progress", "status", string(status))
		return nil
	}
	sess := &Session{ID: uuid.New().String(), StartedAt: time.Now().UTC()}
	c.sess = sess
	c.conv = nil
	c.tr = transcript.New()
	c.setStatusLocked(StatusConnecting, "")
	c.mu.Unlock()

	ctx = observability.WithSessionID(ctx, sess.ID)
	log := c.logger.With("session_id", sess.ID)

	if c.screen != nil {
		if desc, err := c.screen.CaptureAndDescribe(ctx); err != nil {
			log.Warn("initial screen capture failed", "error", err)
		} else {
			c.mu.Lock()
			if c.sess == sess {
				sess.ScreenContext = desc
			}
			c.mu.Unlock()
		}
	}

	creds, err := c.credentials.Credentials(ctx)
	if err != nil {
		err = fmt.Errorf("get session credentials: %w", err)
		c.abortStart(sess, err)
		return err
	}

	conv, err := c.transport.Open(ctx, OpenOptions{
		SignedURL: creds.SignedURL,
		VoiceID:   creds.Config.VoiceID,
		Tools:     c.toolFuncs(sess),
		Events:    c.eventsFor(sess),
	})
	if err != nil {
		err = fmt.Errorf("open conversation: %w", err)
		c.abortStart(sess, err)
		return err
	}

	c.mu.Lock()
	if c.sess != sess {
		// Ended or failed while connecting.
		userEnded, reason := sess.UserInitiatedEnd, sess.EndedReason
		c.mu.Unlock()
		log.Info("session ended before it connected, closing transport", "reason", reason)
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = conv.Close(closeCtx)
		if userEnded {
			return nil
		}
		err := fmt.Errorf("session lost while connecting: %s: %w", reason, capability.ErrUnexpectedDisconnect)
		c.sink.Emit(observability.Event{Name: observability.EventSessionStarted, SessionID: sess.ID, Err: err})
		return err
	}
	c.conv = conv
	if c.status == StatusConnecting {
		c.setStatusLocked(StatusConnected, "")
	}
	c.mu.Unlock()

	log.Info("session started")
	c.sink.Emit(observability.Event{Name: observability.EventSessionStarted, SessionID: sess.ID})
	return nil
}

func (c *Controller) abortStart(sess *Session, err error) {
	c.logger.Error("session start failed", "session_id", sess.ID, "error", err)

	c.mu.Lock()
	if c.sess == sess {
		c.finishLocked(sess, StatusError, err.Error())
	}
	c.mu.Unlock()

	c.sink.Emit(observability.Event{Name: observability.EventSessionStarted, SessionID: sess.ID, Err: err})
}

// End closes the current session. Memories are extracted before the remote
// close; extraction failures are logged and do not fail End.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	if sess.ending {
		c.mu.Unlock()
		return nil
	}
	sess.ending = true
	sess.UserInitiatedEnd = true
	conv := c.conv
	tr := c.tr
	if conv == nil {
		// Still connecting: Start closes the transport once Open returns.
		c.finishLocked(sess, StatusDisconnected, "ended while connecting")
		c.mu.Unlock()
		c.clearHighlight()
		return nil
	}
	c.mu.Unlock()

	ctx = observability.WithSessionID(ctx, sess.ID)
	log := c.logger.With("session_id", sess.ID)

	if c.memory != nil {
		if _, err := c.memory.Extract(ctx, tr.Turns()); err != nil {
			log.Warn("memory extraction failed", "error", err)
		}
	}

	closeErr := conv.Close(ctx)
	if closeErr != nil {
		log.Warn("closing conversation failed", "error", closeErr)
	}

	c.mu.Lock()
	if c.sess == sess {
		final := StatusDisconnected
		reason := "ended by user"
		if closeErr != nil {
			final = StatusError
			reason = closeErr.Error()
		}
		c.finishLocked(sess, final, reason)
	}
	c.mu.Unlock()

	c.clearHighlight()
	log.Info("session ended by user")
	return nil
}

// Speak synthesizes text outside the conversation. A newer call cancels
// this one, which then returns capability.ErrCancelled.
func (c *Controller) Speak(ctx context.Context, text string, opts capability.VoiceOptions) ([]byte, error) {
	if c.speech == nil {
		return nil, &capability.ConfigurationError{Missing: []string{"ELEVENLABS_API_KEY"}}
	}
	return c.speech.Speak(ctx, text, opts)
}

// CancelSpeech stops any synthesis started by Speak.
func (c *Controller) CancelSpeech() {
	if c.speech != nil {
		c.speech.Cancel()
	}
}

// Interrupt asks the agent to stop talking and returns to listening. It
// only cancels local speech while the conversation is still connecting.
func (c *Controller) Interrupt() {
	c.CancelSpeech()

	c.mu.Lock()
	sess, conv := c.sess, c.conv
	if sess == nil || conv == nil || c.status == StatusConnecting || !c.status.Active() {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if i, ok := conv.(Interrupter); ok {
		if err := i.Interrupt(); err != nil {
			c.logger.Warn("interrupt failed", "session_id", sess.ID, "error", err)
		}
	}

	c.mu.Lock()
	if c.sess == sess && c.status.Active() {
		c.setStatusLocked(StatusListening, "interrupted")
	}
	c.mu.Unlock()
}

// SendAudio forwards microphone audio to the live conversation.
func (c *Controller) SendAudio(chunk []byte) error {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()

	if conv == nil {
		return ErrNoActiveSession
	}
	in, ok := conv.(AudioInput)
	if !ok {
		return fmt.Errorf("conversation does not accept audio input")
	}
	return in.SendAudio(chunk)
}

// ExecuteTool runs a tool outside the remote agent, with the current
// session's screen context when there is one.
func (c *Controller) ExecuteTool(ctx context.Context, name string, params map[string]any) tools.Result {
	c.mu.Lock()
	if c.sess != nil {
		ctx = observability.WithSessionID(ctx, c.sess.ID)
		ctx = tools.WithScreenContext(ctx, c.sess.ScreenContext)
	}
	c.mu.Unlock()

	return c.registry.Dispatch(ctx, tools.Invocation{
		Name:      name,
		CallID:    uuid.New().String(),
		Params:    params,
		StartedAt: time.Now(),
	})
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Status:           c.status,
		TranscriptLength: c.tr.Len(),
		FinishedSessions: c.history.Len(),
	}
	if c.speech != nil {
		snap.Speaking = c.speech.Speaking()
	}
	if c.sess != nil {
		snap.SessionID = c.sess.ID
		snap.StartedAt = c.sess.StartedAt
		snap.HasScreenContext = c.sess.ScreenContext != ""
	}
	return snap
}

// Transcript returns the turns of the current or most recent session.
func (c *Controller) Transcript() []transcript.Turn {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	return tr.Turns()
}

// History returns records of finished sessions, oldest first.
func (c *Controller) History() []Record {
	return c.history.ReadAll()
}

// Subscribe returns a channel of status and turn updates. Slow subscribers
// miss updates rather than block the controller.
func (c *Controller) Subscribe() (string, <-chan Update) {
	subID := uuid.New().String()
	ch := make(chan Update, defaultSubscriberBufCap)

	c.subMu.Lock()
	c.subscribers[subID] = ch
	c.subMu.Unlock()

	return subID, ch
}

// Unsubscribe closes and removes a subscription.
func (c *Controller) Unsubscribe(subID string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if ch, ok := c.subscribers[subID]; ok {
		close(ch)
		delete(c.subscribers, subID)
	}
}

// Shutdown ends any live session and stops background work.
func (c *Controller) Shutdown(ctx context.Context) {
	if err := c.End(ctx); err != nil && !errors.Is(err, ErrNoActiveSession) {
		c.logger.Warn("end on shutdown failed", "error", err)
	}

	c.stopOnce.Do(func() { close(c.stop) })
	c.effectsWG.Wait()

	c.subMu.Lock()
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
	c.subMu.Unlock()
}

// setStatusLocked applies a transition and notifies subscribers. c.mu must be held.
func (c *Controller) setStatusLocked(st Status, reason string) {
	if c.status == st {
		return
	}
	c.status = st

	var id string
	if c.sess != nil {
		id = c.sess.ID
	}
	c.fanOut(Update{Kind: UpdateStatus, SessionID: id, Status: st, Reason: reason, Timestamp: time.Now().UTC()})
	c.sink.Emit(observability.Event{Name: observability.EventStatusChanged, SessionID: id, Status: string(st)})
}

// finishLocked records sess and moves to a terminal status. c.mu must be held
// and c.sess must be sess.
func (c *Controller) finishLocked(sess *Session, final Status, reason string) {
	now := time.Now().UTC()
	sess.EndedReason = reason
	rec := Record{
		ID:               sess.ID,
		StartedAt:        sess.StartedAt,
		EndedAt:          now,
		Duration:         now.Sub(sess.StartedAt),
		TranscriptLength: c.tr.Len(),
		EndedReason:      reason,
		FinalStatus:      final,
	}
	c.history.Write(rec)

	c.setStatusLocked(final, reason)
	c.sess = nil
	c.conv = nil

	c.sink.Emit(observability.Event{
		Name:      observability.EventSessionEnded,
		SessionID: sess.ID,
		Outcome:   string(final),
		Duration:  rec.Duration,
	})
}

// fanOut sends an update to all subscribers without blocking.
func (c *Controller) fanOut(u Update) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, ch := range c.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

func (c *Controller) clearHighlight() {
	if c.highlighter != nil {
		c.highlighter.Clear()
	}
}

// enqueue schedules a best-effort side effect. Effects run one at a time in
// submission order; when the queue is full the effect is dropped.
func (c *Controller) enqueue(name string, fn func(context.Context)) {
	select {
	case c.effects <- fn:
	default:
		c.logger.Warn("side effect dropped, queue full", "effect", name)
	}
}

func (c *Controller) runEffects() {
	defer c.effectsWG.Done()
	for {
		select {
		case <-c.stop:
			return
		case fn := <-c.effects:
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			fn(ctx)
			cancel()
		}
	}
}
