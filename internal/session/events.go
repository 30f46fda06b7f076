package session

import (
	"context"
	"errors"
	"time"

	"granny-companion/internal/capability"
	"granny-companion/internal/observability"
	"granny-companion/internal/tools"
	"granny-companion/internal/transcript"
)

// eventsFor binds transport callbacks to sess. Callbacks for a session that
// is no longer current are ignored.
func (c *Controller) eventsFor(sess *Session) Events {
	return Events{
		OnConnect: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.sess == sess && c.status == StatusConnecting {
				c.setStatusLocked(StatusConnected, "")
			}
		},
		OnDisconnect: func(reason string) {
			c.handleDisconnect(sess, reason)
		},
		OnMessage: func(msg Message) {
			c.handleMessage(sess, msg)
		},
		OnError: func(err error) {
			c.handleError(sess, err)
		},
		OnModeChange: func(mode Mode) {
			c.handleModeChange(sess, mode)
		},
		OnAudio: func(chunk []byte) {
			c.mu.Lock()
			current := c.sess == sess
			c.mu.Unlock()
			if current {
				c.fanOut(Update{Kind: UpdateAudio, SessionID: sess.ID, Audio: chunk, Timestamp: time.Now().UTC()})
			}
		},
		OnUnhandledToolCall: func(ctx context.Context, call ToolCall) string {
			c.logger.Warn("unhandled tool call", "session_id", sess.ID, "tool", call.Name, "call_id", call.CallID)
			return c.invoke(ctx, sess, call).Text
		},
	}
}

// toolFuncs exposes every registry entry as a transport tool bound to sess.
func (c *Controller) toolFuncs(sess *Session) map[string]ToolFunc {
	names := c.registry.Names()
	funcs := make(map[string]ToolFunc, len(names))
	for _, name := range names {
		funcs[name] = func(ctx context.Context, call ToolCall) ToolReply {
			return c.invoke(ctx, sess, call)
		}
	}
	return funcs
}

func (c *Controller) invoke(ctx context.Context, sess *Session, call ToolCall) ToolReply {
	c.mu.Lock()
	screen := sess.ScreenContext
	c.mu.Unlock()

	ctx = observability.WithSessionID(ctx, sess.ID)
	ctx = tools.WithScreenContext(ctx, screen)

	res := c.registry.Dispatch(ctx, tools.Invocation{
		Name:      call.Name,
		CallID:    call.CallID,
		Params:    call.Params,
		StartedAt: time.Now(),
	})
	return ToolReply{Text: res.Text, IsError: res.IsError()}
}

func (c *Controller) handleModeChange(sess *Session, mode Mode) {
	c.mu.Lock()
	if c.sess != sess || !c.status.Active() {
		c.mu.Unlock()
		return
	}

	var next Status
	switch mode {
	case ModeListening:
		next = StatusListening
	case ModeSpeaking:
		next = StatusSpeaking
	case ModeThinking:
		next = StatusThinking
	default:
		next = StatusConnected
	}
	c.setStatusLocked(next, "")

	refresh := next == StatusListening && c.screen != nil && sess.SharedContext == "" && !sess.capturing
	if refresh {
		sess.capturing = true
	}
	c.mu.Unlock()

	if c.window != nil {
		switch next {
		case StatusListening:
			c.enqueue("window.moveToCorner", func(ctx context.Context) {
				if err := c.window.MoveToCorner(ctx); err != nil {
					c.logger.Debug("move window to corner failed", "error", err)
				}
			})
		case StatusSpeaking, StatusThinking:
			c.enqueue("window.moveBack", func(ctx context.Context) {
				if err := c.window.MoveBack(ctx); err != nil {
					c.logger.Debug("move window back failed", "error", err)
				}
			})
		}
	}

	if refresh {
		go c.refreshScreenContext(sess)
	}
}

// refreshScreenContext captures the screen once and forwards it to the agent.
func (c *Controller) refreshScreenContext(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
	defer cancel()
	ctx = observability.WithSessionID(ctx, sess.ID)

	defer func() {
		c.mu.Lock()
		sess.capturing = false
		c.mu.Unlock()
	}()

	desc, err := c.screen.CaptureAndDescribe(ctx)
	if err != nil {
		c.logger.Warn("screen refresh failed", "session_id", sess.ID, "error", err)
		return
	}
	if desc == "" {
		return
	}

	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	sess.ScreenContext = desc
	conv := c.conv
	c.mu.Unlock()

	// Without a conversation yet, the next listening event tries again.
	if conv == nil {
		return
	}
	err = conv.SendContextualUpdate(contextUpdatePrefix + desc)
	if err != nil {
		c.logger.Warn("send screen context failed", "session_id", sess.ID, "error", err)
	} else {
		c.mu.Lock()
		sess.SharedContext = desc
		c.mu.Unlock()
	}
	c.sink.Emit(observability.Event{Name: observability.EventContextSent, SessionID: sess.ID, Err: err})
}

func (c *Controller) handleMessage(sess *Session, msg Message) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	tr := c.tr
	c.mu.Unlock()

	turn, ok := tr.Append(transcript.RoleFromSource(msg.Source), msg.Text)
	if !ok {
		return
	}
	c.fanOut(Update{Kind: UpdateTurn, SessionID: sess.ID, Turn: &turn, Timestamp: turn.Timestamp})
}

// handleDisconnect finalizes sess. Without a preceding End the disconnect
// is unexpected and the status becomes error.
func (c *Controller) handleDisconnect(sess *Session, reason string) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	final := StatusError
	if sess.UserInitiatedEnd {
		final = StatusDisconnected
	} else {
		if reason == "" {
			reason = capability.ErrUnexpectedDisconnect.Error()
		}
		c.logger.Warn("conversation disconnected unexpectedly", "session_id", sess.ID, "reason", reason)
	}
	c.finishLocked(sess, final, reason)
	c.mu.Unlock()

	c.clearHighlight()
}

func (c *Controller) handleError(sess *Session, err error) {
	if err == nil {
		err = errors.New("unknown transport error")
	}

	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.logger.Error("conversation error", "session_id", sess.ID, "error", err)
	conv := c.conv
	c.finishLocked(sess, StatusError, err.Error())
	c.mu.Unlock()

	c.clearHighlight()
	if conv != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = conv.Close(ctx)
		}()
	}
}
