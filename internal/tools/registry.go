// Package tools is the catalog of local capabilities the remote agent can
// call during a conversation. Every call yields a string.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"granny-companion/internal/capability"
	"granny-companion/internal/observability"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxResult = 2000

	TruncationMarker = " ... (truncated)"
)

// Spoken fallbacks.
const (
	AuthRequiredMessage = "You need to connect your Google account first. Would you like me to help you do that?"
	TimeoutMessage      = "That is taking longer than expected, so I stopped waiting. Shall we try again?"
	GenericFailure      = "I had trouble with that request. Please try again."
)

// Outcome classifies how a call ended.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeUnhandled    Outcome = "unhandled"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeAuthRequired Outcome = "auth_required"
	OutcomeFailed       Outcome = "failed"
	OutcomeTimeout      Outcome = "timeout"
	OutcomePanic        Outcome = "panic"
)

// Handler runs a tool. On failure it should still return the sentence to
// speak together with the error; an empty string falls back to a generic one.
type Handler func(ctx context.Context, args Args) (string, error)

// Tool is one variant in the catalog.
type Tool struct {
	Name         string
	Description  string
	Params       []Param
	RequiresAuth bool
	// Timeout overrides the registry default when non-zero.
	Timeout time.Duration
	Handler Handler
}

// Invocation is one call from the remote agent.
type Invocation struct {
	Name      string
	CallID    string
	Params    map[string]any
	StartedAt time.Time
}

// Result is what goes back to the agent.
type Result struct {
	CallID   string
	Text     string
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// IsError reports whether the agent should treat the result as a failure.
// An auth prompt is an ordinary answer the agent should relay.
func (r Result) IsError() bool {
	switch r.Outcome {
	case OutcomeOK, OutcomeAuthRequired:
		return false
	}
	return true
}

// UnhandledResponse is returned for names outside the catalog.
func UnhandledResponse(name string) string {
	return fmt.Sprintf("Unhandled tool %q: I don't know how to handle that request yet.", name)
}

// Registry maps tool names to tools.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	account   capability.Account
	timeout   time.Duration
	maxResult int
	sink      observability.Sink
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithAccount sets the account consulted before RequiresAuth tools run.
func WithAccount(a capability.Account) Option {
	return func(r *Registry) { r.account = a }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithMaxResult(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxResult = n
		}
	}
}

func WithSink(s observability.Sink) Option {
	return func(r *Registry) {
		if s != nil {
			r.sink = s
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:     make(map[string]Tool),
		timeout:   DefaultTimeout,
		maxResult: DefaultMaxResult,
		sink:      observability.Nop{},
		logger:    observability.Component("tools"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds tools. Names must be unique and every tool needs a handler.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if t.Name == "" || t.Handler == nil {
			return fmt.Errorf("tool %q: name and handler are required", t.Name)
		}
		if _, exists := r.tools[t.Name]; exists {
			return fmt.Errorf("tool %q already registered", t.Name)
		}
		r.tools[t.Name] = t
	}
	return nil
}

// Lookup returns a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions describes every tool, sorted by name.
func (r *Registry) Definitions() []Definition {
	names := r.Names()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		t, _ := r.Lookup(name)
		defs = append(defs, definitionOf(t))
	}
	return defs
}

// Dispatch runs one invocation. It never panics and always returns text.
func (r *Registry) Dispatch(ctx context.Context, inv Invocation) Result {
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now()
	}
	res := r.dispatch(ctx, inv)
	res.CallID = inv.CallID
	res.Text = Truncate(res.Text, r.maxResult)
	res.Duration = time.Since(inv.StartedAt)

	log := r.logger.With("tool", inv.Name, "call_id", inv.CallID, "outcome", string(res.Outcome))
	if res.Err != nil {
		log.Warn("tool call failed", "error", res.Err, "duration_ms", res.Duration.Milliseconds())
	} else {
		log.Info("tool call", "duration_ms", res.Duration.Milliseconds())
	}

	r.sink.Emit(observability.Event{
		Name:      observability.EventToolCalled,
		SessionID: observability.SessionID(ctx),
		Tool:      inv.Name,
		Outcome:   string(res.Outcome),
		Duration:  res.Duration,
		Err:       res.Err,
	})
	return res
}

func (r *Registry) dispatch(ctx context.Context, inv Invocation) Result {
	tool, ok := r.Lookup(inv.Name)
	if !ok {
		return Result{Text: UnhandledResponse(inv.Name), Outcome: OutcomeUnhandled}
	}

	args, err := validate(tool.Name, tool.Params, inv.Params)
	if err != nil {
		return Result{
			Text:    "I couldn't do that because some details were missing or wrong. " + err.Error(),
			Outcome: OutcomeInvalid,
			Err:     err,
		}
	}

	if tool.RequiresAuth && (r.account == nil || !r.account.IsAuthenticated()) {
		return Result{Text: AuthRequiredMessage, Outcome: OutcomeAuthRequired}
	}

	timeout := r.timeout
	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		text     string
		err      error
		panicked bool
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("tool handler panicked", "tool", tool.Name, "panic", p, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("panic: %v", p), panicked: true}
			}
		}()
		text, err := tool.Handler(ctx, args)
		done <- outcome{text: text, err: err}
	}()

	select {
	case out := <-done:
		switch {
		case out.panicked:
			return Result{Text: GenericFailure, Outcome: OutcomePanic, Err: out.err}
		case errors.Is(out.err, capability.ErrAuthRequired):
			return Result{Text: AuthRequiredMessage, Outcome: OutcomeAuthRequired, Err: out.err}
		case out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
			return Result{Text: TimeoutMessage, Outcome: OutcomeTimeout, Err: out.err}
		case out.err != nil:
			text := out.text
			if text == "" {
				text = GenericFailure
			}
			return Result{Text: text, Outcome: OutcomeFailed, Err: out.err}
		}
		return Result{Text: out.text, Outcome: OutcomeOK}

	case <-ctx.Done():
		return Result{Text: TimeoutMessage, Outcome: OutcomeTimeout, Err: fmt.Errorf("%s: %w", tool.Name, capability.ErrTimeout)}
	}
}

// Truncate shortens s to at most max bytes on a rune boundary, ending with
// TruncationMarker when anything was cut.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max - len(TruncationMarker)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationMarker
}
