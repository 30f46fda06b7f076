// Package memory turns a finished conversation into short durable memories.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"granny-companion/internal/capability"
	"granny-companion/internal/observability"
	"granny-companion/internal/transcript"

	"github.com/oklog/ulid/v2"
)

const (
	// MinTurns is the transcript length extraction requires to be exceeded.
	MinTurns = 2

	// Sentinel is the summarizer's answer when nothing is worth keeping.
	Sentinel = "Nothing noteworthy."
)

const promptTemplate = `You are helping a family stay close to an elderly relative.
Read this conversation between the relative ("user") and their companion ("agent").
Extract 1-2 short, concrete sentences worth telling the family: achievements,
emotional state, or life updates. Write one sentence per line, in the third person,
with no bullets or numbering.
If nothing qualifies, reply with exactly: ` + Sentinel + `

Conversation:
%s`

// Pipeline summarizes transcripts and persists the result.
type Pipeline struct {
	summarizer capability.Summarizer
	store      capability.MemoryStore
	role       capability.Role
	sink       observability.Sink
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a pipeline saving memories under role.
func New(summarizer capability.Summarizer, store capability.MemoryStore, role capability.Role, sink observability.Sink) *Pipeline {
	if sink == nil {
		sink = observability.Nop{}
	}
	return &Pipeline{
		summarizer: summarizer,
		store:      store,
		role:       role,
		sink:       sink,
		logger:     observability.Component("memory"),
		now:        time.Now,
	}
}

// Prompt renders the summarization request for turns.
func Prompt(turns []transcript.Turn) string {
	return fmt.Sprintf(promptTemplate, transcript.Format(turns))
}

// Lines splits a summarizer response into memory sentences. The sentinel and
// blank lines yield nothing.
func Lines(summary string) []string {
	summary = strings.TrimSpace(summary)
	if summary == "" || summary == Sentinel {
		return nil
	}

	var out []string
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == Sentinel {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Extract summarizes turns and saves one daily_update memory per line. It
// does nothing for MinTurns turns or fewer. A summarizer failure counts as
// the sentinel. The returned error reports storage failures only; memories
// saved before the failure are still returned.
func (p *Pipeline) Extract(ctx context.Context, turns []transcript.Turn) ([]capability.Memory, error) {
	if len(turns) <= MinTurns {
		return nil, nil
	}

	log := p.logger.With("session_id", observability.SessionID(ctx), "turns", len(turns))

	summary, err := p.summarizer.Summarize(ctx, Prompt(turns))
	if err != nil {
		log.Warn("summarize conversation failed", "error", err)
		summary = Sentinel
	}

	lines := Lines(summary)
	if len(lines) == 0 {
		log.Info("nothing noteworthy in conversation")
		return nil, nil
	}

	saved := make([]capability.Memory, 0, len(lines))
	for _, line := range lines {
		m := capability.Memory{
			ID:        ulid.Make().String(),
			UserID:    p.role,
			Content:   line,
			Category:  capability.CategoryDailyUpdate,
			CreatedAt: p.now().UTC(),
		}
		if err := p.store.SaveMemory(ctx, m); err != nil {
			p.emit(ctx, len(saved), err)
			return saved, fmt.Errorf("save memory: %w", err)
		}
		saved = append(saved, m)
	}

	log.Info("memories saved", "count", len(saved))
	p.emit(ctx, len(saved), nil)
	return saved, nil
}

func (p *Pipeline) emit(ctx context.Context, n int, err error) {
	p.sink.Emit(observability.Event{
		Name:      observability.EventMemoriesSaved,
		SessionID: observability.SessionID(ctx),
		Count:     n,
		Err:       err,
	})
}
