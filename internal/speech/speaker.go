package speech

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"granny-companion/internal/capability"
	"granny-companion/internal/observability"
)

const chunkSize = 4 << 10

type flight struct {
	cancelled atomic.Bool
	cancel    context.CancelFunc
}

// Speaker serializes synthesis: a new Speak cancels the one in flight.
// The superseded call returns capability.ErrCancelled.
type Speaker struct {
	synth  capability.Synthesizer
	sink   observability.Sink
	logger *slog.Logger

	mu      sync.Mutex
	current *flight
}

func NewSpeaker(synth capability.Synthesizer, sink observability.Sink) *Speaker {
	if sink == nil {
		sink = observability.Nop{}
	}
	return &Speaker{
		synth:  synth,
		sink:   sink,
		logger: observability.Component("speech"),
	}
}

// Speak synthesizes text and returns the complete audio.
func (s *Speaker) Speak(ctx context.Context, text string, opts capability.VoiceOptions) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f := &flight{cancel: cancel}
	s.mu.Lock()
	if prev := s.current; prev != nil {
		prev.cancelled.Store(true)
		prev.cancel()
	}
	s.current = f
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.current == f {
			s.current = nil
		}
		s.mu.Unlock()
	}()

	start := time.Now()
	audio, err := s.stream(ctx, f, text, opts)

	ev := observability.Event{
		Name:     observability.EventSpeechSynthesized,
		Duration: time.Since(start),
		Outcome:  "ok",
	}
	switch {
	case errors.Is(err, capability.ErrCancelled):
		ev.Outcome = "cancelled"
		s.logger.Debug("speech superseded")
	case err != nil:
		ev.Outcome = "failed"
		ev.Err = err
		s.logger.Warn("speech synthesis failed", "error", err)
	}
	s.sink.Emit(ev)
	return audio, err
}

func (s *Speaker) stream(ctx context.Context, f *flight, text string, opts capability.VoiceOptions) ([]byte, error) {
	body, err := s.synth.Synthesize(ctx, text, opts)
	if err != nil {
		if f.cancelled.Load() {
			return nil, capability.ErrCancelled
		}
		return nil, err
	}
	defer body.Close()

	var out bytes.Buffer
	chunk := make([]byte, chunkSize)
	for {
		if f.cancelled.Load() {
			return nil, capability.ErrCancelled
		}
		n, err := body.Read(chunk)
		out.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if f.cancelled.Load() {
				return nil, capability.ErrCancelled
			}
			return nil, capability.Transient("read speech stream", err)
		}
	}
	if f.cancelled.Load() {
		return nil, capability.ErrCancelled
	}
	return out.Bytes(), nil
}

// Cancel stops the synthesis in flight, if any.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.cancelled.Store(true)
		s.current.cancel()
		s.current = nil
	}
}

// Speaking reports whether a synthesis is in flight.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}
