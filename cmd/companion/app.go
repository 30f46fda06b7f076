package main

import (
	"context"
	"fmt"
	"log/slog"

	"granny-companion/internal/capability"
	"granny-companion/internal/config"
	"granny-companion/internal/convai"
	"granny-companion/internal/gemini"
	"granny-companion/internal/google"
	"granny-companion/internal/highlight"
	"granny-companion/internal/memory"
	"granny-companion/internal/observability"
	"granny-companion/internal/realtime"
	"granny-companion/internal/session"
	"granny-companion/internal/speech"
	"granny-companion/internal/store"
	"granny-companion/internal/system"
	"granny-companion/internal/tools"
	"granny-companion/internal/vision"
)

// app is the fully wired companion.
type app struct {
	cfg        *config.Config
	store      *store.Store
	metrics    *observability.Metrics
	hub        *realtime.Hub
	highlights *highlight.Manager
	auth       *google.Auth
	registry   *tools.Registry
	controller *session.Controller
	server     *realtime.Server
}

// buildApp wires every collaborator from cfg. Providers whose keys are
// missing are left out and reported once.
func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics("companion")
	sink := observability.Multi{observability.SlogSink{Logger: log}, metrics}
	role := capability.Role(cfg.UserRole)
	sys := system.New(nil)

	var (
		screen     capability.ScreenReader
		summarizer capability.Summarizer
	)
	gem, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Warn("vision and memory extraction disabled", "error", err)
	} else {
		screen = vision.NewReader(vision.NewCommandCapturer(system.OSRunner{}), gem)
		summarizer = gem
	}

	var (
		speaker     session.SpeechOutput
		transcriber capability.Transcriber
	)
	if cfg.ElevenLabsAPIKey != "" {
		el := speech.NewClient(cfg.ElevenLabsAPIKey, speech.WithDefaultVoice(cfg.VoiceID))
		speaker = speech.NewSpeaker(el, sink)
		transcriber = el
	} else {
		log.Warn("speech disabled", "missing", "ELEVENLABS_API_KEY")
	}

	var extractor session.MemoryExtractor
	if summarizer != nil {
		extractor = memory.New(summarizer, st, role, sink)
	}

	hub := realtime.NewHub()
	highlights := highlight.New(hub, cfg.HighlightTTL)

	auth := google.NewAuth(
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleRedirectPort,
		google.NewTokenStore(cfg.GoogleTokenPath),
		sys.OpenURL,
	)

	deps := tools.Deps{
		Screen:     screen,
		Highlight:  highlights,
		System:     sys,
		Calendar:   google.NewCalendar(auth),
		Mail:       google.NewMailbox(auth),
		Account:    auth,
		Store:      st,
		AllowShell: cfg.AllowShell,
	}
	registry, err := tools.NewDefault(deps, tools.WithTimeout(cfg.ToolTimeout), tools.WithSink(sink))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	creds := &convai.Credentials{
		Endpoint: cfg.SignedURLEndpoint,
		AgentID:  cfg.ElevenLabsAgentID,
		APIKey:   cfg.ElevenLabsAPIKey,
		VoiceID:  cfg.VoiceID,
	}

	controller := session.NewController(session.Options{
		Transport:   convai.NewTransport(),
		Credentials: creds,
		Registry:    registry,
		Screen:      screen,
		Window:      hub,
		Highlighter: highlights,
		Memory:      extractor,
		Speech:      speaker,
		Sink:        sink,
	})

	server := realtime.New(hub, realtime.Deps{
		Controller:   controller,
		Highlighter:  highlights,
		Screen:       screen,
		System:       sys,
		Transcriber:  transcriber,
		Memory:       st,
		Account:      auth,
		Conversation: creds,
		Role:         role,
		AllowShell:   cfg.AllowShell,
		Metrics:      metrics.Handler(),
	})

	return &app{
		cfg:        cfg,
		store:      st,
		metrics:    metrics,
		hub:        hub,
		highlights: highlights,
		auth:       auth,
		registry:   registry,
		controller: controller,
		server:     server,
	}, nil
}

// close releases what buildApp opened. The controller must already be shut down.
func (a *app) close() {
	a.highlights.Shutdown()
	a.store.Close()
}
