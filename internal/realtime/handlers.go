package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"granny-companion/internal/capability"
	"granny-companion/internal/protocol"
)

func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.TypeSessionStart:     s.sessionStart,
		protocol.TypeSessionEnd:       s.sessionEnd,
		protocol.TypeSessionInterrupt: s.sessionInterrupt,
		protocol.TypeSessionStatus:    s.sessionStatus,
		protocol.TypeSessionAudio:     s.sessionAudio,
		protocol.TypeToolExecute:      s.toolExecute,
		protocol.TypeSignedURL:        s.signedURL,
		protocol.TypeSessionConfig:    s.sessionConfig,
		protocol.TypeTTSSpeak:         s.ttsSpeak,
		protocol.TypeTTSCancel:        s.ttsCancel,
		protocol.TypeSTTTranscribe:    s.sttTranscribe,
		protocol.TypeVisionAnalyze:    s.visionAnalyze,
		protocol.TypeVisionCapture:    s.visionCapture,
		protocol.TypeHighlightShow:    s.highlightShow,
		protocol.TypeHighlightClear:   s.highlightClear,
		protocol.TypeHighlightFind:    s.highlightFind,
		protocol.TypeSystemLaunch:     s.systemLaunch,
		protocol.TypeSystemExecute:    s.systemExecute,
		protocol.TypeMemorySave:       s.memorySave,
		protocol.TypeMemoryRecent:     s.memoryRecent,
		protocol.TypeNudgeSend:        s.nudgeSend,
		protocol.TypeAuthStatus:       s.authStatus,
		protocol.TypeAuthConnect:      s.authConnect,
		protocol.TypeAuthSignOut:      s.authSignOut,
	}
}

func notConfigured(what string) error {
	return fmt.Errorf("%s: %w", what, errNotConfigured)
}

// payload decodes an already validated request payload.
func payload[T any](msg *protocol.Message) T {
	var v T
	_ = json.Unmarshal(msg.Payload, &v)
	return v
}

// Session

func (s *Server) sessionStart(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Controller == nil {
		return nil, notConfigured("session")
	}
	if err := s.deps.Controller.Start(ctx); err != nil {
		return nil, err
	}
	return s.deps.Controller.Snapshot(), nil
}

func (s *Server) sessionEnd(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Controller == nil {
		return nil, notConfigured("session")
	}
	// Ending outlives the window that asked for it.
	if err := s.deps.Controller.End(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	return s.deps.Controller.Snapshot(), nil
}

func (s *Server) sessionInterrupt(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Controller == nil {
		return nil, notConfigured("session")
	}
	s.deps.Controller.Interrupt()
	return nil, nil
}

func (s *Server) sessionStatus(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Controller == nil {
		return nil, notConfigured("session")
	}
	return s.deps.Controller.Snapshot(), nil
}

func (s *Server) sessionAudio(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Controller == nil {
		return nil, notConfigured("session")
	}
	p := payload[protocol.TranscribePayload](msg)
	return nil, s.deps.Controller.SendAudio(p.Audio)
}

func (s *Server) toolExecute(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Controller == nil {
		return nil, notConfigured("tools")
	}
	p := payload[protocol.ToolExecutePayload](msg)
	res := s.deps.Controller.ExecuteTool(ctx, p.Name, p.Params)
	return protocol.ToolResultPayload{Text: res.Text, IsError: res.IsError()}, nil
}

// Conversation

func (s *Server) signedURL(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Conversation == nil {
		return nil, notConfigured("conversation")
	}
	u, err := s.deps.Conversation.SignedURL(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.SignedURLPayload{SignedURL: u}, nil
}

func (s *Server) sessionConfig(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Conversation == nil {
		return nil, notConfigured("conversation")
	}
	return s.deps.Conversation.Config(), nil
}

// Speech

func (s *Server) ttsSpeak(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Controller == nil {
		return nil, notConfigured("speech")
	}
	p := payload[protocol.SpeakPayload](msg)
	audio, err := s.deps.Controller.Speak(ctx, p.Text, capability.VoiceOptions{VoiceID: p.VoiceID})
	if errors.Is(err, capability.ErrCancelled) {
		return protocol.SpeechPayload{Cancelled: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return protocol.SpeechPayload{Audio: audio}, nil
}

func (s *Server) ttsCancel(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Controller == nil {
		return nil, notConfigured("speech")
	}
	s.deps.Controller.CancelSpeech()
	return nil, nil
}

func (s *Server) sttTranscribe(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Transcriber == nil {
		return nil, notConfigured("transcription")
	}
	p := payload[protocol.TranscribePayload](msg)
	if p.Filename == "" {
		p.Filename = "recording.webm"
	}
	text, err := s.deps.Transcriber.Transcribe(ctx, p.Audio, p.Filename)
	if err != nil {
		return nil, err
	}
	return protocol.TextPayload{Text: text}, nil
}

// Vision and highlight

func (s *Server) visionAnalyze(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Screen == nil {
		return nil, notConfigured("vision")
	}
	p := payload[protocol.AnalyzePayload](msg)
	var (
		text string
		err  error
	)
	if p.Question == "" {
		text, err = s.deps.Screen.CaptureAndDescribe(ctx)
	} else {
		text, err = s.deps.Screen.Analyze(ctx, p.Question)
	}
	if err != nil {
		return nil, err
	}
	return protocol.TextPayload{Text: text}, nil
}

func (s *Server) visionCapture(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Screen == nil {
		return nil, notConfigured("vision")
	}
	text, err := s.deps.Screen.CaptureAndDescribe(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.TextPayload{Text: text}, nil
}

func highlightRequest(p protocol.HighlightPayload) capability.HighlightRequest {
	return capability.HighlightRequest{
		Box:         capability.Box{X: *p.X, Y: *p.Y, Width: *p.Width, Height: *p.Height},
		Label:       p.Label,
		Instruction: p.Instruction,
	}
}

func (s *Server) highlightShow(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Highlighter == nil {
		return nil, notConfigured("highlight")
	}
	s.deps.Highlighter.Show(highlightRequest(payload[protocol.HighlightPayload](msg)))
	return nil, nil
}

func (s *Server) highlightClear(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Highlighter == nil {
		return nil, notConfigured("highlight")
	}
	s.deps.Highlighter.Clear()
	return nil, nil
}

// highlightFind locates an element and highlights it when found.
func (s *Server) highlightFind(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Screen == nil || s.deps.Highlighter == nil {
		return nil, notConfigured("highlight")
	}
	p := payload[protocol.FindPayload](msg)
	loc, err := s.deps.Screen.Locate(ctx, p.Element)
	if err != nil {
		return nil, err
	}
	if loc.Found {
		s.deps.Highlighter.Show(capability.HighlightRequest{Box: loc.Box, Label: p.Element, Instruction: loc.Description})
	}
	return loc, nil
}

// System

func (s *Server) systemLaunch(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.System == nil {
		return nil, notConfigured("system")
	}
	p := payload[protocol.LaunchPayload](msg)
	return nil, s.deps.System.Launch(ctx, p.App)
}

func (s *Server) systemExecute(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.System == nil || !s.deps.AllowShell {
		return nil, notConfigured("shell commands")
	}
	p := payload[protocol.ExecutePayload](msg)
	out, err := s.deps.System.Execute(ctx, p.Command)
	if err != nil {
		return nil, err
	}
	return protocol.TextPayload{Text: out}, nil
}

// Memory

func (s *Server) memorySave(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Memory == nil {
		return nil, notConfigured("memory")
	}
	p := payload[protocol.MemorySavePayload](msg)
	role := s.deps.Role
	if p.Role != "" {
		role = capability.Role(p.Role)
	}
	err := s.deps.Memory.SaveMemory(ctx, capability.Memory{
		UserID:   role,
		Content:  p.Content,
		Category: capability.MemoryCategory(p.Category),
	})
	return nil, err
}

func (s *Server) memoryRecent(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Memory == nil {
		return nil, notConfigured("memory")
	}
	p := payload[protocol.MemoryRecentPayload](msg)
	role := s.deps.Role
	if p.Role != "" {
		role = capability.Role(p.Role)
	}
	memories, err := s.deps.Memory.RecentMemories(ctx, role, p.Limit)
	if err != nil {
		return nil, err
	}
	if memories == nil {
		memories = []capability.Memory{}
	}
	return memories, nil
}

func (s *Server) nudgeSend(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Memory == nil {
		return nil, notConfigured("memory")
	}
	p := payload[protocol.NudgePayload](msg)
	return nil, s.deps.Memory.SendNudge(ctx, capability.Nudge{
		Type:    capability.NudgeType(p.Type),
		Title:   p.Title,
		Message: p.Message,
		Context: p.Context,
	})
}

// Account

func (s *Server) authStatus(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Account == nil {
		return protocol.AuthPayload{}, nil
	}
	return protocol.AuthPayload{Authenticated: s.deps.Account.IsAuthenticated()}, nil
}

func (s *Server) authConnect(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Account == nil {
		return nil, notConfigured("google account")
	}
	if err := s.deps.Account.Connect(ctx); err != nil {
		return nil, err
	}
	s.pushAuth()
	return protocol.AuthPayload{Authenticated: s.deps.Account.IsAuthenticated()}, nil
}

func (s *Server) authSignOut(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	if s.deps.Account == nil {
		return nil, notConfigured("google account")
	}
	if err := s.deps.Account.SignOut(); err != nil {
		return nil, err
	}
	s.pushAuth()
	return protocol.AuthPayload{Authenticated: false}, nil
}
