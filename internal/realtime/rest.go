package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"granny-companion/internal/capability"
	"granny-companion/internal/protocol"
	"granny-companion/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.Clients(),
	}
	if s.deps.Controller != nil {
		resp["session"] = s.deps.Controller.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHighlight lets helper processes draw a highlight without a
// websocket.
func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	if s.deps.Highlighter == nil {
		writeError(w, http.StatusServiceUnavailable, "highlight not configured")
		return
	}

	var req protocol.HighlightPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "x, y, width and height must be numbers")
		return
	}
	if req.X == nil || req.Y == nil || req.Width == nil || req.Height == nil {
		writeError(w, http.StatusBadRequest, "x, y, width and height must be numbers")
		return
	}

	s.deps.Highlighter.Show(highlightRequest(req))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Highlighter != nil {
		s.deps.Highlighter.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Controller == nil {
		writeError(w, http.StatusServiceUnavailable, "session not configured")
		return
	}
	if err := s.deps.Controller.Start(r.Context()); err != nil {
		status := http.StatusBadGateway
		if capability.IsConfiguration(err) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Controller.Snapshot())
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if s.deps.Controller == nil {
		writeError(w, http.StatusServiceUnavailable, "session not configured")
		return
	}
	if err := s.deps.Controller.End(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoActiveSession) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Controller.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Controller == nil {
		writeError(w, http.StatusServiceUnavailable, "session not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot":   s.deps.Controller.Snapshot(),
		"transcript": s.deps.Controller.Transcript(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Controller == nil {
		writeJSON(w, http.StatusOK, []session.Record{})
		return
	}
	records := s.deps.Controller.History()
	if records == nil {
		records = []session.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleExecuteTool runs a catalog tool with the JSON body as its params.
func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	if s.deps.Controller == nil {
		writeError(w, http.StatusServiceUnavailable, "tools not configured")
		return
	}

	params := map[string]interface{}{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res := s.deps.Controller.ExecuteTool(r.Context(), r.PathValue("name"), params)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"text":    res.Text,
		"outcome": res.Outcome,
		"isError": res.IsError(),
	})
}
