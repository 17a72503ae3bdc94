package httpapi

import (
	"net/http"
	"strings"

	"github.com/reeftutor/reef/internal/hrr"
	"github.com/reeftutor/reef/internal/session"
	"github.com/reeftutor/reef/internal/store"
)

type strokesConnectRequest struct {
	SessionID      string `json:"session_id"`
	DocumentName   string `json:"document_name"`
	QuestionNumber int    `json:"question_number"`
}

func (s *Server) handleStrokesConnect(w http.ResponseWriter, r *http.Request) {
	var req strokesConnectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	snap, err := s.pipeline.Connect(r.Context(), req.SessionID, req.DocumentName, req.QuestionNumber)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "connect_failed", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.ObserveSessionEvent("connect")
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":      snap.SessionID,
		"document_name":   snap.DocumentRef,
		"question_number": snap.QuestionNumber,
	})
}

type strokesDisconnectRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleStrokesDisconnect(w http.ResponseWriter, r *http.Request) {
	var req strokesDisconnectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.pipeline.Disconnect(req.SessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.ObserveSessionEvent("disconnect")
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type strokesRequest struct {
	SessionID   string       `json:"session_id"`
	Page        int          `json:"page"`
	Strokes     []hrr.Stroke `json:"strokes"`
	EventType   string       `json:"event_type"`
	PartLabel   string       `json:"part_label"`
	ContentMode string       `json:"content_mode"`
}

func (s *Server) handleStrokes(w http.ResponseWriter, r *http.Request) {
	var req strokesRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	eventType := store.StrokeEventDraw
	switch req.EventType {
	case "", "draw":
		eventType = store.StrokeEventDraw
	case "erase":
		eventType = store.StrokeEventErase
	default:
		respondError(w, http.StatusBadRequest, "invalid_event_type", "event_type must be draw or erase")
		return
	}

	var contentMode *session.ContentMode
	switch req.ContentMode {
	case "":
	case "math":
		mode := session.ContentModeMath
		contentMode = &mode
	case "diagram":
		mode := session.ContentModeDiagram
		contentMode = &mode
	default:
		respondError(w, http.StatusBadRequest, "invalid_content_mode", "content_mode must be math or diagram")
		return
	}

	if err := s.pipeline.SubmitStroke(r.Context(), req.SessionID, req.Page, eventType, req.Strokes, req.PartLabel, contentMode); err != nil {
		respondError(w, http.StatusInternalServerError, "submit_stroke_failed", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveStrokeEvent(string(eventType))
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type strokesClearRequest struct {
	SessionID string `json:"session_id"`
	Page      int    `json:"page"`
}

func (s *Server) handleStrokesClear(w http.ResponseWriter, r *http.Request) {
	var req strokesClearRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.pipeline.ClearPage(r.Context(), req.SessionID, req.Page); err != nil {
		respondError(w, http.StatusInternalServerError, "clear_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
