package httpapi

import (
	"net/http"
	"strings"
)

// Simulation endpoints inject transcriptions and questions directly,
// bypassing HRR/STT, for scripted scenario replay.

type simulationStartRequest struct {
	SessionID      string `json:"session_id"`
	DocumentName   string `json:"document_name"`
	QuestionNumber int    `json:"question_number"`
}

func (s *Server) handleSimulationStart(w http.ResponseWriter, r *http.Request) {
	var req simulationStartRequest
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
	respondJSON(w, http.StatusOK, map[string]any{"session_id": snap.SessionID})
}

type simulationWriteRequest struct {
	SessionID string `json:"session_id"`
	Page      int    `json:"page"`
	Text      string `json:"text"`
	PartLabel string `json:"part_label"`
}

func (s *Server) handleSimulationWrite(w http.ResponseWriter, r *http.Request) {
	var req simulationWriteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.pipeline.SimulateWrite(r.Context(), req.SessionID, req.Page, req.Text, req.PartLabel); err != nil {
		respondError(w, http.StatusInternalServerError, "simulate_write_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type simulationAskRequest struct {
	SessionID string `json:"session_id"`
	Page      int    `json:"page"`
	Question  string `json:"question"`
}

func (s *Server) handleSimulationAsk(w http.ResponseWriter, r *http.Request) {
	var req simulationAskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ttsID := s.pipeline.SimulateAsk(req.SessionID, req.Page, req.Question)
	respondJSON(w, http.StatusOK, map[string]string{"tts_id": ttsID})
}

type simulationResetRequest struct {
	SessionID string `json:"session_id"`
	Page      int    `json:"page"`
}

func (s *Server) handleSimulationReset(w http.ResponseWriter, r *http.Request) {
	var req simulationResetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.pipeline.SimulateReset(r.Context(), req.SessionID, req.Page); err != nil {
		respondError(w, http.StatusInternalServerError, "simulate_reset_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
