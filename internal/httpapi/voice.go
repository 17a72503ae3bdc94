package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"
)

const maxAudioUpload = 20 << 20 // 20 MiB, matches a few minutes of raw mic audio

func parseAudioMultipart(r *http.Request) (sessionID string, page int, audio []byte, err error) {
	if err = r.ParseMultipartForm(maxAudioUpload); err != nil {
		return "", 0, nil, err
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		return "", 0, nil, err
	}
	defer file.Close()

	audio, err = io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		return "", 0, nil, err
	}

	sessionID = strings.TrimSpace(r.FormValue("session_id"))
	page, _ = strconv.Atoi(r.FormValue("page"))
	return sessionID, page, audio, nil
}

func (s *Server) handleVoiceTranscribe(w http.ResponseWriter, r *http.Request) {
	sessionID, _, audio, err := parseAudioMultipart(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	text, err := s.pipeline.TranscribeAudio(r.Context(), audio)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]string{"transcription": ""})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"transcription": text})
}

func (s *Server) handleVoiceQuestion(w http.ResponseWriter, r *http.Request) {
	sessionID, page, audio, err := parseAudioMultipart(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	transcription, _, err := s.pipeline.AskQuestion(r.Context(), sessionID, page, audio)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]string{"transcription": ""})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"transcription": transcription})
}
