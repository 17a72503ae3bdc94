package httpapi

import (
	"net/http"
	"strconv"
	"strings"
)

type debugSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// handleDebugContext is a reasoning-context preview endpoint: it exposes
// the same sections the reasoning and voice-question pipelines would
// assemble, without running an LLM call.
func (s *Server) handleDebugContext(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	sections, err := s.pipeline.DebugContext(r.Context(), s.assembler, sessionID, page)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "debug_context_failed", err.Error())
		return
	}

	views := make([]debugSection, 0, len(sections))
	for _, sec := range sections {
		views = append(views, debugSection{Title: sec.Title, Content: sec.Content})
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "page": page, "sections": views})
}
