package httpapi

import (
	"context"
	"net/http"
	"time"
)

type adminSessionView struct {
	SessionID      string `json:"session_id"`
	DocumentRef    string `json:"document_ref"`
	QuestionNumber int    `json:"question_number"`
	ActivePart     string `json:"active_part"`
	ContentMode    string `json:"content_mode"`
	LastSeen       string `json:"last_seen"`
	Subscribers    int    `json:"subscribers"`
}

// handleAdminSessions is the read-only session introspection surface,
// upgraded from a plain GET into the websocket live feed below while
// keeping this one-shot snapshot for tooling that just wants a poll.
func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.adminSnapshot())
}

func (s *Server) adminSnapshot() []adminSessionView {
	snaps := s.sessions.ListActive()
	views := make([]adminSessionView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, adminSessionView{
			SessionID:      snap.SessionID,
			DocumentRef:    snap.DocumentRef,
			QuestionNumber: snap.QuestionNumber,
			ActivePart:     snap.ActivePart,
			ContentMode:    string(snap.ContentMode),
			LastSeen:       snap.LastSeen.UTC().Format(time.RFC3339),
			Subscribers:    s.broker.SubscriberCount(snap.SessionID),
		})
	}
	return views
}

// handleAdminSessionsWS pushes the session snapshot over a websocket on
// connect and then every 2 seconds, whether or not it changed, since the
// session registry has no native change feed.
func (s *Server) handleAdminSessionsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(s.adminSnapshot()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(s.adminSnapshot()); err != nil {
				return
			}
		}
	}
}
