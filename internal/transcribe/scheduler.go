// Package transcribe implements the handwriting transcription scheduler:
// exactly one in-flight HRR recognition per (session, page), cancelled and
// restarted on every stroke event, with diagram short-circuiting, erase
// snapshotting, and stroke-hash dedup so an unchanged visible set never
// re-bills the recognizer.
package transcribe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/reeftutor/reef/internal/hrr"
	"github.com/reeftutor/reef/internal/reasoning"
	"github.com/reeftutor/reef/internal/promptctx"
	"github.com/reeftutor/reef/internal/session"
	"github.com/reeftutor/reef/internal/store"
)

// DiagramConfidenceThreshold mirrors the recognizer's own threshold; kept
// here only for callers that want to surface it, classification itself
// happens inside the hrr adapter.
const DiagramConfidenceThreshold = 0.8

func key(sessionID string, page int) string {
	return fmt.Sprintf("%s:%d", sessionID, page)
}

type taskSlot struct {
	cancel   context.CancelFunc
	lastHash string
}

// Scheduler owns the per-(session,page) transcription task table.
type Scheduler struct {
	hrr    *hrr.Client
	store  store.Store
	erases *promptctx.EraseSnapshots
	gate   *reasoning.Gate

	mu    sync.Mutex
	tasks map[string]*taskSlot
}

func NewScheduler(hrrClient *hrr.Client, st store.Store, erases *promptctx.EraseSnapshots, gate *reasoning.Gate) *Scheduler {
	return &Scheduler{
		hrr:    hrrClient,
		store:  st,
		erases: erases,
		gate:   gate,
		tasks:  make(map[string]*taskSlot),
	}
}

// OnStrokeEvent cancels any in-flight transcription for (sessionID, page)
// and starts a fresh one.
func (s *Scheduler) OnStrokeEvent(sessionID string, page int, contentMode session.ContentMode) {
	k := key(sessionID, page)

	s.mu.Lock()
	sl, ok := s.tasks[k]
	if !ok {
		sl = &taskSlot{}
		s.tasks[k] = sl
	}
	if sl.cancel != nil {
		sl.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	sl.cancel = cancel
	s.mu.Unlock()

	s.gate.Reset(k)

	go s.run(ctx, sessionID, page, contentMode, k, sl)
}

func (s *Scheduler) run(ctx context.Context, sessionID string, page int, contentMode session.ContentMode, k string, sl *taskSlot) {
	defer s.gate.Signal(k)

	if contentMode == session.ContentModeDiagram {
		s.store.UpsertPageTranscription(ctx, store.PageTranscription{
			SessionID: sessionID, Page: page, ContentMode: "diagram", UpdatedAt: time.Now().UTC(),
		})
		return
	}

	if last, ok, err := s.store.LastStrokeLog(ctx, sessionID, page); err == nil && ok && last.EventType == store.StrokeEventErase {
		if tx, ok2, err2 := s.store.GetPageTranscription(ctx, sessionID, page); err2 == nil && ok2 && tx.Text != "" {
			s.erases.Capture(sessionID, page, tx.Text)
		}
	}

	logs, err := s.store.ReplayStrokeLogs(ctx, sessionID, page)
	if err != nil {
		return
	}
	visible := visibleLogs(logs)
	if len(visible) == 0 {
		return
	}

	strokeHash := hashVisible(visible)
	s.mu.Lock()
	unchanged := sl.lastHash == strokeHash
	s.mu.Unlock()
	if unchanged {
		return
	}

	strokes, err := decodeStrokes(visible)
	if err != nil || len(strokes) == 0 {
		return
	}

	handle, err := s.hrr.OpenSession(ctx, sessionID, page)
	if err != nil {
		return
	}
	result, err := s.hrr.Recognize(ctx, handle, strokes)
	if err != nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	mode := "math"
	if result.IsDiagram {
		mode = "diagram"
	}

	if err := s.store.UpsertPageTranscription(ctx, store.PageTranscription{
		SessionID:     sessionID,
		Page:          page,
		Text:          result.Text,
		Latex:         result.Latex,
		LineData:      result.LineDataJSON,
		Confidence:    result.Confidence,
		IsHandwritten: result.IsHandwritten,
		ContentMode:   mode,
		UpdatedAt:     time.Now().UTC(),
	}); err != nil {
		return
	}

	s.mu.Lock()
	sl.lastHash = strokeHash
	s.mu.Unlock()
}

// InvalidateSession drops task and HRR session state for a disconnecting
// session, called by the pipeline on disconnect.
func (s *Scheduler) InvalidateSession(sessionID string, page int) {
	k := key(sessionID, page)
	s.mu.Lock()
	if sl, ok := s.tasks[k]; ok {
		if sl.cancel != nil {
			sl.cancel()
		}
		delete(s.tasks, k)
	}
	s.mu.Unlock()
	s.hrr.InvalidateSession(sessionID, page)
}

// visibleLogs replays the ordered draw/erase log: every erase resets the
// visible set to empty, every draw appends.
func visibleLogs(logs []store.StrokeLog) []store.StrokeLog {
	var visible []store.StrokeLog
	for _, l := range logs {
		switch l.EventType {
		case store.StrokeEventErase:
			visible = nil
		case store.StrokeEventDraw:
			visible = append(visible, l)
		}
	}
	return visible
}

// hashVisible computes a deterministic hash of the visible stroke set so
// an unchanged set never re-triggers a recognizer call.
func hashVisible(visible []store.StrokeLog) string {
	h := sha256.New()
	for _, l := range visible {
		h.Write([]byte(l.ID))
		h.Write([]byte(":"))
		h.Write([]byte(l.PointsJSON))
		h.Write([]byte("\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func decodeStrokes(visible []store.StrokeLog) ([]hrr.Stroke, error) {
	var all []hrr.Stroke
	for _, l := range visible {
		var strokes []hrr.Stroke
		if err := json.Unmarshal([]byte(l.PointsJSON), &strokes); err != nil {
			return nil, fmt.Errorf("decode stroke log %s: %w", l.ID, err)
		}
		all = append(all, strokes...)
	}
	return all, nil
}
