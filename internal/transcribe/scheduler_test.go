package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reeftutor/reef/internal/hrr"
	"github.com/reeftutor/reef/internal/promptctx"
	"github.com/reeftutor/reef/internal/reasoning"
	"github.com/reeftutor/reef/internal/session"
	"github.com/reeftutor/reef/internal/store"
)

func newTestScheduler(t *testing.T, recognizeBody string) (*Scheduler, store.Store, *int32) {
	t.Helper()
	var recognizeCalls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "app-tokens"):
			w.Write([]byte(`{"strokes_session_id":"sess-1","app_token":"tok-1"}`))
		case strings.Contains(r.URL.Path, "strokes"):
			atomic.AddInt32(&recognizeCalls, 1)
			w.Write([]byte(recognizeBody))
		}
	}))
	t.Cleanup(srv.Close)

	hrrClient := hrr.New(srv.URL, "app-id", "app-key", 5*time.Second, time.Minute)
	st := store.NewInMemoryStore()
	erases := promptctx.NewEraseSnapshots()
	gate := reasoning.NewGate()

	return NewScheduler(hrrClient, st, erases, gate), st, &recognizeCalls
}

func writeStroke(t *testing.T, st store.Store, sessionID string, page int, eventType store.StrokeEventType, points []hrr.Point) {
	t.Helper()
	payload, err := json.Marshal([]hrr.Stroke{{Points: points}})
	if err != nil {
		t.Fatalf("marshal stroke: %v", err)
	}
	if err := st.InsertStrokeLog(context.Background(), store.StrokeLog{
		SessionID: sessionID, Page: page, EventType: eventType, PointsJSON: string(payload),
	}); err != nil {
		t.Fatalf("InsertStrokeLog() error = %v", err)
	}
}

func TestOnStrokeEventUpsertsTranscription(t *testing.T) {
	sched, st, calls := newTestScheduler(t, `{"latex_styled":"x = 2","confidence":0.95,"is_handwritten":true}`)
	writeStroke(t, st, "s1", 1, store.StrokeEventDraw, []hrr.Point{{X: 0, Y: 0}, {X: 1, Y: 1}})

	sched.OnStrokeEvent("s1", 1, session.ContentModeMath)
	time.Sleep(100 * time.Millisecond)

	tx, ok, err := st.GetPageTranscription(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("GetPageTranscription() error = %v", err)
	}
	if !ok || tx.Latex != "x = 2" {
		t.Fatalf("tx = %+v, ok = %v", tx, ok)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("recognize calls = %d, want 1", atomic.LoadInt32(calls))
	}
}

func TestOnStrokeEventSkipsRecognitionWhenHashUnchanged(t *testing.T) {
	sched, st, calls := newTestScheduler(t, `{"latex_styled":"x = 2","confidence":0.95,"is_handwritten":true}`)
	writeStroke(t, st, "s1", 1, store.StrokeEventDraw, []hrr.Point{{X: 0, Y: 0}})

	sched.OnStrokeEvent("s1", 1, session.ContentModeMath)
	time.Sleep(80 * time.Millisecond)

	sched.OnStrokeEvent("s1", 1, session.ContentModeMath) // no new strokes since last run
	time.Sleep(80 * time.Millisecond)

	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("recognize calls = %d, want 1 (unchanged hash should skip)", atomic.LoadInt32(calls))
	}
}

func TestOnStrokeEventDiagramModeSkipsHRR(t *testing.T) {
	sched, st, calls := newTestScheduler(t, `{"latex_styled":"x = 2","confidence":0.95,"is_handwritten":true}`)
	writeStroke(t, st, "s1", 1, store.StrokeEventDraw, []hrr.Point{{X: 0, Y: 0}})

	sched.OnStrokeEvent("s1", 1, session.ContentModeDiagram)
	time.Sleep(80 * time.Millisecond)

	tx, ok, err := st.GetPageTranscription(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("GetPageTranscription() error = %v", err)
	}
	if !ok || tx.ContentMode != "diagram" {
		t.Fatalf("tx = %+v, ok = %v", tx, ok)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("recognize calls = %d, want 0 for diagram mode", atomic.LoadInt32(calls))
	}
}

func TestOnStrokeEventCapturesEraseSnapshot(t *testing.T) {
	sched, st, _ := newTestScheduler(t, `{"latex_styled":"x = 2","confidence":0.95,"is_handwritten":true}`)
	ctx := context.Background()

	if err := st.UpsertPageTranscription(ctx, store.PageTranscription{SessionID: "s1", Page: 1, Text: "2x = 4"}); err != nil {
		t.Fatalf("UpsertPageTranscription() error = %v", err)
	}
	writeStroke(t, st, "s1", 1, store.StrokeEventErase, nil)

	sched.erases.Capture("s1", 1, "") // no-op sanity call; real capture happens inside run()
	sched.OnStrokeEvent("s1", 1, session.ContentModeMath)
	time.Sleep(80 * time.Millisecond)

	recent := sched.erases.Recent("s1", 1)
	found := false
	for _, r := range recent {
		if r == "2x = 4" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected pre-erase snapshot captured, got %v", recent)
	}
}

func TestVisibleLogsResetsOnErase(t *testing.T) {
	logs := []store.StrokeLog{
		{ID: "1", EventType: store.StrokeEventDraw},
		{ID: "2", EventType: store.StrokeEventDraw},
		{ID: "3", EventType: store.StrokeEventErase},
		{ID: "4", EventType: store.StrokeEventDraw},
	}
	visible := visibleLogs(logs)
	if len(visible) != 1 || visible[0].ID != "4" {
		t.Fatalf("visible = %+v, want only id 4", visible)
	}
}
