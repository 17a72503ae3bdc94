package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/reeftutor/reef/internal/config"
	"github.com/reeftutor/reef/internal/events"
	"github.com/reeftutor/reef/internal/hrr"
	"github.com/reeftutor/reef/internal/llm"
	"github.com/reeftutor/reef/internal/observability"
	"github.com/reeftutor/reef/internal/pipeline"
	"github.com/reeftutor/reef/internal/promptctx"
	"github.com/reeftutor/reef/internal/reasoning"
	"github.com/reeftutor/reef/internal/session"
	"github.com/reeftutor/reef/internal/store"
	"github.com/reeftutor/reef/internal/stt"
	"github.com/reeftutor/reef/internal/transcribe"
	"github.com/reeftutor/reef/internal/tts"
	"github.com/reeftutor/reef/internal/ttsregistry"
	"github.com/reeftutor/reef/internal/voiceq"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "app-tokens"):
			w.Write([]byte(`{"strokes_session_id":"sess-1","app_token":"tok-1"}`))
		case strings.Contains(r.URL.Path, "/v3/strokes"):
			w.Write([]byte(`{"latex_styled":"x = 2","confidence":0.95,"is_handwritten":true}`))
		case r.URL.Path == "/transcribe":
			w.Write([]byte(`{"text":"what do I do next"}`))
		case r.URL.Path == "/speech":
			w.Write([]byte("RIFF-PCM-BYTES"))
		default:
			w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
		}
	}))
	t.Cleanup(upstream.Close)

	st := store.NewInMemoryStore()
	sessions := session.NewManager()
	erases := promptctx.NewEraseSnapshots()
	gate := reasoning.NewGate()
	broker := events.NewBroker()
	ttsReg := ttsregistry.New()
	assembler := promptctx.NewAssembler(st, erases)
	metrics := observability.NewMetrics("test_httpapi_" + time.Now().Format("150405.000000000"))

	hrrClient := hrr.New(upstream.URL, "app-id", "app-key", 5*time.Second, time.Minute)
	llmClient := llm.New(upstream.URL, "key", "test-model", 5*time.Second)
	sttClient := stt.New(upstream.URL, "key", 5*time.Second)
	ttsClient := tts.New(upstream.URL+"/speech", "key", "af_bella", 5*time.Second)

	transcribeSched := transcribe.NewScheduler(hrrClient, st, erases, gate)
	reasoningSched := reasoning.NewScheduler(llmClient, st, assembler, broker, ttsReg, sessions, gate, metrics)
	voiceqPipeline := voiceq.NewPipeline(llmClient, st, assembler, broker, ttsReg, sessions, "You are a quiet tutor.")

	p := pipeline.New(sessions, st, transcribeSched, reasoningSched, voiceqPipeline, sttClient, broker, erases)
	srv := New(config.Config{}, p, sessions, st, broker, ttsReg, ttsClient, assembler, metrics)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func TestStrokesConnectDisconnect(t *testing.T) {
	ts, _ := newTestServer(t)

	res := postJSON(t, ts.URL+"/strokes/connect", map[string]any{"session_id": "s1"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("connect status = %d", res.StatusCode)
	}

	res2 := postJSON(t, ts.URL+"/strokes/disconnect", map[string]any{"session_id": "s1"})
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("disconnect status = %d", res2.StatusCode)
	}
}

func TestStrokesSubmitUpsertsTranscription(t *testing.T) {
	ts, st := newTestServer(t)

	postJSON(t, ts.URL+"/strokes/connect", map[string]any{"session_id": "s1"}).Body.Close()

	res := postJSON(t, ts.URL+"/strokes", map[string]any{
		"session_id": "s1",
		"page":       1,
		"event_type": "draw",
		"strokes": []map[string]any{
			{"points": []map[string]float64{{"x": 0, "y": 0}, {"x": 1, "y": 1}}},
		},
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("strokes status = %d", res.StatusCode)
	}

	time.Sleep(100 * time.Millisecond)
	tx, ok, err := st.GetPageTranscription(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("GetPageTranscription() error = %v", err)
	}
	if !ok || tx.Latex != "x = 2" {
		t.Fatalf("tx = %+v, ok = %v", tx, ok)
	}
}

func TestEventsStreamDeliversReasoningEvent(t *testing.T) {
	ts, _ := newTestServer(t)

	postJSON(t, ts.URL+"/simulation/start", map[string]any{"session_id": "s1"}).Body.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/events?session_id=s1", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	client := &http.Client{Timeout: 2 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET /events error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	postJSON(t, ts.URL+"/simulation/ask", map[string]any{"session_id": "s1", "page": 1, "question": "what next?"}).Body.Close()

	scanner := bufio.NewScanner(res.Body)
	found := false
	for scanner.Scan() {
		if scanner.Text() == "event: reasoning" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected a reasoning event on the stream")
	}
}

func TestTTSStreamServesAndConsumesHandleOnce(t *testing.T) {
	ts, _ := newTestServer(t)

	res := postJSON(t, ts.URL+"/simulation/ask", map[string]any{"session_id": "s1", "page": 1, "question": "what next?"})
	defer res.Body.Close()
	var parsed map[string]string
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ttsID := parsed["tts_id"]
	if ttsID == "" {
		t.Fatalf("expected non-empty tts_id")
	}

	first, err := http.Get(ts.URL + "/tts/stream/" + ttsID)
	if err != nil {
		t.Fatalf("GET tts stream error = %v", err)
	}
	defer first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first fetch status = %d", first.StatusCode)
	}
	if first.Header.Get("X-Sample-Rate") != "24000" {
		t.Fatalf("X-Sample-Rate = %q", first.Header.Get("X-Sample-Rate"))
	}

	second, err := http.Get(ts.URL + "/tts/stream/" + ttsID)
	if err != nil {
		t.Fatalf("GET tts stream error = %v", err)
	}
	defer second.Body.Close()
	if second.StatusCode != http.StatusNotFound {
		t.Fatalf("second fetch status = %d, want 404 (destructive consumption)", second.StatusCode)
	}
}

func TestVoiceTranscribeReturnsText(t *testing.T) {
	ts, _ := newTestServer(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "audio.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("fake-audio-bytes"))
	writer.WriteField("session_id", "s1")
	writer.WriteField("page", "1")
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/voice/transcribe", &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /voice/transcribe error = %v", err)
	}
	defer res.Body.Close()

	var parsed map[string]string
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if parsed["transcription"] != "what do I do next" {
		t.Fatalf("transcription = %q", parsed["transcription"])
	}
}

func TestSimulationWriteAndDebugContext(t *testing.T) {
	ts, _ := newTestServer(t)

	postJSON(t, ts.URL+"/simulation/start", map[string]any{"session_id": "s1"}).Body.Close()
	postJSON(t, ts.URL+"/simulation/write", map[string]any{
		"session_id": "s1", "page": 1, "text": "2x = 4",
	}).Body.Close()

	res, err := http.Get(ts.URL + "/v1/debug/context?session_id=s1&page=1")
	if err != nil {
		t.Fatalf("GET debug context error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("debug context status = %d", res.StatusCode)
	}

	var parsed map[string]any
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	sections, _ := parsed["sections"].([]any)
	if len(sections) == 0 {
		t.Fatalf("expected at least one section, got %+v", parsed)
	}
}

func TestAdminSessionsListsConnectedSession(t *testing.T) {
	ts, _ := newTestServer(t)
	postJSON(t, ts.URL+"/strokes/connect", map[string]any{"session_id": "s1"}).Body.Close()

	res, err := http.Get(ts.URL + "/v1/admin/sessions")
	if err != nil {
		t.Fatalf("GET admin sessions error = %v", err)
	}
	defer res.Body.Close()

	var views []adminSessionView
	if err := json.NewDecoder(res.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, v := range views {
		if v.SessionID == "s1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected s1 in admin snapshot, got %+v", views)
	}
}

func TestPerfLatencyReturnsSnapshot(t *testing.T) {
	ts, _ := newTestServer(t)
	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET perf latency error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, res.StatusCode)
		}
	}
}
