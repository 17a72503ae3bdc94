package voiceq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/reeftutor/reef/internal/events"
	"github.com/reeftutor/reef/internal/llm"
	"github.com/reeftutor/reef/internal/promptctx"
	"github.com/reeftutor/reef/internal/session"
	"github.com/reeftutor/reef/internal/store"
	"github.com/reeftutor/reef/internal/ttsregistry"
)

func sseChunk(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]string{"content": content}},
		},
	})
	return "data: " + string(payload) + "\n\n"
}

func newTestPipeline(t *testing.T, body string) (*Pipeline, *events.Broker, store.Store) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	llmClient := llm.New(srv.URL, "key", "test-model", 5*time.Second)
	st := store.NewInMemoryStore()
	assembler := promptctx.NewAssembler(st, promptctx.NewEraseSnapshots())
	broker := events.NewBroker()
	tts := ttsregistry.New()
	sessions := session.NewManager()

	return NewPipeline(llmClient, st, assembler, broker, tts, sessions, "You are a quiet tutor."), broker, st
}

func TestAskQuestionPublishesImmediateStreamHandle(t *testing.T) {
	body := sseChunk(`{"message": "Try substituting x equals two."}`) + "data: [DONE]\n\n"
	p, broker, _ := newTestPipeline(t, body)

	ch, unsubscribe := broker.Subscribe("s1")
	defer unsubscribe()

	ttsID := p.AskQuestion("s1", 1, "what do I do next?")
	if ttsID == "" {
		t.Fatalf("expected non-empty tts id")
	}

	select {
	case evt := <-ch:
		var data map[string]string
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if data["tts_id"] != ttsID {
			t.Fatalf("tts_id = %q, want %q", data["tts_id"], ttsID)
		}
		if data["message"] != "" {
			t.Fatalf("expected empty message on initial push, got %q", data["message"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for immediate reasoning event")
	}
}

func TestProduceStreamsSentencesAndClosesFeed(t *testing.T) {
	body := sseChunk(`{"message": "Try substituting x equals two. `) +
		sseChunk(`Then check your work."}`) +
		"data: [DONE]\n\n"
	p, _, st := newTestPipeline(t, body)

	feed := make(chan string, 8)
	done := make(chan struct{})
	go func() {
		p.produce("s1", 1, "what next?", feed)
		close(done)
	}()

	var sentences []string
	for s := range feed {
		sentences = append(sentences, s)
	}
	<-done

	if len(sentences) < 1 {
		t.Fatalf("expected at least one sentence, got %v", sentences)
	}
	if sentences[0] != "Try substituting x equals two." {
		t.Fatalf("first sentence = %q", sentences[0])
	}

	logs, err := st.RecentReasoningLogs(context.Background(), "s1", 1, 5)
	if err != nil {
		t.Fatalf("RecentReasoningLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].Source != "voice_question" {
		t.Fatalf("logs = %+v, want one voice_question entry", logs)
	}
}

func TestFlushSentencesSplitsOnBoundaryWithTrailingSpace(t *testing.T) {
	feed := make(chan string, 4)
	remainder := flushSentences("First sentence. Second one! Third ", feed)
	close(feed)

	var got []string
	for s := range feed {
		got = append(got, s)
	}
	want := []string{"First sentence.", "Second one!"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
	if remainder != "Third " {
		t.Fatalf("remainder = %q, want %q", remainder, "Third ")
	}
}
