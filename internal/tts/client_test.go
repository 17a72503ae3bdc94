package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/reeftutor/reef/internal/reliability"
)

func TestSynthesizeReturnsPCMBytes(t *testing.T) {
	want := []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE}
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(want)
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "af_bella", 5*time.Second)
	pcm, err := c.Synthesize(context.Background(), "Try substituting x equals two.")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(pcm) != len(want) {
		t.Fatalf("pcm len = %d, want %d", len(pcm), len(want))
	}
	if gotBody["response_format"] != "pcm" {
		t.Fatalf("response_format = %v, want pcm", gotBody["response_format"])
	}
	if gotBody["voice"] != "af_bella" {
		t.Fatalf("voice = %v, want af_bella", gotBody["voice"])
	}
	if gotBody["input"] != "Try substituting x equals two." {
		t.Fatalf("input = %v", gotBody["input"])
	}
}

func TestSynthesizeUnconfiguredIsUnavailable(t *testing.T) {
	c := New("", "", "af_bella", 5*time.Second)
	_, err := c.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error")
	}
	ttsErr, ok := err.(*Error)
	if !ok || ttsErr.Kind != reliability.KindUnavailable || ttsErr.Kind.Retryable() {
		t.Fatalf("expected non-retryable Unavailable error, got %v", err)
	}
}

func TestSynthesizeClassifiesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream overloaded"))
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "af_bella", 5*time.Second)
	_, err := c.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error")
	}
	ttsErr, ok := err.(*Error)
	if !ok || !ttsErr.Kind.Retryable() {
		t.Fatalf("expected retryable error, got %v", err)
	}
}
