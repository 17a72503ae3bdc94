// Package ttsregistry hands out single-use handles for the TTS streaming
// endpoint ("GET /tts/stream/{tts_id}"). A handle wraps either
// text known upfront or a live sentence queue fed by a streaming
// voice-question response; Take consumes it exactly once.
package ttsregistry

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TTL is how long an unconsumed handle is kept before the sweeper evicts
// it.
const TTL = 5 * time.Minute

var sentenceBoundary = regexp.MustCompile(`(?s)(?:[.!?])\s+`)

// SplitSentences splits text into sentence-sized chunks for per-sentence
// synthesis, mirroring the boundary rule used to flush the streaming
// voice-question producer.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	raw := sentenceBoundary.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Entry is the consumed shape of a registered handle: exactly one of Text
// or Sentences is non-nil.
type Entry struct {
	Text      string
	Sentences <-chan string
}

type record struct {
	entry     Entry
	createdAt time.Time
}

// Registry is a destructive-read handle store keyed by opaque tts_id.
type Registry struct {
	mu      sync.Mutex
	entries map[string]record
	now     func() time.Time
}

func New() *Registry {
	return &Registry{
		entries: make(map[string]record),
		now:     time.Now,
	}
}

// RegisterText registers text known entirely upfront and returns its
// handle id.
func (r *Registry) RegisterText(text string) string {
	id := uuid.New().String()
	r.mu.Lock()
	r.entries[id] = record{entry: Entry{Text: text}, createdAt: r.now()}
	r.mu.Unlock()
	return id
}

// RegisterStream registers a handle backed by a live sentence queue and
// returns the id plus the channel the caller should feed sentences into.
// The caller must close the channel when done to signal end of stream.
func (r *Registry) RegisterStream() (string, chan<- string) {
	id := uuid.New().String()
	ch := make(chan string, 16)
	r.mu.Lock()
	r.entries[id] = record{entry: Entry{Sentences: ch}, createdAt: r.now()}
	r.mu.Unlock()
	return id, ch
}

// Take destructively consumes a handle, returning false if it was never
// registered, already consumed, or swept for staleness.
func (r *Registry) Take(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	delete(r.entries, id)
	return rec.entry, true
}

// sweepStale evicts handles older than TTL that were never consumed.
func (r *Registry) sweepStale() int {
	cutoff := r.now().Add(-TTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, rec := range r.entries {
		if rec.createdAt.Before(cutoff) {
			delete(r.entries, id)
			evicted++
		}
	}
	return evicted
}

// RunSweeper periodically evicts stale handles until ctx is canceled. The
// onEvicted callback, if non-nil, receives the count evicted on each pass
// that evicted at least one handle (used for observability).
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, onEvicted func(int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.sweepStale(); n > 0 && onEvicted != nil {
				onEvicted(n)
			}
		}
	}
}

// Len reports the number of unconsumed handles, used by admin/debug
// surfaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
