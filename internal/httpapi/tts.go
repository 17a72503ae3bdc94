package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/reeftutor/reef/internal/tts"
)

// handleTTSStream serves a registered handle's audio exactly once, either
// as a single PCM body (text handle) or chunked as sentences complete
// (stream handle). Sentences are synthesized one ahead of what's being
// written: the next sentence's Synthesize call is issued while the
// current sentence's bytes are still being flushed, so network latency on
// sentence k+1 overlaps with writing sentence k instead of stacking up.
func (s *Server) handleTTSStream(w http.ResponseWriter, r *http.Request) {
	ttsID := chi.URLParam(r, "tts_id")
	entry, ok := s.tts.Take(ttsID)
	if !ok {
		respondError(w, http.StatusNotFound, "handle_not_found", "tts handle unknown or already consumed")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Sample-Rate", strconv.Itoa(tts.SampleRateHz))
	w.Header().Set("X-Channels", strconv.Itoa(tts.Channels))
	w.Header().Set("X-Sample-Width", strconv.Itoa(tts.SampleWidth))
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	sentences := entry.Sentences
	if sentences == nil {
		sentences = sentenceChan(splitOrWhole(entry.Text))
	}
	s.streamSentences(r, w, flusher, sentences)
}

func splitOrWhole(text string) []string {
	if text == "" {
		return nil
	}
	return []string{text}
}

// sentenceChan adapts a pre-known slice of sentences to the channel shape
// streamSentences expects, so the upfront-text and live-stream handles
// share the same pipelining code.
func sentenceChan(sentences []string) <-chan string {
	ch := make(chan string, len(sentences))
	for _, s := range sentences {
		ch <- s
	}
	close(ch)
	return ch
}

type synthesisResult struct {
	pcm []byte
	err error
}

// streamSentences writes synthesized PCM for each sentence in order,
// prefetching the next sentence's synthesis while the current one's bytes
// are written and flushed.
func (s *Server) streamSentences(r *http.Request, w http.ResponseWriter, flusher http.Flusher, sentences <-chan string) {
	sentence, ok := <-sentences
	if !ok {
		return
	}
	pending := s.synthesizeAsync(r, sentence)

	for {
		next, hasNext := <-sentences
		var nextPending <-chan synthesisResult
		if hasNext {
			nextPending = s.synthesizeAsync(r, next)
		}

		res := <-pending
		if res.err == nil && len(res.pcm) > 0 {
			_, _ = w.Write(res.pcm)
			if flusher != nil {
				flusher.Flush()
			}
		}

		if !hasNext {
			return
		}
		pending = nextPending
	}
}

func (s *Server) synthesizeAsync(r *http.Request, sentence string) <-chan synthesisResult {
	out := make(chan synthesisResult, 1)
	if sentence == "" {
		out <- synthesisResult{}
		return out
	}
	go func() {
		pcm, err := s.ttsClient.Synthesize(r.Context(), sentence)
		out <- synthesisResult{pcm: pcm, err: err}
	}()
	return out
}
