package promptctx

import "sync"

// eraseRingCapacity bounds how many pre-erase snapshots are retained per
// page, matching the "what did they just erase" recency window the
// reasoning prompt needs without growing unbounded.
const eraseRingCapacity = 3

type eraseKey struct {
	sessionID string
	page      int
}

// EraseSnapshots retains the text of a page immediately before each erase
// event, so the reasoning context can reference recently-abandoned work
// ("I tried X, then erased it and tried Y") even though the current
// transcription no longer contains it.
type EraseSnapshots struct {
	mu   sync.Mutex
	ring map[eraseKey][]string
}

func NewEraseSnapshots() *EraseSnapshots {
	return &EraseSnapshots{ring: make(map[eraseKey][]string)}
}

// Capture appends text to the ring for (sessionID, page), dropping the
// oldest entry once the ring exceeds capacity.
func (e *EraseSnapshots) Capture(sessionID string, page int, text string) {
	if text == "" {
		return
	}
	k := eraseKey{sessionID, page}
	e.mu.Lock()
	defer e.mu.Unlock()
	ring := append(e.ring[k], text)
	if len(ring) > eraseRingCapacity {
		ring = ring[len(ring)-eraseRingCapacity:]
	}
	e.ring[k] = ring
}

// Recent returns the retained pre-erase snapshots for (sessionID, page),
// oldest first.
func (e *EraseSnapshots) Recent(sessionID string, page int) []string {
	k := eraseKey{sessionID, page}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.ring[k]))
	copy(out, e.ring[k])
	return out
}

// Clear drops all retained snapshots for (sessionID, page), called on
// disconnect.
func (e *EraseSnapshots) Clear(sessionID string, page int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.ring, eraseKey{sessionID, page})
}
