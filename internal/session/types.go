package session

import "time"

// ContentMode is the handwriting mode the transcription scheduler applies
// to a page: math content goes through HRR/LaTeX recognition, diagram
// content is never recognized.
type ContentMode string

const (
	ContentModeMath    ContentMode = "math"
	ContentModeDiagram ContentMode = "diagram"
)

// ConnectRequest is the payload for connecting (or reconnecting) a session.
type ConnectRequest struct {
	SessionID      string
	DocumentRef    string
	QuestionNumber int
}

// Snapshot is a point-in-time copy of a session record. Get always returns
// one of these, never a live reference, so callers cannot mutate registry
// state without going through an explicit Manager operation.
type Snapshot struct {
	SessionID      string
	DocumentRef    string
	QuestionNumber int
	ActivePart     string // empty means unset
	ContentMode    ContentMode
	LastSeen       time.Time
}
