// Package store persists the tables the context assembler and schedulers
// read and write: page transcriptions, reasoning/stroke logs, and the
// document/question/answer-key reference tables.
package store

import (
	"context"
	"time"
)

// PageTranscription is the current transcript for one (session, page).
type PageTranscription struct {
	SessionID     string
	Page          int
	Text          string
	Latex         string
	LineData      string // opaque JSON blob returned by the HRR adapter
	Confidence    float64
	IsHandwritten bool
	ContentMode   string // "math" | "diagram"
	UpdatedAt     time.Time
}

// StrokeEventType distinguishes the two stroke-log event kinds.
type StrokeEventType string

const (
	StrokeEventDraw  StrokeEventType = "draw"
	StrokeEventErase StrokeEventType = "erase"
)

// StrokeLog is one append-only entry in the raw stroke log.
type StrokeLog struct {
	ID         string
	SessionID  string
	Page       int
	EventType  StrokeEventType
	PointsJSON string // JSON-encoded []Stroke
	PartLabel  string
	ReceivedAt time.Time
}

// ReasoningLog is one append-only entry recording a reasoning decision,
// including silent decisions, for audit and for the "recent tutor history"
// context section.
type ReasoningLog struct {
	ID                string
	SessionID         string
	Page              int
	Action            string // "silent" | "speak"
	Level             *int
	ErrorType         string
	DelayMS           int
	Message           string
	InternalReasoning string
	PromptTokens      int
	CompletionTokens  int
	EstimatedCostUSD  float64
	Source            string // "" or "voice_question"
	CreatedAt         time.Time
}

// QuestionPart is one labeled sub-question, e.g. {"b", "Solve for x."}.
type QuestionPart struct {
	Label string
	Text  string
}

// Document identifies an ingested worksheet or assignment.
type Document struct {
	Ref  string
	Name string
}

// Question is a problem stem plus its ordered parts.
type Question struct {
	DocumentRef    string
	QuestionNumber int
	Stem           string
	Parts          []QuestionPart
}

// AnswerKeyPart is the answer for one labeled part.
type AnswerKeyPart struct {
	Label  string
	Answer string
}

// AnswerKey is the scored answer set for a question.
type AnswerKey struct {
	DocumentRef    string
	QuestionNumber int
	Parts          []AnswerKeyPart
}

// QuestionFigure is a reference image attached to a question.
type QuestionFigure struct {
	DocumentRef    string
	QuestionNumber int
	ImageBase64    string
	Caption        string
}

// SessionQuestionCache is the last-known document/question resolution for a
// session, used as a fallback when the live session registry has none (the
// registry holds only the current process's in-memory state).
type SessionQuestionCache struct {
	SessionID      string
	DocumentRef    string
	QuestionNumber int
	UpdatedAt      time.Time
}

// Store is the persistence boundary used by every scheduler and the context
// assembler. Implementations must be safe for concurrent use.
type Store interface {
	UpsertPageTranscription(ctx context.Context, rec PageTranscription) error
	GetPageTranscription(ctx context.Context, sessionID string, page int) (PageTranscription, bool, error)

	InsertStrokeLog(ctx context.Context, rec StrokeLog) error
	LastStrokeLog(ctx context.Context, sessionID string, page int) (StrokeLog, bool, error)
	ReplayStrokeLogs(ctx context.Context, sessionID string, page int) ([]StrokeLog, error)
	ClearStrokeLogs(ctx context.Context, sessionID string, page int) error

	InsertReasoningLog(ctx context.Context, rec ReasoningLog) error
	RecentReasoningLogs(ctx context.Context, sessionID string, page int, limit int) ([]ReasoningLog, error)

	GetDocument(ctx context.Context, ref string) (Document, bool, error)
	GetQuestion(ctx context.Context, documentRef string, questionNumber int) (Question, bool, error)
	GetAnswerKey(ctx context.Context, documentRef string, questionNumber int) (AnswerKey, bool, error)
	GetQuestionFigures(ctx context.Context, documentRef string, questionNumber int) ([]QuestionFigure, error)

	GetSessionQuestionCache(ctx context.Context, sessionID string) (SessionQuestionCache, bool, error)
	UpsertSessionQuestionCache(ctx context.Context, rec SessionQuestionCache) error

	Close() error
}
