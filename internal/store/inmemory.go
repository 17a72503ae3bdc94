package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pageKey struct {
	sessionID string
	page      int
}

// InMemoryStore is an in-process Store for local/dev use and for the
// simulation/harness endpoints, which never need a live database.
type InMemoryStore struct {
	mu              sync.RWMutex
	transcriptions  map[pageKey]PageTranscription
	strokes         map[pageKey][]StrokeLog
	reasoningLogs   map[pageKey][]ReasoningLog
	documents       map[string]Document
	questions       map[pageKey]Question
	answerKeys      map[pageKey]AnswerKey
	questionFigures map[pageKey][]QuestionFigure
	sessionCache    map[string]SessionQuestionCache
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		transcriptions:  make(map[pageKey]PageTranscription),
		strokes:         make(map[pageKey][]StrokeLog),
		reasoningLogs:   make(map[pageKey][]ReasoningLog),
		documents:       make(map[string]Document),
		questions:       make(map[pageKey]Question),
		answerKeys:      make(map[pageKey]AnswerKey),
		questionFigures: make(map[pageKey][]QuestionFigure),
		sessionCache:    make(map[string]SessionQuestionCache),
	}
}

func (s *InMemoryStore) UpsertPageTranscription(_ context.Context, rec PageTranscription) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcriptions[pageKey{rec.SessionID, rec.Page}] = rec
	return nil
}

func (s *InMemoryStore) GetPageTranscription(_ context.Context, sessionID string, page int) (PageTranscription, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.transcriptions[pageKey{sessionID, page}]
	return rec, ok, nil
}

func (s *InMemoryStore) InsertStrokeLog(_ context.Context, rec StrokeLog) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pageKey{rec.SessionID, rec.Page}
	s.strokes[key] = append(s.strokes[key], rec)
	return nil
}

func (s *InMemoryStore) LastStrokeLog(_ context.Context, sessionID string, page int) (StrokeLog, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.strokes[pageKey{sessionID, page}]
	if len(arr) == 0 {
		return StrokeLog{}, false, nil
	}
	return arr[len(arr)-1], true, nil
}

func (s *InMemoryStore) ReplayStrokeLogs(_ context.Context, sessionID string, page int) ([]StrokeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.strokes[pageKey{sessionID, page}]
	out := make([]StrokeLog, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) ClearStrokeLogs(_ context.Context, sessionID string, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strokes, pageKey{sessionID, page})
	return nil
}

func (s *InMemoryStore) InsertReasoningLog(_ context.Context, rec ReasoningLog) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pageKey{rec.SessionID, rec.Page}
	s.reasoningLogs[key] = append(s.reasoningLogs[key], rec)
	return nil
}

func (s *InMemoryStore) RecentReasoningLogs(_ context.Context, sessionID string, page int, limit int) ([]ReasoningLog, error) {
	if limit <= 0 {
		limit = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.reasoningLogs[pageKey{sessionID, page}]
	if len(arr) == 0 {
		return nil, nil
	}
	sorted := make([]ReasoningLog, len(arr))
	copy(sorted, arr)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	if limit > len(sorted) {
		limit = len(sorted)
	}
	return sorted[len(sorted)-limit:], nil
}

func (s *InMemoryStore) GetDocument(_ context.Context, ref string) (Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[ref]
	return doc, ok, nil
}

func (s *InMemoryStore) GetQuestion(_ context.Context, documentRef string, questionNumber int) (Question, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[pageKey{documentRef, questionNumber}]
	return q, ok, nil
}

func (s *InMemoryStore) GetAnswerKey(_ context.Context, documentRef string, questionNumber int) (AnswerKey, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ak, ok := s.answerKeys[pageKey{documentRef, questionNumber}]
	return ak, ok, nil
}

func (s *InMemoryStore) GetQuestionFigures(_ context.Context, documentRef string, questionNumber int) ([]QuestionFigure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]QuestionFigure(nil), s.questionFigures[pageKey{documentRef, questionNumber}]...), nil
}

func (s *InMemoryStore) GetSessionQuestionCache(_ context.Context, sessionID string) (SessionQuestionCache, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessionCache[sessionID]
	return rec, ok, nil
}

func (s *InMemoryStore) UpsertSessionQuestionCache(_ context.Context, rec SessionQuestionCache) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionCache[rec.SessionID] = rec
	return nil
}

// SeedDocument lets tests and the simulation harness preload reference data
// without a database.
func (s *InMemoryStore) SeedDocument(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.Ref] = doc
}

func (s *InMemoryStore) SeedQuestion(q Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[pageKey{q.DocumentRef, q.QuestionNumber}] = q
}

func (s *InMemoryStore) SeedAnswerKey(ak AnswerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answerKeys[pageKey{ak.DocumentRef, ak.QuestionNumber}] = ak
}

func (s *InMemoryStore) SeedQuestionFigure(fig QuestionFigure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pageKey{fig.DocumentRef, fig.QuestionNumber}
	s.questionFigures[key] = append(s.questionFigures[key], fig)
}

func (s *InMemoryStore) Close() error { return nil }
