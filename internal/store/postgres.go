package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists every table in the schema against PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS page_transcriptions (
			session_id TEXT NOT NULL,
			page INTEGER NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			latex TEXT NOT NULL DEFAULT '',
			line_data TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_handwritten BOOLEAN NOT NULL DEFAULT TRUE,
			content_mode TEXT NOT NULL DEFAULT 'math',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, page)
		);`,
		`CREATE TABLE IF NOT EXISTS stroke_logs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			page INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			points_json TEXT NOT NULL,
			part_label TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_stroke_logs_session_page ON stroke_logs (session_id, page, received_at);`,
		`CREATE TABLE IF NOT EXISTS reasoning_logs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			page INTEGER NOT NULL,
			action TEXT NOT NULL,
			level INTEGER,
			error_type TEXT NOT NULL DEFAULT '',
			delay_ms INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			internal_reasoning TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			estimated_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reasoning_logs_session_page_created ON reasoning_logs (session_id, page, created_at);`,
		`CREATE TABLE IF NOT EXISTS documents (
			ref TEXT PRIMARY KEY,
			name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS questions (
			document_ref TEXT NOT NULL,
			question_number INTEGER NOT NULL,
			stem TEXT NOT NULL DEFAULT '',
			parts_json TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (document_ref, question_number)
		);`,
		`CREATE TABLE IF NOT EXISTS answer_keys (
			document_ref TEXT NOT NULL,
			question_number INTEGER NOT NULL,
			parts_json TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (document_ref, question_number)
		);`,
		`CREATE TABLE IF NOT EXISTS question_figures (
			id TEXT PRIMARY KEY,
			document_ref TEXT NOT NULL,
			question_number INTEGER NOT NULL,
			image_base64 TEXT NOT NULL,
			caption TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_question_figures_doc_q ON question_figures (document_ref, question_number);`,
		`CREATE TABLE IF NOT EXISTS session_question_cache (
			session_id TEXT PRIMARY KEY,
			document_ref TEXT NOT NULL,
			question_number INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertPageTranscription(ctx context.Context, rec PageTranscription) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO page_transcriptions (session_id, page, text, latex, line_data, confidence, is_handwritten, content_mode, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (session_id, page) DO UPDATE SET
		   text=$3, latex=$4, line_data=$5, confidence=$6, is_handwritten=$7, content_mode=$8, updated_at=$9`,
		rec.SessionID, rec.Page, rec.Text, rec.Latex, rec.LineData, rec.Confidence, rec.IsHandwritten, rec.ContentMode, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert page transcription: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPageTranscription(ctx context.Context, sessionID string, page int) (PageTranscription, bool, error) {
	var rec PageTranscription
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, page, text, latex, line_data, confidence, is_handwritten, content_mode, updated_at
		 FROM page_transcriptions WHERE session_id=$1 AND page=$2`,
		sessionID, page,
	).Scan(&rec.SessionID, &rec.Page, &rec.Text, &rec.Latex, &rec.LineData, &rec.Confidence, &rec.IsHandwritten, &rec.ContentMode, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PageTranscription{}, false, nil
	}
	if err != nil {
		return PageTranscription{}, false, fmt.Errorf("get page transcription: %w", err)
	}
	return rec, true, nil
}

func (s *PostgresStore) InsertStrokeLog(ctx context.Context, rec StrokeLog) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stroke_logs (id, session_id, page, event_type, points_json, part_label, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.SessionID, rec.Page, string(rec.EventType), rec.PointsJSON, rec.PartLabel, rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stroke log: %w", err)
	}
	return nil
}

func (s *PostgresStore) LastStrokeLog(ctx context.Context, sessionID string, page int) (StrokeLog, bool, error) {
	var rec StrokeLog
	var eventType string
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, page, event_type, points_json, part_label, received_at
		 FROM stroke_logs WHERE session_id=$1 AND page=$2 ORDER BY received_at DESC LIMIT 1`,
		sessionID, page,
	).Scan(&rec.ID, &rec.SessionID, &rec.Page, &eventType, &rec.PointsJSON, &rec.PartLabel, &rec.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StrokeLog{}, false, nil
	}
	if err != nil {
		return StrokeLog{}, false, fmt.Errorf("get last stroke log: %w", err)
	}
	rec.EventType = StrokeEventType(eventType)
	return rec, true, nil
}

func (s *PostgresStore) ReplayStrokeLogs(ctx context.Context, sessionID string, page int) ([]StrokeLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, page, event_type, points_json, part_label, received_at
		 FROM stroke_logs WHERE session_id=$1 AND page=$2 ORDER BY received_at ASC`,
		sessionID, page,
	)
	if err != nil {
		return nil, fmt.Errorf("replay stroke logs: %w", err)
	}
	defer rows.Close()

	var out []StrokeLog
	for rows.Next() {
		var rec StrokeLog
		var eventType string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Page, &eventType, &rec.PointsJSON, &rec.PartLabel, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan stroke log row: %w", err)
		}
		rec.EventType = StrokeEventType(eventType)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stroke log rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ClearStrokeLogs(ctx context.Context, sessionID string, page int) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM stroke_logs WHERE session_id=$1 AND page=$2`, sessionID, page)
	if err != nil {
		return fmt.Errorf("clear stroke logs: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertReasoningLog(ctx context.Context, rec ReasoningLog) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reasoning_logs (id, session_id, page, action, level, error_type, delay_ms, message, internal_reasoning, prompt_tokens, completion_tokens, estimated_cost_usd, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.SessionID, rec.Page, rec.Action, rec.Level, rec.ErrorType, rec.DelayMS, rec.Message, rec.InternalReasoning,
		rec.PromptTokens, rec.CompletionTokens, rec.EstimatedCostUSD, rec.Source, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reasoning log: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentReasoningLogs(ctx context.Context, sessionID string, page int, limit int) ([]ReasoningLog, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, page, action, level, error_type, delay_ms, message, internal_reasoning, prompt_tokens, completion_tokens, estimated_cost_usd, source, created_at
		 FROM reasoning_logs WHERE session_id=$1 AND page=$2 ORDER BY created_at DESC LIMIT $3`,
		sessionID, page, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent reasoning logs: %w", err)
	}
	defer rows.Close()

	var out []ReasoningLog
	for rows.Next() {
		var rec ReasoningLog
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Page, &rec.Action, &rec.Level, &rec.ErrorType, &rec.DelayMS, &rec.Message,
			&rec.InternalReasoning, &rec.PromptTokens, &rec.CompletionTokens, &rec.EstimatedCostUSD, &rec.Source, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reasoning log row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reasoning log rows: %w", err)
	}
	// Reverse into chronological order for prompt assembly.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, ref string) (Document, bool, error) {
	var doc Document
	err := s.pool.QueryRow(ctx, `SELECT ref, name FROM documents WHERE ref=$1`, ref).Scan(&doc.Ref, &doc.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get document: %w", err)
	}
	return doc, true, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, documentRef string, questionNumber int) (Question, bool, error) {
	var q Question
	var partsJSON string
	err := s.pool.QueryRow(ctx,
		`SELECT document_ref, question_number, stem, parts_json FROM questions WHERE document_ref=$1 AND question_number=$2`,
		documentRef, questionNumber,
	).Scan(&q.DocumentRef, &q.QuestionNumber, &q.Stem, &partsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return Question{}, false, nil
	}
	if err != nil {
		return Question{}, false, fmt.Errorf("get question: %w", err)
	}
	if err := json.Unmarshal([]byte(partsJSON), &q.Parts); err != nil {
		return Question{}, false, fmt.Errorf("decode question parts: %w", err)
	}
	return q, true, nil
}

func (s *PostgresStore) GetAnswerKey(ctx context.Context, documentRef string, questionNumber int) (AnswerKey, bool, error) {
	var ak AnswerKey
	var partsJSON string
	err := s.pool.QueryRow(ctx,
		`SELECT document_ref, question_number, parts_json FROM answer_keys WHERE document_ref=$1 AND question_number=$2`,
		documentRef, questionNumber,
	).Scan(&ak.DocumentRef, &ak.QuestionNumber, &partsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return AnswerKey{}, false, nil
	}
	if err != nil {
		return AnswerKey{}, false, fmt.Errorf("get answer key: %w", err)
	}
	if err := json.Unmarshal([]byte(partsJSON), &ak.Parts); err != nil {
		return AnswerKey{}, false, fmt.Errorf("decode answer key parts: %w", err)
	}
	return ak, true, nil
}

func (s *PostgresStore) GetQuestionFigures(ctx context.Context, documentRef string, questionNumber int) ([]QuestionFigure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document_ref, question_number, image_base64, caption FROM question_figures WHERE document_ref=$1 AND question_number=$2`,
		documentRef, questionNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("query question figures: %w", err)
	}
	defer rows.Close()

	var out []QuestionFigure
	for rows.Next() {
		var fig QuestionFigure
		if err := rows.Scan(&fig.DocumentRef, &fig.QuestionNumber, &fig.ImageBase64, &fig.Caption); err != nil {
			return nil, fmt.Errorf("scan question figure row: %w", err)
		}
		out = append(out, fig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question figure rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetSessionQuestionCache(ctx context.Context, sessionID string) (SessionQuestionCache, bool, error) {
	var rec SessionQuestionCache
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, document_ref, question_number, updated_at FROM session_question_cache WHERE session_id=$1`,
		sessionID,
	).Scan(&rec.SessionID, &rec.DocumentRef, &rec.QuestionNumber, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionQuestionCache{}, false, nil
	}
	if err != nil {
		return SessionQuestionCache{}, false, fmt.Errorf("get session question cache: %w", err)
	}
	return rec, true, nil
}

func (s *PostgresStore) UpsertSessionQuestionCache(ctx context.Context, rec SessionQuestionCache) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_question_cache (session_id, document_ref, question_number, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE SET document_ref=$2, question_number=$3, updated_at=$4`,
		rec.SessionID, rec.DocumentRef, rec.QuestionNumber, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session question cache: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
