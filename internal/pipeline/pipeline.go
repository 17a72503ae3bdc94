// Package pipeline is the thin coordination layer the HTTP handlers call
// into: it wires session lookups, stroke persistence, and the
// transcription/reasoning/voice-question schedulers together per call,
// replacing a single orchestrator goroutine with direct calls into each
// scheduler's own per-key concurrency control (the schedulers already
// serialize themselves per (session,page); the only lock here guards the
// table of pages each session touched, which Disconnect uses).
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/reeftutor/reef/internal/events"
	"github.com/reeftutor/reef/internal/hrr"
	"github.com/reeftutor/reef/internal/promptctx"
	"github.com/reeftutor/reef/internal/reasoning"
	"github.com/reeftutor/reef/internal/session"
	"github.com/reeftutor/reef/internal/store"
	"github.com/reeftutor/reef/internal/stt"
	"github.com/reeftutor/reef/internal/transcribe"
	"github.com/reeftutor/reef/internal/voiceq"
)

// Pipeline is the single entry point the HTTP layer calls for every
// externally-visible operation.
type Pipeline struct {
	sessions   *session.Manager
	store      store.Store
	transcribe *transcribe.Scheduler
	reasoning  *reasoning.Scheduler
	voiceq     *voiceq.Pipeline
	stt        *stt.Client
	broker     *events.Broker
	erases     *promptctx.EraseSnapshots

	mu    sync.Mutex
	pages map[string]map[int]struct{}
}

func New(
	sessions *session.Manager,
	st store.Store,
	transcribeSched *transcribe.Scheduler,
	reasoningSched *reasoning.Scheduler,
	voiceqPipeline *voiceq.Pipeline,
	sttClient *stt.Client,
	broker *events.Broker,
	erases *promptctx.EraseSnapshots,
) *Pipeline {
	return &Pipeline{
		sessions:   sessions,
		store:      st,
		transcribe: transcribeSched,
		reasoning:  reasoningSched,
		voiceq:     voiceqPipeline,
		stt:        sttClient,
		broker:     broker,
		erases:     erases,
		pages:      make(map[string]map[int]struct{}),
	}
}

func (p *Pipeline) trackPage(sessionID string, page int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pages[sessionID] == nil {
		p.pages[sessionID] = make(map[int]struct{})
	}
	p.pages[sessionID][page] = struct{}{}
}

func (p *Pipeline) takePages(sessionID string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.pages[sessionID]
	delete(p.pages, sessionID)
	pages := make([]int, 0, len(set))
	for page := range set {
		pages = append(pages, page)
	}
	return pages
}

// Connect registers a session and resolves its document/question, caching
// the resolution for later reconnects.
func (p *Pipeline) Connect(ctx context.Context, sessionID, documentRef string, questionNumber int) (session.Snapshot, error) {
	snap := p.sessions.Connect(session.ConnectRequest{
		SessionID:      sessionID,
		DocumentRef:    documentRef,
		QuestionNumber: questionNumber,
	})
	if documentRef != "" && questionNumber != 0 {
		if err := p.store.UpsertSessionQuestionCache(ctx, store.SessionQuestionCache{
			SessionID: sessionID, DocumentRef: documentRef, QuestionNumber: questionNumber,
		}); err != nil {
			return session.Snapshot{}, err
		}
	}
	return snap, nil
}

// Disconnect invalidates every page the session touched — cancelling any
// in-flight transcription, HRR session state, and reasoning task for each,
// and dropping its erase-snapshot history — removes the session's SSE
// subscribers, and drops the session record.
func (p *Pipeline) Disconnect(sessionID string) error {
	for _, page := range p.takePages(sessionID) {
		p.transcribe.InvalidateSession(sessionID, page)
		p.reasoning.InvalidateSession(sessionID, page)
		if p.erases != nil {
			p.erases.Clear(sessionID, page)
		}
	}
	if p.broker != nil {
		p.broker.RemoveSession(sessionID)
	}
	return p.sessions.Disconnect(sessionID)
}

// Stroke is the wire shape of one stroke event's points.
type Stroke = hrr.Stroke

// SubmitStroke persists a stroke event and kicks off the transcription
// and reasoning schedulers for the affected page.
func (p *Pipeline) SubmitStroke(ctx context.Context, sessionID string, page int, eventType store.StrokeEventType, strokes []Stroke, partLabel string, contentMode *session.ContentMode) error {
	p.trackPage(sessionID, page)
	if contentMode != nil {
		if err := p.sessions.SetContentMode(sessionID, contentMode); err != nil {
			return fmt.Errorf("set content mode: %w", err)
		}
	}
	if partLabel != "" {
		if err := p.sessions.SetActivePart(sessionID, &partLabel); err != nil {
			return fmt.Errorf("set active part: %w", err)
		}
	}

	payload, err := json.Marshal(strokes)
	if err != nil {
		return fmt.Errorf("marshal strokes: %w", err)
	}
	if err := p.store.InsertStrokeLog(ctx, store.StrokeLog{
		SessionID: sessionID, Page: page, EventType: eventType, PointsJSON: string(payload),
		PartLabel: partLabel, ReceivedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("insert stroke log: %w", err)
	}

	snap, err := p.sessions.Get(sessionID)
	mode := session.ContentModeMath
	if err == nil {
		mode = snap.ContentMode
	}
	if contentMode != nil {
		mode = *contentMode
	}
	if mode == "" {
		mode = session.ContentModeMath
	}

	p.transcribe.OnStrokeEvent(sessionID, page, mode)
	p.reasoning.Schedule(sessionID, page)
	return nil
}

// ClearPage wipes the stroke log for a page, used by the "clear" endpoint
// and by the simulation harness reset.
func (p *Pipeline) ClearPage(ctx context.Context, sessionID string, page int) error {
	return p.store.ClearStrokeLogs(ctx, sessionID, page)
}

// TranscribeAudio performs a blocking speech-to-text call.
func (p *Pipeline) TranscribeAudio(ctx context.Context, audio []byte) (string, error) {
	return p.stt.Transcribe(ctx, audio)
}

// AskQuestion transcribes the audio, then immediately kicks off the
// streaming voice-question answer and returns both the transcription and
// the client's TTS handle id.
func (p *Pipeline) AskQuestion(ctx context.Context, sessionID string, page int, audio []byte) (transcription, ttsID string, err error) {
	text, err := p.stt.Transcribe(ctx, audio)
	if err != nil {
		return "", "", err
	}
	ttsID = p.voiceq.AskQuestion(sessionID, page, text)
	return text, ttsID, nil
}

// DebugContext exposes the assembled reasoning context sections for a
// session/page, used by the debug preview endpoint.
func (p *Pipeline) DebugContext(ctx context.Context, assembler *promptctx.Assembler, sessionID string, page int) ([]promptctx.Section, error) {
	snap, err := p.sessions.Get(sessionID)
	if err != nil {
		snap = session.Snapshot{SessionID: sessionID}
	}
	return assembler.Build(ctx, snap, page)
}

// SimulateWrite injects a transcription directly, bypassing HRR, and
// schedules a reasoning pass exactly as a real stroke event would. Used
// by the scripted-scenario harness.
func (p *Pipeline) SimulateWrite(ctx context.Context, sessionID string, page int, text, partLabel string) error {
	p.trackPage(sessionID, page)
	if partLabel != "" {
		if err := p.sessions.SetActivePart(sessionID, &partLabel); err != nil {
			return fmt.Errorf("set active part: %w", err)
		}
	}
	if err := p.store.UpsertPageTranscription(ctx, store.PageTranscription{
		SessionID: sessionID, Page: page, Text: text, ContentMode: "math", UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("upsert simulated transcription: %w", err)
	}
	p.reasoning.Schedule(sessionID, page)
	return nil
}

// SimulateAsk answers a typed question through the same streaming pipeline
// voice questions use, skipping the STT round trip.
func (p *Pipeline) SimulateAsk(sessionID string, page int, question string) string {
	return p.voiceq.AskQuestion(sessionID, page, question)
}

// SimulateReset clears a page's stroke log and transcription, used to
// reset a scripted scenario between runs.
func (p *Pipeline) SimulateReset(ctx context.Context, sessionID string, page int) error {
	if err := p.store.ClearStrokeLogs(ctx, sessionID, page); err != nil {
		return fmt.Errorf("clear stroke logs: %w", err)
	}
	if err := p.store.UpsertPageTranscription(ctx, store.PageTranscription{
		SessionID: sessionID, Page: page, UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("reset transcription: %w", err)
	}
	p.transcribe.InvalidateSession(sessionID, page)
	return nil
}
