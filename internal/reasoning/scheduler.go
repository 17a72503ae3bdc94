// Package reasoning implements the adaptive tutoring decision loop: a
// debounce timer per (session, page), a wait for the transcription to
// settle, a single LLM call, and a deliver step that either publishes
// immediately or schedules a cancellable delayed speak, reshaped around
// explicit goroutines and a mutex-guarded slot map instead of a
// module-level task table.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/reeftutor/reef/internal/events"
	"github.com/reeftutor/reef/internal/llm"
	"github.com/reeftutor/reef/internal/observability"
	"github.com/reeftutor/reef/internal/promptctx"
	"github.com/reeftutor/reef/internal/session"
	"github.com/reeftutor/reef/internal/store"
	"github.com/reeftutor/reef/internal/ttsregistry"
)

const (
	DebounceInterval = 1500 * time.Millisecond
	WaitCeiling      = 10 * time.Second
	LegacyMinDelayMS = 10000
	MaxDelayMS       = 15000

	verdictPassMarker = "VERDICT: PASS"
)

const systemPrompt = `You are a quiet math tutor watching a student's handwritten work update in real time.

Default to silence. A pause almost always means the student is thinking, not stuck. Only speak when there is a genuine impasse or a clear conceptual error the student has had time and work to demonstrate, and you have not already raised it recently (check tutor history). Never speak just because the work doesn't yet match the answer key.

When you do speak: one short sentence, plain spoken English (say "x squared" not "x^2"), the lightest intervention that could help (a question before a hint, a hint before the answer), and never the final answer itself. Acknowledge a corrected mistake or a completed problem briefly and specifically, never with empty praise.

Respond with internal_reasoning explaining your decision, action ("silent" or "speak"), an optional level (1-4) and error_type ("procedural", "conceptual", or "strategic") when flagging an error, delay_ms (0 unless giving the student a moment before speaking), and message.`

var responseSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "internal_reasoning": {"type": "string"},
    "action": {"type": "string", "enum": ["speak", "silent"]},
    "level": {"type": ["integer", "null"], "enum": [1, 2, 3, 4, null]},
    "error_type": {"type": ["string", "null"], "enum": ["procedural", "conceptual", "strategic", null]},
    "delay_ms": {"type": "integer", "minimum": 0},
    "message": {"type": "string"}
  },
  "required": ["internal_reasoning", "action", "level", "error_type", "delay_ms", "message"],
  "additionalProperties": false
}`)

// Decision is the normalized outcome of one reasoning call.
type Decision struct {
	Action            string
	Level             *int
	ErrorType         string
	DelayMS           int
	Message           string
	InternalReasoning string
}

type rawResponse struct {
	InternalReasoning string `json:"internal_reasoning"`
	Action            string `json:"action"`
	Level             *int   `json:"level"`
	ErrorType         string `json:"error_type"`
	DelayMS           int    `json:"delay_ms"`
	Message           string `json:"message"`
}

func key(sessionID string, page int) string {
	return fmt.Sprintf("%s:%d", sessionID, page)
}

type slot struct {
	generation     uint64
	cancelDebounce context.CancelFunc
	cancelDelay    context.CancelFunc
}

// Scheduler runs the debounce → wait → reason → deliver pipeline for
// every (session, page) key, serializing each key's own state machine
// while letting independent keys run concurrently.
type Scheduler struct {
	llm       *llm.Client
	store     store.Store
	assembler *promptctx.Assembler
	broker    *events.Broker
	tts       *ttsregistry.Registry
	sessions  *session.Manager
	gate      *Gate
	metrics   *observability.Metrics

	debounce    time.Duration
	waitCeiling time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

func NewScheduler(
	llmClient *llm.Client,
	st store.Store,
	assembler *promptctx.Assembler,
	broker *events.Broker,
	tts *ttsregistry.Registry,
	sessions *session.Manager,
	gate *Gate,
	metrics *observability.Metrics,
) *Scheduler {
	return &Scheduler{
		llm:         llmClient,
		store:       st,
		assembler:   assembler,
		broker:      broker,
		tts:         tts,
		sessions:    sessions,
		gate:        gate,
		metrics:     metrics,
		debounce:    DebounceInterval,
		waitCeiling: WaitCeiling,
		slots:       make(map[string]*slot),
	}
}

// Schedule debounces a reasoning run for (sessionID, page). New strokes
// supersede any pending debounce or delayed speak for the same key.
func (s *Scheduler) Schedule(sessionID string, page int) {
	k := key(sessionID, page)

	s.mu.Lock()
	sl, ok := s.slots[k]
	if !ok {
		sl = &slot{}
		s.slots[k] = sl
	}
	sl.generation++
	gen := sl.generation
	if sl.cancelDelay != nil {
		sl.cancelDelay()
		sl.cancelDelay = nil
	}
	if sl.cancelDebounce != nil {
		sl.cancelDebounce()
	}
	ctx, cancel := context.WithCancel(context.Background())
	sl.cancelDebounce = cancel
	s.mu.Unlock()

	go s.debounceAndRun(ctx, sessionID, page, k, gen)
}

func (s *Scheduler) debounceAndRun(ctx context.Context, sessionID string, page int, k string, gen uint64) {
	timer := time.NewTimer(s.debounce)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.gate.Wait(ctx, k, s.waitCeiling)
	if ctx.Err() != nil {
		return
	}

	decision, err := s.run(ctx, sessionID, page)
	if err != nil {
		return
	}

	s.mu.Lock()
	sl := s.slots[k]
	superseded := sl == nil || sl.generation != gen
	s.mu.Unlock()
	if superseded {
		return
	}

	s.deliver(sessionID, k, gen, decision)
}

func (s *Scheduler) run(ctx context.Context, sessionID string, page int) (Decision, error) {
	snap, err := s.sessions.Get(sessionID)
	if err != nil {
		snap = session.Snapshot{SessionID: sessionID}
	}

	sections, err := s.assembler.Build(ctx, snap, page)
	if err != nil {
		return Decision{}, err
	}
	if len(sections) == 0 {
		return Decision{Action: "silent", Message: "no context available"}, nil
	}

	prompt := promptctx.Flatten(sections)
	raw, usage, err := s.llm.Generate(ctx, llm.Request{
		System:      systemPrompt,
		User:        prompt,
		Schema:      responseSchema,
		SchemaName:  "tutor_decision",
		Temperature: 0.3,
	})
	if err != nil {
		return Decision{}, err
	}

	var parsed rawResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		parsed = rawResponse{Action: "silent", Message: raw}
	}
	decision := normalize(parsed)

	if err := s.store.InsertReasoningLog(ctx, store.ReasoningLog{
		SessionID:         sessionID,
		Page:              page,
		Action:            decision.Action,
		Level:             decision.Level,
		ErrorType:         decision.ErrorType,
		DelayMS:           decision.DelayMS,
		Message:           decision.Message,
		InternalReasoning: decision.InternalReasoning,
		PromptTokens:      usage.PromptTokens,
		CompletionTokens:  usage.CompletionTokens,
		EstimatedCostUSD:  estimateCost(usage),
	}); err != nil {
		return Decision{}, err
	}

	if s.metrics != nil {
		level := "none"
		if decision.Level != nil {
			level = strconv.Itoa(*decision.Level)
		}
		s.metrics.ObserveReasoningAction(decision.Action, level)
	}

	return decision, nil
}

// normalize applies the legacy-action mapping and the VERDICT: PASS
// override on top of the raw model output.
func normalize(r rawResponse) Decision {
	action := r.Action
	delay := r.DelayMS

	if action == "delayed_speak" {
		action = "speak"
		if delay < LegacyMinDelayMS {
			delay = LegacyMinDelayMS
		}
	}
	if delay > MaxDelayMS {
		delay = MaxDelayMS
	}
	if delay < 0 {
		delay = 0
	}

	if action == "silent" && strings.Contains(r.InternalReasoning, verdictPassMarker) && strings.TrimSpace(r.Message) != "" {
		action = "speak"
		delay = 0
	}

	return Decision{
		Action:            action,
		Level:             r.Level,
		ErrorType:         r.ErrorType,
		DelayMS:           delay,
		Message:           r.Message,
		InternalReasoning: r.InternalReasoning,
	}
}

// InvalidateSession cancels any in-flight debounce or delayed speak for
// (sessionID, page) and removes its slot, so a disconnect leaves no trace
// of the session in s.slots and no reasoning_logs row or publish follows
// from a task scheduled just before disconnect.
func (s *Scheduler) InvalidateSession(sessionID string, page int) {
	k := key(sessionID, page)

	s.mu.Lock()
	sl, ok := s.slots[k]
	if ok {
		delete(s.slots, k)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if sl.cancelDebounce != nil {
		sl.cancelDebounce()
	}
	if sl.cancelDelay != nil {
		sl.cancelDelay()
	}
}

func (s *Scheduler) deliver(sessionID string, k string, gen uint64, decision Decision) {
	if decision.Action != "speak" {
		return
	}
	if decision.DelayMS <= 0 {
		s.publish(sessionID, decision.Message)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	sl := s.slots[k]
	if sl == nil || sl.generation != gen {
		s.mu.Unlock()
		cancel()
		return
	}
	sl.cancelDelay = cancel
	s.mu.Unlock()

	go func() {
		timer := time.NewTimer(time.Duration(decision.DelayMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		sl := s.slots[k]
		fire := sl != nil && sl.generation == gen
		if fire {
			sl.cancelDelay = nil
		}
		s.mu.Unlock()

		if fire {
			s.publish(sessionID, decision.Message)
		}
	}()
}

func (s *Scheduler) publish(sessionID, message string) {
	ttsID := s.tts.RegisterText(message)
	s.broker.Publish(sessionID, "reasoning", map[string]string{
		"action":  "speak",
		"message": message,
		"tts_id":  ttsID,
	})
}

func estimateCost(u llm.Usage) float64 {
	const promptCostPerToken = 0.50 / 1_000_000
	const completionCostPerToken = 3.00 / 1_000_000
	return float64(u.PromptTokens)*promptCostPerToken + float64(u.CompletionTokens)*completionCostPerToken
}
