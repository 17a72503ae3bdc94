// Package voiceq implements the voice-question pipeline: a stream-backed
// TTS handle is registered and pushed to the client immediately, then a
// background producer streams the LLM response, extracts the JSON
// "message" field as it arrives, and feeds completed sentences into the
// handle's channel as soon as each sentence boundary is detected, well
// before the model finishes generating.
package voiceq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/reeftutor/reef/internal/events"
	"github.com/reeftutor/reef/internal/llm"
	"github.com/reeftutor/reef/internal/promptctx"
	"github.com/reeftutor/reef/internal/session"
	"github.com/reeftutor/reef/internal/store"
	"github.com/reeftutor/reef/internal/ttsregistry"
)

// StreamIdleTimeout bounds the whole streaming call. The adapter adds only
// its http.Client timeout, which also covers the whole request; no deadline
// is enforced on the gap between two deltas.
const StreamIdleTimeout = 30 * time.Second

const messageMarker = `"message": "`
const messageMarkerCompact = `"message":"`

const systemPromptAddendum = `

The student just asked a question out loud; you must answer it, this is not a moment for silence. Assume they barely know the topic and use plain words. For "what do I do next" questions, give only the very next small step. For "is this right" questions, check their work against the answer key and say yes or no, then briefly explain why. Keep it to one or two spoken sentences.`

var responseSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "internal_reasoning": {"type": "string"},
    "action": {"type": "string", "enum": ["speak", "silent"]},
    "message": {"type": "string"}
  },
  "required": ["internal_reasoning", "action", "message"],
  "additionalProperties": false
}`)

// Pipeline drives voice-question answers end to end.
type Pipeline struct {
	llm       *llm.Client
	store     store.Store
	assembler *promptctx.Assembler
	broker    *events.Broker
	tts       *ttsregistry.Registry
	sessions  *session.Manager
	basePrompt string
}

// NewPipeline takes the base (non-question) system prompt so the voice
// answer prompt stays consistent with the drawing-triggered one, with the
// question addendum appended.
func NewPipeline(
	llmClient *llm.Client,
	st store.Store,
	assembler *promptctx.Assembler,
	broker *events.Broker,
	tts *ttsregistry.Registry,
	sessions *session.Manager,
	basePrompt string,
) *Pipeline {
	return &Pipeline{
		llm:        llmClient,
		store:      st,
		assembler:  assembler,
		broker:     broker,
		tts:        tts,
		sessions:   sessions,
		basePrompt: basePrompt,
	}
}

// AskQuestion registers a stream TTS handle, publishes the reasoning
// event immediately, spawns the producer, and returns the handle id the
// client should open the TTS stream against.
func (p *Pipeline) AskQuestion(sessionID string, page int, question string) string {
	ttsID, feed := p.tts.RegisterStream()
	p.broker.Publish(sessionID, "reasoning", map[string]string{
		"action":  "speak",
		"message": "",
		"tts_id":  ttsID,
	})

	go p.produce(sessionID, page, question, feed)

	return ttsID
}

func (p *Pipeline) produce(sessionID string, page int, question string, feed chan<- string) {
	defer close(feed)

	ctx, cancel := context.WithTimeout(context.Background(), StreamIdleTimeout)
	defer cancel()

	prompt := p.buildPrompt(ctx, sessionID, page, question)

	var raw strings.Builder
	foundMarker := false
	messageBuffer := ""

	onDelta := func(delta string) error {
		raw.WriteString(delta)
		if !foundMarker {
			accumulated := raw.String()
			marker := messageMarker
			idx := strings.Index(accumulated, marker)
			if idx == -1 {
				marker = messageMarkerCompact
				idx = strings.Index(accumulated, marker)
			}
			if idx == -1 {
				return nil
			}
			foundMarker = true
			messageBuffer = accumulated[idx+len(marker):]
			messageBuffer = flushSentences(messageBuffer, feed)
			return nil
		}
		messageBuffer += delta
		messageBuffer = flushSentences(messageBuffer, feed)
		return nil
	}

	usage, streamErr := p.llm.GenerateStream(ctx, llm.Request{
		System:      p.basePrompt + systemPromptAddendum,
		User:        prompt,
		Schema:      responseSchema,
		SchemaName:  "voice_answer",
		Temperature: 0.3,
	}, onDelta)

	remainder := strings.TrimSpace(messageBuffer)
	for _, suffix := range []string{`"}`, `"`} {
		if strings.HasSuffix(remainder, suffix) {
			remainder = strings.TrimSuffix(remainder, suffix)
			break
		}
	}
	remainder = strings.TrimSpace(remainder)
	if remainder != "" {
		feed <- remainder
	}

	message := extractMessage(raw.String())
	logCtx := context.Background()
	p.store.InsertReasoningLog(logCtx, store.ReasoningLog{
		SessionID:        sessionID,
		Page:             page,
		Action:           "speak",
		Message:          message,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		EstimatedCostUSD: estimateCost(usage),
		Source:           "voice_question",
	})
	_ = streamErr
}

func (p *Pipeline) buildPrompt(ctx context.Context, sessionID string, page int, question string) string {
	snap, err := p.sessions.Get(sessionID)
	if err != nil {
		snap = session.Snapshot{SessionID: sessionID}
	}
	sections, err := p.assembler.Build(ctx, snap, page)
	var base string
	if err != nil || len(sections) == 0 {
		base = "No problem context available."
	} else {
		base = promptctx.Flatten(sections)
	}
	return fmt.Sprintf("%s\n\n## Student's Question\n%q", base, question)
}

func extractMessage(raw string) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return raw
	}
	return parsed.Message
}

func estimateCost(u llm.Usage) float64 {
	const promptCostPerToken = 0.50 / 1_000_000
	const completionCostPerToken = 3.00 / 1_000_000
	return float64(u.PromptTokens)*promptCostPerToken + float64(u.CompletionTokens)*completionCostPerToken
}

// flushSentences extracts every complete sentence from buffer — a
// [.!?] run of whitespace followed by a non-whitespace character — pushes
// each into feed, and returns the unconsumed remainder.
func flushSentences(buffer string, feed chan<- string) string {
	runes := []rune(buffer)
	lastEnd := 0
	i := 0
	for i < len(runes) {
		c := runes[i]
		if c == '.' || c == '!' || c == '?' {
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			if j > i+1 && j < len(runes) {
				sentence := strings.TrimSpace(string(runes[lastEnd:j]))
				if sentence != "" {
					feed <- sentence
				}
				lastEnd = j
				i = j
				continue
			}
		}
		i++
	}
	return string(runes[lastEnd:])
}
