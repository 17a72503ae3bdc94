// Package tts adapts a DeepInfra/Kokoro-shaped sentence-to-PCM endpoint to
// the TTS contract: Synthesize(sentence) -> PCM bytes, mono,
// 24kHz, signed 16-bit little-endian.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reeftutor/reef/internal/reliability"
)

const (
	SampleRateHz = 24000
	Channels     = 1
	SampleWidth  = 2
)

// Error wraps a failed call with the uniform adapter failure taxonomy.
type Error struct {
	Kind reliability.Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("tts: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Client synthesizes one sentence per call. Pure request/response.
type Client struct {
	baseURL string
	apiKey  string
	voice   string
	model   string
	speed   float64
	http    *http.Client
}

func New(baseURL, apiKey, voice string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSpace(baseURL),
		apiKey:  apiKey,
		voice:   voice,
		model:   "hexgrad/Kokoro-82M",
		speed:   0.95,
		http:    &http.Client{Timeout: timeout},
	}
}

// Synthesize sends one sentence and returns raw PCM bytes.
func (c *Client) Synthesize(ctx context.Context, sentence string) ([]byte, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return nil, &Error{Kind: reliability.KindUnavailable, Err: fmt.Errorf("TTS endpoint not configured")}
	}

	payload, err := json.Marshal(map[string]any{
		"model":           c.model,
		"input":           sentence,
		"voice":           c.voice,
		"speed":           c.speed,
		"response_format": "pcm",
	})
	if err != nil {
		return nil, &Error{Kind: reliability.KindFatal, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: reliability.KindTransient, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: reliability.KindTransient, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &Error{Kind: reliability.ClassifyHTTPStatus(res.StatusCode), Err: fmt.Errorf("status %d: %s", res.StatusCode, body)}
	}

	pcm, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &Error{Kind: reliability.KindTransient, Err: fmt.Errorf("read pcm body: %w", err)}
	}
	return pcm, nil
}
