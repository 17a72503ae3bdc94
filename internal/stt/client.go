// Package stt adapts a blocking speech-to-text HTTP endpoint to a simple
// transcribe contract. Callers are expected to offload the blocking call
// onto a worker goroutine so the scheduler is never blocked.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/reeftutor/reef/internal/reliability"
)

// Error wraps a failed call with the uniform adapter failure taxonomy.
type Error struct {
	Kind reliability.Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("stt: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Client posts audio bytes to a multipart STT endpoint and returns text.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Transcribe is blocking: it performs the HTTP round trip synchronously.
// It runs on the caller's goroutine and returns when the response is read.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if c.baseURL == "" {
		return "", &Error{Kind: reliability.KindUnavailable, Err: fmt.Errorf("STT base URL not configured")}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return "", &Error{Kind: reliability.KindFatal, Err: err}
	}
	if _, err := part.Write(audio); err != nil {
		return "", &Error{Kind: reliability.KindFatal, Err: err}
	}
	if err := writer.Close(); err != nil {
		return "", &Error{Kind: reliability.KindFatal, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &body)
	if err != nil {
		return "", &Error{Kind: reliability.KindTransient, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return "", &Error{Kind: reliability.KindTransient, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &Error{Kind: reliability.ClassifyHTTPStatus(res.StatusCode), Err: fmt.Errorf("status %d: %s", res.StatusCode, payload)}
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", &Error{Kind: reliability.KindTransient, Err: fmt.Errorf("decode transcribe response: %w", err)}
	}
	return parsed.Text, nil
}
