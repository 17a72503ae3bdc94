// Package llm adapts an OpenAI-compatible chat-completions endpoint to the
// unary and streaming contracts: Generate for one-shot
// schema-constrained calls (the reasoning scheduler), GenerateStream for
// token-parallel delivery (the voice-question pipeline).
package llm

import (
	"bufio"
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

// Message is one chat turn. Images, when present, are data: URLs embedded
// as additional content parts per the OpenAI vision message shape.
type Message struct {
	Role   string
	Text   string
	Images []string
}

// Request carries everything one Generate/GenerateStream call needs.
type Request struct {
	System      string
	User        string
	Images      []string
	Schema      json.RawMessage // JSON schema; nil means unconstrained
	SchemaName  string
	Temperature float64
	Model       string
}

// Usage reports token accounting for cost estimation and audit logging.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Client is the unary + streaming LLM adapter.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func New(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

// Error wraps a failed call with the uniform adapter failure taxonomy.
type Error struct {
	Kind reliability.Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("llm: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func classify(err error, status int) *Error {
	if status != 0 {
		return &Error{Kind: reliability.ClassifyHTTPStatus(status), Err: err}
	}
	return &Error{Kind: reliability.KindTransient, Err: err}
}

// Generate performs a single request/response call. When req.Schema is set
// the upstream is asked to constrain output to that schema strictly
// (additionalProperties: false, every property required); the caller is
// responsible for having already rewritten the schema to that shape.
func (c *Client) Generate(ctx context.Context, req Request) (string, Usage, error) {
	body := c.buildPayload(req, false)
	httpReq, err := c.newRequest(ctx, body)
	if err != nil {
		return "", Usage{}, classify(err, 0)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return "", Usage{}, classify(err, 0)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", Usage{}, classify(fmt.Errorf("llm status %d: %s", res.StatusCode, payload), res.StatusCode)
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", Usage{}, classify(fmt.Errorf("decode response: %w", err), 0)
	}
	text := ""
	if len(parsed.Choices) > 0 {
		text = parsed.Choices[0].Message.Content
	}
	return text, Usage{PromptTokens: parsed.Usage.PromptTokens, CompletionTokens: parsed.Usage.CompletionTokens}, nil
}

// OnDelta is invoked for every token-level text delta as it arrives.
type OnDelta func(delta string) error

// GenerateStream opens a streaming chat completion and invokes onDelta for
// every text delta until the stream terminates. Implementers must tolerate
// mid-stream cancellation via ctx.
func (c *Client) GenerateStream(ctx context.Context, req Request, onDelta OnDelta) (Usage, error) {
	body := c.buildPayload(req, true)
	httpReq, err := c.newRequest(ctx, body)
	if err != nil {
		return Usage{}, classify(err, 0)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return Usage{}, classify(err, 0)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Usage{}, classify(fmt.Errorf("llm status %d: %s", res.StatusCode, payload), res.StatusCode)
	}

	return consumeSSE(res.Body, onDelta)
}

func (c *Client) buildPayload(req Request, stream bool) map[string]any {
	model := req.Model
	if model == "" {
		model = c.model
	}
	content := []map[string]any{{"type": "text", "text": req.User}}
	for _, img := range req.Images {
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": img},
		})
	}

	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "system", "content": req.System},
			{"role": "user", "content": content},
		},
		"temperature": req.Temperature,
		"stream":      stream,
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		payload["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   name,
				"strict": true,
				"schema": json.RawMessage(req.Schema),
			},
		}
	}
	return payload
}

func (c *Client) newRequest(ctx context.Context, payload map[string]any) (*http.Request, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return httpReq, nil
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// consumeSSE reads an OpenAI-style "data: {...}\n\n" stream terminated by a
// "data: [DONE]" sentinel, forwarding each chunk's text delta.
func consumeSSE(body io.Reader, onDelta OnDelta) (Usage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var usage Usage
	var dataLines []string

	flush := func() (done bool, err error) {
		if len(dataLines) == 0 {
			return false, nil
		}
		payload := strings.TrimSpace(strings.Join(dataLines, "\n"))
		dataLines = dataLines[:0]
		if payload == "" {
			return false, nil
		}
		if strings.EqualFold(payload, "[DONE]") {
			return true, nil
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return false, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Usage != nil {
			usage = Usage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if onDelta != nil {
				if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
					return false, err
				}
			}
		}
		return false, nil
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			done, err := flush()
			if err != nil {
				return usage, err
			}
			if done {
				return usage, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			value := strings.TrimPrefix(line, "data:")
			value = strings.TrimPrefix(value, " ")
			dataLines = append(dataLines, value)
		}
	}
	if _, err := flush(); err != nil {
		return usage, err
	}
	if err := scanner.Err(); err != nil {
		return usage, fmt.Errorf("stream read: %w", err)
	}
	return usage, nil
}
