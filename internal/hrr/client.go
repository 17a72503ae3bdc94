// Package hrr adapts a Mathpix-shaped handwriting recognition service to
// the HRR session + recognize contract
package hrr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/reeftutor/reef/internal/reliability"
)

// Stroke is one ink stroke in the client's wire shape.
type Stroke struct {
	Points []Point `json:"points"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Handle is an opaque, renewable HRR session handle.
type Handle struct {
	SessionID string
	AppToken  string
	ExpiresAt time.Time
}

func (h Handle) valid() bool {
	return h.SessionID != "" && time.Now().Before(h.ExpiresAt)
}

// RecognizeResult is the classified recognition outcome for one call.
type RecognizeResult struct {
	Latex         string
	Text          string
	Confidence    float64
	LineDataJSON  string
	IsHandwritten bool
	Error         string
	// IsDiagram is true when the result was classified as non-math content
	// (error present, not handwritten, or confidence below 0.8).
	IsDiagram bool
}

// Error wraps a failed call with the uniform adapter failure taxonomy.
type Error struct {
	Kind reliability.Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("hrr: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Client owns HRR sessions keyed by (session,page) and issues recognize
// calls against them, renewing sessions on use and collapsing concurrent
// acquires for the same key into one upstream call.
type Client struct {
	baseURL string
	appID   string
	appKey  string
	http    *http.Client

	sessionTTL time.Duration

	mu       sync.Mutex
	handles  map[string]Handle
	acquires singleflight.Group
}

func New(baseURL, appID, appKey string, timeout, sessionTTL time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		appID:      appID,
		appKey:     appKey,
		http:       &http.Client{Timeout: timeout},
		sessionTTL: sessionTTL,
		handles:    make(map[string]Handle),
	}
}

func key(sessionID string, page int) string {
	return fmt.Sprintf("%s:%d", sessionID, page)
}

// OpenSession returns the reusable session handle for (sessionID, page),
// creating one if absent or expired. Concurrent callers for the same key
// collapse into a single upstream acquisition.
func (c *Client) OpenSession(ctx context.Context, sessionID string, page int) (Handle, error) {
	k := key(sessionID, page)

	c.mu.Lock()
	existing, ok := c.handles[k]
	c.mu.Unlock()
	if ok && existing.valid() {
		return existing, nil
	}

	v, err, _ := c.acquires.Do(k, func() (any, error) {
		h, err := c.createSession(ctx)
		if err != nil {
			return Handle{}, err
		}
		c.mu.Lock()
		c.handles[k] = h
		c.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return Handle{}, err
	}
	return v.(Handle), nil
}

// InvalidateSession discards the cached handle for (sessionID, page),
// called on disconnect.
func (c *Client) InvalidateSession(sessionID string, page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, key(sessionID, page))
}

func (c *Client) createSession(ctx context.Context) (Handle, error) {
	if c.appID == "" || c.appKey == "" {
		return Handle{}, &Error{Kind: reliability.KindUnavailable, Err: fmt.Errorf("HRR credentials not configured")}
	}

	body, _ := json.Marshal(map[string]any{"include_strokes_session_id": true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/app-tokens", bytes.NewReader(body))
	if err != nil {
		return Handle{}, &Error{Kind: reliability.KindTransient, Err: err}
	}
	req.Header.Set("app_id", c.appID)
	req.Header.Set("app_key", c.appKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return Handle{}, &Error{Kind: reliability.KindTransient, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Handle{}, &Error{Kind: reliability.ClassifyHTTPStatus(res.StatusCode), Err: fmt.Errorf("status %d: %s", res.StatusCode, payload)}
	}

	var parsed struct {
		StrokesSessionID string `json:"strokes_session_id"`
		AppToken         string `json:"app_token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return Handle{}, &Error{Kind: reliability.KindTransient, Err: fmt.Errorf("decode app-token response: %w", err)}
	}

	return Handle{
		SessionID: parsed.StrokesSessionID,
		AppToken:  parsed.AppToken,
		ExpiresAt: time.Now().Add(c.sessionTTL),
	}, nil
}

// Recognize sends the visible stroke set through the handle's session and
// classifies the result: error, non-handwritten, or confidence below 0.8
// all classify as diagram content with latex cleared.
func (c *Client) Recognize(ctx context.Context, h Handle, strokes []Stroke) (RecognizeResult, error) {
	allX := make([][]float64, 0, len(strokes))
	allY := make([][]float64, 0, len(strokes))
	for _, s := range strokes {
		if len(s.Points) == 0 {
			continue
		}
		xs := make([]float64, len(s.Points))
		ys := make([]float64, len(s.Points))
		for i, p := range s.Points {
			xs[i] = p.X
			ys[i] = p.Y
		}
		allX = append(allX, xs)
		allY = append(allY, ys)
	}

	payload := map[string]any{
		"strokes_session_id": h.SessionID,
		"strokes": map[string]any{
			"strokes": map[string]any{"x": allX, "y": allY},
		},
		"include_smiles":        true,
		"include_geometry_data": true,
		"include_line_data":     true,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/strokes", bytes.NewReader(body))
	if err != nil {
		return RecognizeResult{}, &Error{Kind: reliability.KindTransient, Err: err}
	}
	req.Header.Set("app_token", h.AppToken)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return RecognizeResult{}, &Error{Kind: reliability.KindTransient, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return RecognizeResult{}, &Error{Kind: reliability.ClassifyHTTPStatus(res.StatusCode), Err: fmt.Errorf("status %d: %s", res.StatusCode, respBody)}
	}

	var parsed struct {
		LatexStyled   string          `json:"latex_styled"`
		Text          string          `json:"text"`
		Confidence    json.Number     `json:"confidence"`
		LineData      json.RawMessage `json:"line_data"`
		Error         string          `json:"error"`
		IsHandwritten *bool           `json:"is_handwritten"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return RecognizeResult{}, &Error{Kind: reliability.KindTransient, Err: fmt.Errorf("decode recognize response: %w", err)}
	}

	confidence, _ := parsed.Confidence.Float64()
	isHandwritten := true
	if parsed.IsHandwritten != nil {
		isHandwritten = *parsed.IsHandwritten
	}

	latex := parsed.LatexStyled
	if latex == "" {
		latex = parsed.Text
	}

	result := RecognizeResult{
		Latex:         latex,
		Text:          latex,
		Confidence:    confidence,
		LineDataJSON:  string(parsed.LineData),
		IsHandwritten: isHandwritten,
		Error:         parsed.Error,
	}

	if result.Error != "" || !result.IsHandwritten || result.Confidence < 0.8 {
		result.IsDiagram = true
		result.Latex = ""
		result.Text = ""
	}

	return result, nil
}
