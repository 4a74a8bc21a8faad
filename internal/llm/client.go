// Package llm implements the Language Model Gateway: a thin, explicitly
// constructed client for an OpenAI-compatible chat completion API. The
// gateway owns the retry policy and telemetry contract for every staged model
// call (classification, extraction, generation); callers own fallback
// behavior when the upstream is exhausted.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Upstream failure taxonomy. Callers branch with errors.Is.
var (
	// ErrUpstreamUnavailable covers network failures, timeouts, and 5xx
	// responses from the model service.
	ErrUpstreamUnavailable = errors.New("upstream model service unavailable")

	// ErrUpstreamRateLimited covers 429 throttling responses.
	ErrUpstreamRateLimited = errors.New("upstream model service rate limited")

	// ErrUpstreamMalformed covers responses that cannot be parsed as
	// expected. It indicates a prompt or contract defect, not transience,
	// and is never retried.
	ErrUpstreamMalformed = errors.New("upstream model response malformed")
)

// Completion is the gateway's normalized result of one model call.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Recorder is the narrow metrics capability the gateway needs. It matches
// metrics.Recorder; the gateway accepts the interface so tests can observe
// emission with a fake.
type Recorder interface {
	Record(stage string, duration time.Duration, tokens int, success bool)
}

// Config carries the immutable upstream settings for a Client. It replaces
// any module-level client or model-name state: construct once at startup and
// pass the client down.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.openai.com".
	BaseURL string
	// APIKey is sent as a bearer token.
	APIKey string
	// Model is the chat model identifier used for every stage.
	Model string
	// Timeout bounds a single upstream attempt. Zero means 30s.
	Timeout time.Duration
	// RetryBaseDelay is the backoff base before the single retry.
	// Zero means 250ms.
	RetryBaseDelay time.Duration
}

// Client calls the upstream chat completion API. It is safe for concurrent
// use; all fields are fixed at construction.
type Client struct {
	cfg Config
	hc  *http.Client
	rec Recorder
}

// nopRecorder keeps the emission path nil-safe.
type nopRecorder struct{}

func (nopRecorder) Record(string, time.Duration, int, bool) {}

// NewClient constructs a Client from cfg. A nil recorder disables telemetry.
func NewClient(cfg Config, rec Recorder) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 250 * time.Millisecond
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.Timeout},
		rec: rec,
	}
}

// chat completion wire types (OpenAI-compatible subset).

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
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

// Call performs one staged model call: a system prompt plus the user content,
// returning the completion text and token usage.
//
// Retry policy: at most one retry with exponential backoff (base delay,
// single doubling) for ErrUpstreamUnavailable and ErrUpstreamRateLimited.
// ErrUpstreamMalformed is surfaced immediately. Every attempt is recorded to
// the metrics recorder with the stage name and success flag; emission
// failures are swallowed and never fail the call.
func (c *Client) Call(ctx context.Context, stage, systemPrompt, userContent string) (*Completion, error) {
	const maxAttempts = 2

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBaseDelay << (attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
			case <-timer.C:
			}
		}

		start := time.Now()
		comp, err := c.do(ctx, systemPrompt, userContent)
		tokens := 0
		if comp != nil {
			tokens = comp.InputTokens + comp.OutputTokens
		}
		c.record(stage, time.Since(start), tokens, err == nil)

		if err == nil {
			return comp, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUpstreamUnavailable) && !errors.Is(err, ErrUpstreamRateLimited) {
			return nil, err
		}
	}
	return nil, lastErr
}

// do performs a single upstream attempt.
func (c *Client) do(ctx context.Context, systemPrompt, userContent string) (*Completion, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrUpstreamMalformed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, ErrUpstreamRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamMalformed, resp.StatusCode)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstreamMalformed, err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrUpstreamMalformed)
	}

	return &Completion{
		Text:         cr.Choices[0].Message.Content,
		InputTokens:  cr.Usage.PromptTokens,
		OutputTokens: cr.Usage.CompletionTokens,
	}, nil
}

// record emits one attempt to the recorder. The recorder is out of the hot
// path's failure domain: a panic during emission is swallowed here.
func (c *Client) record(stage string, d time.Duration, tokens int, success bool) {
	defer func() { _ = recover() }()
	c.rec.Record(stage, d, tokens, success)
}
