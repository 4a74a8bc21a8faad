package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeRecorder captures every emission for assertions.
type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

type recordedCall struct {
	stage   string
	tokens  int
	success bool
}

func (f *fakeRecorder) Record(stage string, _ time.Duration, tokens int, success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{stage: stage, tokens: tokens, success: success})
}

// panicRecorder verifies the emission recover boundary.
type panicRecorder struct{}

func (panicRecorder) Record(string, time.Duration, int, bool) { panic("metrics backend down") }

func completionBody(text string, in, out int) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": text}},
		},
		"usage": map[string]any{"prompt_tokens": in, "completion_tokens": out},
	})
	return string(b)
}

func newTestClient(url string, rec Recorder) *Client {
	return NewClient(Config{
		BaseURL:        url,
		APIKey:         "test-key",
		Model:          "test-model",
		Timeout:        2 * time.Second,
		RetryBaseDelay: time.Millisecond,
	}, rec)
}

func TestCall_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		w.Write([]byte(completionBody("hello", 10, 5)))
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	c := newTestClient(srv.URL, rec)

	comp, err := c.Call(context.Background(), "intent_classification", "sys", "user text")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if comp.Text != "hello" || comp.InputTokens != 10 || comp.OutputTokens != 5 {
		t.Fatalf("completion = %+v", comp)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("expected 1 metric emission, got %d", len(rec.calls))
	}
	got := rec.calls[0]
	if got.stage != "intent_classification" || !got.success || got.tokens != 15 {
		t.Fatalf("emission = %+v", got)
	}
}

func TestCall_RetriesRateLimitThenSucceeds(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionBody("ok", 1, 1)))
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	c := newTestClient(srv.URL, rec)

	comp, err := c.Call(context.Background(), "context_extraction", "sys", "u")
	if err != nil {
		t.Fatalf("Call after retry: %v", err)
	}
	if comp.Text != "ok" {
		t.Fatalf("text = %q", comp.Text)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	// Both attempts recorded: one failure, one success.
	if len(rec.calls) != 2 || rec.calls[0].success || !rec.calls[1].success {
		t.Fatalf("emissions = %+v", rec.calls)
	}
}

func TestCall_UnavailableExhaustsRetryBudget(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)

	_, err := c.Call(context.Background(), "response_generation", "sys", "u")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestCall_MalformedNeverRetried(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)

	_, err := c.Call(context.Background(), "intent_classification", "sys", "u")
	if !errors.Is(err, ErrUpstreamMalformed) {
		t.Fatalf("expected ErrUpstreamMalformed, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("malformed responses must not be retried; got %d attempts", attempts)
	}
}

func TestCall_NonOKStatusIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)

	_, err := c.Call(context.Background(), "intent_classification", "sys", "u")
	if !errors.Is(err, ErrUpstreamMalformed) {
		t.Fatalf("expected ErrUpstreamMalformed for 401, got %v", err)
	}
}

func TestCall_ConnectionRefusedIsUnavailable(t *testing.T) {
	// A closed server yields connection errors.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(url, nil)

	_, err := c.Call(context.Background(), "intent_classification", "sys", "u")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestCall_CanceledContextDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:        srv.URL,
		Model:          "m",
		Timeout:        time.Second,
		RetryBaseDelay: time.Minute, // force the backoff path to wait on ctx
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.Call(ctx, "intent_classification", "sys", "u")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("call did not honor cancellation during backoff")
	}
}

func TestCall_RecorderPanicDoesNotFailCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionBody("fine", 1, 1)))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, panicRecorder{})

	comp, err := c.Call(context.Background(), "intent_classification", "sys", "u")
	if err != nil || comp.Text != "fine" {
		t.Fatalf("metrics panic must not fail the call: comp=%+v err=%v", comp, err)
	}
}
