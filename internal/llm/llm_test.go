package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/charmem/internal/retry"
)

type scriptedGenerator struct {
	replies []string
	errs    []error
	calls   int
}

func (g *scriptedGenerator) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	i := g.calls
	g.calls++
	var err error
	if i < len(g.errs) {
		err = g.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(g.replies) {
		return g.replies[i], nil
	}
	return "ok", nil
}

func TestAnthropicClient_Complete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key" {
			t.Errorf("expected api key header, got %q", r.Header.Get("x-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"PAGE: 4"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("key", "claude-test", 500, time.Second)
	c.endpoint = srv.URL
	out, err := c.Complete(context.Background(), "where?", 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "PAGE: 4" {
		t.Errorf("expected %q, got %q", "PAGE: 4", out)
	}
	if got.Temperature != 0.1 || got.MaxTokens != 500 || got.Model != "claude-test" {
		t.Errorf("unexpected request: %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "where?" {
		t.Errorf("expected single user message, got %+v", got.Messages)
	}
}

func TestAnthropicClient_RetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit","message":"slow down"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("key", "m", 0, time.Second)
	c.endpoint = srv.URL
	_, err := c.Complete(context.Background(), "p", 0.7)
	if !retry.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestAnthropicClient_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("key", "m", 0, time.Second)
	c.endpoint = srv.URL
	_, err := c.Complete(context.Background(), "p", 0.7)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOpenAIClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "test-model" {
			t.Errorf("expected model test-model, got %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":0,"model":"test-model",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Ron Weasley"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/v1/", "key", "test-model", 100, time.Second)
	out, err := c.Complete(context.Background(), "names?", 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Ron Weasley" {
		t.Errorf("expected %q, got %q", "Ron Weasley", out)
	}
}

func TestOpenAIClient_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"loading","type":"server_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/v1/", "key", "m", 0, time.Second)
	_, err := c.Complete(context.Background(), "p", 0.7)
	if !retry.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestRetrying_RecoversFromTransientFailure(t *testing.T) {
	inner := &scriptedGenerator{
		errs:    []error{&retry.RetryableError{StatusCode: 503}, nil},
		replies: []string{"", "summary text"},
	}
	g := NewRetrying(inner, 3)
	g.sleep = func(int) time.Duration { return 0 }

	out, err := g.Complete(context.Background(), "p", 0.7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "summary text" {
		t.Errorf("expected %q, got %q", "summary text", out)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 calls, got %d", inner.calls)
	}
}

func TestInstrumented_RecordsOpAndFailure(t *testing.T) {
	inner := &scriptedGenerator{errs: []error{nil, errors.New("boom")}}
	g := NewInstrumented(inner, NewStats(time.Hour), "m")

	g.Complete(WithOp(context.Background(), "summary"), "p", 0.7)
	g.Complete(context.Background(), "p", 0.7)

	snap := g.Stats().Snapshot()
	if snap.Count != 2 {
		t.Fatalf("expected 2 samples, got %d", snap.Count)
	}
	if snap.ByOp["summary"] != 1 || snap.ByOp["unlabeled"] != 1 {
		t.Errorf("unexpected op counts: %v", snap.ByOp)
	}
	if snap.Failures != 1 {
		t.Errorf("expected 1 failure, got %d", snap.Failures)
	}
	if g.Model() != "m" {
		t.Errorf("expected model %q, got %q", "m", g.Model())
	}
}
