package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chenpeel/chat-relay/internal/history"
)

func sampleTurns() []history.Turn {
	return []history.Turn{
		{Role: history.RoleSystem, Content: "persona"},
		{Role: history.RoleUser, Content: "earlier"},
		{Role: history.RoleAssistant, Content: "noted"},
		{Role: history.RoleUser, Content: "hello"},
	}
}

type capturedRequest struct {
	path string
	auth string
	body map[string]any
}

func newUpstream(t *testing.T, status int, respBody string, captured *capturedRequest, calls *int32) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		raw, _ := io.ReadAll(r.Body)
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		if captured.auth == "" {
			captured.auth = r.Header.Get("X-Api-Key")
		}
		_ = json.Unmarshal(raw, &captured.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestOpenAIGatewayComplete(t *testing.T) {
	var captured capturedRequest
	var calls int32
	ts := newUpstream(t, http.StatusOK, `{
		"id":"cmpl-1","object":"chat.completion","created":1,"model":"deepseek-chat",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hi there"}}]
	}`, &captured, &calls)

	g := NewOpenAIGateway(Config{BaseURL: ts.URL, APIKey: "sk-test", Timeout: 5 * time.Second})
	reply, err := g.Complete(context.Background(), sampleTurns())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("reply = %q, want %q", reply, "hi there")
	}
	if !strings.HasSuffix(captured.path, "/chat/completions") {
		t.Fatalf("path = %q", captured.path)
	}
	if captured.auth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", captured.auth)
	}
	if captured.body["model"] != DefaultModel {
		t.Fatalf("model = %v", captured.body["model"])
	}
	if captured.body["temperature"] != 0.7 {
		t.Fatalf("temperature = %v", captured.body["temperature"])
	}
	if captured.body["max_tokens"] != float64(2000) {
		t.Fatalf("max_tokens = %v", captured.body["max_tokens"])
	}
	msgs, _ := captured.body["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("messages = %v", captured.body["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Fatalf("first message role = %v", first["role"])
	}
}

func TestOpenAIGatewayUpstreamErrorIsNotRetried(t *testing.T) {
	var captured capturedRequest
	var calls int32
	ts := newUpstream(t, http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`, &captured, &calls)

	g := NewOpenAIGateway(Config{BaseURL: ts.URL, APIKey: "sk-test"})
	_, err := g.Complete(context.Background(), sampleTurns())
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if cerr.StatusCode != http.StatusTooManyRequests || !cerr.Retryable() || cerr.Code() != "http_429" {
		t.Fatalf("unexpected error classification: %+v code=%s", cerr, cerr.Code())
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestOpenAIGatewayEmptyChoices(t *testing.T) {
	var captured capturedRequest
	var calls int32
	ts := newUpstream(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`, &captured, &calls)

	g := NewOpenAIGateway(Config{BaseURL: ts.URL, APIKey: "sk-test"})
	_, err := g.Complete(context.Background(), sampleTurns())
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("error = %v, want ErrEmptyResponse", err)
	}
}

func TestAnthropicGatewayComplete(t *testing.T) {
	var captured capturedRequest
	var calls int32
	ts := newUpstream(t, http.StatusOK, `{
		"id":"msg_1","type":"message","role":"assistant","model":"claude-3-7-sonnet-latest",
		"content":[{"type":"text","text":"hi "},{"type":"text","text":"there"}],
		"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}
	}`, &captured, &calls)

	g := NewAnthropicGateway(Config{BaseURL: ts.URL, AnthropicAPIKey: "ak-test"})
	reply, err := g.Complete(context.Background(), sampleTurns())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("reply = %q", reply)
	}
	if !strings.HasSuffix(captured.path, "/v1/messages") {
		t.Fatalf("path = %q", captured.path)
	}
	system, _ := captured.body["system"].([]any)
	if len(system) != 1 {
		t.Fatalf("system = %v", captured.body["system"])
	}
	msgs, _ := captured.body["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("messages = %v, want user/assistant/user", captured.body["messages"])
	}
	if captured.body["max_tokens"] != float64(2000) {
		t.Fatalf("max_tokens = %v", captured.body["max_tokens"])
	}
}

func TestAnthropicGatewayServerError(t *testing.T) {
	var captured capturedRequest
	var calls int32
	ts := newUpstream(t, http.StatusInternalServerError, `{"type":"error","error":{"type":"api_error","message":"boom"}}`, &captured, &calls)

	g := NewAnthropicGateway(Config{BaseURL: ts.URL, AnthropicAPIKey: "ak-test"})
	_, err := g.Complete(context.Background(), sampleTurns())
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("error = %v, want *Error with status 500", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestMockGateway(t *testing.T) {
	g := NewMockGateway()
	reply, err := g.Complete(context.Background(), sampleTurns())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "I heard you: hello\nI also remember: earlier" {
		t.Fatalf("reply = %q", reply)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Complete(ctx, sampleTurns())
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Code() != "canceled" {
		t.Fatalf("error = %v, want canceled *Error", err)
	}
}

func TestNewGatewayModes(t *testing.T) {
	cases := []struct {
		cfg  Config
		want string
	}{
		{Config{}, "mock"},
		{Config{Provider: "auto", APIKey: "k"}, "openai"},
		{Config{Provider: "auto", AnthropicAPIKey: "k"}, "anthropic"},
		{Config{Provider: "DeepSeek", APIKey: "k"}, "openai"},
		{Config{Provider: "mock"}, "mock"},
	}
	for _, tc := range cases {
		g, err := NewGateway(tc.cfg)
		if err != nil {
			t.Fatalf("NewGateway(%+v) error = %v", tc.cfg, err)
		}
		if got := ProviderName(g); got != tc.want {
			t.Fatalf("NewGateway(%+v) provider = %s, want %s", tc.cfg, got, tc.want)
		}
	}

	for _, cfg := range []Config{{Provider: "openai"}, {Provider: "anthropic"}, {Provider: "llama"}} {
		if _, err := NewGateway(cfg); err == nil {
			t.Fatalf("NewGateway(%+v) expected error", cfg)
		}
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  *Error
		want string
	}{
		{&Error{Provider: "openai", StatusCode: 401, Err: errors.New("x")}, "http_401"},
		{&Error{Provider: "openai", Err: context.DeadlineExceeded}, "timeout"},
		{&Error{Provider: "openai", Err: ErrEmptyResponse}, "empty_response"},
		{&Error{Provider: "openai", Err: errors.New("dial tcp")}, "transport"},
	}
	for _, tc := range cases {
		if got := tc.err.Code(); got != tc.want {
			t.Fatalf("Code() = %q, want %q", got, tc.want)
		}
	}
}
