// Package completion calls the upstream LLM completion service.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chenpeel/chat-relay/internal/history"
	"github.com/chenpeel/chat-relay/internal/reliability"
)

// Sampling parameters sent with every request.
const (
	Temperature = 0.7
	MaxTokens   = 2000

	DefaultModel   = "deepseek-chat"
	DefaultBaseURL = "https://api.deepseek.com"
)

// Gateway maps an ordered message sequence to the top reply text. A single
// attempt is made; every failure is returned as *Error.
type Gateway interface {
	Complete(ctx context.Context, turns []history.Turn) (string, error)
}

// Config controls gateway construction.
type Config struct {
	Provider        string
	BaseURL         string
	APIKey          string
	AnthropicAPIKey string
	Model           string
	Timeout         time.Duration
	HTTPClient      *http.Client
}

// ErrEmptyResponse is returned when the upstream answers without a choice.
var ErrEmptyResponse = errors.New("completion response has no content")

// Error is the single failure type surfaced to the orchestrator.
type Error struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s completion failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the upstream status suggests a later attempt
// could succeed. Nothing retries automatically.
func (e *Error) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.StatusCode)
}

// Code is a low-cardinality label for metrics.
func (e *Error) Code() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("http_%d", e.StatusCode)
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(e.Err, context.Canceled):
		return "canceled"
	case errors.Is(e.Err, ErrEmptyResponse):
		return "empty_response"
	default:
		return "transport"
	}
}

func NewGateway(cfg Config) (Gateway, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}

	switch provider {
	case "auto":
		return newAutoGateway(cfg), nil
	case "openai", "deepseek":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("DEEPSEEK_API_KEY is required for openai provider")
		}
		return NewOpenAIGateway(cfg), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for anthropic provider")
		}
		return NewAnthropicGateway(cfg), nil
	case "mock":
		return NewMockGateway(), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Provider)
	}
}

func newAutoGateway(cfg Config) Gateway {
	if strings.TrimSpace(cfg.APIKey) != "" {
		return NewOpenAIGateway(cfg)
	}
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		return NewAnthropicGateway(cfg)
	}
	return NewMockGateway()
}

// ProviderName returns the label reported for g.
func ProviderName(g Gateway) string {
	switch g.(type) {
	case *OpenAIGateway:
		return "openai"
	case *AnthropicGateway:
		return "anthropic"
	case *MockGateway:
		return "mock"
	default:
		return "custom"
	}
}
