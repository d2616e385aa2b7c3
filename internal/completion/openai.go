package completion

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/chenpeel/chat-relay/internal/history"
)

// OpenAIGateway talks to any OpenAI-compatible chat completions endpoint,
// DeepSeek by default.
type OpenAIGateway struct {
	client openai.Client
	model  string
}

func NewOpenAIGateway(cfg Config) *OpenAIGateway {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIGateway{client: openai.NewClient(opts...), model: model}
}

func (g *OpenAIGateway) Complete(ctx context.Context, turns []history.Turn) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(g.model),
		Messages:    toOpenAIMessages(turns),
		Temperature: openai.Float(Temperature),
		MaxTokens:   openai.Int(MaxTokens),
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &Error{Provider: "openai", StatusCode: openAIStatus(err), Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Provider: "openai", Err: ErrEmptyResponse}
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(turns []history.Turn) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case history.RoleSystem:
			out = append(out, openai.SystemMessage(t.Content))
		case history.RoleAssistant:
			out = append(out, openai.AssistantMessage(t.Content))
		default:
			out = append(out, openai.UserMessage(t.Content))
		}
	}
	return out
}

func openAIStatus(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
