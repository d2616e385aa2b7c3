package completion

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/chenpeel/chat-relay/internal/history"
)

const DefaultAnthropicModel = anthropic.ModelClaude3_7SonnetLatest

// AnthropicGateway sends the conversation to the Anthropic Messages API.
// System turns are lifted into the request's system field.
type AnthropicGateway struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicGateway(cfg Config) *AnthropicGateway {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.AnthropicAPIKey),
		option.WithMaxRetries(0),
	}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" && u != DefaultBaseURL {
		opts = append(opts, option.WithBaseURL(u))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	model := DefaultAnthropicModel
	if cfg.Model != "" && cfg.Model != DefaultModel {
		model = anthropic.Model(cfg.Model)
	}
	return &AnthropicGateway{client: anthropic.NewClient(opts...), model: model}
}

func (g *AnthropicGateway) Complete(ctx context.Context, turns []history.Turn) (string, error) {
	system, msgs := toAnthropicMessages(turns)
	params := anthropic.MessageNewParams{
		Model:       g.model,
		MaxTokens:   int64(MaxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", &Error{Provider: "anthropic", StatusCode: anthropicStatus(err), Err: err}
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(tb.Text)
		}
	}
	if out.Len() == 0 {
		return "", &Error{Provider: "anthropic", Err: ErrEmptyResponse}
	}
	return out.String(), nil
}

func toAnthropicMessages(turns []history.Turn) (string, []anthropic.MessageParam) {
	var system []string
	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case history.RoleSystem:
			system = append(system, t.Content)
		case history.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		}
	}
	return strings.Join(system, "\n\n"), msgs
}

func anthropicStatus(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
