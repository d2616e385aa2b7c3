package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/chenpeel/chat-relay/internal/history"
)

// MockGateway provides deterministic local replies when no API key is set.
type MockGateway struct{}

func NewMockGateway() *MockGateway { return &MockGateway{} }

func (g *MockGateway) Complete(ctx context.Context, turns []history.Turn) (string, error) {
	select {
	case <-ctx.Done():
		return "", &Error{Provider: "mock", Err: ctx.Err()}
	default:
	}
	return buildMockReply(turns), nil
}

func buildMockReply(turns []history.Turn) string {
	var input string
	var remembered string
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Role != history.RoleUser {
			continue
		}
		if input == "" {
			input = strings.TrimSpace(t.Content)
			continue
		}
		remembered = strings.TrimSpace(t.Content)
		break
	}
	if input == "" {
		input = "I am listening."
	}
	if remembered == "" {
		return fmt.Sprintf("I heard you: %s", input)
	}
	return fmt.Sprintf("I heard you: %s\nI also remember: %s", input, remembered)
}
