package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role tags a Turn with its speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// DefaultTTL is refreshed on every write.
	DefaultTTL = time.Hour
	// DefaultCap is the number of most recent turns forwarded in a prompt.
	DefaultCap = 10

	keyPrefix = "chat:history:"
)

// Turn is one role-tagged message of a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the ordered list of turns kept for one user, oldest first.
type History []Turn

// Trim returns the most recent limit turns. The input is not modified; a
// limit <= 0 disables trimming.
func (h History) Trim(limit int) History {
	if limit <= 0 || len(h) <= limit {
		return h
	}
	return h[len(h)-limit:]
}

// Append returns a new History with turns added at the end. The receiver's
// backing array is never shared with the result.
func (h History) Append(turns ...Turn) History {
	out := make(History, 0, len(h)+len(turns))
	out = append(out, h...)
	return append(out, turns...)
}

// Key returns the storage key for a user's history.
func Key(userID string) string {
	return keyPrefix + userID
}

// Backend is the raw key-value contract implemented by each storage engine.
// Backends report errors; Store turns them into soft failures.
type Backend interface {
	Load(ctx context.Context, key string) (History, error)
	Save(ctx context.Context, key string, h History, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

func encode(h History) ([]byte, error) {
	if h == nil {
		h = History{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return b, nil
}

func decode(raw []byte) (History, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return History{}, nil
	}
	var h History
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if h == nil {
		h = History{}
	}
	return h, nil
}
