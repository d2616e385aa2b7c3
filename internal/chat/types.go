package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/chenpeel/chat-relay/internal/history"
)

const (
	DefaultUserID    = "anonymous"
	DefaultCharacter = "nahida"
)

// HistoryStore is the soft-fail history contract; *history.Store implements it.
type HistoryStore interface {
	Get(ctx context.Context, userID string) history.History
	Set(ctx context.Context, userID string, h history.History) history.Result
	Clear(ctx context.Context, userID string) history.Result
}

// SessionRegistry mints session identifiers on reset.
type SessionRegistry interface {
	Reset(previous string) string
}

// Request is one inbound chat turn.
type Request struct {
	Message   string
	UserID    string
	Character string
	// At is the caller-supplied reference time; zero means server time.
	At time.Time
}

// Reply is the successful outcome of a turn.
type Reply struct {
	Text       string
	Character  string
	UserID     string
	ServerTime time.Time
	// Persisted is false when the history write failed; the reply is still valid.
	Persisted bool
}

// ResetResult is the outcome of a reset. Cleared reports whether the stored
// history was deleted; the reset itself always succeeds.
type ResetResult struct {
	UserID    string
	SessionID string
	Cleared   bool
}

// Stage names the pipeline state a turn reached.
type Stage string

const (
	StageReceived           Stage = "received"
	StageHistoryLoaded      Stage = "history_loaded"
	StagePromptBuilt        Stage = "prompt_built"
	StageAwaitingCompletion Stage = "awaiting_completion"
	StageHistoryPersisted   Stage = "history_persisted"
	StageReplied            Stage = "replied"
	StageFailed             Stage = "failed"
)

// ValidationError rejects a turn before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UpstreamError reports a failed completion call. History is left as it was
// before the turn.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Detail is the opaque upstream message returned to the caller.
func (e *UpstreamError) Detail() string {
	if e.Err == nil {
		return "unknown upstream error"
	}
	return e.Err.Error()
}
