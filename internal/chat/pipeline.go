// Package chat runs one conversation turn: load history, assemble the prompt,
// call the completion gateway, persist the new turns and reply.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/chenpeel/chat-relay/internal/completion"
	"github.com/chenpeel/chat-relay/internal/history"
	"github.com/chenpeel/chat-relay/internal/observability"
	"github.com/chenpeel/chat-relay/internal/policy"
	"github.com/chenpeel/chat-relay/internal/prompt"
	"github.com/chenpeel/chat-relay/internal/reliability"
)

const (
	persistTimeout    = 2 * time.Second
	logPreviewMaxRune = 48
)

type Pipeline struct {
	store     HistoryStore
	assembler *prompt.Assembler
	gateway   completion.Gateway
	sessions  SessionRegistry
	metrics   *observability.Metrics
	logger    *slog.Logger
	provider  string

	now     func() time.Time
	onStage func(userID string, stage Stage)
	locks   *userLocks
}

type Option func(*Pipeline)

// WithClock overrides the server clock used when a request has no timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithStageHook registers a callback for every state transition.
func WithStageHook(hook func(userID string, stage Stage)) Option {
	return func(p *Pipeline) { p.onStage = hook }
}

// WithPerUserSerialization holds a per-user lock from history load to
// persist, so concurrent turns of one user cannot overwrite each other.
// Without it the last writer wins.
func WithPerUserSerialization(enabled bool) Option {
	return func(p *Pipeline) {
		if enabled {
			p.locks = newUserLocks()
		} else {
			p.locks = nil
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPipeline(
	store HistoryStore,
	assembler *prompt.Assembler,
	gateway completion.Gateway,
	sessions SessionRegistry,
	metrics *observability.Metrics,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		store:     store,
		assembler: assembler,
		gateway:   gateway,
		sessions:  sessions,
		metrics:   metrics,
		logger:    slog.Default(),
		provider:  completion.ProviderName(gateway),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle runs one turn. The only errors returned are *ValidationError and
// *UpstreamError; store failures are absorbed.
func (p *Pipeline) Handle(ctx context.Context, req Request) (Reply, error) {
	userID := normalizeUserID(req.UserID)
	character := strings.TrimSpace(req.Character)
	if character == "" {
		character = DefaultCharacter
	}
	logger := p.logger.With("user_id", userID)

	p.stage(userID, StageReceived)
	logger.InfoContext(ctx, "chat turn received", "character", character, "message_length", len([]rune(req.Message)))
	if req.Message == "" {
		p.stage(userID, StageFailed)
		p.metrics.ObserveTurn("validation_error")
		logger.WarnContext(ctx, "empty chat message")
		return Reply{}, &ValidationError{Field: "message", Reason: "must not be empty"}
	}

	if p.locks != nil {
		release := p.locks.acquire(userID)
		defer release()
	}

	h := p.store.Get(ctx, userID)
	p.stage(userID, StageHistoryLoaded)
	logger.DebugContext(ctx, "history loaded", "turns", len(h))

	if len(h) > p.assembler.Cap() && p.assembler.Cap() > 0 {
		logger.DebugContext(ctx, "trimming history", "turns", len(h), "cap", p.assembler.Cap())
		h = h.Trim(p.assembler.Cap())
	}

	ref := req.At
	if ref.IsZero() {
		ref = p.now()
	}
	msgs := p.assembler.Build(ref, h, req.Message)
	p.stage(userID, StagePromptBuilt)
	logger.DebugContext(ctx, "prompt built",
		"messages", len(msgs),
		"time_annotation", p.assembler.TimeAnnotation(ref),
		"preview", policy.LogPreview(req.Message, logPreviewMaxRune),
	)

	p.stage(userID, StageAwaitingCompletion)
	started := time.Now()
	reply, err := p.gateway.Complete(ctx, msgs)
	p.metrics.ObserveCompletion(time.Since(started))
	if err != nil {
		p.stage(userID, StageFailed)
		p.metrics.ObserveTurn("upstream_error")
		logger.ErrorContext(ctx, "completion failed", append(p.observeProviderError(err), "error", err)...)
		return Reply{}, &UpstreamError{Err: err}
	}
	logger.DebugContext(ctx, "completion received", "reply_length", len([]rune(reply)))

	h = h.Append(
		history.Turn{Role: history.RoleUser, Content: req.Message},
		history.Turn{Role: history.RoleAssistant, Content: reply},
	)

	// The write outlives a disconnected caller so a delivered reply is kept.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	res := p.store.Set(persistCtx, userID, h)
	cancel()
	if res.OK {
		p.stage(userID, StageHistoryPersisted)
		logger.DebugContext(ctx, "history persisted", "turns", len(h))
	} else {
		logger.WarnContext(ctx, "history not persisted, replying anyway", "error", res.Err)
	}

	p.stage(userID, StageReplied)
	p.metrics.ObserveTurn("replied")
	logger.InfoContext(ctx, "chat turn replied")
	return Reply{
		Text:       reply,
		Character:  character,
		UserID:     userID,
		ServerTime: ref,
		Persisted:  res.OK,
	}, nil
}

// Reset clears the user's history and mints a new session id. It always
// succeeds; a failed delete is reported through Cleared. With per-user
// serialization it waits for an in-flight turn of the same user, so that
// turn's write cannot land after the clear.
func (p *Pipeline) Reset(ctx context.Context, userID, previousSessionID string) ResetResult {
	userID = normalizeUserID(userID)
	logger := p.logger.With("user_id", userID)
	logger.InfoContext(ctx, "resetting chat history")

	if p.locks != nil {
		release := p.locks.acquire(userID)
		defer release()
	}

	res := p.store.Clear(ctx, userID)
	if !res.OK {
		logger.WarnContext(ctx, "history clear failed, reset reported anyway", "error", res.Err)
	}
	sessionID := p.sessions.Reset(previousSessionID)
	p.metrics.ObserveReset()
	logger.InfoContext(ctx, "chat history reset", "new_session_id", sessionID)

	return ResetResult{UserID: userID, SessionID: sessionID, Cleared: res.OK}
}

func (p *Pipeline) stage(userID string, s Stage) {
	if p.onStage != nil {
		p.onStage(userID, s)
	}
}

// observeProviderError counts the failure and returns log attributes that
// classify it.
func (p *Pipeline) observeProviderError(err error) []any {
	var cerr *completion.Error
	if errors.As(err, &cerr) {
		p.metrics.ObserveProviderError(cerr.Provider, cerr.Code())
		return []any{
			"provider", cerr.Provider,
			"code", cerr.Code(),
			"retryable", cerr.Retryable(),
			"client_error", reliability.IsClientHTTPStatus(cerr.StatusCode),
		}
	}
	p.metrics.ObserveProviderError(p.provider, "unknown")
	return []any{"provider", p.provider, "code", "unknown"}
}

func normalizeUserID(userID string) string {
	if strings.TrimSpace(userID) == "" {
		return DefaultUserID
	}
	return userID
}
