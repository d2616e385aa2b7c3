package history

import (
	"context"
	"log/slog"
	"time"
)

// Result reports the outcome of a best-effort write. A failed write never
// fails the caller's request; callers branch on OK and log Err.
type Result struct {
	OK  bool
	Err error
}

// OpObserver is notified after every store operation.
type OpObserver func(op string, ok bool)

// Store applies the soft-fail policy on top of a Backend: reads degrade to an
// empty History and writes degrade to a failed Result.
type Store struct {
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger
	observe OpObserver
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(fn OpObserver) Option {
	return func(s *Store) { s.observe = fn }
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		ttl:     DefaultTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored history for userID, or an empty History when the
// key is missing or the backend fails.
func (s *Store) Get(ctx context.Context, userID string) History {
	h, err := s.backend.Load(ctx, Key(userID))
	s.notify("get", err == nil)
	if err != nil {
		s.logger.WarnContext(ctx, "history get failed", "user_id", userID, "error", err)
		return History{}
	}
	if h == nil {
		return History{}
	}
	return h
}

// Set replaces the stored history and refreshes its TTL.
func (s *Store) Set(ctx context.Context, userID string, h History) Result {
	err := s.backend.Save(ctx, Key(userID), h, s.ttl)
	s.notify("set", err == nil)
	if err != nil {
		s.logger.WarnContext(ctx, "history set failed", "user_id", userID, "error", err)
		return Result{Err: err}
	}
	return Result{OK: true}
}

// Clear deletes the stored history.
func (s *Store) Clear(ctx context.Context, userID string) Result {
	err := s.backend.Delete(ctx, Key(userID))
	s.notify("clear", err == nil)
	if err != nil {
		s.logger.WarnContext(ctx, "history clear failed", "user_id", userID, "error", err)
		return Result{Err: err}
	}
	return Result{OK: true}
}

func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) Close() error { return s.backend.Close() }

func (s *Store) notify(op string, ok bool) {
	if s.observe != nil {
		s.observe(op, ok)
	}
}
