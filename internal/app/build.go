package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/chenpeel/chat-relay/internal/chat"
	"github.com/chenpeel/chat-relay/internal/completion"
	"github.com/chenpeel/chat-relay/internal/config"
	"github.com/chenpeel/chat-relay/internal/history"
	"github.com/chenpeel/chat-relay/internal/httpapi"
	"github.com/chenpeel/chat-relay/internal/observability"
	"github.com/chenpeel/chat-relay/internal/persona"
	"github.com/chenpeel/chat-relay/internal/prompt"
	"github.com/chenpeel/chat-relay/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Pipeline *chat.Pipeline
	Store    *history.Store
	Metrics  *observability.Metrics
	Persona  persona.Persona
	Provider string

	// Cleanup should be called on shutdown to release the history backend.
	Cleanup func() error
}

// Build wires the relay from cfg. No external service is dialed here; the
// history backend connects on first use.
func Build(cfg config.Config, logger *slog.Logger, metrics *observability.Metrics) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}

	p := persona.Load(cfg.PersonaPath)
	if p.IsDefault() {
		logger.Warn("using built-in persona", "path", cfg.PersonaPath, "error", p.LoadErr)
	} else {
		logger.Info("persona loaded", "path", p.Source, "length", len([]rune(p.Text)))
	}

	backend, err := history.NewBackend(history.BackendConfig{
		Kind:        cfg.HistoryBackend,
		RedisURL:    cfg.RedisURL,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("history backend init failed: %w", err)
	}
	store := history.NewStore(backend,
		history.WithTTL(cfg.HistoryTTL),
		history.WithLogger(logger),
		history.WithObserver(metrics.ObserveStoreOp),
	)

	gateway, err := completion.NewGateway(completion.Config{
		Provider:        cfg.CompletionProvider,
		BaseURL:         cfg.CompletionBaseURL,
		APIKey:          cfg.CompletionAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		Model:           cfg.CompletionModel,
		Timeout:         cfg.CompletionTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("completion gateway init failed: %w", err)
	}
	provider := completion.ProviderName(gateway)
	assembler := prompt.New(p.Text, cfg.Location(), cfg.HistoryCap)
	logger.Info("relay configured",
		"history_backend", strings.ToLower(cfg.HistoryBackend),
		"history_ttl", store.TTL(),
		"history_cap", assembler.Cap(),
		"timezone", assembler.Location().String(),
		"provider", provider,
		"serialize_per_user", cfg.SerializePerUser,
	)

	sessions := session.NewRegistry()
	sessions.SetResetHook(func(previous, next string) {
		logger.Debug("session rotated", "previous_session_id", previous, "session_id", next)
	})

	pipeline := chat.NewPipeline(
		store,
		assembler,
		gateway,
		sessions,
		metrics,
		chat.WithLogger(logger),
		chat.WithPerUserSerialization(cfg.SerializePerUser),
	)

	api := httpapi.New(cfg, pipeline, metrics, logger)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Pipeline: pipeline,
		Store:    store,
		Metrics:  metrics,
		Persona:  p,
		Provider: provider,
		Cleanup:  store.Close,
	}, nil
}
