package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chenpeel/chat-relay/internal/app"
	"github.com/chenpeel/chat-relay/internal/config"
	"github.com/chenpeel/chat-relay/internal/observability"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code. Deferred cleanup, including the log
// files, completes before main exits.
func run() int {
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("dotenv error: %v", err)
		return 1
	}
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config error: %v", err)
		return 1
	}

	logger, logCloser, err := observability.NewLogger(observability.LogConfig{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Dir:     cfg.LogDir,
		Service: "chat-relay",
	})
	if err != nil {
		log.Printf("logger init failed: %v", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	relay, err := app.Build(cfg, logger, observability.NewMetrics(cfg.MetricsNamespace))
	if err != nil {
		logger.Error("relay init failed", "error", err)
		return 1
	}
	defer func() {
		if err := relay.Cleanup(); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           relay.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	code := 0
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-listenErr:
		logger.Error("listen error", "error", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return code
}
