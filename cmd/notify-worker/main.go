package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nexacrm/leadflow/internal/bus"
	"github.com/nexacrm/leadflow/internal/config"
	"github.com/nexacrm/leadflow/internal/observability/metrics"
	"github.com/nexacrm/leadflow/internal/store"
	notifyworker "github.com/nexacrm/leadflow/internal/worker/notify"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("notify-worker starting", "poll_interval", cfg.NotifyPollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	m := metrics.NewPipelineMetrics(nil)

	sender := notifyworker.NewSender(db, m, slog.Default()).
		WithInterval(cfg.NotifyPollInterval).
		WithBatchSize(cfg.NotifyBatchSize).
		WithMaxAttempts(cfg.NotifyMaxAttempts)

	// NATS nudges shortcut the poll interval; polling alone is sufficient.
	if cfg.NatsURL != "" {
		busClient, err := bus.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Warn("NATS unavailable, polling only", "error", err)
		} else {
			defer busClient.Close()
			if err := busClient.Subscribe(bus.SubjectEventPending, func(string, []byte) {
				sender.Nudge()
			}); err != nil {
				slog.Warn("nudge subscription failed, polling only", "error", err)
			}
		}
	}

	go sender.Run(ctx)
	slog.Info("notify-worker ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("notify-worker stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
