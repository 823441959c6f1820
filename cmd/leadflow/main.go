package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexacrm/leadflow/internal/api"
	"github.com/nexacrm/leadflow/internal/bus"
	"github.com/nexacrm/leadflow/internal/config"
	"github.com/nexacrm/leadflow/internal/extraction"
	"github.com/nexacrm/leadflow/internal/gateway"
	"github.com/nexacrm/leadflow/internal/leads"
	"github.com/nexacrm/leadflow/internal/notify"
	"github.com/nexacrm/leadflow/internal/observability/metrics"
	"github.com/nexacrm/leadflow/internal/pipeline"
	"github.com/nexacrm/leadflow/internal/scoring"
	"github.com/nexacrm/leadflow/internal/session"
	"github.com/nexacrm/leadflow/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("leadflow starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
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

	// Gateway client
	gw := gateway.NewClient(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)
	slog.Info("gateway client ready", "url", cfg.GatewayURL, "timeout", cfg.GatewayTimeout)

	// NATS is optional; the pipeline works without it, just no nudges.
	var busClient *bus.Client
	if cfg.NatsURL != "" {
		busClient, err = bus.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Warn("NATS unavailable, running without nudges", "error", err)
			busClient = nil
		} else {
			defer busClient.Close()
			slog.Info("NATS connected", "url", cfg.NatsURL)
		}
	}

	m := metrics.NewPipelineMetrics(nil)

	// Pipeline components
	sessions := session.NewManager(db, slog.Default())
	ext := extraction.New(gw, cfg.ChatChannel, slog.Default())
	resolver := leads.NewResolver(db, cfg.LeadOwner, cfg.NurtureBucket, slog.Default())

	var nudger notify.Nudger
	if busClient != nil {
		nudger = busClient
	}
	dispatcher := notify.NewDispatcher(db, cfg.NotifyTargets, nudger, slog.Default())

	pipe := pipeline.New(sessions, gw, db, ext, resolver, dispatcher, m, pipeline.Options{
		ScoreThreshold: cfg.LeadScoreThreshold,
		HistoryLimit:   cfg.HistoryLimit,
		GatewayTimeout: cfg.GatewayTimeout,
		Channel:        cfg.ChatChannel,
		Weights:        scoring.DefaultWeights(),
	}, slog.Default())

	// HTTP API
	srv := api.NewServer(cfg.Port, pipe, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce boot
	if busClient != nil {
		if err := busClient.Publish(bus.SubjectServiceRegistered, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("leadflow ready", "port", cfg.Port, "score_threshold", cfg.LeadScoreThreshold)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("leadflow stopped")
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
