package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MikeSquared-Agency/vigil/internal/api"
	"github.com/MikeSquared-Agency/vigil/internal/cache"
	"github.com/MikeSquared-Agency/vigil/internal/config"
	"github.com/MikeSquared-Agency/vigil/internal/evaluator"
	"github.com/MikeSquared-Agency/vigil/internal/hermes"
	"github.com/MikeSquared-Agency/vigil/internal/metrics"
	"github.com/MikeSquared-Agency/vigil/internal/pipeline"
	"github.com/MikeSquared-Agency/vigil/internal/provider"
	"github.com/MikeSquared-Agency/vigil/internal/slack"
	"github.com/MikeSquared-Agency/vigil/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("vigil starting", "port", cfg.Port, "provider", cfg.Provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

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

	// Evaluator provider
	prov, err := provider.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to create evaluator provider", "error", err)
		os.Exit(1)
	}
	if c, ok := prov.(interface{ Close() error }); ok {
		defer c.Close()
	}
	slog.Info("evaluator ready", "provider", prov.Name(), "model", cfg.ProviderModel())

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	deps := pipeline.Deps{
		Client:    evaluator.NewClient(prov, cfg.EvalTimeout, slog.Default()),
		Store:     db,
		Publisher: hermesClient,
		Metrics:   metrics.NewPipelineMetrics(prometheus.DefaultRegisterer),
	}

	// Redis claim guard (optional; without it redelivered events may be evaluated twice)
	if cfg.RedisURL != "" {
		claims, err := cache.Connect(ctx, cfg.RedisURL, cache.DefaultTTL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer claims.Close()
		deps.Claims = claims
		slog.Info("redis claim guard ready")
	} else {
		slog.Warn("redis not configured, running without claim guard")
	}

	// Slack risk alerts (optional)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		deps.Alerts = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack risk alerts ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, risk alerts go to NATS only")
	}

	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		slog.Error("invalid pipeline configuration", "error", err)
		os.Exit(1)
	}
	pipe, err := pipeline.New(opts, deps, slog.Default())
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	if err := hermesClient.SubscribeTranscriptStored(pipe.HandleTranscriptStored); err != nil {
		slog.Error("failed to subscribe to transcript events", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Deps{
		Evaluator:   pipe,
		Evaluations: db,
		Logger:      slog.Default(),
	})
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	if err := hermesClient.Publish("swarm.agent.vigil.registered", map[string]any{
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"port":           cfg.Port,
		"provider":       prov.Name(),
		"rubric_version": pipe.RubricVersion(),
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("vigil ready", "port", cfg.Port, "rubric_version", pipe.RubricVersion())

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	cancel()
	slog.Info("vigil stopped")
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
