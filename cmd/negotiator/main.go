// Package main is the entry point for the deployment-risk negotiator
// service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/verdictlabs/negotiator/internal/engine"
	"github.com/verdictlabs/negotiator/internal/events"
	"github.com/verdictlabs/negotiator/internal/handlers"
	"github.com/verdictlabs/negotiator/internal/history"
	"github.com/verdictlabs/negotiator/internal/metrics"
	"github.com/verdictlabs/negotiator/internal/recorder"
	"github.com/verdictlabs/negotiator/pkg/config"
	"github.com/verdictlabs/negotiator/pkg/logger"
	"github.com/verdictlabs/negotiator/pkg/telemetry"
)

// Build information (set via ldflags).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.LogLevel, "json")
	log = log.WithService("negotiator")

	log.Info("starting deployment-risk negotiator",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"env", cfg.Env,
		"db_path", cfg.History.DBPath,
		"tuning_enabled", cfg.Tuning.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, err := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "negotiator",
		ServiceVersion: version,
		Environment:    cfg.Env,
		Enabled:        cfg.Telemetry.Enabled,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		OTLPInsecure:   cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to create telemetry provider: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	store, err := history.NewSQLiteStore(cfg.History.DBPath, log, history.Options{
		RetentionRows: int64(cfg.History.RetentionRows),
	})
	if err != nil {
		return fmt.Errorf("failed to open outcome store: %w", err)
	}
	defer store.Close()
	log.Info("opened outcome store", "path", cfg.History.DBPath)

	var publisher recorder.Publisher
	if cfg.Events.Enabled {
		kafkaPublisher, err := events.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, log)
		if err != nil {
			log.Warn("failed to create event publisher, running without events", "error", err)
		} else {
			defer kafkaPublisher.Close()
			publisher = kafkaPublisher
			log.Info("initialized outcome event publisher", "topic", cfg.Events.Topic)
		}
	}

	var engineMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		engineMetrics = metrics.New()
	}

	eng := engine.New(engine.Options{
		Config:    cfg,
		Logger:    log,
		Store:     store,
		Publisher: publisher,
		Metrics:   engineMetrics,
		Tracer:    tracer,
	})

	eng.Start(ctx)
	defer eng.Stop()

	handler := handlers.New(handlers.Config{
		Engine:  eng,
		Config:  cfg,
		Logger:  log,
		Metrics: engineMetrics,
		BuildInfo: handlers.BuildInfo{
			Version:   version,
			BuildTime: buildTime,
			GitCommit: gitCommit,
		},
	})

	server := &http.Server{
		Addr:         cfg.API.Address(),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.API.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				return fmt.Errorf("forced shutdown error: %w", err)
			}
		}

		log.Info("server shutdown complete")
	}

	return nil
}
