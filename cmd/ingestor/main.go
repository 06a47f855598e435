package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MikeSquared-Agency/ingestor/internal/api"
	"github.com/MikeSquared-Agency/ingestor/internal/broadcast"
	"github.com/MikeSquared-Agency/ingestor/internal/buffer"
	"github.com/MikeSquared-Agency/ingestor/internal/config"
	"github.com/MikeSquared-Agency/ingestor/internal/coordinator"
	"github.com/MikeSquared-Agency/ingestor/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("ingestor starting",
		"port", cfg.Port,
		"buffer_addr", cfg.BufferAddr(),
		"batch_size", cfg.BatchSize,
		"batch_timeout", cfg.BatchTimeout,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to the buffer (Redis).
	buf, err := buffer.New(ctx, cfg.BufferAddr(), cfg.BufferPassword)
	if err != nil {
		slog.Error("failed to connect to buffer", "error", err)
		os.Exit(1)
	}
	defer buf.Close()
	slog.Info("buffer connected")

	// Step 2: Connect to the relational store (Postgres) and bootstrap the schema.
	db, err := store.New(ctx, cfg.StoreDSN())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected")

	// Step 3: Start the batch coordinator.
	coord := coordinator.New(db, buf, coordinator.Config{
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RPSWindow:    cfg.RPSWindow,
	})
	coord.Start(ctx)

	// Step 4: Start the HTTP API with the telemetry broadcaster.
	bcast := broadcast.New(buf, broadcast.Config{
		Interval:  cfg.BroadcastInterval,
		BatchSize: cfg.BatchSize,
	})
	srv := api.NewServer(buf, db, bcast, cfg.Port, cfg.BatchSize)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("ingestor ready", "port", cfg.Port)

	// Wait for shutdown signal; the coordinator flushes staged messages
	// before exiting.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	cancel()
	coord.Wait()
	slog.Info("ingestor stopped")
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
