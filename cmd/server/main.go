package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/stream-stt-service/internal/config"
	"github.com/skypro1111/stream-stt-service/internal/job"
	"github.com/skypro1111/stream-stt-service/internal/metrics"
	"github.com/skypro1111/stream-stt-service/internal/pipeline"
	"github.com/skypro1111/stream-stt-service/internal/server"
	"github.com/skypro1111/stream-stt-service/internal/store"
	"github.com/skypro1111/stream-stt-service/internal/summary"
	"github.com/skypro1111/stream-stt-service/internal/transcription"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Starting streaming transcription service",
		slog.String("config", *configPath),
		slog.Int("port", cfg.HTTP.Port),
		slog.Int("workers", cfg.Dispatcher.Workers),
	)

	m := metrics.NewMetrics()

	var st *store.Store
	var jobStore job.Store
	if cfg.Storage.Enabled {
		st, err = store.Open(cfg.Storage.Path)
		if err != nil {
			logger.Error("Failed to open storage", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer st.Close()
		jobStore = st

		logger.Info("Storage opened", slog.String("path", cfg.Storage.Path))
	}

	engine, err := transcription.NewClient(cfg.Transcription, logger)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	summarizer, err := summary.NewClient(cfg.Summarizer, logger)
	if err != nil {
		logger.Error("Failed to create summarizer client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	coordinator, err := pipeline.NewCoordinator(cfg, engine, summarizer, jobStore, m, logger)
	if err != nil {
		logger.Error("Failed to create coordinator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := server.NewServer(coordinator, st, cfg, m, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", slog.String("error", err.Error()))
	}

	coordinator.Stop()

	logger.Info("Service stopped")
}

// initLogger builds the slog logger from configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output *os.File
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, using stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}
