package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/archivemaps/georef-pipeline/internal/compress"
	"github.com/archivemaps/georef-pipeline/internal/config"
	"github.com/archivemaps/georef-pipeline/internal/errsink"
	"github.com/archivemaps/georef-pipeline/internal/events"
	"github.com/archivemaps/georef-pipeline/internal/extract"
	"github.com/archivemaps/georef-pipeline/internal/keys"
	"github.com/archivemaps/georef-pipeline/internal/ledger"
	"github.com/archivemaps/georef-pipeline/internal/llm"
	"github.com/archivemaps/georef-pipeline/internal/pipeline"
	"github.com/archivemaps/georef-pipeline/internal/publish"
	"github.com/archivemaps/georef-pipeline/internal/storage"
	"github.com/archivemaps/georef-pipeline/pkg/logger"
)

const workerCount = 4

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.Server.Mode)

	store, err := storage.NewMinioStore(cfg.Store)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to object store")
	}

	hostname, _ := os.Hostname()
	queue, err := events.NewRedisQueue(cfg.Queue, hostname)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to event queue")
	}
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher, err := publish.NewGitHubPublisher(ctx, cfg.Publish)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize GitHub publisher")
	}

	var recorder pipeline.Recorder
	if cfg.Ledger.Enabled {
		l, err := ledger.Open(cfg.Ledger.URL)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to open run ledger")
		}
		defer l.Close()
		recorder = l
	}

	runner := pipeline.NewRunner(queue, errsink.NewSink(store), recorder, workerCount)
	runner.Register(keys.IsRaw, compress.NewStage(store, cfg.Compress), cfg.Compress.Timeout)
	runner.Register(keys.IsCompressed,
		extract.NewStage(store, llm.NewAnthropicClient(cfg.LLM), publisher, cfg.Extract),
		cfg.Extract.Timeout)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Log.Info().Msg("Shutting down worker...")
		cancel()
	}()

	logger.Log.Info().
		Str("stream", cfg.Queue.Stream).
		Str("group", cfg.Queue.Group).
		Int("workers", workerCount).
		Msg("Starting pipeline worker")

	if err := runner.Run(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Worker stopped with error")
	}
	logger.Log.Info().Msg("Worker exiting")
}
