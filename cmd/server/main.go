package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/archivemaps/georef-pipeline/internal/api"
	"github.com/archivemaps/georef-pipeline/internal/api/handlers"
	"github.com/archivemaps/georef-pipeline/internal/config"
	"github.com/archivemaps/georef-pipeline/internal/errsink"
	"github.com/archivemaps/georef-pipeline/internal/events"
	"github.com/archivemaps/georef-pipeline/internal/ledger"
	"github.com/archivemaps/georef-pipeline/internal/storage"
	"github.com/archivemaps/georef-pipeline/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.Server.Mode)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := storage.NewMinioStore(cfg.Store)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to object store")
	}

	hostname, _ := os.Hostname()
	queue, err := events.NewRedisQueue(cfg.Queue, hostname+"-api")
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to event queue")
	}
	defer queue.Close()

	var runs handlers.RunsReader
	if cfg.Ledger.Enabled {
		l, err := ledger.Open(cfg.Ledger.URL)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to open run ledger")
		}
		defer l.Close()
		runs = l
	}

	router := api.NewRouter(&api.Deps{
		Store:     store,
		Sink:      errsink.NewSink(store),
		Publisher: queue,
		Runs:      runs,
		Webhook:   events.WebhookRouter(queue),
	}, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}
