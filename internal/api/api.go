// Package api exposes the operator surface of the pipeline: error record
// queries, reprocess and backfill triggers, the run ledger, and Prometheus
// metrics. The pipeline itself never depends on this package.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/archivemaps/georef-pipeline/internal/api/handlers"
	"github.com/archivemaps/georef-pipeline/internal/api/middleware"
	"github.com/archivemaps/georef-pipeline/internal/errsink"
	"github.com/archivemaps/georef-pipeline/internal/events"
	"github.com/archivemaps/georef-pipeline/internal/storage"
)

type Deps struct {
	Store     storage.ObjectStore
	Sink      *errsink.Sink
	Publisher events.Publisher
	Runs      handlers.RunsReader
	// Webhook bridges S3-style bucket notifications onto the event queue.
	// Nil when the deployment delivers events straight to Redis.
	Webhook http.Handler
}

func NewRouter(deps *Deps, allowedOrigins []string) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowOriginFunc = func(origin string) bool { return true }
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Webhook != nil {
		router.POST("/events", gin.WrapH(deps.Webhook))
	}

	apiGroup := router.Group("/api/v1")
	{
		errorsHandler := handlers.NewErrorsHandler(deps.Sink, deps.Store)
		apiGroup.GET("/errors", errorsHandler.List)
		apiGroup.GET("/errors/:name", errorsHandler.History)

		pipelineHandler := handlers.NewPipelineHandler(deps.Publisher, deps.Store, deps.Runs)
		apiGroup.POST("/reprocess", pipelineHandler.Reprocess)
		apiGroup.POST("/backfill", pipelineHandler.Backfill)
		apiGroup.GET("/runs", pipelineHandler.Runs)
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		parts := strings.Split(origin, ",")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
