package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/archivemaps/georef-pipeline/internal/events"
	"github.com/archivemaps/georef-pipeline/internal/ledger"
	"github.com/archivemaps/georef-pipeline/internal/storage"
)

// RunsReader is the optional ledger query surface. A nil reader disables the
// runs endpoint without disabling the rest of the API.
type RunsReader interface {
	RecentRuns(ctx context.Context, key string, limit int) ([]ledger.Run, error)
}

type PipelineHandler struct {
	publisher events.Publisher
	store     storage.ObjectStore
	runs      RunsReader
}

func NewPipelineHandler(publisher events.Publisher, store storage.ObjectStore, runs RunsReader) *PipelineHandler {
	return &PipelineHandler{publisher: publisher, store: store, runs: runs}
}

type reprocessRequest struct {
	Key string `json:"key" binding:"required"`
}

// Reprocess re-emits the notification for a stored object. Stages overwrite
// their derived keys, so repeating a run is always safe.
func (h *PipelineHandler) Reprocess(c *gin.Context) {
	var req reprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.Stat(ctx, req.Key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "no such object: "+req.Key)
			return
		}
		errorResponse(c, http.StatusInternalServerError, "failed to stat object: "+err.Error())
		return
	}

	n := events.Notification{Key: req.Key, Timestamp: time.Now().UTC()}
	if err := h.publisher.Publish(ctx, n); err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to publish event: "+err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"key": req.Key, "status": "queued"})
}

type backfillRequest struct {
	Prefix string `json:"prefix" binding:"required"`
}

// Backfill re-emits notifications for every object under a prefix.
func (h *PipelineHandler) Backfill(c *gin.Context) {
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	infos, err := h.store.List(ctx, req.Prefix)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to list objects: "+err.Error())
		return
	}

	queued := 0
	for _, info := range infos {
		n := events.Notification{Key: info.Key, Timestamp: time.Now().UTC()}
		if err := h.publisher.Publish(ctx, n); err != nil {
			errorResponse(c, http.StatusInternalServerError, "failed to publish event: "+err.Error())
			return
		}
		queued++
	}
	c.JSON(http.StatusAccepted, gin.H{"prefix": req.Prefix, "queued": queued})
}

// Runs returns the recent ledger rows for one object key, newest first.
func (h *PipelineHandler) Runs(c *gin.Context) {
	if h.runs == nil {
		errorResponse(c, http.StatusServiceUnavailable, "run ledger is not enabled")
		return
	}

	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		errorResponse(c, http.StatusBadRequest, "key query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	rows, err := h.runs.RecentRuns(c.Request.Context(), key, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to query runs: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "runs": rows})
}
