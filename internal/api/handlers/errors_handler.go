package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/archivemaps/georef-pipeline/internal/errsink"
	"github.com/archivemaps/georef-pipeline/internal/keys"
	"github.com/archivemaps/georef-pipeline/internal/storage"
)

type ErrorsHandler struct {
	sink  *errsink.Sink
	store storage.ObjectStore
}

func NewErrorsHandler(sink *errsink.Sink, store storage.ObjectStore) *ErrorsHandler {
	return &ErrorsHandler{sink: sink, store: store}
}

// List returns the keys of every error record object, i.e. one entry per
// source image that has failed at least once.
func (h *ErrorsHandler) List(c *gin.Context) {
	infos, err := h.store.List(c.Request.Context(), keys.ErrorPrefix)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to list error records: "+err.Error())
		return
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, keys.Name(info.Key))
	}
	c.JSON(http.StatusOK, gin.H{"failed": names, "count": len(names)})
}

// History returns the full append-only failure history for one source image,
// oldest record first.
func (h *ErrorsHandler) History(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		errorResponse(c, http.StatusBadRequest, "image name is required")
		return
	}

	records, err := h.sink.History(c.Request.Context(), keys.RawPrefix+name)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to read error history: "+err.Error())
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no error records for " + name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "records": records})
}
