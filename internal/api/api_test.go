package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/archivemaps/georef-pipeline/internal/errsink"
	"github.com/archivemaps/georef-pipeline/internal/events"
	"github.com/archivemaps/georef-pipeline/internal/storage"
)

func newTestRouter(t *testing.T) (*gin.Engine, *storage.MemoryStore, *events.MemoryQueue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore()
	queue := events.NewMemoryQueue()
	router := NewRouter(&Deps{
		Store:     store,
		Sink:      errsink.NewSink(store),
		Publisher: queue,
	}, nil)
	return router, store, queue
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestReprocessQueuesExistingObject(t *testing.T) {
	router, store, queue := newTestRouter(t)
	ctx := context.Background()

	if err := store.Put(ctx, "raw/denver.tif", []byte("bytes"), "image/tiff"); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reprocess",
		strings.NewReader(`{"key": "raw/denver.tif"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	delivery, err := queue.Receive(recvCtx)
	if err != nil {
		t.Fatal(err)
	}
	if delivery.Notification.Key != "raw/denver.tif" {
		t.Errorf("queued key = %q", delivery.Notification.Key)
	}
}

func TestReprocessRejectsMissingObject(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reprocess",
		strings.NewReader(`{"key": "raw/nope.tif"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestBackfillQueuesEveryObjectUnderPrefix(t *testing.T) {
	router, store, queue := newTestRouter(t)
	ctx := context.Background()

	for _, key := range []string{"raw/a.tif", "raw/b.png", "compressed/c.png"} {
		if err := store.Put(ctx, key, []byte("bytes"), "application/octet-stream"); err != nil {
			t.Fatal(err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/backfill",
		strings.NewReader(`{"prefix": "raw/"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Queued int `json:"queued"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Queued != 2 {
		t.Errorf("queued = %d, want 2", resp.Queued)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		recvCtx, cancel := context.WithTimeout(ctx, time.Second)
		delivery, err := queue.Receive(recvCtx)
		cancel()
		if err != nil {
			t.Fatal(err)
		}
		seen[delivery.Notification.Key] = true
	}
	if !seen["raw/a.tif"] || !seen["raw/b.png"] {
		t.Errorf("queued keys = %v", seen)
	}
}

func TestErrorHistoryEndpoint(t *testing.T) {
	router, store, _ := newTestRouter(t)
	ctx := context.Background()

	sink := errsink.NewSink(store)
	if err := sink.Write(ctx, "compress", "raw/denver.tif", errsink.KindCorruptInput, "bad header"); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/errors/denver", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "CorruptInput") {
		t.Errorf("body %s does not contain the record kind", w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/errors/unknown", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown image", w.Code)
	}
}

func TestRunsEndpointDisabledWithoutLedger(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?key=raw/denver.tif", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
