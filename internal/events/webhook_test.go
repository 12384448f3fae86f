package events

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func receiveOne(t *testing.T, queue *MemoryQueue) Notification {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	delivery, err := queue.Receive(ctx)
	if err != nil {
		t.Fatalf("no notification enqueued: %v", err)
	}
	return delivery.Notification
}

func TestWebhookEnqueuesDecodedKey(t *testing.T) {
	queue := NewMemoryQueue()
	router := WebhookRouter(queue)

	payload := `{"Records": [{"eventTime": "2026-08-30T12:00:00Z",
		"s3": {"bucket": {"name": "georef"}, "object": {"key": "raw%2Fdenver+1905.tif"}}}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(payload))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	n := receiveOne(t, queue)
	if n.Key != "raw/denver 1905.tif" {
		t.Errorf("key = %q, want URL-decoded key", n.Key)
	}
	if n.Store != "georef" {
		t.Errorf("store = %q", n.Store)
	}
	if n.Timestamp.IsZero() {
		t.Error("event timestamp not carried over")
	}
}

func TestWebhookFansOutMultipleRecords(t *testing.T) {
	queue := NewMemoryQueue()
	router := WebhookRouter(queue)

	payload := `{"Records": [
		{"s3": {"bucket": {"name": "georef"}, "object": {"key": "raw/a.tif"}}},
		{"s3": {"bucket": {"name": "georef"}, "object": {"key": "raw/b.tif"}}}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(payload))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[receiveOne(t, queue).Key] = true
	}
	if !seen["raw/a.tif"] || !seen["raw/b.tif"] {
		t.Errorf("enqueued keys = %v", seen)
	}
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	queue := NewMemoryQueue()
	router := WebhookRouter(queue)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader("not json"))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Notification) error {
	return errors.New("stream unavailable")
}

func TestWebhookReportsEnqueueFailure(t *testing.T) {
	router := WebhookRouter(failingPublisher{})

	payload := `{"Records": [{"s3": {"bucket": {"name": "georef"}, "object": {"key": "raw/a.tif"}}}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(payload))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
