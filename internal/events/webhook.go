package events

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/archivemaps/georef-pipeline/pkg/logger"
)

// s3Event is the subset of the S3-style bucket notification payload we care
// about. MinIO and AWS both post this shape.
type s3Event struct {
	Records []struct {
		EventTime string `json:"eventTime"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// WebhookRouter bridges HTTP bucket notifications onto the queue so the core
// pipeline never depends on a specific trigger mechanism.
func WebhookRouter(pub Publisher) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/events", func(w http.ResponseWriter, req *http.Request) {
		var evt s3Event
		if err := json.NewDecoder(req.Body).Decode(&evt); err != nil {
			logger.Log.Warn().Err(err).Msg("rejecting malformed event payload")
			http.Error(w, "malformed event payload", http.StatusBadRequest)
			return
		}

		for _, rec := range evt.Records {
			// Object keys arrive URL-encoded in bucket notifications.
			key := rec.S3.Object.Key
			if decoded, err := url.QueryUnescape(key); err == nil {
				key = decoded
			}
			n := Notification{
				Store: rec.S3.Bucket.Name,
				Key:   key,
			}
			if ts, err := time.Parse(time.RFC3339, rec.EventTime); err == nil {
				n.Timestamp = ts
			} else {
				n.Timestamp = time.Now().UTC()
			}

			if err := pub.Publish(req.Context(), n); err != nil {
				logger.Log.Error().Err(err).Str("key", n.Key).Msg("failed to enqueue notification")
				http.Error(w, "enqueue failed", http.StatusInternalServerError)
				return
			}
			logger.Log.Info().Str("key", n.Key).Str("store", n.Store).Msg("notification enqueued")
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)
	return r
}
