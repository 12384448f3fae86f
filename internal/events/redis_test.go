package events

import (
	"context"
	"testing"
	"time"

	"github.com/archivemaps/georef-pipeline/internal/config"
)

func TestBuildRedisOptions(t *testing.T) {
	opt, err := buildRedisOptions(config.QueueConfig{RedisURL: "redis://:secret@example.com:6380/2"})
	if err != nil {
		t.Fatal(err)
	}
	if opt.Addr != "example.com:6380" || opt.Password != "secret" || opt.DB != 2 {
		t.Errorf("parsed options = %+v", opt)
	}

	opt, err = buildRedisOptions(config.QueueConfig{RedisHost: "10.0.0.5", RedisPort: "6379", RedisDB: 1})
	if err != nil {
		t.Fatal(err)
	}
	if opt.Addr != "10.0.0.5:6379" || opt.DB != 1 {
		t.Errorf("host/port options = %+v", opt)
	}

	if _, err := buildRedisOptions(config.QueueConfig{RedisURL: "://bad"}); err == nil {
		t.Error("expected error for malformed url")
	}
}

func TestNotificationFromValues(t *testing.T) {
	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	n := notificationFromValues(map[string]interface{}{
		fieldStore: "georef",
		fieldKey:   "raw/denver.tif",
		fieldTS:    ts.Format(time.RFC3339Nano),
	})
	if n.Store != "georef" || n.Key != "raw/denver.tif" || !n.Timestamp.Equal(ts) {
		t.Errorf("notification = %+v", n)
	}

	// Missing or non-string fields must not panic; they decode to zero values.
	n = notificationFromValues(map[string]interface{}{fieldKey: 42})
	if n.Key != "" || !n.Timestamp.IsZero() {
		t.Errorf("notification from bad values = %+v", n)
	}
}

func TestClaimAbandonedHonorsInterval(t *testing.T) {
	// Inside the interval window the scan must be skipped entirely: no Redis
	// call happens, so a nil client proves the short-circuit.
	q := &RedisQueue{nextClaim: time.Now().Add(time.Hour)}
	if _, ok := q.claimAbandoned(context.Background()); ok {
		t.Error("claim inside the interval window must be skipped")
	}
}
