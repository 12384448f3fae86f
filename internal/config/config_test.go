package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	// The store defaults must work together out of the box: a localhost MinIO
	// endpoint speaks plain HTTP.
	if cfg.Store.Endpoint == "localhost:9000" && cfg.Store.UseSSL {
		t.Error("localhost store endpoint defaults to SSL, which local MinIO does not serve")
	}

	if cfg.Queue.Stream == "" || cfg.Queue.Group == "" {
		t.Errorf("queue defaults missing: %+v", cfg.Queue)
	}
	if cfg.Compress.TargetBytes <= 0 || cfg.Compress.MaxAttempts <= 0 {
		t.Errorf("compress defaults missing: %+v", cfg.Compress)
	}
	if cfg.Extract.MaxTransport <= 0 || cfg.Extract.Backoff <= 0 {
		t.Errorf("extract defaults missing: %+v", cfg.Extract)
	}
	if cfg.Compress.Timeout < time.Second || cfg.Extract.Timeout < time.Second {
		t.Errorf("stage time budgets missing: compress=%v extract=%v", cfg.Compress.Timeout, cfg.Extract.Timeout)
	}
}
