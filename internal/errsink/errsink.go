// Package errsink converts stage faults into terminal diagnostic records under
// the error prefix. Records for a key are appended, never overwritten, so the
// history across redeliveries is preserved. Nothing is ever resubmitted from
// here; reprocessing takes a fresh operator-triggered event.
package errsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/archivemaps/georef-pipeline/internal/keys"
	"github.com/archivemaps/georef-pipeline/internal/storage"
	"github.com/archivemaps/georef-pipeline/pkg/logger"
)

// Kind classifies a terminal failure.
type Kind string

const (
	KindCorruptInput           Kind = "CorruptInput"
	KindSizeBudgetExceeded     Kind = "SizeBudgetExceeded"
	KindExtractionFailed       Kind = "ExtractionFailed"
	KindSchemaValidationFailed Kind = "SchemaValidationFailed"
	KindPublishFailed          Kind = "PublishFailed"
	KindUnknownInternal        Kind = "UnknownInternal"
)

// Record is one terminal failure for a stage input.
type Record struct {
	Stage     string    `json:"stage"`
	Key       string    `json:"input_key"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail"`
}

// Fault is an error a stage returns when it has classified its own failure.
// Anything else that escapes a stage is recorded as UnknownInternal.
type Fault struct {
	Kind   Kind
	Detail string
	Err    error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Detail, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault wraps err with a failure kind and human-readable detail.
func NewFault(kind Kind, detail string, err error) *Fault {
	return &Fault{Kind: kind, Detail: detail, Err: err}
}

// Classify extracts the failure kind from err, falling back to UnknownInternal.
func Classify(err error) (Kind, string) {
	var f *Fault
	if errors.As(err, &f) {
		detail := f.Detail
		if f.Err != nil {
			detail = fmt.Sprintf("%s: %v", f.Detail, f.Err)
		}
		return f.Kind, detail
	}
	return KindUnknownInternal, err.Error()
}

// Sink writes error records to the object store.
type Sink struct {
	store storage.ObjectStore
}

func NewSink(store storage.ObjectStore) *Sink {
	return &Sink{store: store}
}

// Write appends a record to error/<name>.json as NDJSON. Read-append-put is
// good enough here: concurrent redeliveries of the same key race on history
// lines, not on the terminal outcome itself.
func (s *Sink) Write(ctx context.Context, stage, inputKey string, kind Kind, detail string) error {
	rec := Record{
		Stage:     stage,
		Key:       inputKey,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal error record: %w", err)
	}

	errKey := keys.ErrorKey(inputKey)
	existing, err := s.store.Get(ctx, errKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read error history %s: %w", errKey, err)
	}

	var buf strings.Builder
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	if err := s.store.Put(ctx, errKey, []byte(buf.String()), "application/json"); err != nil {
		return fmt.Errorf("write error record %s: %w", errKey, err)
	}

	log := logger.Stage(stage, inputKey)
	log.Error().
		Str("kind", string(kind)).
		Str("detail", detail).
		Msg("error record written")
	return nil
}

// History returns all records written for a key, oldest first.
func (s *Sink) History(ctx context.Context, inputKey string) ([]Record, error) {
	data, err := s.store.Get(ctx, keys.ErrorKey(inputKey))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("decode error record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
