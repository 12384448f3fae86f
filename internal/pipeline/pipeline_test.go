package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archivemaps/georef-pipeline/internal/errsink"
	"github.com/archivemaps/georef-pipeline/internal/events"
	"github.com/archivemaps/georef-pipeline/internal/keys"
	"github.com/archivemaps/georef-pipeline/internal/storage"
)

type stubStage struct {
	name    string
	handle  func(ctx context.Context, n events.Notification) error
	mu      sync.Mutex
	handled []string
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Handle(ctx context.Context, n events.Notification) error {
	s.mu.Lock()
	s.handled = append(s.handled, n.Key)
	s.mu.Unlock()
	if s.handle != nil {
		return s.handle(ctx, n)
	}
	return nil
}

type memRecorder struct {
	mu   sync.Mutex
	runs []RunRecord
}

func (r *memRecorder) Record(_ context.Context, run RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func delivery(key string) *events.Delivery {
	return &events.Delivery{
		Notification: events.Notification{Store: "georef", Key: key, Timestamp: time.Now()},
		Ack:          func(context.Context) error { return nil },
	}
}

func TestProcessDispatchesByPrefix(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := errsink.NewSink(store)
	rec := &memRecorder{}
	compressStage := &stubStage{name: "compress"}
	extractStage := &stubStage{name: "extract"}

	r := NewRunner(events.NewMemoryQueue(), sink, rec, 1)
	r.Register(keys.IsRaw, compressStage, time.Second)
	r.Register(keys.IsCompressed, extractStage, time.Second)

	r.Process(context.Background(), delivery("raw/map.tif"))
	r.Process(context.Background(), delivery("compressed/map.png"))

	if len(compressStage.handled) != 1 || compressStage.handled[0] != "raw/map.tif" {
		t.Errorf("compress handled %v", compressStage.handled)
	}
	if len(extractStage.handled) != 1 || extractStage.handled[0] != "compressed/map.png" {
		t.Errorf("extract handled %v", extractStage.handled)
	}
	if len(rec.runs) != 2 {
		t.Fatalf("ledger rows = %d, want 2", len(rec.runs))
	}
	for _, run := range rec.runs {
		if run.Outcome != "success" {
			t.Errorf("run %+v not recorded as success", run)
		}
	}
}

func TestProcessConvertsFaultToErrorRecord(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := errsink.NewSink(store)
	stage := &stubStage{
		name: "compress",
		handle: func(context.Context, events.Notification) error {
			return errsink.NewFault(errsink.KindCorruptInput, "bad header", nil)
		},
	}

	r := NewRunner(events.NewMemoryQueue(), sink, nil, 1)
	r.Register(keys.IsRaw, stage, time.Second)
	r.Process(context.Background(), delivery("raw/bad.tif"))

	records, err := sink.History(context.Background(), "raw/bad.tif")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Kind != errsink.KindCorruptInput {
		t.Fatalf("records = %+v, want one CorruptInput", records)
	}
}

func TestProcessConvertsPanicToUnknownInternal(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := errsink.NewSink(store)
	stage := &stubStage{
		name: "extract",
		handle: func(context.Context, events.Notification) error {
			panic("nil map write")
		},
	}

	r := NewRunner(events.NewMemoryQueue(), sink, nil, 1)
	r.Register(keys.IsCompressed, stage, time.Second)
	r.Process(context.Background(), delivery("compressed/boom.png"))

	records, err := sink.History(context.Background(), "compressed/boom.png")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Kind != errsink.KindUnknownInternal {
		t.Errorf("kind = %s, want UnknownInternal", records[0].Kind)
	}
	if !strings.Contains(records[0].Detail, "panicked") {
		t.Errorf("detail %q does not mention the panic", records[0].Detail)
	}
}

func TestProcessEnforcesTimeBudget(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := errsink.NewSink(store)
	stage := &stubStage{
		name: "extract",
		handle: func(ctx context.Context, _ events.Notification) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	r := NewRunner(events.NewMemoryQueue(), sink, nil, 1)
	r.Register(keys.IsCompressed, stage, 10*time.Millisecond)
	r.Process(context.Background(), delivery("compressed/slow.png"))

	records, err := sink.History(context.Background(), "compressed/slow.png")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Kind != errsink.KindUnknownInternal {
		t.Errorf("kind = %s, want UnknownInternal", records[0].Kind)
	}
	if !strings.Contains(records[0].Detail, "budget") {
		t.Errorf("detail %q does not mention the time budget", records[0].Detail)
	}
}

func TestProcessKeepsFaultKindWhenBudgetElapses(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := errsink.NewSink(store)
	stage := &stubStage{
		name: "extract",
		handle: func(ctx context.Context, _ events.Notification) error {
			<-ctx.Done()
			return errsink.NewFault(errsink.KindExtractionFailed, "model call abandoned", ctx.Err())
		},
	}

	r := NewRunner(events.NewMemoryQueue(), sink, nil, 1)
	r.Register(keys.IsCompressed, stage, 10*time.Millisecond)
	r.Process(context.Background(), delivery("compressed/late.png"))

	records, err := sink.History(context.Background(), "compressed/late.png")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Kind != errsink.KindExtractionFailed {
		t.Errorf("kind = %s, want the stage's own ExtractionFailed", records[0].Kind)
	}
}

type failingSource struct {
	calls atomic.Int64
}

func (s *failingSource) Receive(ctx context.Context) (*events.Delivery, error) {
	s.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestRunBacksOffWhenReceiveFails(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := errsink.NewSink(store)
	source := &failingSource{}

	r := NewRunner(source, sink, nil, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := r.Run(ctx); err != nil {
		t.Fatal(err)
	}

	// With a one-second retry delay a 150ms window allows at most the initial
	// attempt plus one in flight; a hot spin would rack up thousands.
	if got := source.calls.Load(); got > 2 {
		t.Errorf("Receive called %d times in 150ms, want backoff between attempts", got)
	}
}

func TestRunConsumesFromSource(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := errsink.NewSink(store)
	queue := events.NewMemoryQueue()

	done := make(chan struct{})
	stage := &stubStage{
		name: "compress",
		handle: func(context.Context, events.Notification) error {
			close(done)
			return nil
		},
	}

	r := NewRunner(queue, sink, nil, 2)
	r.Register(keys.IsRaw, stage, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = r.Run(ctx)
	}()

	if err := queue.Publish(ctx, events.Notification{Store: "georef", Key: "raw/queued.tif"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stage was not invoked from the queue")
	}
	cancel()
}
