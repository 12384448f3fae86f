// Package pipeline dispatches object notifications to stages and guarantees
// the stage boundary: every fault, panic, or blown time budget becomes an
// error record, and nothing propagates back to the delivery platform
// unconverted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/archivemaps/georef-pipeline/internal/errsink"
	"github.com/archivemaps/georef-pipeline/internal/events"
	"github.com/archivemaps/georef-pipeline/internal/keys"
	"github.com/archivemaps/georef-pipeline/pkg/logger"
)

// receiveRetryDelay spaces out Receive retries when the event source errors.
const receiveRetryDelay = time.Second

// Stage is one pipeline step: a pure function of the notification and its
// injected configuration. Implementations classify their own failures by
// returning *errsink.Fault; anything else is recorded as UnknownInternal.
type Stage interface {
	Name() string
	Handle(ctx context.Context, n events.Notification) error
}

// RunRecord is the observability row written after each invocation.
type RunRecord struct {
	RunID     string
	Stage     string
	Key       string
	Outcome   string
	ErrorKind string
	StartedAt time.Time
	Duration  time.Duration
}

// Recorder persists RunRecords. A nil Recorder disables the ledger.
type Recorder interface {
	Record(ctx context.Context, run RunRecord) error
}

type route struct {
	match   func(key string) bool
	stage   Stage
	timeout time.Duration
}

// Runner consumes deliveries and executes the matching stage for each.
// Invocations share nothing; concurrent and duplicate deliveries are safe
// because stages only ever overwrite deterministically derived keys.
type Runner struct {
	source   events.Source
	sink     *errsink.Sink
	recorder Recorder
	routes   []route
	workers  int
}

func NewRunner(source events.Source, sink *errsink.Sink, recorder Recorder, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		source:   source,
		sink:     sink,
		recorder: recorder,
		workers:  workers,
	}
}

// Register routes keys matched by match to stage, with a wall-clock budget
// per invocation.
func (r *Runner) Register(match func(key string) bool, stage Stage, timeout time.Duration) {
	r.routes = append(r.routes, route{match: match, stage: stage, timeout: timeout})
}

// Run blocks, processing deliveries with the configured worker pool until the
// context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for {
				delivery, err := r.source.Receive(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					// A dead broker fails Receive instantly; pause so the
					// workers don't spin at full CPU while it is down.
					logger.Log.Error().Err(err).Msg("receive failed")
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(receiveRetryDelay):
					}
					continue
				}
				r.Process(ctx, delivery)
			}
		})
	}
	return g.Wait()
}

// Process runs one delivery through its stage and acks it. Exported so the
// admin API's synchronous reprocess path can reuse the exact same boundary.
func (r *Runner) Process(ctx context.Context, delivery *events.Delivery) {
	n := delivery.Notification
	rt := r.matchRoute(n.Key)
	if rt == nil {
		logger.Log.Debug().Str("key", n.Key).Msg("no stage for key, dropping")
		r.ack(ctx, delivery)
		return
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, rt.timeout)
	err := invoke(runCtx, rt.stage, n)
	cancel()
	duration := time.Since(start)

	rec := RunRecord{
		RunID:     keys.RunID(rt.stage.Name(), n.Key),
		Stage:     rt.stage.Name(),
		Key:       n.Key,
		Outcome:   "success",
		StartedAt: start,
		Duration:  duration,
	}

	log := logger.Stage(rt.stage.Name(), n.Key)
	if err != nil {
		kind, detail := errsink.Classify(err)
		rec.Outcome = "failure"
		rec.ErrorKind = string(kind)

		if sinkErr := r.sink.Write(ctx, rt.stage.Name(), n.Key, kind, detail); sinkErr != nil {
			// Without a written record the failure would be invisible; leave
			// the delivery unacked so it is redelivered.
			log.Error().Err(sinkErr).Msg("error sink write failed")
			observeRun(rt.stage.Name(), "sink_error", duration)
			return
		}
	} else {
		log.Info().Dur("duration", duration).Msg("stage invocation complete")
	}

	observeRun(rec.Stage, rec.Outcome, duration)
	if r.recorder != nil {
		if recErr := r.recorder.Record(ctx, rec); recErr != nil {
			logger.Log.Warn().Err(recErr).Str("key", n.Key).Msg("ledger write failed")
		}
	}
	r.ack(ctx, delivery)
}

func (r *Runner) matchRoute(key string) *route {
	for i := range r.routes {
		if r.routes[i].match(key) {
			return &r.routes[i]
		}
	}
	return nil
}

func (r *Runner) ack(ctx context.Context, delivery *events.Delivery) {
	if err := delivery.Ack(ctx); err != nil {
		logger.Log.Warn().Err(err).Str("key", delivery.Notification.Key).Msg("ack failed")
	}
}

// invoke executes the stage with panic containment. A panicking invocation
// must surface as an error record like any other fault.
func invoke(ctx context.Context, stage Stage, n events.Notification) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errsink.NewFault(errsink.KindUnknownInternal,
				fmt.Sprintf("stage panicked: %v", rec), nil)
		}
	}()
	if err := stage.Handle(ctx, n); err != nil {
		// A stage that classified its own failure keeps that classification
		// even when the time budget ran out underneath it.
		var fault *errsink.Fault
		if ctx.Err() == context.DeadlineExceeded && !errors.As(err, &fault) {
			return errsink.NewFault(errsink.KindUnknownInternal, "stage time budget exceeded", err)
		}
		return err
	}
	return nil
}
