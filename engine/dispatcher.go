package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kildevaeld/triggerman/abort"
	"github.com/kildevaeld/triggerman/backend"
)

// dispatcher reads Items from a merged backend stream and runs their Workers
// under a counting semaphore, tracking in-flight work with a WaitGroup. It
// stops admitting new Workers once abort trips and never force-closes
// channels it doesn't own.
type dispatcher struct {
	sem      chan struct{}
	inflight sync.WaitGroup
	logger   zerolog.Logger
}

func newDispatcher(concurrency int, logger zerolog.Logger) *dispatcher {
	return &dispatcher{sem: make(chan struct{}, concurrency), logger: logger}
}

// run drains merged until it closes or abort trips, acquiring one semaphore
// permit per spawned Worker and re-checking abort between acquisition and
// spawn so that no Worker starts after the transition is observed.
func (d *dispatcher) run(ctx context.Context, ab abort.Controller, merged <-chan backend.Item) {
	for {
		select {
		case <-ab.Wait():
			return

		case item, ok := <-merged:
			if !ok {
				return
			}
			if item.Err != nil {
				d.logger.Warn().Err(item.Err).Msg("backend error")
				continue
			}
			if !d.acquire(ab) {
				return
			}
			d.inflight.Add(1)
			go d.execute(ctx, uuid.NewString(), item.Worker)
		}
	}
}

// acquire blocks for a permit, but gives up and returns false if abort trips
// first or was already tripped by the time a permit is available.
func (d *dispatcher) acquire(ab abort.Controller) bool {
	select {
	case d.sem <- struct{}{}:
	case <-ab.Wait():
		return false
	}
	if ab.IsAborted() {
		<-d.sem
		return false
	}
	return true
}

// execute runs one Worker, releasing its semaphore permit and WaitGroup slot
// on return. A panicking Worker is contained here: it terminates only that
// Worker, never the dispatch loop. runID correlates this invocation's log
// lines across the warn events below, since a single backend can dispatch
// many concurrent Workers per event.
func (d *dispatcher) execute(ctx context.Context, runID string, w backend.Worker) {
	defer d.inflight.Done()
	defer func() { <-d.sem }()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn().Str("run_id", runID).Interface("panic", r).Msg("worker panicked")
		}
	}()

	if err := w.Run(ctx); err != nil {
		d.logger.Warn().Str("run_id", runID).Err(err).Msg("worker error")
	}
}

// wait blocks for all in-flight Workers to finish, up to grace, and reports
// whether they all completed within that window.
func (d *dispatcher) wait(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
