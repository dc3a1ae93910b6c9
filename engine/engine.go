// Package engine multiplexes any number of heterogeneous trigger backends
// into one merged work stream and dispatches each Worker under a global
// concurrency cap, a shutdown grace window, and a shared abort controller.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kildevaeld/triggerman/abort"
	"github.com/kildevaeld/triggerman/backend"
)

// GraceWindow bounds how long Run waits for in-flight workers to finish once
// abort trips before abandoning them to the host scheduler. It is
// deliberately fixed at the package level and can only be overridden through
// WithGraceWindow.
const GraceWindow = 5 * time.Second

// DefaultConcurrency is the number of Workers the Engine runs at once when
// no WithConcurrency option is given.
const DefaultConcurrency = 10

// Engine holds an ordered list of backends and a concurrency cap.
type Engine struct {
	backends    []backend.Backend
	concurrency int
	grace       time.Duration
	logger      zerolog.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithConcurrency overrides the default concurrency cap (must be > 0).
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n <= 0 {
			panic("engine: WithConcurrency requires n > 0")
		}
		e.concurrency = n
	}
}

// WithGraceWindow overrides the default 5s shutdown grace window.
func WithGraceWindow(d time.Duration) Option {
	return func(e *Engine) { e.grace = d }
}

// WithLogger overrides the default (global) zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New constructs an Engine with the given options applied.
func New(opts ...Option) *Engine {
	e := &Engine{
		concurrency: DefaultConcurrency,
		grace:       GraceWindow,
		logger:      log.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddBackend appends a backend to the engine. Registration order is
// preserved but not semantically significant: backends are owned by the
// Engine from this point on.
func (e *Engine) AddBackend(b backend.Backend) {
	e.backends = append(e.backends, b)
}

// AddTrigger locates the backend registered under tag and forwards the
// (descriptor, task) registration to it. Targeting an unregistered tag is a
// programmer error and panics.
func (e *Engine) AddTrigger(tag string, descriptor any, task any) error {
	for _, b := range e.backends {
		if b.Tag() == tag {
			return b.AddTrigger(descriptor, task)
		}
	}
	panic(fmt.Errorf("%w: %q", backend.ErrBackendNotRegistered, tag))
}

// Run is the hot loop. It merges every backend's Run stream, dispatches
// Workers under the concurrency semaphore, and drains in-flight work within
// the grace window once abort trips. Run blocks until shutdown completes.
func (e *Engine) Run(ctx context.Context, ab abort.Controller) {
	streams := make([]<-chan backend.Item, len(e.backends))
	for i, b := range e.backends {
		streams[i] = b.Run(ctx, ab)
	}

	merged := mergeStreams(ab, streams)

	d := newDispatcher(e.concurrency, e.logger)
	d.run(ctx, ab, merged)

	e.logger.Debug().Msg("shutdown beginning")

	if !d.wait(e.grace) {
		e.logger.Debug().Dur("grace", e.grace).Msg("grace window elapsed, abandoning in-flight workers")
	}
}

// mergeStreams fans every backend stream into one channel, preserving
// per-backend FIFO order (each backend keeps its own forwarding goroutine,
// so it can never reorder its own items) while giving no ordering guarantee
// across backends.
func mergeStreams(ab abort.Controller, streams []<-chan backend.Item) <-chan backend.Item {
	out := make(chan backend.Item)
	remaining := len(streams)
	if remaining == 0 {
		close(out)
		return out
	}

	done := make(chan struct{}, remaining)
	for _, s := range streams {
		go func(s <-chan backend.Item) {
			for item := range s {
				select {
				case out <- item:
				case <-ab.Wait():
					done <- struct{}{}
					return
				}
			}
			done <- struct{}{}
		}(s)
	}

	go func() {
		for i := 0; i < remaining; i++ {
			<-done
		}
		close(out)
	}()

	return out
}
