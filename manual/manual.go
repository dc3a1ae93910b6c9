// Package manual implements the manual trigger backend: events arrive by
// name on an in-process channel, and a handler registered under that name
// fires when the name is sent.
package manual

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kildevaeld/triggerman/backend"
)

// Tag identifies this backend in Engine.AddTrigger calls.
const Tag = "manual"

// Event is the argument type handlers on this backend receive. Manual pokes
// carry no payload.
type Event = struct{}

// Descriptor names the handler a manual trigger registers for.
type Descriptor struct {
	Name string
}

// ErrAlreadyRegistered is returned by AddTrigger when Name is already taken.
var ErrAlreadyRegistered = errors.New(backend.Namespace + ": manual: name already registered")

// Backend is the manual trigger source.
type Backend struct {
	mu       sync.Mutex
	handlers map[string]backend.Task[Event]

	ch     chan string
	logger zerolog.Logger
}

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithLogger overrides the default (global) zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// Sender is the write side of a manual Backend's event channel, handed back
// by New so callers can poke handlers by name.
type Sender struct {
	ch chan<- string
}

// New constructs a manual Backend along with its Sender. The channel
// connecting them is bounded to a single pending poke.
func New(opts ...Option) (*Backend, Sender) {
	ch := make(chan string, 1)
	b := &Backend{
		handlers: make(map[string]backend.Task[Event]),
		ch:       ch,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, Sender{ch: ch}
}

// Tag implements backend.Backend.
func (b *Backend) Tag() string { return Tag }

// AddTrigger registers the handler bound to descriptor.Name. Re-registering
// an existing name fails with ErrAlreadyRegistered.
func (b *Backend) AddTrigger(descriptor any, task any) error {
	d, ok := descriptor.(Descriptor)
	if !ok {
		return fmt.Errorf("%w: got %T", backend.ErrDescriptorType, descriptor)
	}
	t, ok := task.(backend.Task[Event])
	if !ok {
		return fmt.Errorf("%w: got %T", backend.ErrTaskType, task)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[d.Name]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, d.Name)
	}
	b.handlers[d.Name] = t
	return nil
}

// names returns the registered handler names in sorted order, for
// deterministic iteration where it matters (tests, debugging).
func (b *Backend) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.handlers))
	for n := range b.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run implements backend.Backend. It yields one Worker per received name
// that has a registered handler; unregistered names are silently dropped.
// The stream ends when the Sender's channel is closed or abort trips.
func (b *Backend) Run(ctx context.Context, ab backend.Abort) <-chan backend.Item {
	out := make(chan backend.Item)

	go func() {
		defer close(out)
		for {
			select {
			case <-ab.Wait():
				return

			case name, ok := <-b.ch:
				if !ok {
					return
				}

				b.mu.Lock()
				task, found := b.handlers[name]
				b.mu.Unlock()

				if !found {
					continue
				}

				item := backend.Item{Worker: &worker{task: task}}
				select {
				case out <- item:
				case <-ab.Wait():
					return
				}
			}
		}
	}()

	return out
}

type worker struct {
	task backend.Task[Event]
}

func (w *worker) Run(ctx context.Context) error {
	return w.task.Call(ctx, Event{})
}

// Send delivers name, blocking until the channel accepts it or the context is
// cancelled. It does not notice that the backend has stopped reading: once the
// single pending slot is full and nothing drains it, Send returns only when
// ctx is done. Errors are best-effort: the engine owning the receiver may
// already have shut down.
func (s Sender) Send(ctx context.Context, name string) error {
	select {
	case s.ch <- name:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend delivers name without blocking, reporting whether it was accepted.
// A false return is not an error: the channel may simply be full or the
// backend may have already stopped reading.
func (s Sender) TrySend(name string) bool {
	select {
	case s.ch <- name:
		return true
	default:
		return false
	}
}
