// Package backend defines the Task/Worker/Backend abstractions shared by the
// engine and every concrete trigger source (manual, fs, ...).
//
// Go has no associated types, so heterogeneous backends are handled without
// type-id downcasting: every descriptor and task handed to Engine.AddTrigger
// is opaque (any), and each concrete Backend type-asserts it back to its own
// descriptor/task types inside AddTrigger, keyed by a tag string.
package backend

import "context"

// Task is a long-lived, shareable handler bound to one or more triggers. It
// is invoked once per matching event of type I.
type Task[I any] interface {
	Call(ctx context.Context, input I) error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc[I any] func(ctx context.Context, input I) error

// Call implements Task.
func (f TaskFunc[I]) Call(ctx context.Context, input I) error { return f(ctx, input) }

// Worker is a one-shot unit of work bound to one captured event and one
// handler. It is consumed by a single Run call.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFunc adapts a plain function to Worker.
type WorkerFunc func(ctx context.Context) error

// Run implements Worker.
func (f WorkerFunc) Run(ctx context.Context) error { return f(ctx) }

// Item is what a Backend yields on its Run stream: either a Worker ready for
// dispatch, or a backend-level error that the Engine logs and continues past.
type Item struct {
	Worker Worker
	Err    error
}

// Backend is the type-erased facade the Engine holds. Concrete backends
// (manual.Backend, fswatch.Backend, ...) implement it directly; there is no
// separate "AnyBackend" wrapper type because Go interfaces already erase the
// concrete type for us.
type Backend interface {
	// Tag identifies the backend for Engine.AddTrigger lookups, e.g. "manual"
	// or "fs". Tags are a compile-time contract between a backend and the
	// config/manager code that targets it; they are not meant to be
	// user-configurable.
	Tag() string

	// AddTrigger registers a (descriptor, task) pair. The backend must
	// type-assert descriptor and task to its own concrete types and return
	// an error if they don't match or the registration is otherwise invalid
	// (duplicate name, non-canonicalisable path, ...).
	AddTrigger(descriptor any, task any) error

	// Run starts the backend against the shared abort controller and
	// returns a channel of Items. The channel is closed when the backend's
	// underlying source is exhausted or abort trips.
	Run(ctx context.Context, abort Abort) <-chan Item
}

// Abort is the subset of abort.Controller that backend implementations need.
// Declaring it here (rather than importing the abort package) keeps this
// package dependency-free and easy to reuse from tests with a stub.
type Abort interface {
	IsAborted() bool
	Wait() <-chan struct{}
}
