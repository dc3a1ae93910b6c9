// Package abort implements the one-shot, broadcast cancellation signal
// shared by an Engine, its backends, and their in-flight workers.
package abort

import "sync"

// Controller is a cloneable cancellation token. The zero value is not
// usable; construct one with New. Copies of a Controller share the same
// underlying state, so passing it by value is the normal and cheap way to
// hand it to backends and workers.
type Controller struct {
	s *state
}

type state struct {
	once sync.Once
	ch   chan struct{}
}

// New returns a fresh, untripped Controller.
func New() Controller {
	return Controller{s: &state{ch: make(chan struct{})}}
}

// Trip transitions the controller to aborted. Safe to call concurrently and
// any number of times: only the first call has any effect.
func (c Controller) Trip() {
	c.s.once.Do(func() { close(c.s.ch) })
}

// IsAborted reports whether Trip has been called.
func (c Controller) IsAborted() bool {
	select {
	case <-c.s.ch:
		return true
	default:
		return false
	}
}

// Wait returns a channel that is closed when Trip is called. A Controller
// that has already been tripped returns an already-closed channel, so
// callers never miss the transition regardless of when they start waiting.
func (c Controller) Wait() <-chan struct{} {
	return c.s.ch
}
