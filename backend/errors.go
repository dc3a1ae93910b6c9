package backend

import "errors"

// Namespace prefixes every sentinel error below.
const Namespace = "triggerman"

var (
	// ErrBackendNotRegistered is wrapped in the value Engine.AddTrigger panics
	// with when asked to target a backend tag that was never added with
	// Engine.AddBackend. This is a programmer error, not a runtime condition,
	// so it is never returned as an ordinary error.
	ErrBackendNotRegistered = errors.New(Namespace + ": backend not registered for tag")

	// ErrDescriptorType is returned by a Backend.AddTrigger implementation
	// when the descriptor value is not of the type it expects.
	ErrDescriptorType = errors.New(Namespace + ": trigger descriptor has wrong type for backend")

	// ErrTaskType is returned by a Backend.AddTrigger implementation when the
	// task value is not of the type it expects.
	ErrTaskType = errors.New(Namespace + ": task has wrong type for backend")
)
