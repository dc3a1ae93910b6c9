package script

import (
	"context"

	"github.com/kildevaeld/triggerman/backend"
)

// Adapter turns a Sandbox into a backend.Task[I] for whichever event type I
// a backend produces, by converting the typed event into the JSON-like
// value space the sandbox understands before calling it. Errors inside the
// script are returned to the caller (the engine's dispatcher), which logs
// and swallows them: one bad invocation never poisons the engine.
type Adapter[I any] struct {
	Sandbox *Sandbox
	ToValue func(I) (any, error)
}

// Call implements backend.Task[I].
func (a Adapter[I]) Call(ctx context.Context, input I) error {
	v, err := a.ToValue(input)
	if err != nil {
		return err
	}
	return a.Sandbox.Call(ctx, v)
}

var _ backend.Task[struct{}] = Adapter[struct{}]{}
