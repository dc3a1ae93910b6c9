// Package script hosts one embedded Lua sandbox per task: it loads a script
// module once, looks up its default export, and invokes it with a single
// JSON-like value argument per matching event.
package script

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// entryGlobal is the reserved global name a task's default export is
// installed under inside its sandbox.
const entryGlobal = "__trigger_handler"

// Sandbox owns one loaded Lua module and the function stored under
// entryGlobal. Sandboxes are never shared across tasks: each task gets its
// own *lua.LState, which is the isolation boundary gopher-lua provides.
type Sandbox struct {
	mu    sync.Mutex
	state *lua.LState
	path  string
}

// New loads path as a Lua module into a fresh sandbox. If workDir is
// non-empty, it is prepended to the sandbox's package.path so require()
// calls inside the script look there first, before the default
// package.path entries (which are relative to the process working
// directory, not the script's own directory).
func New(path string, workDir string) (*Sandbox, error) {
	L := lua.NewState()

	if workDir != "" {
		bootstrap := fmt.Sprintf("package.path = %q .. '/?.lua;' .. package.path", workDir)
		if err := L.DoString(bootstrap); err != nil {
			L.Close()
			return nil, fmt.Errorf("script: configure work_dir for %s: %w", path, err)
		}
	}

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("script: load %s: %w", path, err)
	}

	if L.GetTop() == 0 {
		L.Close()
		return nil, fmt.Errorf("script: %s has no default export", path)
	}

	ret := L.Get(-1)
	L.SetTop(0)

	fn, ok := ret.(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("script: default export of %s is not a function (got %s)", path, ret.Type())
	}

	L.SetGlobal(entryGlobal, fn)

	return &Sandbox{state: L, path: path}, nil
}

// Call converts input to its Lua representation, invokes the stored default
// export with it, and awaits the result. Lua has no native promise type: a
// script that wants to defer work returns a zero-argument function, which
// Call invokes once more and takes as the final result, standing in for
// "awaits the result, forcing promises." The return value itself is always
// discarded; only errors propagate.
//
// Concurrent events for this task are still admitted into the engine's
// dispatch pool, but Call serialises them behind mu: the sandbox's single
// *lua.LState cannot run two calls at once.
func (s *Sandbox) Call(ctx context.Context, input any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	arg, err := ToLua(s.state, input)
	if err != nil {
		return fmt.Errorf("script: %s: convert input: %w", s.path, err)
	}

	fn := s.state.GetGlobal(entryGlobal)
	if err := s.state.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, arg); err != nil {
		return fmt.Errorf("script: %s: %w", s.path, err)
	}

	ret := s.state.Get(-1)
	s.state.Pop(1)

	if deferred, ok := ret.(*lua.LFunction); ok {
		if err := s.state.CallByParam(lua.P{Fn: deferred, NRet: 1, Protect: true}); err != nil {
			return fmt.Errorf("script: %s: deferred result: %w", s.path, err)
		}
		s.state.Pop(1)
	}

	return nil
}

// Close releases the sandbox's Lua state. Safe to call once, at Manager
// shutdown.
func (s *Sandbox) Close() {
	s.state.Close()
}
