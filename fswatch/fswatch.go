// Package fswatch implements the filesystem trigger backend: it watches a
// set of canonicalised paths (recursively or not) and delivers debounced
// change events to every registered entry whose watched paths match.
package fswatch

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kildevaeld/triggerman/backend"
)

// Tag identifies this backend in Engine.AddTrigger calls.
const Tag = "fs"

// DefaultDebounce is the window bursts of filesystem events are collapsed
// into a single batch within.
const DefaultDebounce = 2 * time.Second

// EventKind classifies the kind of change an Event represents.
type EventKind string

// Event kinds mirror fsnotify's own operation bits, named for script
// consumers rather than exposing the bitmask directly.
const (
	Create EventKind = "create"
	Write  EventKind = "write"
	Remove EventKind = "remove"
	Rename EventKind = "rename"
	Chmod  EventKind = "chmod"
)

// Event is the argument type fs handlers receive: one observed change,
// carrying the canonical paths it touched.
type Event struct {
	Kind  EventKind
	Paths []string
}

// Descriptor names the paths (and whether to watch them recursively) a fs
// trigger registers for.
type Descriptor struct {
	Paths     []string
	Recursive bool
}

type entry struct {
	paths     []string
	recursive bool
	task      backend.Task[Event]
}

// Backend is the filesystem trigger source.
type Backend struct {
	mu       sync.Mutex
	entries  []entry
	debounce time.Duration
	logger   zerolog.Logger
}

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithDebounce overrides the default 2s debounce window. Tests use this to
// keep debounce timing fast without weakening the production default.
func WithDebounce(d time.Duration) Option {
	return func(b *Backend) { b.debounce = d }
}

// WithLogger overrides the default (global) zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// New constructs a filesystem Backend.
func New(opts ...Option) *Backend {
	b := &Backend{debounce: DefaultDebounce, logger: log.Logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Tag implements backend.Backend.
func (b *Backend) Tag() string { return Tag }

// AddTrigger canonicalises every path in the descriptor and registers the
// entry. Canonicalisation failure (the path doesn't resolve to an existing
// file) fails the registration with the underlying OS error.
func (b *Backend) AddTrigger(descriptor any, task any) error {
	d, ok := descriptor.(Descriptor)
	if !ok {
		return fmt.Errorf("%w: got %T", backend.ErrDescriptorType, descriptor)
	}
	t, ok := task.(backend.Task[Event])
	if !ok {
		return fmt.Errorf("%w: got %T", backend.ErrTaskType, task)
	}

	canon := make([]string, len(d.Paths))
	for i, p := range d.Paths {
		c, err := canonicalize(p)
		if err != nil {
			return fmt.Errorf("%s: fs: canonicalize %q: %w", backend.Namespace, p, err)
		}
		canon[i] = c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry{paths: canon, recursive: d.Recursive, task: t})
	return nil
}

func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return real, nil
}

// Run implements backend.Backend.
func (b *Backend) Run(ctx context.Context, ab backend.Abort) <-chan backend.Item {
	out := make(chan backend.Item)
	go b.run(ctx, ab, out)
	return out
}

func (b *Backend) run(ctx context.Context, ab backend.Abort, out chan<- backend.Item) {
	defer close(out)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		select {
		case out <- backend.Item{Err: err}:
		case <-ab.Wait():
		}
		return
	}
	defer watcher.Close()

	armErr := make(chan error, 1)
	go func() { armErr <- b.arm(watcher) }()

	select {
	case err := <-armErr:
		if err != nil {
			select {
			case out <- backend.Item{Err: err}:
			case <-ab.Wait():
			}
			return
		}
	case <-ab.Wait():
		return
	}

	if ab.IsAborted() {
		return
	}

	var (
		timer *time.Timer
		batch []fsnotify.Event
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	timerC := func() <-chan time.Time {
		if timer == nil {
			return nil
		}
		return timer.C
	}

	for {
		select {
		case <-ab.Wait():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			batch = append(batch, ev)
			if timer == nil {
				timer = time.NewTimer(b.debounce)
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(b.debounce)
			}

		case <-timerC():
			b.flush(batch, out, ab)
			batch = nil
			timer = nil

		case werr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			select {
			case out <- backend.Item{Err: werr}:
			case <-ab.Wait():
				return
			}
		}
	}
}

// arm collects the union of (path, recursive) pairs across every registered
// entry and watches each. Recursive pairs walk the directory tree and watch
// every subdirectory, since fsnotify itself only watches one directory at a
// time. If any watch call fails, arm returns that error.
func (b *Backend) arm(watcher *fsnotify.Watcher) error {
	b.mu.Lock()
	entries := append([]entry(nil), b.entries...)
	b.mu.Unlock()

	seen := make(map[string]bool)
	add := func(path string) error {
		if seen[path] {
			return nil
		}
		seen[path] = true
		if err := watcher.Add(path); err != nil {
			return err
		}
		b.logger.Debug().Str("path", path).Msg("watch path added")
		return nil
	}

	for _, e := range entries {
		for _, p := range e.paths {
			if !e.recursive {
				if err := add(p); err != nil {
					return err
				}
				continue
			}

			err := filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return add(path)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// flush converts one debounce window's raw fsnotify events into trigger
// Events and, for each, yields one Worker per matching registered entry. The
// same event is independently attached to every matching entry's Worker.
func (b *Backend) flush(raw []fsnotify.Event, out chan<- backend.Item, ab backend.Abort) {
	b.mu.Lock()
	entries := append([]entry(nil), b.entries...)
	b.mu.Unlock()

	for _, rev := range raw {
		path := filepath.Clean(rev.Name)
		event := Event{Kind: kindOf(rev.Op), Paths: []string{path}}

		matched := false
		for _, e := range entries {
			if matches(e, event) {
				matched = true
				item := backend.Item{Worker: &worker{task: e.task, event: event}}
				select {
				case out <- item:
				case <-ab.Wait():
					return
				}
			}
		}
		if !matched {
			b.logger.Debug().Str("path", path).Msg("event not in any registered search path")
		}
	}
}

// matches implements the fixed Fs match rule: an event matches an entry when
// any event path equals any entry path, or the entry is recursive and any
// event path is a descendant of any entry path.
func matches(e entry, ev Event) bool {
	for _, vp := range ev.Paths {
		for _, ep := range e.paths {
			if vp == ep {
				return true
			}
			if e.recursive && isDescendant(vp, ep) {
				return true
			}
		}
	}
	return false
}

func isDescendant(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

func kindOf(op fsnotify.Op) EventKind {
	switch {
	case op&fsnotify.Create != 0:
		return Create
	case op&fsnotify.Remove != 0:
		return Remove
	case op&fsnotify.Rename != 0:
		return Rename
	case op&fsnotify.Chmod != 0:
		return Chmod
	default:
		return Write
	}
}

type worker struct {
	task  backend.Task[Event]
	event Event
}

func (w *worker) Run(ctx context.Context) error {
	return w.task.Call(ctx, w.event)
}
