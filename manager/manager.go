// Package manager scans a tasks directory, mounts a script sandbox per task,
// and wires each task onto an Engine via its config's trigger descriptor.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kildevaeld/triggerman/abort"
	"github.com/kildevaeld/triggerman/backend"
	"github.com/kildevaeld/triggerman/config"
	"github.com/kildevaeld/triggerman/engine"
	"github.com/kildevaeld/triggerman/fswatch"
	"github.com/kildevaeld/triggerman/manual"
	"github.com/kildevaeld/triggerman/script"
)

// configFile is the fixed name every task directory must contain.
const configFile = "config.json"

// Manager owns the task directory root and, once Run starts, the Engine and
// every task's script sandbox.
type Manager struct {
	root          string
	engineOptions []engine.Option
	logger        zerolog.Logger

	// ready delivers the manual backend's Sender once Run has wired the
	// backends, so callers embedding Manager programmatically can fire
	// manual triggers by name via Sender. Buffered so Run never blocks on it.
	ready chan manual.Sender
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithEngineOptions forwards options to the Engine the Manager constructs.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(m *Manager) { m.engineOptions = append(m.engineOptions, opts...) }
}

// WithLogger overrides the default (global) zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New constructs a Manager rooted at root.
func New(root string, opts ...Option) *Manager {
	m := &Manager{root: root, logger: log.Logger, ready: make(chan manual.Sender, 1)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sender blocks until Run has wired the manual backend (or ctx is done) and
// returns its Sender, so callers can poke manual triggers by name.
func (m *Manager) Sender(ctx context.Context) (manual.Sender, error) {
	select {
	case s := <-m.ready:
		m.ready <- s // put back so later callers also observe it
		return s, nil
	case <-ctx.Done():
		return manual.Sender{}, ctx.Err()
	}
}

// Run scans root's child directories for config.json files, mounts a script
// sandbox and registers a Task for each one that loads successfully, and
// then runs the Engine until abort trips. Any task that fails to load
// (unreadable config, malformed JSON, unknown trigger tag, missing default
// export, module load failure) is logged and skipped: it never prevents the
// rest of the engine from starting.
func (m *Manager) Run(ctx context.Context, ab abort.Controller) error {
	eng := engine.New(m.engineOptions...)

	manualBackend, sender := manual.New(manual.WithLogger(m.logger))
	fsBackend := fswatch.New(fswatch.WithLogger(m.logger))

	eng.AddBackend(manualBackend)
	eng.AddBackend(fsBackend)
	m.ready <- sender

	entries, err := os.ReadDir(m.root)
	if err != nil {
		return err
	}

	var sandboxes []*script.Sandbox
	defer func() {
		for _, sb := range sandboxes {
			sb.Close()
		}
	}()

	for _, dirEntry := range entries {
		if !dirEntry.IsDir() {
			continue
		}

		taskName := dirEntry.Name()
		taskDir := filepath.Join(m.root, taskName)
		configPath := filepath.Join(taskDir, configFile)

		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			m.logger.Warn().Err(err).Str("task", taskName).Msg("config unreadable, skipping task")
			continue
		}

		cfg, err := config.Load(data)
		if err != nil {
			m.logger.Warn().Err(err).Str("task", taskName).Msg("malformed config, skipping task")
			continue
		}

		workDir := taskDir
		if cfg.WorkDir != "" {
			workDir = resolveWorkDir(taskDir, cfg.WorkDir)
		}

		scriptPath := filepath.Join(taskDir, cfg.Task)
		sandbox, err := script.New(scriptPath, workDir)
		if err != nil {
			m.logger.Warn().Err(err).Str("task", taskName).Msg("script load failed, skipping task")
			continue
		}
		sandboxes = append(sandboxes, sandbox)

		if err := registerTask(eng, cfg.Trigger, sandbox); err != nil {
			m.logger.Warn().Err(err).Str("task", taskName).Msg("trigger registration failed, skipping task")
			continue
		}

		m.logger.Debug().Str("task", taskName).Msg("task registered")
	}

	m.logger.Debug().Msg("tasks loaded, running engine")
	eng.Run(ctx, ab)
	return nil
}

func resolveWorkDir(taskDir, workDir string) string {
	if filepath.IsAbs(workDir) {
		return workDir
	}
	return filepath.Join(taskDir, workDir)
}

// registerTask wires sandbox onto eng according to trigger's backend tag,
// converting each backend's typed event into the JSON-like value the
// sandbox expects.
func registerTask(eng *engine.Engine, trigger config.TriggerConfig, sandbox *script.Sandbox) error {
	switch trigger.Tag() {
	case manual.Tag:
		adapter := script.Adapter[manual.Event]{
			Sandbox: sandbox,
			ToValue: func(manual.Event) (any, error) { return nil, nil },
		}
		return eng.AddTrigger(manual.Tag, trigger.Descriptor(), backend.Task[manual.Event](adapter))

	case fswatch.Tag:
		adapter := script.Adapter[fswatch.Event]{
			Sandbox: sandbox,
			ToValue: fsEventToValue,
		}
		return eng.AddTrigger(fswatch.Tag, trigger.Descriptor(), backend.Task[fswatch.Event](adapter))

	default:
		return fmt.Errorf("manager: unhandled trigger tag %q", trigger.Tag())
	}
}

func fsEventToValue(ev fswatch.Event) (any, error) {
	paths := make([]string, len(ev.Paths))
	copy(paths, ev.Paths)
	return map[string]any{
		"kind":  string(ev.Kind),
		"paths": paths,
	}, nil
}
