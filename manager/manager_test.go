package manager_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kildevaeld/triggerman/abort"
	"github.com/kildevaeld/triggerman/engine"
	"github.com/kildevaeld/triggerman/manager"
)

func writeTask(t *testing.T, root, name, configJSON, scriptSrc string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(configJSON), 0o644))
	if scriptSrc != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index.lua"), []byte(scriptSrc), 0o644))
	}
}

func TestManagerRunSkipsBadTasksAndRunsGoodOnes(t *testing.T) {
	root := t.TempDir()
	marker := filepath.Join(root, "ran")

	writeTask(t, root, "good-manual", `{
		"trigger": {"type": "ManuelConfig", "name": "import"},
		"task": "index.lua"
	}`, fmt.Sprintf(`return function(ev)
  local f = io.open(%q, "w")
  f:write("ran")
  f:close()
  return true
end`, marker))

	writeTask(t, root, "bad-trigger", `{
		"trigger": {"type": "Bogus"},
		"task": "index.lua"
	}`, `return function(ev) return true end`)

	writeTask(t, root, "bad-script", `{
		"trigger": {"type": "ManuelConfig", "name": "other"},
		"task": "missing.lua"
	}`, "")

	// Directory without a config.json is silently ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-task"), 0o755))

	mgr := manager.New(root, manager.WithEngineOptions(engine.WithGraceWindow(200*time.Millisecond)))

	ab := abort.New()
	done := make(chan error, 1)
	go func() { done <- mgr.Run(context.Background(), ab) }()

	// Wait for the manager to wire its backends, then poke the surviving
	// manual task. TrySend is best-effort and may report false while the
	// single pending slot is full, so it is retried until accepted; the good
	// task's script then records that it ran before the test shuts down.
	sender, err := mgr.Sender(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sender.TrySend("import")
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	ab.Trip()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not shut down in time")
	}
}
