package engine_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kildevaeld/triggerman/abort"
	"github.com/kildevaeld/triggerman/backend"
	"github.com/kildevaeld/triggerman/engine"
)

// fakeBackend emits a fixed, pre-built stream of Items and closes when abort
// trips or the stream is exhausted, mirroring a real backend's contract.
type fakeBackend struct {
	tag   string
	items []backend.Item
}

func (f *fakeBackend) Tag() string                            { return f.tag }
func (f *fakeBackend) AddTrigger(descriptor any, task any) error { return nil }

func (f *fakeBackend) Run(ctx context.Context, ab backend.Abort) <-chan backend.Item {
	out := make(chan backend.Item)
	go func() {
		defer close(out)
		for _, it := range f.items {
			select {
			case out <- it:
			case <-ab.Wait():
				return
			}
		}
	}()
	return out
}

func sleepyWorker(d time.Duration, inflight *int32, peak *int32) backend.Worker {
	return backend.WorkerFunc(func(ctx context.Context) error {
		n := atomic.AddInt32(inflight, 1)
		for {
			old := atomic.LoadInt32(peak)
			if n <= old || atomic.CompareAndSwapInt32(peak, old, n) {
				break
			}
		}
		time.Sleep(d)
		atomic.AddInt32(inflight, -1)
		return nil
	})
}

// TestConcurrencyCap exercises S2: with concurrency=2 and five 100ms workers,
// peak in-flight must never exceed 2 and all five must complete.
func TestConcurrencyCap(t *testing.T) {
	var inflight, peak, completed int32

	items := make([]backend.Item, 5)
	for i := range items {
		w := sleepyWorker(100*time.Millisecond, &inflight, &peak)
		items[i] = backend.Item{Worker: backend.WorkerFunc(func(ctx context.Context) error {
			err := w.Run(ctx)
			atomic.AddInt32(&completed, 1)
			return err
		})}
	}

	e := engine.New(engine.WithConcurrency(2))
	e.AddBackend(&fakeBackend{tag: "fake", items: items})

	ab := abort.New()

	start := time.Now()
	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), ab)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not finish dispatching 5 short workers in time")
	}

	elapsed := time.Since(start)

	require.LessOrEqual(t, int(atomic.LoadInt32(&peak)), 2)
	require.Equal(t, int32(5), atomic.LoadInt32(&completed))
	require.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
}

// TestAbortDrainsInFlightWork exercises S6: tripping abort while workers are
// in flight stops new admissions but lets in-flight work finish well under
// the grace window.
func TestAbortDrainsInFlightWork(t *testing.T) {
	var started int32
	var completed int32

	block := make(chan struct{})

	mkWorker := func() backend.Worker {
		return backend.WorkerFunc(func(ctx context.Context) error {
			atomic.AddInt32(&started, 1)
			<-block
			atomic.AddInt32(&completed, 1)
			return nil
		})
	}

	items := []backend.Item{{Worker: mkWorker()}, {Worker: mkWorker()}}

	e := engine.New(engine.WithConcurrency(10), engine.WithGraceWindow(time.Second))
	e.AddBackend(&fakeBackend{tag: "fake", items: items})

	ab := abort.New()

	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), ab)
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&started) == 2 }, time.Second, time.Millisecond)

	start := time.Now()
	ab.Trip()
	close(block)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after abort")
	}

	require.Less(t, time.Since(start), engine.GraceWindow)
	require.Equal(t, int32(2), atomic.LoadInt32(&completed))
}

func TestAddTriggerPanicsForUnregisteredBackend(t *testing.T) {
	e := engine.New()
	require.Panics(t, func() {
		_ = e.AddTrigger("missing", struct{}{}, struct{}{})
	})
}

func TestAddTriggerForwardsToMatchingBackend(t *testing.T) {
	fb := &fakeBackend{tag: "fake"}
	e := engine.New()
	e.AddBackend(fb)

	err := e.AddTrigger("fake", "descriptor", "task")
	require.NoError(t, err)
}
