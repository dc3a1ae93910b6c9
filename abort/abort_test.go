package abort_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kildevaeld/triggerman/abort"
)

func TestControllerMonotonic(t *testing.T) {
	c := abort.New()
	require.False(t, c.IsAborted())

	c.Trip()
	require.True(t, c.IsAborted())

	// Idempotent: repeated trips must not panic or change state.
	require.NotPanics(t, func() { c.Trip() })
	require.True(t, c.IsAborted())

	select {
	case <-c.Wait():
	default:
		t.Fatal("Wait should resolve immediately once tripped")
	}
}

func TestControllerBroadcastsToAllWaiters(t *testing.T) {
	c := abort.New()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-c.Wait()
		}()
	}

	time.Sleep(10 * time.Millisecond)
	c.Trip()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all waiters observed the trip")
	}
}

func TestControllerCloneSharesState(t *testing.T) {
	c := abort.New()
	clone := c

	clone.Trip()

	require.True(t, c.IsAborted(), "clones must share underlying state")
}
