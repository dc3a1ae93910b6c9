package manual_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kildevaeld/triggerman/abort"
	"github.com/kildevaeld/triggerman/backend"
	"github.com/kildevaeld/triggerman/manual"
)

// TestSingleTriggerDropsUnknownNames exercises S1: two "import" pokes and one
// unknown poke should record exactly two invocations, in order.
func TestSingleTriggerDropsUnknownNames(t *testing.T) {
	b, sender := manual.New()

	var mu sync.Mutex
	var invocations []string

	task := backend.TaskFunc[manual.Event](func(ctx context.Context, _ manual.Event) error {
		mu.Lock()
		invocations = append(invocations, "import")
		mu.Unlock()
		return nil
	})

	require.NoError(t, b.AddTrigger(manual.Descriptor{Name: "import"}, backend.Task[manual.Event](task)))

	ab := abort.New()
	ctx := context.Background()
	items := b.Run(ctx, ab)

	names := []string{"import", "unknown", "import"}
	go func() {
		for _, n := range names {
			_ = sender.Send(ctx, n)
		}
	}()

	for i := 0; i < 2; i++ {
		select {
		case item, ok := <-items:
			require.True(t, ok)
			require.NoError(t, item.Err)
			require.NoError(t, item.Worker.Run(ctx))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for worker")
		}
	}

	ab.Trip()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"import", "import"}, invocations)
}

func TestAddTriggerRejectsDuplicateName(t *testing.T) {
	b, _ := manual.New()
	task := backend.Task[manual.Event](backend.TaskFunc[manual.Event](func(context.Context, manual.Event) error { return nil }))

	require.NoError(t, b.AddTrigger(manual.Descriptor{Name: "import"}, task))
	err := b.AddTrigger(manual.Descriptor{Name: "import"}, task)
	require.ErrorIs(t, err, manual.ErrAlreadyRegistered)
}

func TestAddTriggerRejectsWrongTypes(t *testing.T) {
	b, _ := manual.New()
	require.Error(t, b.AddTrigger("not-a-descriptor", "not-a-task"))
}

func TestRunEndsOnAbort(t *testing.T) {
	b, _ := manual.New()
	ab := abort.New()
	items := b.Run(context.Background(), ab)

	ab.Trip()

	select {
	case _, ok := <-items:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream did not close after abort")
	}
}
