package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovrium/sovrium/pkg/schema"
)

func receive(t *testing.T, ch <-chan RunEvent) RunEvent {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return RunEvent{}
}

func assertNoEvent(t *testing.T, ch <-chan RunEvent) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := RunEvent{
		RunID:        "run-1",
		AutomationID: 3,
		EventType:    schema.EventRunUpdated,
		Status:       schema.RunStatusPlaying,
		StepPath:     "fetch",
	}
	require.NoError(t, hub.Publish(ctx, event))
	assert.Equal(t, event, receive(t, ch))
}

func TestFilterByRunAndAutomation(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	byRun, cancel1, err := hub.Subscribe(ctx, EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancel1()
	byAutomation, cancel2, err := hub.Subscribe(ctx, EventFilter{AutomationID: 2})
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "run-1", AutomationID: 1, EventType: schema.EventRunCreated}))
	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "run-2", AutomationID: 2, EventType: schema.EventRunCreated}))

	assert.Equal(t, "run-1", receive(t, byRun).RunID)
	assertNoEvent(t, byRun)
	assert.Equal(t, "run-2", receive(t, byAutomation).RunID)
	assertNoEvent(t, byAutomation)
}

func TestFilterByEventType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		EventTypes: []string{schema.EventRunCreated, schema.EventRunFinished},
	})
	require.NoError(t, err)
	defer cancel()

	for _, typ := range []string{schema.EventRunCreated, schema.EventRunUpdated, schema.EventRunFinished} {
		require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "run-1", EventType: typ}))
	}

	received := []string{receive(t, ch).EventType, receive(t, ch).EventType}
	assert.Equal(t, []string{schema.EventRunCreated, schema.EventRunFinished}, received)
	assertNoEvent(t, ch)
}

func TestCancelSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "run-1"}))

	_, ok := <-ch
	assert.False(t, ok, "channel is closed after cancel")
	assert.Equal(t, 0, hub.Subscribers())
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "run-1", EventType: schema.EventRunUpdated}))
	}

	drained := 0
	for len(ch) > 0 {
		<-ch
		drained++
	}
	assert.Equal(t, defaultChannelBuffer, drained)
	assert.Equal(t, uint64(10), hub.Dropped())
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	const goroutines = 20
	const eventsPerGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				_ = hub.Publish(ctx, RunEvent{RunID: "run-concurrent", EventType: schema.EventRunUpdated})
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
			if err != nil {
				return
			}
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, RunEvent{RunID: "run-1"}), context.Canceled)
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}
