package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitalci/orbital/pkg/types"
)

func waitFor(t *testing.T, ch <-chan types.Event, timeout time.Duration) (types.Event, bool) {
	t.Helper()
	select {
	case ev := <-ch:
		return ev, true
	case <-time.After(timeout):
		return types.Event{}, false
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe("watcher", nil)
	defer bus.Unsubscribe(sub)

	bus.Publish(types.Event{Type: types.EventWorkflowTransitioned, Source: "orchestrator"})

	ev, ok := waitFor(t, sub.Events(), time.Second)
	require.True(t, ok, "expected an event within timeout")
	assert.Equal(t, types.EventWorkflowTransitioned, ev.Type)
	assert.False(t, ev.Timestamp.IsZero(), "Publish should stamp Timestamp when unset")
}

func TestSubscribePredicateFiltersEvents(t *testing.T) {
	bus := New()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe("stepwatcher", func(e types.Event) bool {
		return e.Type == types.EventStepCompleted
	})
	defer bus.Unsubscribe(sub)

	bus.Publish(types.Event{Type: types.EventStepStarted})
	bus.Publish(types.Event{Type: types.EventStepCompleted})

	ev, ok := waitFor(t, sub.Events(), time.Second)
	require.True(t, ok)
	assert.Equal(t, types.EventStepCompleted, ev.Type)

	select {
	case extra := <-sub.Events():
		t.Fatalf("unexpected second event delivered: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := New()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe("transient", nil)
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(sub)
	assert.Equal(t, 0, bus.SubscriberCount())

	assert.NotPanics(t, func() { bus.Unsubscribe(sub) })
}

func TestOverflowIsCountedNotBlocked(t *testing.T) {
	bus := New()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe("slow", nil)
	defer bus.Unsubscribe(sub)

	for i := 0; i < defaultSubscriberBuffer+10; i++ {
		bus.Publish(types.Event{Type: types.EventPipelineProgress})
	}

	// Give the dispatch loop time to drain the intake queue; it must never
	// block even though the subscriber channel fills up.
	deadline := time.After(2 * time.Second)
	for {
		if bus.OverflowCount("slow") > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected at least one overflow to be recorded")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHistoryReplaysRecentEvents(t *testing.T) {
	bus := New()
	bus.Start()
	defer bus.Stop()

	for i := 0; i < 5; i++ {
		bus.Publish(types.Event{Type: types.EventSandboxCreated, CorrelationID: string(rune('a' + i))})
	}

	require.Eventually(t, func() bool {
		return len(bus.History()) == 5
	}, time.Second, 10*time.Millisecond)

	hist := bus.History()
	assert.Equal(t, "a", hist[0].CorrelationID)
	assert.Equal(t, "e", hist[4].CorrelationID)
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	bus := New()
	bus.Start()
	defer bus.Stop()

	done := make(chan bool, 20)

	for i := 0; i < 10; i++ {
		go func(n int) {
			sub := bus.Subscribe(string(rune('A'+n)), nil)
			bus.Unsubscribe(sub)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		go func() {
			bus.Publish(types.Event{Type: types.EventWorkflowFailed})
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		<-done
	}
}
