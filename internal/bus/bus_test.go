package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBusFanOut(t *testing.T) {
	b := New(testLogger())
	defer b.Close()
	runID := uuid.New()

	ch1, unsub1 := b.Subscribe(runID)
	ch2, unsub2 := b.Subscribe(runID)
	defer unsub2()

	b.Publish(runID, Event{Type: EventRunUpdated, RunID: runID})

	assert.Equal(t, EventRunUpdated, recv(t, ch1).Type)
	assert.Equal(t, EventRunUpdated, recv(t, ch2).Type)

	// After unsubscribing ch1 only ch2 receives.
	unsub1()
	b.Publish(runID, Event{Type: EventLogAppended, RunID: runID})
	assert.Equal(t, EventLogAppended, recv(t, ch2).Type)
}

func TestBusScopedByRun(t *testing.T) {
	b := New(testLogger())
	defer b.Close()
	runA, runB := uuid.New(), uuid.New()

	chA, unsubA := b.Subscribe(runA)
	defer unsubA()

	b.Publish(runB, Event{Type: EventRunUpdated, RunID: runB})
	b.Publish(runA, Event{Type: EventStepUpdated, RunID: runA})

	// Only runA's event arrives; runB's was never routed here.
	got := recv(t, chA)
	assert.Equal(t, EventStepUpdated, got.Type)
	assert.Equal(t, runA, got.RunID)
	select {
	case e := <-chA:
		t.Fatalf("unexpected extra event %v", e.Type)
	default:
	}
}

func TestBusUnsubscribeIdempotentAndCloses(t *testing.T) {
	b := New(testLogger())
	defer b.Close()
	runID := uuid.New()

	ch, unsub := b.Subscribe(runID)
	unsub()
	unsub() // second call is a no-op

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")

	// Publishing after unsubscribe must not panic.
	b.Publish(runID, Event{Type: EventRunUpdated, RunID: runID})
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := New(testLogger())
	defer b.Close()
	runID := uuid.New()

	ch, unsub := b.Subscribe(runID)
	defer unsub()

	// Overfill the buffer; the publisher must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			b.Publish(runID, Event{Type: EventLogAppended, RunID: runID})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// The buffer holds exactly its capacity; overflow was dropped.
	require.Len(t, ch, subscriberBuffer)
}

func TestBusCloseTerminatesSubscribers(t *testing.T) {
	b := New(testLogger())
	runID := uuid.New()

	ch, unsub := b.Subscribe(runID)
	b.Close()

	_, open := <-ch
	assert.False(t, open)

	// All paths stay safe after close.
	b.Publish(runID, Event{Type: EventRunUpdated, RunID: runID})
	unsub()
	ch2, unsub2 := b.Subscribe(runID)
	_, open = <-ch2
	assert.False(t, open)
	unsub2()
}
