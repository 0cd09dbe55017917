// Package bus provides in-process publish/subscribe keyed by run ID.
//
// The bus is a pure notification side-channel: delivery is best-effort,
// at-most-once per subscriber, with no persistence or replay. Anything a
// subscriber misses is recoverable by re-reading the store; the store is
// authoritative, the bus never is. A Bus is a constructed service instance
// passed by reference — created at process start, closed at shutdown.
package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// EventType identifies a bus event.
type EventType string

const (
	EventRunUpdated       EventType = "run.updated"
	EventPlanUpdated      EventType = "run.plan.updated"
	EventStepUpdated      EventType = "run.step.updated"
	EventLogAppended      EventType = "run.log.appended"
	EventExecutionCreated EventType = "run.execution.created"
	EventExecutionUpdated EventType = "run.execution.updated"
	EventExecutionLog     EventType = "run.execution.log"
)

// Event is one published notification. Payload carries the full updated
// entity (model.Run, model.Plan, model.RunStep, model.RunLog,
// model.Execution, or model.ExecutionLog).
type Event struct {
	Type    EventType
	RunID   uuid.UUID
	Payload any
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber whose
// buffer is full has events dropped rather than blocking the publisher;
// SSE clients recover via the snapshot + sequence numbers.
const subscriberBuffer = 64

// Bus fans events out to the subscribers of each run.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	subs   map[uuid.UUID]map[chan Event]struct{}
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[uuid.UUID]map[chan Event]struct{}),
	}
}

// Subscribe registers a subscriber for one run's events and returns the
// delivery channel plus an unsubscribe function. Unsubscribe is idempotent
// and closes the channel; the bus keeps no reference afterwards. Events
// published before Subscribe returns are not delivered.
func (b *Bus) Subscribe(runID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	set, ok := b.subs[runID]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[runID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[runID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, runID)
				}
			}
			if !b.closed {
				// Close under the lock so a concurrent Publish can never
				// send on a closed channel. Close already closed it if
				// the bus shut down first.
				close(ch)
			}
		})
	}
	return ch, unsubscribe
}

// Publish delivers an event to every current subscriber of the run.
// Delivery order matches publish order per run; slow subscribers with a
// full buffer have the event dropped so one stalled consumer cannot block
// the publisher or its peers. Publishing to a run with no subscribers is a
// no-op.
func (b *Bus) Publish(runID uuid.UUID, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for ch := range b.subs[runID] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				"run_id", runID, "event", string(event.Type))
		}
	}
}

// Close tears the bus down: all subscriber channels are closed and further
// Publish/Subscribe calls become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for ch := range set {
			close(ch)
		}
	}
	b.subs = nil
}
