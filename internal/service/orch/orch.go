// Package orch implements the orchestration core: the run and execution
// state machines and the step tracker. Every mutation is persisted first
// and published on the bus strictly after the write succeeds, so the
// store and the notification stream can never disagree about what
// happened — a failed write publishes nothing.
package orch

import (
	"errors"
	"log/slog"

	"github.com/scrapeherd/scrapeherd/internal/bus"
	"github.com/scrapeherd/scrapeherd/internal/sequencer"
	"github.com/scrapeherd/scrapeherd/internal/storage"
)

// ErrInvalidTransition is returned when a state change would violate a
// monotonicity or terminal-state invariant. It is rejected before any
// write.
var ErrInvalidTransition = errors.New("orch: invalid transition")

// conflictAttempts bounds the re-read/re-validate loop when a guarded
// update loses a race with another writer.
const conflictAttempts = 3

// Service owns all state mutation for runs, plans, steps, and executions.
type Service struct {
	store  storage.Store
	seq    *sequencer.Sequencer
	bus    *bus.Bus
	logger *slog.Logger
}

// New creates a Service.
func New(store storage.Store, seq *sequencer.Sequencer, b *bus.Bus, logger *slog.Logger) *Service {
	return &Service{store: store, seq: seq, bus: b, logger: logger}
}
