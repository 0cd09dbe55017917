// Package sequencer assigns strictly increasing, per-scope sequence
// numbers to appended log entries. A scope is one run (for run logs) or
// one execution (for execution logs); sequences are dense — 0, 1, 2, … —
// with no gaps or reuse.
//
// The next sequence is computed as max+1 and the insert relies on the
// store's (scope, sequence) unique constraint as the backstop: when two
// appenders race, the loser recomputes and retries with jittered backoff.
// A conflict is a race, not caller misuse, so it is only surfaced after
// the retry budget is exhausted.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/scrapeherd/scrapeherd/internal/model"
	"github.com/scrapeherd/scrapeherd/internal/storage"
)

const (
	defaultMaxRetries = 8
	defaultBaseDelay  = 5 * time.Millisecond
)

// Sequencer appends log entries with store-backed sequence assignment.
type Sequencer struct {
	store      storage.Store
	logger     *slog.Logger
	maxRetries int
	baseDelay  time.Duration
}

// New creates a Sequencer with the default retry budget.
func New(store storage.Store, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		store:      store,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
	}
}

// AppendRunLog persists a run-scoped entry with the next free sequence and
// returns the persisted form. The entry's Sequence field is ignored on
// input; ID and CreatedAt are filled when unset.
func (s *Sequencer) AppendRunLog(ctx context.Context, log model.RunLog) (model.RunLog, error) {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if log.Severity == "" {
		log.Severity = model.SeverityInfo
	}

	err := s.withRetry(ctx, func() error {
		max, err := s.store.MaxRunLogSequence(ctx, log.RunID)
		if err != nil {
			return err
		}
		log.Sequence = max + 1
		return s.store.InsertRunLog(ctx, log)
	})
	if err != nil {
		return model.RunLog{}, fmt.Errorf("sequencer: append run log: %w", err)
	}
	return log, nil
}

// AppendExecutionLog persists an execution-scoped entry with the next free
// sequence for that execution.
func (s *Sequencer) AppendExecutionLog(ctx context.Context, log model.ExecutionLog) (model.ExecutionLog, error) {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if log.Severity == "" {
		log.Severity = model.SeverityInfo
	}

	err := s.withRetry(ctx, func() error {
		max, err := s.store.MaxExecutionLogSequence(ctx, log.ExecutionID)
		if err != nil {
			return err
		}
		log.Sequence = max + 1
		return s.store.InsertExecutionLog(ctx, log)
	})
	if err != nil {
		return model.ExecutionLog{}, fmt.Errorf("sequencer: append execution log: %w", err)
	}
	return log, nil
}

// ListRunLogsAfter returns run logs with sequence strictly greater than
// after, ascending. Pass -1 for the full history.
func (s *Sequencer) ListRunLogsAfter(ctx context.Context, runID uuid.UUID, after int64) ([]model.RunLog, error) {
	return s.store.ListRunLogsAfter(ctx, runID, after)
}

// ListExecutionLogsAfter is ListRunLogsAfter for an execution scope.
func (s *Sequencer) ListExecutionLogsAfter(ctx context.Context, executionID uuid.UUID, after int64) ([]model.ExecutionLog, error) {
	return s.store.ListExecutionLogsAfter(ctx, executionID, after)
}

// withRetry runs fn, retrying on sequence conflicts with jittered
// exponential backoff until the retry budget is spent.
func (s *Sequencer) withRetry(ctx context.Context, fn func() error) error {
	delay := s.baseDelay
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, storage.ErrSequenceConflict) {
			return err
		}
		if attempt == s.maxRetries {
			break
		}
		s.logger.Debug("sequence conflict, retrying", "attempt", attempt+1)
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}
