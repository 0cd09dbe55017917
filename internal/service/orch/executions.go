package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrapeherd/scrapeherd/internal/bus"
	"github.com/scrapeherd/scrapeherd/internal/model"
	"github.com/scrapeherd/scrapeherd/internal/storage"
)

// StartExecution creates an execution in status queued and publishes
// run.execution.created. The caller is expected to drive it to running
// and then a terminal state via UpdateExecution; the state machine itself
// performs no retries — retry policy belongs to the driving logic.
func (s *Service) StartExecution(ctx context.Context, runID uuid.UUID, planID *uuid.UUID, engine string, config, metadata map[string]any) (model.Execution, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return model.Execution{}, err
	}

	now := time.Now().UTC()
	exec := model.Execution{
		ID:        uuid.New(),
		RunID:     runID,
		PlanID:    planID,
		Engine:    engine,
		Status:    model.ExecutionStatusQueued,
		Config:    config,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return model.Execution{}, err
	}

	s.bus.Publish(runID, bus.Event{Type: bus.EventExecutionCreated, RunID: runID, Payload: exec})
	return exec, nil
}

// UpdateExecution applies a partial update under the monotonic lifecycle:
// queued → running → {completed|failed|cancelled}, never back. Moving to
// running stamps started_at; reaching a terminal status stamps
// completed_at. Repeating the current status is an idempotent no-op.
func (s *Service) UpdateExecution(ctx context.Context, id uuid.UUID, u model.ExecutionUpdate) (model.Execution, error) {
	if u.Status != nil && !u.Status.Valid() {
		return model.Execution{}, fmt.Errorf("%w: unknown execution status %q", ErrInvalidTransition, *u.Status)
	}

	for attempt := 0; ; attempt++ {
		exec, err := s.store.GetExecution(ctx, id)
		if err != nil {
			return model.Execution{}, err
		}

		prev := exec.Status
		if u.Status != nil {
			next := *u.Status
			if !exec.Status.CanTransitionTo(next) {
				return model.Execution{}, fmt.Errorf("%w: execution %s cannot go from %s to %s",
					ErrInvalidTransition, id, exec.Status, next)
			}
			if next == exec.Status && u.Result == nil && u.Error == nil && u.Metadata == nil {
				return exec, nil
			}
			exec.Status = next
			now := time.Now().UTC()
			if next == model.ExecutionStatusRunning && exec.StartedAt == nil {
				exec.StartedAt = &now
			}
			if next.Terminal() && exec.CompletedAt == nil {
				exec.CompletedAt = &now
			}
		}
		if u.Result != nil {
			exec.Result = u.Result
		}
		if u.Error != nil {
			exec.Error = u.Error
		}
		if u.Metadata != nil {
			exec.Metadata = u.Metadata
		}
		exec.UpdatedAt = time.Now().UTC()

		err = s.store.UpdateExecution(ctx, exec, prev)
		if err == nil {
			s.bus.Publish(exec.RunID, bus.Event{Type: bus.EventExecutionUpdated, RunID: exec.RunID, Payload: exec})
			return exec, nil
		}
		if errors.Is(err, storage.ErrConflict) && attempt < conflictAttempts-1 {
			continue
		}
		return model.Execution{}, err
	}
}

// AppendExecutionLog appends an execution-scoped log entry through the
// sequencer, denormalizing the owning run id, and publishes it.
func (s *Service) AppendExecutionLog(ctx context.Context, executionID, runID uuid.UUID, severity model.Severity, message string, payload map[string]any) (model.ExecutionLog, error) {
	log, err := s.seq.AppendExecutionLog(ctx, model.ExecutionLog{
		ExecutionID: executionID,
		RunID:       runID,
		Severity:    severity,
		Message:     message,
		Payload:     payload,
	})
	if err != nil {
		return model.ExecutionLog{}, err
	}
	s.bus.Publish(runID, bus.Event{Type: bus.EventExecutionLog, RunID: runID, Payload: log})
	return log, nil
}

// GetExecutionDetail returns an execution with its full log history.
func (s *Service) GetExecutionDetail(ctx context.Context, id uuid.UUID) (model.ExecutionDetail, error) {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return model.ExecutionDetail{}, err
	}
	logs, err := s.seq.ListExecutionLogsAfter(ctx, id, -1)
	if err != nil {
		return model.ExecutionDetail{}, err
	}
	if logs == nil {
		logs = []model.ExecutionLog{}
	}
	return model.ExecutionDetail{Execution: exec, Logs: logs}, nil
}

// ListExecutionDetails returns a run's executions, oldest-first, each with
// its logs.
func (s *Service) ListExecutionDetails(ctx context.Context, runID uuid.UUID) ([]model.ExecutionDetail, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	execs, err := s.store.ListExecutionsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	details := make([]model.ExecutionDetail, 0, len(execs))
	for _, exec := range execs {
		logs, err := s.seq.ListExecutionLogsAfter(ctx, exec.ID, -1)
		if err != nil {
			return nil, err
		}
		if logs == nil {
			logs = []model.ExecutionLog{}
		}
		details = append(details, model.ExecutionDetail{Execution: exec, Logs: logs})
	}
	return details, nil
}
