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

// CreateRun persists a new run in the initial (plan, queued) state and
// registers its initial steps in order. The caller drives the run forward
// afterwards; creation itself orchestrates nothing.
func (s *Service) CreateRun(ctx context.Context, prompt string, steps []model.StepSpec) (model.Run, []model.RunStep, error) {
	now := time.Now().UTC()
	run := model.Run{
		ID:        uuid.New(),
		Prompt:    prompt,
		Status:    model.RunStatusQueued,
		Phase:     model.PhasePlan,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return model.Run{}, nil, err
	}

	created := make([]model.RunStep, 0, len(steps))
	for i, spec := range steps {
		if spec.Position == nil {
			pos := i
			spec.Position = &pos
		}
		step, err := s.UpsertStep(ctx, run.ID, spec)
		if err != nil {
			return model.Run{}, nil, fmt.Errorf("orch: register step %q: %w", spec.Identifier, err)
		}
		created = append(created, step)
	}

	s.logger.Info("run created", "run_id", run.ID, "steps", len(created))
	return run, created, nil
}

// GetRun retrieves a run by ID.
func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (model.Run, error) {
	return s.store.GetRun(ctx, id)
}

// ListRuns returns runs newest-first with denormalized plan fields.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	return s.store.ListRuns(ctx, limit)
}

// GetRunDetail returns a run with its plan, steps, and full log history —
// the snapshot payload for detail fetches and stream opens.
func (s *Service) GetRunDetail(ctx context.Context, id uuid.UUID) (model.RunDetail, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return model.RunDetail{}, err
	}

	detail := model.RunDetail{Run: run}

	plan, err := s.store.GetPlanByRun(ctx, id)
	switch {
	case err == nil:
		detail.Plan = &plan
	case errors.Is(err, storage.ErrNotFound):
		// Planning may not have produced a plan yet.
	default:
		return model.RunDetail{}, err
	}

	if detail.Steps, err = s.store.ListSteps(ctx, id); err != nil {
		return model.RunDetail{}, err
	}
	if detail.Logs, err = s.store.ListRunLogsAfter(ctx, id, -1); err != nil {
		return model.RunDetail{}, err
	}
	if detail.Steps == nil {
		detail.Steps = []model.RunStep{}
	}
	if detail.Logs == nil {
		detail.Logs = []model.RunLog{}
	}
	return detail, nil
}

// TransitionRun applies a partial update to a run's composite
// status/phase state.
//
// Rules: a status change into a terminal value stamps completed_at when
// unset; a run already terminal accepts only the identical terminal status
// again (an idempotent no-op) — conflicting terminal transitions and
// resurrections are rejected; the phase never moves backward. On success
// a run.updated event carrying the full run is published.
func (s *Service) TransitionRun(ctx context.Context, id uuid.UUID, t model.RunTransition) (model.Run, error) {
	if t.Status != nil && !t.Status.Valid() {
		return model.Run{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, *t.Status)
	}
	if t.Phase != nil && !t.Phase.Valid() {
		return model.Run{}, fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, *t.Phase)
	}

	var updated model.Run
	for attempt := 0; ; attempt++ {
		run, err := s.store.GetRun(ctx, id)
		if err != nil {
			return model.Run{}, err
		}

		if run.Status.Terminal() {
			if t.Status != nil && *t.Status == run.Status {
				// Idempotent repeat of the same terminal transition:
				// nothing to write, nothing to publish.
				return run, nil
			}
			return model.Run{}, fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, id, run.Status)
		}
		if t.Phase != nil && t.Phase.Before(run.Phase) {
			return model.Run{}, fmt.Errorf("%w: phase cannot move back from %s to %s",
				ErrInvalidTransition, run.Phase, *t.Phase)
		}

		prev := run.Status
		if t.Status != nil {
			run.Status = *t.Status
		}
		if t.Phase != nil {
			run.Phase = *t.Phase
		}
		if t.Summary != nil {
			run.Summary = t.Summary
		}
		if t.Error != nil {
			run.Error = t.Error
		}
		if t.CompletedAt != nil {
			run.CompletedAt = t.CompletedAt
		}
		if run.Status.Terminal() && run.CompletedAt == nil {
			now := time.Now().UTC()
			run.CompletedAt = &now
		}
		run.UpdatedAt = time.Now().UTC()

		err = s.store.UpdateRun(ctx, run, prev)
		if err == nil {
			updated = run
			break
		}
		if errors.Is(err, storage.ErrConflict) && attempt < conflictAttempts-1 {
			continue // another writer moved the run; re-read and re-validate
		}
		return model.Run{}, err
	}

	s.bus.Publish(updated.ID, bus.Event{Type: bus.EventRunUpdated, RunID: updated.ID, Payload: updated})
	return updated, nil
}

// AppendRunLog appends a run-scoped log entry through the sequencer and
// publishes it.
func (s *Service) AppendRunLog(ctx context.Context, runID uuid.UUID, stepID *uuid.UUID, severity model.Severity, message string, payload map[string]any) (model.RunLog, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return model.RunLog{}, err
	}
	log, err := s.seq.AppendRunLog(ctx, model.RunLog{
		RunID:    runID,
		StepID:   stepID,
		Severity: severity,
		Message:  message,
		Payload:  payload,
	})
	if err != nil {
		return model.RunLog{}, err
	}
	s.bus.Publish(runID, bus.Event{Type: bus.EventLogAppended, RunID: runID, Payload: log})
	return log, nil
}

// ListRunLogsAfter returns run logs with sequence strictly greater than
// after, ascending.
func (s *Service) ListRunLogsAfter(ctx context.Context, runID uuid.UUID, after int64) ([]model.RunLog, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.seq.ListRunLogsAfter(ctx, runID, after)
}
