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

// UpsertStep registers a step keyed on (run_id, identifier). A new
// identifier creates the step as pending; an existing one takes label,
// position, and parent changes without resetting its status. Parent
// references are resolved by identifier within the same run.
func (s *Service) UpsertStep(ctx context.Context, runID uuid.UUID, spec model.StepSpec) (model.RunStep, error) {
	var parentID *uuid.UUID
	if spec.ParentIdentifier != nil {
		parent, err := s.store.GetStepByIdentifier(ctx, runID, *spec.ParentIdentifier)
		if err != nil {
			return model.RunStep{}, fmt.Errorf("orch: resolve parent step %q: %w", *spec.ParentIdentifier, err)
		}
		parentID = &parent.ID
	}

	existing, err := s.store.GetStepByIdentifier(ctx, runID, spec.Identifier)
	switch {
	case err == nil:
		return s.applyStepSpec(ctx, existing, spec, parentID)
	case errors.Is(err, storage.ErrNotFound):
		// Fall through to insert.
	default:
		return model.RunStep{}, err
	}

	now := time.Now().UTC()
	step := model.RunStep{
		ID:           uuid.New(),
		RunID:        runID,
		ParentStepID: parentID,
		Identifier:   spec.Identifier,
		Label:        spec.Label,
		Status:       model.StepStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if spec.Position != nil {
		step.Position = *spec.Position
	}

	err = s.store.InsertStep(ctx, step)
	if errors.Is(err, storage.ErrConflict) {
		// Concurrent registration of the same identifier: the other
		// writer's row wins, apply our changes to it.
		existing, getErr := s.store.GetStepByIdentifier(ctx, runID, spec.Identifier)
		if getErr != nil {
			return model.RunStep{}, getErr
		}
		return s.applyStepSpec(ctx, existing, spec, parentID)
	}
	if err != nil {
		return model.RunStep{}, err
	}

	s.bus.Publish(runID, bus.Event{Type: bus.EventStepUpdated, RunID: runID, Payload: step})
	return step, nil
}

// applyStepSpec updates an existing step's label/position/parent from a
// re-registration, leaving its status untouched.
func (s *Service) applyStepSpec(ctx context.Context, step model.RunStep, spec model.StepSpec, parentID *uuid.UUID) (model.RunStep, error) {
	if spec.Label != "" {
		step.Label = spec.Label
	}
	if spec.Position != nil {
		step.Position = *spec.Position
	}
	if parentID != nil {
		step.ParentStepID = parentID
	}
	step.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateStep(ctx, step, step.Status); err != nil {
		return model.RunStep{}, err
	}
	s.bus.Publish(step.RunID, bus.Event{Type: bus.EventStepUpdated, RunID: step.RunID, Payload: step})
	return step, nil
}

// UpdateStep applies a partial update to a step's state.
//
// A step in success/error never regresses: any status change away from a
// terminal state is rejected (repeating the identical terminal status is
// an idempotent no-op). Moving to in_progress stamps started_at when
// unset; reaching success/error stamps completed_at.
func (s *Service) UpdateStep(ctx context.Context, stepID uuid.UUID, u model.StepUpdate) (model.RunStep, error) {
	if u.Status != nil && !u.Status.Valid() {
		return model.RunStep{}, fmt.Errorf("%w: unknown step status %q", ErrInvalidTransition, *u.Status)
	}

	for attempt := 0; ; attempt++ {
		step, err := s.store.GetStep(ctx, stepID)
		if err != nil {
			return model.RunStep{}, err
		}

		prev := step.Status
		if u.Status != nil {
			next := *u.Status
			if step.Status.Terminal() {
				if next == step.Status {
					return step, nil
				}
				return model.RunStep{}, fmt.Errorf("%w: step %s is %s", ErrInvalidTransition, stepID, step.Status)
			}
			step.Status = next
			now := time.Now().UTC()
			if next == model.StepStatusInProgress && step.StartedAt == nil {
				step.StartedAt = &now
			}
			if next.Terminal() && step.CompletedAt == nil {
				step.CompletedAt = &now
			}
		}
		if u.Label != nil {
			step.Label = *u.Label
		}
		if u.Context != nil {
			step.Context = u.Context
		}
		step.UpdatedAt = time.Now().UTC()

		err = s.store.UpdateStep(ctx, step, prev)
		if err == nil {
			s.bus.Publish(step.RunID, bus.Event{Type: bus.EventStepUpdated, RunID: step.RunID, Payload: step})
			return step, nil
		}
		if errors.Is(err, storage.ErrConflict) && attempt < conflictAttempts-1 {
			continue
		}
		return model.RunStep{}, err
	}
}

// ListSteps returns a run's steps ordered by position.
func (s *Service) ListSteps(ctx context.Context, runID uuid.UUID) ([]model.RunStep, error) {
	return s.store.ListSteps(ctx, runID)
}
