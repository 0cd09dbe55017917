package orch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scrapeherd/scrapeherd/internal/bus"
	"github.com/scrapeherd/scrapeherd/internal/model"
)

// CreatePlan attaches a plan to a run in status planning. Called when the
// planning collaborator starts work; the unique run reference in the
// store rejects a second plan for the same run.
func (s *Service) CreatePlan(ctx context.Context, runID uuid.UUID, prompt string, recipeID *uuid.UUID) (model.Plan, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return model.Plan{}, err
	}

	now := time.Now().UTC()
	plan := model.Plan{
		ID:        uuid.New(),
		RunID:     runID,
		RecipeID:  recipeID,
		Status:    model.PlanStatusPlanning,
		Prompt:    prompt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePlan(ctx, plan); err != nil {
		return model.Plan{}, err
	}

	s.bus.Publish(runID, bus.Event{Type: bus.EventPlanUpdated, RunID: runID, Payload: plan})
	return plan, nil
}

// GetPlan returns the plan attached to a run.
func (s *Service) GetPlan(ctx context.Context, runID uuid.UUID) (model.Plan, error) {
	return s.store.GetPlanByRun(ctx, runID)
}

// UpdatePlan applies the planning collaborator's partial update to a
// run's plan and publishes the updated plan. The orchestration core
// passes the payloads through untouched.
func (s *Service) UpdatePlan(ctx context.Context, runID uuid.UUID, u model.PlanUpdate) (model.Plan, error) {
	plan, err := s.store.GetPlanByRun(ctx, runID)
	if err != nil {
		return model.Plan{}, err
	}

	if u.Status != nil {
		plan.Status = *u.Status
	}
	if u.Site != nil {
		plan.Site = u.Site
	}
	if u.Objective != nil {
		plan.Objective = u.Objective
	}
	if u.BaseURL != nil {
		plan.BaseURL = u.BaseURL
	}
	if u.StartingURL != nil {
		plan.StartingURL = u.StartingURL
	}
	if u.Reasoning != nil {
		plan.Reasoning = u.Reasoning
	}
	if u.Sample != nil {
		plan.Sample = u.Sample
	}
	if u.Schema != nil {
		plan.Schema = u.Schema
	}
	if u.Pagination != nil {
		plan.Pagination = u.Pagination
	}
	if u.Config != nil {
		plan.Config = u.Config
	}
	if u.Meta != nil {
		plan.Meta = u.Meta
	}
	if u.Error != nil {
		plan.Error = u.Error
	}
	plan.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdatePlan(ctx, plan); err != nil {
		return model.Plan{}, err
	}

	s.bus.Publish(runID, bus.Event{Type: bus.EventPlanUpdated, RunID: runID, Payload: plan})
	return plan, nil
}
