package model

import (
	"time"

	"github.com/google/uuid"
)

// PlanStatus represents the lifecycle state of a plan.
type PlanStatus string

const (
	PlanStatusPlanning  PlanStatus = "planning"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
)

// Valid reports whether the status is a known value.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanStatusPlanning, PlanStatusCompleted, PlanStatusFailed:
		return true
	}
	return false
}

// Plan is the structured output the planning collaborator attaches to a
// run. At most one per run; it cannot outlive its run. The orchestration
// core persists it and gates phases on its status but never interprets
// its payloads.
type Plan struct {
	ID          uuid.UUID      `json:"id"`
	RunID       uuid.UUID      `json:"run_id"`
	RecipeID    *uuid.UUID     `json:"recipe_id,omitempty"`
	Status      PlanStatus     `json:"status"`
	Prompt      string         `json:"prompt"`
	Site        *string        `json:"site,omitempty"`
	Objective   *string        `json:"objective,omitempty"`
	BaseURL     *string        `json:"base_url,omitempty"`
	StartingURL *string        `json:"starting_url,omitempty"`
	Reasoning   *string        `json:"reasoning,omitempty"`
	Sample      map[string]any `json:"sample,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
	Pagination  map[string]any `json:"pagination,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	Error       *string        `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PlanUpdate is a partial update applied through the plan update contract.
// Nil fields are left unchanged.
type PlanUpdate struct {
	Status      *PlanStatus    `json:"status,omitempty"`
	Site        *string        `json:"site,omitempty"`
	Objective   *string        `json:"objective,omitempty"`
	BaseURL     *string        `json:"base_url,omitempty"`
	StartingURL *string        `json:"starting_url,omitempty"`
	Reasoning   *string        `json:"reasoning,omitempty"`
	Sample      map[string]any `json:"sample,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
	Pagination  map[string]any `json:"pagination,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	Error       *string        `json:"error,omitempty"`
}

// Recipe is a reusable site/extraction configuration a plan may reference.
// Read-only to the core beyond denormalized display fields.
type Recipe struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Site        string         `json:"site"`
	Description *string        `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
