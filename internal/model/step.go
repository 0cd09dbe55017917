package model

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus represents the lifecycle state of a run step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusSuccess    StepStatus = "success"
	StepStatusError      StepStatus = "error"
)

// Terminal reports whether the status is a final state.
// A step in a terminal status never regresses.
func (s StepStatus) Terminal() bool {
	return s == StepStatusSuccess || s == StepStatusError
}

// Valid reports whether the status is a known value.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusInProgress, StepStatusSuccess, StepStatusError:
		return true
	}
	return false
}

// RunStep is a named unit of work within a run, optionally nested under a
// parent step. (run_id, identifier) is unique: re-registering the same
// identifier updates the existing step, it never duplicates.
type RunStep struct {
	ID           uuid.UUID      `json:"id"`
	RunID        uuid.UUID      `json:"run_id"`
	ParentStepID *uuid.UUID     `json:"parent_step_id,omitempty"`
	Identifier   string         `json:"identifier"`
	Label        string         `json:"label"`
	Status       StepStatus     `json:"status"`
	Position     int            `json:"position"`
	Context      map[string]any `json:"context,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// StepSpec describes a step to register at run creation or during a run.
type StepSpec struct {
	Identifier       string  `json:"identifier"`
	Label            string  `json:"label"`
	ParentIdentifier *string `json:"parent_identifier,omitempty"`
	Position         *int    `json:"position,omitempty"`
}

// StepUpdate is a partial update applied by the step tracker.
// Nil fields are left unchanged.
type StepUpdate struct {
	Status  *StepStatus    `json:"status,omitempty"`
	Label   *string        `json:"label,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}
