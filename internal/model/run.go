// Package model defines the core domain types for scrapeherd.
//
// All types correspond directly to database tables and wire payloads.
// Types use strong typing (UUIDs, time.Time, enums); opaque payloads
// supplied by collaborators (plan config, engine results, log context)
// are map[string]any and are never inspected by the orchestration core.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
// A run in a terminal status never transitions again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// RunPhase is the coarse-grained stage of a run's lifecycle.
// Phases advance forward (plan → execute → store → finalizing); a failed
// run freezes at the phase where the failure occurred.
type RunPhase string

const (
	PhasePlan       RunPhase = "plan"
	PhaseExecute    RunPhase = "execute"
	PhaseStore      RunPhase = "store"
	PhaseFinalizing RunPhase = "finalizing"
)

// phaseOrder maps each phase to its position in the forward progression.
var phaseOrder = map[RunPhase]int{
	PhasePlan:       0,
	PhaseExecute:    1,
	PhaseStore:      2,
	PhaseFinalizing: 3,
}

// Valid reports whether the phase is a known value.
func (p RunPhase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Before reports whether p precedes other in the forward progression.
func (p RunPhase) Before(other RunPhase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

// Run is one user-initiated data-gathering task.
// Created once, mutated only through the run state machine, never deleted
// by the core.
type Run struct {
	ID          uuid.UUID      `json:"id"`
	Prompt      string         `json:"prompt"`
	Status      RunStatus      `json:"status"`
	Phase       RunPhase       `json:"phase"`
	Summary     map[string]any `json:"summary,omitempty"`
	Error       *string        `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// RunTransition is a partial update applied by the run state machine.
// Nil fields are left unchanged.
type RunTransition struct {
	Status      *RunStatus     `json:"status,omitempty"`
	Phase       *RunPhase      `json:"phase,omitempty"`
	Summary     map[string]any `json:"summary,omitempty"`
	Error       *string        `json:"error,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// RunSummary is a run list item with denormalized plan fields for display.
type RunSummary struct {
	Run
	PlanStatus  *PlanStatus `json:"plan_status,omitempty"`
	Site        *string     `json:"site,omitempty"`
	StartingURL *string     `json:"starting_url,omitempty"`
	Objective   *string     `json:"objective,omitempty"`
}

// RunDetail is the full state of a run: the snapshot payload for the
// streaming gateway and the detail-fetch response.
type RunDetail struct {
	Run   Run       `json:"run"`
	Plan  *Plan     `json:"plan,omitempty"`
	Steps []RunStep `json:"steps"`
	Logs  []RunLog  `json:"logs"`
}
