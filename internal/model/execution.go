package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of an execution.
// Transitions are monotonic: queued → running → {completed|failed|cancelled}.
type ExecutionStatus string

const (
	ExecutionStatusQueued    ExecutionStatus = "queued"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether the status is a known value.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusQueued, ExecutionStatusRunning, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next respects the
// monotonic lifecycle. Repeating the current status is allowed (idempotent
// updates); leaving a terminal status is not.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	switch s {
	case ExecutionStatusQueued:
		return next == ExecutionStatusRunning || next.Terminal()
	case ExecutionStatusRunning:
		return next.Terminal()
	}
	return false
}

// Execution is one invocation of the external engine on behalf of a run.
// A run may have zero, one, or many (retries, multi-engine attempts).
type Execution struct {
	ID          uuid.UUID       `json:"id"`
	RunID       uuid.UUID       `json:"run_id"`
	PlanID      *uuid.UUID      `json:"plan_id,omitempty"`
	Engine      string          `json:"engine"`
	Status      ExecutionStatus `json:"status"`
	Config      map[string]any  `json:"config,omitempty"`
	Result      map[string]any  `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ExecutionUpdate is a partial update applied by the execution state
// machine. Nil fields are left unchanged.
type ExecutionUpdate struct {
	Status   *ExecutionStatus `json:"status,omitempty"`
	Result   map[string]any   `json:"result,omitempty"`
	Error    *string          `json:"error,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// ExecutionDetail is an execution together with its logs.
type ExecutionDetail struct {
	Execution Execution      `json:"execution"`
	Logs      []ExecutionLog `json:"logs"`
}
