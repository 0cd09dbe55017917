package model

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies a log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityDebug   Severity = "debug"
)

// Valid reports whether the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityDebug:
		return true
	}
	return false
}

// RunLog is an immutable, ordered progress entry scoped to a run and
// optionally to a step. Sequence values are assigned by the log sequencer
// at append time: unique per run, strictly increasing, never reused.
// Append-only; never updated or deleted by the core.
type RunLog struct {
	ID        uuid.UUID      `json:"id"`
	RunID     uuid.UUID      `json:"run_id"`
	StepID    *uuid.UUID     `json:"step_id,omitempty"`
	Sequence  int64          `json:"sequence"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ExecutionLog is the same contract as RunLog but scoped to an execution;
// sequence uniqueness is per execution. The owning run id is denormalized
// for run-wide queries.
type ExecutionLog struct {
	ID          uuid.UUID      `json:"id"`
	ExecutionID uuid.UUID      `json:"execution_id"`
	RunID       uuid.UUID      `json:"run_id"`
	Sequence    int64          `json:"sequence"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
