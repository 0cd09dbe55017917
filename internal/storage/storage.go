// Package storage defines the persistence contract for the orchestration
// core. Two backends implement Store: Postgres (internal/storage/postgres)
// and an embedded single-file SQLite store (internal/storage/sqlite),
// selected by configuration at startup. Business logic never branches on
// the backend type.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/scrapeherd/scrapeherd/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a guarded update matched no row because the
// entity's status changed underneath the caller. The caller re-reads and
// re-validates rather than overwriting blind.
var ErrConflict = errors.New("storage: conflicting concurrent update")

// ErrSequenceConflict is returned when a log insert violates the per-scope
// (scope_id, sequence) unique constraint. It indicates a race between
// concurrent appenders, not caller misuse; the sequencer recomputes and
// retries.
var ErrSequenceConflict = errors.New("storage: sequence conflict")

// Store is the single source of truth for all run orchestration state.
// Every method wraps backend errors with a package-prefixed message and
// maps "no rows" conditions to ErrNotFound.
type Store interface {
	// Runs. UpdateRun writes the run's mutable fields guarded on
	// prevStatus; it returns ErrConflict when the row's status no longer
	// matches, and ErrNotFound when the run does not exist.
	CreateRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (model.Run, error)
	UpdateRun(ctx context.Context, run model.Run, prevStatus model.RunStatus) error
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)

	// Plans. One per run; GetPlanByRun returns ErrNotFound when the run
	// has no plan yet.
	CreatePlan(ctx context.Context, plan model.Plan) error
	GetPlanByRun(ctx context.Context, runID uuid.UUID) (model.Plan, error)
	UpdatePlan(ctx context.Context, plan model.Plan) error

	// Steps. InsertStep relies on the (run_id, identifier) unique
	// constraint; UpdateStep is guarded on prevStatus like UpdateRun.
	InsertStep(ctx context.Context, step model.RunStep) error
	GetStep(ctx context.Context, id uuid.UUID) (model.RunStep, error)
	GetStepByIdentifier(ctx context.Context, runID uuid.UUID, identifier string) (model.RunStep, error)
	UpdateStep(ctx context.Context, step model.RunStep, prevStatus model.StepStatus) error
	ListSteps(ctx context.Context, runID uuid.UUID) ([]model.RunStep, error)

	// Run logs. InsertRunLog persists an entry whose sequence was
	// pre-assigned by the sequencer and returns ErrSequenceConflict on a
	// (run_id, sequence) collision. MaxRunLogSequence returns -1 for an
	// empty scope.
	InsertRunLog(ctx context.Context, log model.RunLog) error
	MaxRunLogSequence(ctx context.Context, runID uuid.UUID) (int64, error)
	ListRunLogsAfter(ctx context.Context, runID uuid.UUID, after int64) ([]model.RunLog, error)

	// Executions.
	CreateExecution(ctx context.Context, exec model.Execution) error
	GetExecution(ctx context.Context, id uuid.UUID) (model.Execution, error)
	UpdateExecution(ctx context.Context, exec model.Execution, prevStatus model.ExecutionStatus) error
	ListExecutionsByRun(ctx context.Context, runID uuid.UUID) ([]model.Execution, error)

	// Execution logs. Same contract as run logs, scoped per execution.
	InsertExecutionLog(ctx context.Context, log model.ExecutionLog) error
	MaxExecutionLogSequence(ctx context.Context, executionID uuid.UUID) (int64, error)
	ListExecutionLogsAfter(ctx context.Context, executionID uuid.UUID, after int64) ([]model.ExecutionLog, error)

	// Recipes (read-only collaborator entities).
	GetRecipe(ctx context.Context, id uuid.UUID) (model.Recipe, error)
	ListRecipes(ctx context.Context) ([]model.Recipe, error)

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error
	// Close releases the backend's resources.
	Close(ctx context.Context) error
}
