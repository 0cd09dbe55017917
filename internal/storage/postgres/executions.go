package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scrapeherd/scrapeherd/internal/model"
	"github.com/scrapeherd/scrapeherd/internal/storage"
)

const executionColumns = `id, run_id, plan_id, engine, status, config, result, error, metadata,
	started_at, completed_at, created_at, updated_at`

// CreateExecution inserts a new execution.
func (db *DB) CreateExecution(ctx context.Context, exec model.Execution) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO executions (id, run_id, plan_id, engine, status, config, result, error, metadata,
		                         started_at, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		exec.ID, exec.RunID, exec.PlanID, exec.Engine, string(exec.Status),
		exec.Config, exec.Result, exec.Error, exec.Metadata,
		exec.StartedAt, exec.CompletedAt, exec.CreatedAt, exec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (db *DB) GetExecution(ctx context.Context, id uuid.UUID) (model.Execution, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Execution{}, storage.ErrNotFound
		}
		return model.Execution{}, fmt.Errorf("storage: get execution: %w", err)
	}
	return exec, nil
}

// UpdateExecution writes the execution's mutable fields guarded on the
// status the caller read.
func (db *DB) UpdateExecution(ctx context.Context, exec model.Execution, prevStatus model.ExecutionStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE executions SET status = $1, config = $2, result = $3, error = $4, metadata = $5,
		        started_at = $6, completed_at = $7, updated_at = $8
		 WHERE id = $9 AND status = $10`,
		string(exec.Status), exec.Config, exec.Result, exec.Error, exec.Metadata,
		exec.StartedAt, exec.CompletedAt, exec.UpdatedAt, exec.ID, string(prevStatus),
	)
	if err != nil {
		return fmt.Errorf("storage: update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetExecution(ctx, exec.ID); errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

// ListExecutionsByRun returns a run's executions oldest-first, so retries
// read in attempt order.
func (db *DB) ListExecutionsByRun(ctx context.Context, runID uuid.UUID) ([]model.Execution, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE run_id = $1
		 ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: list executions: %w", err)
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(row pgx.Row) (model.Execution, error) {
	var e model.Execution
	err := row.Scan(
		&e.ID, &e.RunID, &e.PlanID, &e.Engine, &e.Status, &e.Config, &e.Result,
		&e.Error, &e.Metadata, &e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}
