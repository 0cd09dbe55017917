package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/scrapeherd/scrapeherd/internal/model"
	"github.com/scrapeherd/scrapeherd/internal/storage"
)

const executionColumns = `id, run_id, plan_id, engine, status, config, result, error, metadata,
	started_at, completed_at, created_at, updated_at`

// CreateExecution inserts a new execution.
func (db *DB) CreateExecution(ctx context.Context, exec model.Execution) error {
	payloads, err := executionPayloadArgs(exec)
	if err != nil {
		return err
	}
	_, err = db.db.ExecContext(ctx,
		`INSERT INTO executions (id, run_id, plan_id, engine, status, config, result, error, metadata,
		                         started_at, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID.String(), exec.RunID.String(), uuidArg(exec.PlanID), exec.Engine, string(exec.Status),
		payloads[0], payloads[1], exec.Error, payloads[2],
		exec.StartedAt, exec.CompletedAt, exec.CreatedAt, exec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (db *DB) GetExecution(ctx context.Context, id uuid.UUID) (model.Execution, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id.String())
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Execution{}, storage.ErrNotFound
		}
		return model.Execution{}, fmt.Errorf("storage: get execution: %w", err)
	}
	return exec, nil
}

// UpdateExecution writes the execution's mutable fields guarded on the
// status the caller read.
func (db *DB) UpdateExecution(ctx context.Context, exec model.Execution, prevStatus model.ExecutionStatus) error {
	payloads, err := executionPayloadArgs(exec)
	if err != nil {
		return err
	}
	res, err := db.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, config = ?, result = ?, error = ?, metadata = ?,
		        started_at = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(exec.Status), payloads[0], payloads[1], exec.Error, payloads[2],
		exec.StartedAt, exec.CompletedAt, exec.UpdatedAt, exec.ID.String(), string(prevStatus),
	)
	if err != nil {
		return fmt.Errorf("storage: update execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update execution rows: %w", err)
	}
	if n == 0 {
		if _, err := db.GetExecution(ctx, exec.ID); errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

// ListExecutionsByRun returns a run's executions oldest-first.
func (db *DB) ListExecutionsByRun(ctx context.Context, runID uuid.UUID) ([]model.Execution, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE run_id = ?
		 ORDER BY created_at ASC`, runID.String())
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

// executionPayloadArgs serializes the execution's opaque payloads in
// column order: config, result, metadata.
func executionPayloadArgs(exec model.Execution) ([3]any, error) {
	var out [3]any
	for i, m := range []map[string]any{exec.Config, exec.Result, exec.Metadata} {
		arg, err := jsonArg(m)
		if err != nil {
			return out, err
		}
		out[i] = arg
	}
	return out, nil
}

func scanExecution(row rowScanner) (model.Execution, error) {
	var (
		e         model.Execution
		id, runID string
		planID    sql.NullString
		config    sql.NullString
		result    sql.NullString
		metadata  sql.NullString
	)
	err := row.Scan(
		&id, &runID, &planID, &e.Engine, &e.Status, &config, &result,
		&e.Error, &metadata, &e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return model.Execution{}, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return model.Execution{}, err
	}
	if e.RunID, err = uuid.Parse(runID); err != nil {
		return model.Execution{}, err
	}
	if e.PlanID, err = uuidField(planID); err != nil {
		return model.Execution{}, err
	}
	if e.Config, err = jsonField(config); err != nil {
		return model.Execution{}, err
	}
	if e.Result, err = jsonField(result); err != nil {
		return model.Execution{}, err
	}
	if e.Metadata, err = jsonField(metadata); err != nil {
		return model.Execution{}, err
	}
	return e, nil
}
