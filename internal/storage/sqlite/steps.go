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

const stepColumns = `id, run_id, parent_step_id, identifier, label, status, position, context,
	started_at, completed_at, created_at, updated_at`

// InsertStep inserts a step; a duplicate (run_id, identifier) surfaces as
// storage.ErrConflict so callers can fall back to updating the existing row.
func (db *DB) InsertStep(ctx context.Context, step model.RunStep) error {
	contextArg, err := jsonArg(step.Context)
	if err != nil {
		return err
	}
	_, err = db.db.ExecContext(ctx,
		`INSERT INTO run_steps (id, run_id, parent_step_id, identifier, label, status, position, context,
		                        started_at, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID.String(), step.RunID.String(), uuidArg(step.ParentStepID),
		step.Identifier, step.Label, string(step.Status), step.Position, contextArg,
		step.StartedAt, step.CompletedAt, step.CreatedAt, step.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("storage: insert step: %w", err)
	}
	return nil
}

// GetStep retrieves a step by ID.
func (db *DB) GetStep(ctx context.Context, id uuid.UUID) (model.RunStep, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE id = ?`, id.String())
	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunStep{}, storage.ErrNotFound
		}
		return model.RunStep{}, fmt.Errorf("storage: get step: %w", err)
	}
	return step, nil
}

// GetStepByIdentifier retrieves a step by its run-scoped identifier.
func (db *DB) GetStepByIdentifier(ctx context.Context, runID uuid.UUID, identifier string) (model.RunStep, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = ? AND identifier = ?`,
		runID.String(), identifier)
	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunStep{}, storage.ErrNotFound
		}
		return model.RunStep{}, fmt.Errorf("storage: get step by identifier: %w", err)
	}
	return step, nil
}

// UpdateStep writes the step's mutable fields guarded on the status the
// caller read.
func (db *DB) UpdateStep(ctx context.Context, step model.RunStep, prevStatus model.StepStatus) error {
	contextArg, err := jsonArg(step.Context)
	if err != nil {
		return err
	}
	res, err := db.db.ExecContext(ctx,
		`UPDATE run_steps SET label = ?, status = ?, position = ?, context = ?,
		        started_at = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		step.Label, string(step.Status), step.Position, contextArg,
		step.StartedAt, step.CompletedAt, step.UpdatedAt, step.ID.String(), string(prevStatus),
	)
	if err != nil {
		return fmt.Errorf("storage: update step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update step rows: %w", err)
	}
	if n == 0 {
		if _, err := db.GetStep(ctx, step.ID); errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

// ListSteps returns a run's steps ordered by position, then creation time.
func (db *DB) ListSteps(ctx context.Context, runID uuid.UUID) ([]model.RunStep, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = ?
		 ORDER BY position ASC, created_at ASC`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: list steps: %w", err)
	}
	defer rows.Close()

	var steps []model.RunStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func scanStep(row rowScanner) (model.RunStep, error) {
	var (
		s          model.RunStep
		id, runID  string
		parentID   sql.NullString
		contextCol sql.NullString
	)
	err := row.Scan(
		&id, &runID, &parentID, &s.Identifier, &s.Label, &s.Status,
		&s.Position, &contextCol, &s.StartedAt, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return model.RunStep{}, err
	}
	if s.ID, err = uuid.Parse(id); err != nil {
		return model.RunStep{}, err
	}
	if s.RunID, err = uuid.Parse(runID); err != nil {
		return model.RunStep{}, err
	}
	if s.ParentStepID, err = uuidField(parentID); err != nil {
		return model.RunStep{}, err
	}
	if s.Context, err = jsonField(contextCol); err != nil {
		return model.RunStep{}, err
	}
	return s, nil
}
