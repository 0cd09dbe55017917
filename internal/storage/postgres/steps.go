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

const stepColumns = `id, run_id, parent_step_id, identifier, label, status, position, context,
	started_at, completed_at, created_at, updated_at`

// InsertStep inserts a step. The (run_id, identifier) unique index rejects
// duplicate registrations; callers upsert by catching storage.ErrConflict
// and updating the existing row.
func (db *DB) InsertStep(ctx context.Context, step model.RunStep) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO run_steps (id, run_id, parent_step_id, identifier, label, status, position, context,
		                        started_at, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		step.ID, step.RunID, step.ParentStepID, step.Identifier, step.Label,
		string(step.Status), step.Position, step.Context,
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
	row := db.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE id = $1`, id)
	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunStep{}, storage.ErrNotFound
		}
		return model.RunStep{}, fmt.Errorf("storage: get step: %w", err)
	}
	return step, nil
}

// GetStepByIdentifier retrieves a step by its run-scoped identifier.
func (db *DB) GetStepByIdentifier(ctx context.Context, runID uuid.UUID, identifier string) (model.RunStep, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = $1 AND identifier = $2`,
		runID, identifier)
	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunStep{}, storage.ErrNotFound
		}
		return model.RunStep{}, fmt.Errorf("storage: get step by identifier: %w", err)
	}
	return step, nil
}

// UpdateStep writes the step's mutable fields guarded on the status the
// caller read.
func (db *DB) UpdateStep(ctx context.Context, step model.RunStep, prevStatus model.StepStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE run_steps SET label = $1, status = $2, position = $3, context = $4,
		        started_at = $5, completed_at = $6, updated_at = $7
		 WHERE id = $8 AND status = $9`,
		step.Label, string(step.Status), step.Position, step.Context,
		step.StartedAt, step.CompletedAt, step.UpdatedAt, step.ID, string(prevStatus),
	)
	if err != nil {
		return fmt.Errorf("storage: update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetStep(ctx, step.ID); errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

// ListSteps returns a run's steps ordered by position, then creation time
// for ties.
func (db *DB) ListSteps(ctx context.Context, runID uuid.UUID) ([]model.RunStep, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = $1
		 ORDER BY position ASC, created_at ASC`, runID)
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

func scanStep(row pgx.Row) (model.RunStep, error) {
	var s model.RunStep
	err := row.Scan(
		&s.ID, &s.RunID, &s.ParentStepID, &s.Identifier, &s.Label, &s.Status,
		&s.Position, &s.Context, &s.StartedAt, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}
