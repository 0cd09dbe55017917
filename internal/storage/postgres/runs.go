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

// CreateRun inserts a new run.
func (db *DB) CreateRun(ctx context.Context, run model.Run) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO runs (id, prompt, status, phase, summary, error, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.Prompt, string(run.Status), string(run.Phase),
		run.Summary, run.Error, run.CreatedAt, run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.Run, error) {
	var run model.Run
	err := db.pool.QueryRow(ctx,
		`SELECT id, prompt, status, phase, summary, error, created_at, updated_at, completed_at
		 FROM runs WHERE id = $1`, id,
	).Scan(
		&run.ID, &run.Prompt, &run.Status, &run.Phase, &run.Summary,
		&run.Error, &run.CreatedAt, &run.UpdatedAt, &run.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, storage.ErrNotFound
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// UpdateRun writes the run's mutable fields guarded on the status the
// caller read. A zero rows-affected result means the run vanished or its
// status moved underneath the caller.
func (db *DB) UpdateRun(ctx context.Context, run model.Run, prevStatus model.RunStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, phase = $2, summary = $3, error = $4, updated_at = $5, completed_at = $6
		 WHERE id = $7 AND status = $8`,
		string(run.Status), string(run.Phase), run.Summary, run.Error,
		run.UpdatedAt, run.CompletedAt, run.ID, string(prevStatus),
	)
	if err != nil {
		return fmt.Errorf("storage: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetRun(ctx, run.ID); errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

// ListRuns returns runs newest-first with denormalized plan fields for
// display, capped at limit.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT r.id, r.prompt, r.status, r.phase, r.summary, r.error, r.created_at, r.updated_at, r.completed_at,
		        p.status, p.site, p.starting_url, p.objective
		 FROM runs r
		 LEFT JOIN plans p ON p.run_id = r.id
		 ORDER BY r.created_at DESC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		if err := rows.Scan(
			&r.ID, &r.Prompt, &r.Status, &r.Phase, &r.Summary, &r.Error,
			&r.CreatedAt, &r.UpdatedAt, &r.CompletedAt,
			&r.PlanStatus, &r.Site, &r.StartingURL, &r.Objective,
		); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
