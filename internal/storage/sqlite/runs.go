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

// CreateRun inserts a new run.
func (db *DB) CreateRun(ctx context.Context, run model.Run) error {
	summary, err := jsonArg(run.Summary)
	if err != nil {
		return err
	}
	_, err = db.db.ExecContext(ctx,
		`INSERT INTO runs (id, prompt, status, phase, summary, error, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.Prompt, string(run.Status), string(run.Phase),
		summary, run.Error, run.CreatedAt, run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.Run, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT id, prompt, status, phase, summary, error, created_at, updated_at, completed_at
		 FROM runs WHERE id = ?`, id.String())
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Run{}, storage.ErrNotFound
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// UpdateRun writes the run's mutable fields guarded on the status the
// caller read.
func (db *DB) UpdateRun(ctx context.Context, run model.Run, prevStatus model.RunStatus) error {
	summary, err := jsonArg(run.Summary)
	if err != nil {
		return err
	}
	res, err := db.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, phase = ?, summary = ?, error = ?, updated_at = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(run.Status), string(run.Phase), summary, run.Error,
		run.UpdatedAt, run.CompletedAt, run.ID.String(), string(prevStatus),
	)
	if err != nil {
		return fmt.Errorf("storage: update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update run rows: %w", err)
	}
	if n == 0 {
		if _, err := db.GetRun(ctx, run.ID); errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

// ListRuns returns runs newest-first with denormalized plan fields, capped
// at limit.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.QueryContext(ctx,
		`SELECT r.id, r.prompt, r.status, r.phase, r.summary, r.error, r.created_at, r.updated_at, r.completed_at,
		        p.status, p.site, p.starting_url, p.objective
		 FROM runs r
		 LEFT JOIN plans p ON p.run_id = r.id
		 ORDER BY r.created_at DESC
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var (
			r          model.RunSummary
			id         string
			summary    sql.NullString
			planStatus sql.NullString
		)
		if err := rows.Scan(
			&id, &r.Prompt, &r.Status, &r.Phase, &summary, &r.Error,
			&r.CreatedAt, &r.UpdatedAt, &r.CompletedAt,
			&planStatus, &r.Site, &r.StartingURL, &r.Objective,
		); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("storage: parse run id: %w", err)
		}
		if r.Summary, err = jsonField(summary); err != nil {
			return nil, err
		}
		if planStatus.Valid {
			ps := model.PlanStatus(planStatus.String)
			r.PlanStatus = &ps
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (model.Run, error) {
	var (
		run     model.Run
		id      string
		summary sql.NullString
	)
	err := row.Scan(
		&id, &run.Prompt, &run.Status, &run.Phase, &summary,
		&run.Error, &run.CreatedAt, &run.UpdatedAt, &run.CompletedAt,
	)
	if err != nil {
		return model.Run{}, err
	}
	if run.ID, err = uuid.Parse(id); err != nil {
		return model.Run{}, err
	}
	if run.Summary, err = jsonField(summary); err != nil {
		return model.Run{}, err
	}
	return run, nil
}
