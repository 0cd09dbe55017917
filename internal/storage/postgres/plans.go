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

// CreatePlan inserts the plan for a run. The unique index on run_id
// enforces at most one plan per run; a second plan returns ErrConflict.
func (db *DB) CreatePlan(ctx context.Context, plan model.Plan) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO plans (id, run_id, recipe_id, status, prompt, site, objective, base_url, starting_url,
		                    reasoning, sample, schema, pagination, config, meta, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		plan.ID, plan.RunID, plan.RecipeID, string(plan.Status), plan.Prompt,
		plan.Site, plan.Objective, plan.BaseURL, plan.StartingURL, plan.Reasoning,
		plan.Sample, plan.Schema, plan.Pagination, plan.Config, plan.Meta,
		plan.Error, plan.CreatedAt, plan.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("storage: create plan: %w", err)
	}
	return nil
}

// GetPlanByRun retrieves the plan attached to a run.
func (db *DB) GetPlanByRun(ctx context.Context, runID uuid.UUID) (model.Plan, error) {
	var p model.Plan
	err := db.pool.QueryRow(ctx,
		`SELECT id, run_id, recipe_id, status, prompt, site, objective, base_url, starting_url,
		        reasoning, sample, schema, pagination, config, meta, error, created_at, updated_at
		 FROM plans WHERE run_id = $1`, runID,
	).Scan(
		&p.ID, &p.RunID, &p.RecipeID, &p.Status, &p.Prompt, &p.Site, &p.Objective,
		&p.BaseURL, &p.StartingURL, &p.Reasoning, &p.Sample, &p.Schema,
		&p.Pagination, &p.Config, &p.Meta, &p.Error, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Plan{}, storage.ErrNotFound
		}
		return model.Plan{}, fmt.Errorf("storage: get plan by run: %w", err)
	}
	return p, nil
}

// UpdatePlan writes the plan's mutable fields.
func (db *DB) UpdatePlan(ctx context.Context, plan model.Plan) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE plans SET status = $1, site = $2, objective = $3, base_url = $4, starting_url = $5,
		        reasoning = $6, sample = $7, schema = $8, pagination = $9, config = $10, meta = $11,
		        error = $12, updated_at = $13
		 WHERE id = $14`,
		string(plan.Status), plan.Site, plan.Objective, plan.BaseURL, plan.StartingURL,
		plan.Reasoning, plan.Sample, plan.Schema, plan.Pagination, plan.Config, plan.Meta,
		plan.Error, plan.UpdatedAt, plan.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
