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

// CreatePlan inserts the plan for a run. The unique run_id column enforces
// at most one plan per run; a second plan returns ErrConflict.
func (db *DB) CreatePlan(ctx context.Context, plan model.Plan) error {
	payloads, err := planPayloadArgs(plan)
	if err != nil {
		return err
	}
	_, err = db.db.ExecContext(ctx,
		`INSERT INTO plans (id, run_id, recipe_id, status, prompt, site, objective, base_url, starting_url,
		                    reasoning, sample, schema, pagination, config, meta, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID.String(), plan.RunID.String(), uuidArg(plan.RecipeID), string(plan.Status), plan.Prompt,
		plan.Site, plan.Objective, plan.BaseURL, plan.StartingURL, plan.Reasoning,
		payloads[0], payloads[1], payloads[2], payloads[3], payloads[4],
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
	row := db.db.QueryRowContext(ctx,
		`SELECT id, run_id, recipe_id, status, prompt, site, objective, base_url, starting_url,
		        reasoning, sample, schema, pagination, config, meta, error, created_at, updated_at
		 FROM plans WHERE run_id = ?`, runID.String())
	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Plan{}, storage.ErrNotFound
		}
		return model.Plan{}, fmt.Errorf("storage: get plan by run: %w", err)
	}
	return plan, nil
}

// UpdatePlan writes the plan's mutable fields.
func (db *DB) UpdatePlan(ctx context.Context, plan model.Plan) error {
	payloads, err := planPayloadArgs(plan)
	if err != nil {
		return err
	}
	res, err := db.db.ExecContext(ctx,
		`UPDATE plans SET status = ?, site = ?, objective = ?, base_url = ?, starting_url = ?,
		        reasoning = ?, sample = ?, schema = ?, pagination = ?, config = ?, meta = ?,
		        error = ?, updated_at = ?
		 WHERE id = ?`,
		string(plan.Status), plan.Site, plan.Objective, plan.BaseURL, plan.StartingURL,
		plan.Reasoning, payloads[0], payloads[1], payloads[2], payloads[3], payloads[4],
		plan.Error, plan.UpdatedAt, plan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("storage: update plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update plan rows: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// planPayloadArgs serializes the plan's five opaque payloads in column
// order: sample, schema, pagination, config, meta.
func planPayloadArgs(plan model.Plan) ([5]any, error) {
	var out [5]any
	for i, m := range []map[string]any{plan.Sample, plan.Schema, plan.Pagination, plan.Config, plan.Meta} {
		arg, err := jsonArg(m)
		if err != nil {
			return out, err
		}
		out[i] = arg
	}
	return out, nil
}

func scanPlan(row rowScanner) (model.Plan, error) {
	var (
		p          model.Plan
		id, runID  string
		recipeID   sql.NullString
		sample     sql.NullString
		schemaCol  sql.NullString
		pagination sql.NullString
		config     sql.NullString
		meta       sql.NullString
	)
	err := row.Scan(
		&id, &runID, &recipeID, &p.Status, &p.Prompt, &p.Site, &p.Objective,
		&p.BaseURL, &p.StartingURL, &p.Reasoning, &sample, &schemaCol,
		&pagination, &config, &meta, &p.Error, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return model.Plan{}, err
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return model.Plan{}, err
	}
	if p.RunID, err = uuid.Parse(runID); err != nil {
		return model.Plan{}, err
	}
	if p.RecipeID, err = uuidField(recipeID); err != nil {
		return model.Plan{}, err
	}
	for _, f := range []struct {
		raw  sql.NullString
		dest *map[string]any
	}{
		{sample, &p.Sample}, {schemaCol, &p.Schema}, {pagination, &p.Pagination},
		{config, &p.Config}, {meta, &p.Meta},
	} {
		if *f.dest, err = jsonField(f.raw); err != nil {
			return model.Plan{}, err
		}
	}
	return p, nil
}
