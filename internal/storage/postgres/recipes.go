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

// GetRecipe retrieves a recipe by ID.
func (db *DB) GetRecipe(ctx context.Context, id uuid.UUID) (model.Recipe, error) {
	var rec model.Recipe
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, site, description, config, created_at, updated_at
		 FROM recipes WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Name, &rec.Site, &rec.Description, &rec.Config, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Recipe{}, storage.ErrNotFound
		}
		return model.Recipe{}, fmt.Errorf("storage: get recipe: %w", err)
	}
	return rec, nil
}

// ListRecipes returns all recipes ordered by name.
func (db *DB) ListRecipes(ctx context.Context) ([]model.Recipe, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, site, description, config, created_at, updated_at
		 FROM recipes ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list recipes: %w", err)
	}
	defer rows.Close()

	var recipes []model.Recipe
	for rows.Next() {
		var rec model.Recipe
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Site, &rec.Description,
			&rec.Config, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan recipe: %w", err)
		}
		recipes = append(recipes, rec)
	}
	return recipes, rows.Err()
}
