package sqlite

import (
	"context"

	"github.com/google/uuid"

	"github.com/scrapeherd/scrapeherd/internal/model"
	"github.com/scrapeherd/scrapeherd/internal/storage"
)

// GetRecipe always reports not-found: recipes are managed in the Postgres
// backend and the embedded store does not carry them.
func (db *DB) GetRecipe(_ context.Context, _ uuid.UUID) (model.Recipe, error) {
	return model.Recipe{}, storage.ErrNotFound
}

// ListRecipes returns an empty list; see GetRecipe.
func (db *DB) ListRecipes(_ context.Context) ([]model.Recipe, error) {
	return nil, nil
}
