package server

import (
	"net/http"

	"github.com/scrapeherd/scrapeherd/internal/model"
)

// HandleListRunExecutions handles GET /v1/runs/{run_id}/executions.
func (h *Handlers) HandleListRunExecutions(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	// 404 for an unknown run rather than an empty list.
	if _, err := h.orch.GetRun(r.Context(), runID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	details, err := h.orch.ListExecutionDetails(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Executions []model.ExecutionDetail `json:"executions"`
	}{Executions: details})
}

// HandleGetExecution handles GET /v1/executions/{execution_id}.
func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID, ok := pathUUID(w, r, "execution_id")
	if !ok {
		return
	}

	detail, err := h.orch.GetExecutionDetail(r.Context(), executionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleListRecipes handles GET /v1/recipes.
func (h *Handlers) HandleListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := h.store.ListRecipes(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if recipes == nil {
		recipes = []model.Recipe{}
	}
	writeJSON(w, http.StatusOK, struct {
		Recipes []model.Recipe `json:"recipes"`
	}{Recipes: recipes})
}

// HandleGetRecipe handles GET /v1/recipes/{recipe_id}.
func (h *Handlers) HandleGetRecipe(w http.ResponseWriter, r *http.Request) {
	recipeID, ok := pathUUID(w, r, "recipe_id")
	if !ok {
		return
	}

	recipe, err := h.store.GetRecipe(r.Context(), recipeID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}
