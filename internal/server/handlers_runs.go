package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/scrapeherd/scrapeherd/internal/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// HandleCreateRun handles POST /v1/runs. The run is created queued and
// handed to the background driver; the response never waits for the run
// to make progress.
func (h *Handlers) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	run, steps, err := h.orch.CreateRun(r.Context(), req.Prompt, req.Steps)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if h.launcher != nil {
		// The walk outlives this request; detach from its cancellation.
		h.launcher.Launch(context.WithoutCancel(r.Context()), run.ID)
	}

	writeJSON(w, http.StatusCreated, struct {
		Run   model.Run       `json:"run"`
		Steps []model.RunStep `json:"steps"`
	}{Run: run, Steps: steps})
}

// HandleListRuns handles GET /v1/runs.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := h.orch.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Runs []model.RunSummary `json:"runs"`
	}{Runs: runs})
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}
	detail, err := h.orch.GetRunDetail(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleRunLogs handles GET /v1/runs/{run_id}/logs. The after parameter
// is the last sequence the caller has seen; the response carries every
// log with a greater sequence, ascending.
func (h *Handlers) HandleRunLogs(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	after := int64(-1)
	if raw := r.URL.Query().Get("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "after must be an integer")
			return
		}
		after = n
	}

	logs, err := h.orch.ListRunLogsAfter(r.Context(), runID, after)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Logs []model.RunLog `json:"logs"`
	}{Logs: logs})
}

// HandleAppendRunLog handles POST /v1/runs/{run_id}/logs.
func (h *Handlers) HandleAppendRunLog(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	var req model.AppendLogRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var stepID *uuid.UUID
	if req.StepID != nil {
		id, err := uuid.Parse(*req.StepID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid step_id")
			return
		}
		stepID = &id
	}

	log, err := h.orch.AppendRunLog(r.Context(), runID, stepID, req.Severity, req.Message, req.Payload)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, log)
}

// HandleCancelRun handles POST /v1/runs/{run_id}/cancel. Cancelling an
// already cancelled run succeeds without changing it; cancelling a run
// that completed or failed is rejected.
func (h *Handlers) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	cancelled := model.RunStatusCancelled
	run, err := h.orch.TransitionRun(r.Context(), runID, model.RunTransition{Status: &cancelled})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandleUpdatePlan handles POST /v1/runs/{run_id}/plan, the update
// contract used by the planning collaborator.
func (h *Handlers) HandleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	var u model.PlanUpdate
	if err := decodeJSON(w, r, &u, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if u.Status != nil && !u.Status.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown plan status")
		return
	}

	plan, err := h.orch.UpdatePlan(r.Context(), runID, u)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}
