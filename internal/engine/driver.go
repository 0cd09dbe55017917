package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scrapeherd/scrapeherd/internal/model"
	"github.com/scrapeherd/scrapeherd/internal/service/orch"
	"github.com/scrapeherd/scrapeherd/internal/storage"
)

// Orchestrator is the slice of orch.Service the driver needs.
type Orchestrator interface {
	GetRun(ctx context.Context, id uuid.UUID) (model.Run, error)
	TransitionRun(ctx context.Context, id uuid.UUID, t model.RunTransition) (model.Run, error)
	GetPlan(ctx context.Context, runID uuid.UUID) (model.Plan, error)
	CreatePlan(ctx context.Context, runID uuid.UUID, prompt string, recipeID *uuid.UUID) (model.Plan, error)
	UpdatePlan(ctx context.Context, runID uuid.UUID, u model.PlanUpdate) (model.Plan, error)
	UpdateStep(ctx context.Context, stepID uuid.UUID, u model.StepUpdate) (model.RunStep, error)
	ListSteps(ctx context.Context, runID uuid.UUID) ([]model.RunStep, error)
	AppendRunLog(ctx context.Context, runID uuid.UUID, stepID *uuid.UUID, severity model.Severity, message string, payload map[string]any) (model.RunLog, error)
	StartExecution(ctx context.Context, runID uuid.UUID, planID *uuid.UUID, engine string, config, metadata map[string]any) (model.Execution, error)
	UpdateExecution(ctx context.Context, id uuid.UUID, u model.ExecutionUpdate) (model.Execution, error)
	AppendExecutionLog(ctx context.Context, executionID, runID uuid.UUID, severity model.Severity, message string, payload map[string]any) (model.ExecutionLog, error)
}

// Driver walks runs through their phases as independent background
// tasks: plan → execute → store → finalizing. It delegates page
// retrieval to the Engine and all state mutation to the orchestrator, so
// every transition it makes is persisted and streamed like any other.
type Driver struct {
	orch   Orchestrator
	engine Engine
	logger *slog.Logger

	// launches tracks goroutines waiting for a slot in g, so Wait covers
	// runs that were launched but not yet admitted.
	launches sync.WaitGroup
	g        errgroup.Group
}

// errRunCancelled stops the phase walk when the run was cancelled out
// from under the driver. Not an error condition.
var errRunCancelled = errors.New("engine: run cancelled")

// NewDriver creates a Driver. maxConcurrent bounds how many runs execute
// at once; 0 means unlimited.
func NewDriver(o Orchestrator, e Engine, maxConcurrent int, logger *slog.Logger) *Driver {
	d := &Driver{orch: o, engine: e, logger: logger}
	if maxConcurrent > 0 {
		d.g.SetLimit(maxConcurrent)
	}
	return d
}

// Launch starts driving a run in the background. The call returns
// immediately even when the concurrency limit is reached; the run then
// stays queued until a slot frees. Failures are recorded on the run
// itself.
func (d *Driver) Launch(ctx context.Context, runID uuid.UUID) {
	d.launches.Add(1)
	go func() {
		defer d.launches.Done()
		// Go blocks while the group is at its limit. That wait happens
		// here, off the caller's goroutine, so run creation never stalls
		// behind a saturated pool.
		d.g.Go(func() error {
			if err := d.drive(ctx, runID); err != nil && !errors.Is(err, errRunCancelled) {
				d.logger.Error("run driver failed", "run_id", runID, "error", err)
				d.failRun(ctx, runID, err)
			}
			return nil
		})
	}()
}

// Wait blocks until all launched runs have finished driving. Called
// during shutdown after the inbound surface has stopped accepting work.
func (d *Driver) Wait() {
	d.launches.Wait()
	d.g.Wait() //nolint:errcheck // drive errors are handled per-run in Launch
}

func (d *Driver) drive(ctx context.Context, runID uuid.UUID) error {
	if _, err := d.orch.TransitionRun(ctx, runID, transitionStatus(model.RunStatusRunning)); err != nil {
		if errors.Is(err, orch.ErrInvalidTransition) {
			return errRunCancelled // already terminal, nothing to drive
		}
		return err
	}

	plan, err := d.ensurePlan(ctx, runID)
	if err != nil {
		return err
	}
	if err := d.checkCancelled(ctx, runID); err != nil {
		return err
	}

	phase := model.PhaseExecute
	if _, err := d.orch.TransitionRun(ctx, runID, model.RunTransition{Phase: &phase}); err != nil {
		return err
	}
	d.markStep(ctx, runID, model.StepStatusInProgress)

	exec, result, execErr := d.execute(ctx, runID, plan)
	if execErr != nil {
		d.markStep(ctx, runID, model.StepStatusError)
		return execErr
	}
	d.markStep(ctx, runID, model.StepStatusSuccess)

	if err := d.checkCancelled(ctx, runID); err != nil {
		return err
	}

	phase = model.PhaseStore
	if _, err := d.orch.TransitionRun(ctx, runID, model.RunTransition{Phase: &phase}); err != nil {
		return err
	}
	if _, err := d.orch.AppendRunLog(ctx, runID, nil, model.SeverityInfo, "storing extraction results",
		map[string]any{"execution_id": exec.ID.String()}); err != nil {
		return err
	}

	phase = model.PhaseFinalizing
	status := model.RunStatusCompleted
	_, err = d.orch.TransitionRun(ctx, runID, model.RunTransition{
		Phase:  &phase,
		Status: &status,
		Summary: map[string]any{
			"execution_id": exec.ID.String(),
			"engine":       exec.Engine,
			"meta":         result.Meta,
		},
	})
	if err != nil {
		return err
	}

	d.logger.Info("run completed", "run_id", runID, "execution_id", exec.ID)
	return nil
}

// ensurePlan attaches a plan when the planning collaborator has not.
// Without an external planner the driver records a minimal completed plan
// so the execute phase has something to hand the engine.
func (d *Driver) ensurePlan(ctx context.Context, runID uuid.UUID) (model.Plan, error) {
	plan, err := d.orch.GetPlan(ctx, runID)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.Plan{}, err
	}

	run, err := d.orch.GetRun(ctx, runID)
	if err != nil {
		return model.Plan{}, err
	}
	if _, err := d.orch.CreatePlan(ctx, runID, run.Prompt, nil); err != nil {
		return model.Plan{}, err
	}
	completed := model.PlanStatusCompleted
	plan, err = d.orch.UpdatePlan(ctx, runID, model.PlanUpdate{Status: &completed})
	if err != nil {
		return model.Plan{}, err
	}
	if _, err := d.orch.AppendRunLog(ctx, runID, nil, model.SeverityInfo, "plan attached", nil); err != nil {
		return model.Plan{}, err
	}
	return plan, nil
}

// execute runs one engine invocation, mirroring provider progress into
// the execution's log stream.
func (d *Driver) execute(ctx context.Context, runID uuid.UUID, plan model.Plan) (model.Execution, ExecResult, error) {
	exec, err := d.orch.StartExecution(ctx, runID, &plan.ID, d.engine.Name(), plan.Config, nil)
	if err != nil {
		return model.Execution{}, ExecResult{}, err
	}

	running := model.ExecutionStatusRunning
	if _, err := d.orch.UpdateExecution(ctx, exec.ID, model.ExecutionUpdate{Status: &running}); err != nil {
		return model.Execution{}, ExecResult{}, err
	}

	onProgress := func(p Progress) {
		if _, err := d.orch.AppendExecutionLog(ctx, exec.ID, runID, model.SeverityInfo, p.Message, p.Payload); err != nil {
			d.logger.Warn("failed to record engine progress", "execution_id", exec.ID, "error", err)
		}
	}

	result, engineErr := d.engine.Run(ctx, ExecRequest{
		Prompt:      plan.Prompt,
		Site:        plan.Site,
		StartingURL: plan.StartingURL,
		Schema:      plan.Schema,
		Pagination:  plan.Pagination,
		Config:      plan.Config,
	}, onProgress)
	if engineErr != nil {
		// The engine failed; record it on the execution, then reflect it
		// onto the run. No retries here — retry policy belongs to
		// whoever launches runs.
		failed := model.ExecutionStatusFailed
		msg := engineErr.Error()
		if _, err := d.orch.UpdateExecution(ctx, exec.ID, model.ExecutionUpdate{Status: &failed, Error: &msg}); err != nil {
			d.logger.Error("failed to record execution failure", "execution_id", exec.ID, "error", err)
		}
		return exec, ExecResult{}, fmt.Errorf("engine %s: %w", d.engine.Name(), engineErr)
	}

	completedStatus := model.ExecutionStatusCompleted
	exec, err = d.orch.UpdateExecution(ctx, exec.ID, model.ExecutionUpdate{
		Status: &completedStatus,
		Result: result.Data,
	})
	if err != nil {
		return model.Execution{}, ExecResult{}, err
	}
	return exec, result, nil
}

// checkCancelled stops the walk when the run reached a terminal status
// between stages. The driver never interrupts an in-flight engine call;
// it only refuses to start the next stage.
func (d *Driver) checkCancelled(ctx context.Context, runID uuid.UUID) error {
	run, err := d.orch.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		d.logger.Info("run reached terminal state, driver stopping", "run_id", runID, "status", run.Status)
		return errRunCancelled
	}
	return nil
}

// failRun best-effort marks a run failed at its current phase.
func (d *Driver) failRun(ctx context.Context, runID uuid.UUID, cause error) {
	status := model.RunStatusFailed
	msg := cause.Error()
	if _, err := d.orch.TransitionRun(ctx, runID, model.RunTransition{Status: &status, Error: &msg}); err != nil {
		if !errors.Is(err, orch.ErrInvalidTransition) {
			d.logger.Error("failed to mark run failed", "run_id", runID, "error", err)
		}
	}
	if _, err := d.orch.AppendRunLog(ctx, runID, nil, model.SeverityError, msg, nil); err != nil {
		d.logger.Warn("failed to append failure log", "run_id", runID, "error", err)
	}
}

// markStep best-effort moves the run's first non-terminal step along with
// the execute phase, so dashboards track progress without a planner.
func (d *Driver) markStep(ctx context.Context, runID uuid.UUID, status model.StepStatus) {
	steps, err := d.orch.ListSteps(ctx, runID)
	if err != nil || len(steps) == 0 {
		return
	}
	for _, step := range steps {
		if step.Status.Terminal() {
			continue
		}
		if _, err := d.orch.UpdateStep(ctx, step.ID, model.StepUpdate{Status: &status}); err != nil {
			d.logger.Debug("step update skipped", "step_id", step.ID, "error", err)
		}
		return
	}
}

func transitionStatus(s model.RunStatus) model.RunTransition {
	return model.RunTransition{Status: &s}
}
