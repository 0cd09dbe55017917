package orch_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapeherd/scrapeherd/internal/bus"
	"github.com/scrapeherd/scrapeherd/internal/model"
	"github.com/scrapeherd/scrapeherd/internal/sequencer"
	"github.com/scrapeherd/scrapeherd/internal/service/orch"
	"github.com/scrapeherd/scrapeherd/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

// newService wires an orchestrator over a fresh in-memory store. The
// returned bus is the same instance the service publishes to.
func newService(t *testing.T) (*orch.Service, *bus.Bus) {
	t.Helper()
	store := testutil.NewSQLiteStore(t)
	logger := testutil.TestLogger()
	b := bus.New(logger)
	t.Cleanup(b.Close)
	return orch.New(store, sequencer.New(store, logger), b, logger), b
}

func recvEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bus event")
		return bus.Event{}
	}
}

// ---- CreateRun -----------------------------------------------------------

func TestCreateRunInitialState(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	run, steps, err := svc.CreateRun(ctx, "gather listings", []model.StepSpec{
		{Identifier: "plan", Label: "Plan"},
		{Identifier: "crawl", Label: "Crawl", ParentIdentifier: ptr("plan")},
	})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Equal(t, model.PhasePlan, run.Phase)
	require.Len(t, steps, 2)
	assert.Equal(t, model.StepStatusPending, steps[0].Status)
	assert.Equal(t, 0, steps[0].Position)
	assert.Equal(t, 1, steps[1].Position, "positions default to declaration order")
	require.NotNil(t, steps[1].ParentStepID)
	assert.Equal(t, steps[0].ID, *steps[1].ParentStepID)

	got, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
}

// ---- TransitionRun -------------------------------------------------------

func TestTransitionRunHappyPath(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	run, _, err := svc.CreateRun(ctx, "r", nil)
	require.NoError(t, err)

	run, err = svc.TransitionRun(ctx, run.ID, model.RunTransition{
		Status: ptr(model.RunStatusRunning),
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.Nil(t, run.CompletedAt)

	run, err = svc.TransitionRun(ctx, run.ID, model.RunTransition{
		Status:  ptr(model.RunStatusCompleted),
		Phase:   ptr(model.PhaseFinalizing),
		Summary: map[string]any{"items": float64(42)},
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, model.PhaseFinalizing, run.Phase)
	require.NotNil(t, run.CompletedAt, "terminal transition stamps completed_at")
}

func TestTransitionRunTerminalIdempotent(t *testing.T) {
	svc, b := newService(t)
	ctx := context.Background()
	run, _, err := svc.CreateRun(ctx, "r", nil)
	require.NoError(t, err)

	first, err := svc.TransitionRun(ctx, run.ID, model.RunTransition{Status: ptr(model.RunStatusCancelled)})
	require.NoError(t, err)

	ch, unsub := b.Subscribe(run.ID)
	defer unsub()

	// Repeating the identical terminal transition succeeds without
	// writing or publishing anything.
	again, err := svc.TransitionRun(ctx, run.ID, model.RunTransition{Status: ptr(model.RunStatusCancelled)})
	require.NoError(t, err)
	assert.Equal(t, first.Status, again.Status)
	assert.False(t, again.UpdatedAt.After(first.UpdatedAt), "no-op must not rewrite the run")
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %v for idempotent repeat", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransitionRunConflictingTerminalRejected(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	run, _, err := svc.CreateRun(ctx, "r", nil)
	require.NoError(t, err)

	_, err = svc.TransitionRun(ctx, run.ID, model.RunTransition{Status: ptr(model.RunStatusFailed)})
	require.NoError(t, err)

	_, err = svc.TransitionRun(ctx, run.ID, model.RunTransition{Status: ptr(model.RunStatusCompleted)})
	require.ErrorIs(t, err, orch.ErrInvalidTransition)

	// Resurrection is rejected too.
	_, err = svc.TransitionRun(ctx, run.ID, model.RunTransition{Status: ptr(model.RunStatusRunning)})
	require.ErrorIs(t, err, orch.ErrInvalidTransition)
}

func TestTransitionRunPhaseNeverMovesBack(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	run, _, err := svc.CreateRun(ctx, "r", nil)
	require.NoError(t, err)

	_, err = svc.TransitionRun(ctx, run.ID, model.RunTransition{Phase: ptr(model.PhaseStore)})
	require.NoError(t, err)

	_, err = svc.TransitionRun(ctx, run.ID, model.RunTransition{Phase: ptr(model.PhaseExecute)})
	require.ErrorIs(t, err, orch.ErrInvalidTransition)

	// Repeating the current phase is allowed.
	got, err := svc.TransitionRun(ctx, run.ID, model.RunTransition{Phase: ptr(model.PhaseStore)})
	require.NoError(t, err)
	assert.Equal(t, model.PhaseStore, got.Phase)
}

func TestTransitionRunUnknownValues(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	run, _, err := svc.CreateRun(ctx, "r", nil)
	require.NoError(t, err)

	_, err = svc.TransitionRun(ctx, run.ID, model.RunTransition{Status: ptr(model.RunStatus("paused"))})
	require.ErrorIs(t, err, orch.ErrInvalidTransition)

	_, err = svc.TransitionRun(ctx, run.ID, model.RunTransition{Phase: ptr(model.RunPhase("teardown"))})
	require.ErrorIs(t, err, orch.ErrInvalidTransition)
}

func TestTransitionRunPublishes(t *testing.T) {
	svc, b := newService(t)
	ctx := context.Background()
	run, _, err := svc.CreateRun(ctx, "r", nil)
	require.NoError(t, err)

	ch, unsub := b.Subscribe(run.ID)
	defer unsub()

	_, err = svc.TransitionRun(ctx, run.ID, model.RunTransition{Status: ptr(model.RunStatusRunning)})
	require.NoError(t, err)

	e := recvEvent(t, ch)
	assert.Equal(t, bus.EventRunUpdated, e.Type)
	payload, ok := e.Payload.(model.Run)
	require.True(t, ok, "payload carries the full run")
	assert.Equal(t, model.RunStatusRunning, payload.Status)
}

// ---- Steps ---------------------------------------------------------------

func TestUpsertStepUpdatesWithoutStatusReset(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	run, steps, err := svc.CreateRun(ctx, "r", []model.StepSpec{{Identifier: "crawl", Label: "Crawl"}})
	require.NoError(t, err)

	_, err = svc.UpdateStep(ctx, steps[0].ID, model.StepUpdate{Status: ptr(model.StepStatusInProgress)})
	require.NoError(t, err)

	// Re-registering the identifier changes the label, not the status.
	step, err := svc.UpsertStep(ctx, run.ID, model.StepSpec{Identifier: "crawl", Label: "Crawl pages", Position: ptr(3)})
	require.NoError(t, err)
	assert.Equal(t, "Crawl pages", step.Label)
	assert.Equal(t, 3, step.Position)
	assert.Equal(t, model.StepStatusInProgress, step.Status)
}

func TestUpdateStepLifecycle(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, steps, err := svc.CreateRun(ctx, "r", []model.StepSpec{{Identifier: "crawl"}})
	require.NoError(t, err)
	stepID := steps[0].ID

	step, err := svc.UpdateStep(ctx, stepID, model.StepUpdate{Status: ptr(model.StepStatusInProgress)})
	require.NoError(t, err)
	require.NotNil(t, step.StartedAt)
	assert.Nil(t, step.CompletedAt)

	step, err = svc.UpdateStep(ctx, stepID, model.StepUpdate{Status: ptr(model.StepStatusSuccess)})
	require.NoError(t, err)
	require.NotNil(t, step.CompletedAt)

	// Terminal steps never regress; identical repeats are no-ops.
	_, err = svc.UpdateStep(ctx, stepID, model.StepUpdate{Status: ptr(model.StepStatusInProgress)})
	require.ErrorIs(t, err, orch.ErrInvalidTransition)
	step, err = svc.UpdateStep(ctx, stepID, model.StepUpdate{Status: ptr(model.StepStatusSuccess)})
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusSuccess, step.Status)
}

// ---- Plans ---------------------------------------------------------------

func TestPlanLifecycle(t *testing.T) {
	svc, b := newService(t)
	ctx := context.Background()
	run, _, err := svc.CreateRun(ctx, "find all products", nil)
	require.NoError(t, err)

	ch, unsub := b.Subscribe(run.ID)
	defer unsub()

	plan, err := svc.CreatePlan(ctx, run.ID, run.Prompt, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PlanStatusPlanning, plan.Status)
	assert.Equal(t, bus.EventPlanUpdated, recvEvent(t, ch).Type)

	plan, err = svc.UpdatePlan(ctx, run.ID, model.PlanUpdate{
		Status:      ptr(model.PlanStatusCompleted),
		Site:        ptr("example.com"),
		StartingURL: ptr("https://example.com/products"),
		Schema:      map[string]any{"fields": []any{"name", "price"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PlanStatusCompleted, plan.Status)
	require.NotNil(t, plan.Site)
	assert.Equal(t, "example.com", *plan.Site)
	assert.Equal(t, bus.EventPlanUpdated, recvEvent(t, ch).Type)

	got, err := svc.GetPlan(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)

	detail, err := svc.GetRunDetail(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Plan)
	assert.Equal(t, plan.ID, detail.Plan.ID)
}

// ---- Logs ----------------------------------------------------------------

func TestAppendRunLogPublishesWithSequence(t *testing.T) {
	svc, b := newService(t)
	ctx := context.Background()
	run, _, err := svc.CreateRun(ctx, "r", nil)
	require.NoError(t, err)

	ch, unsub := b.Subscribe(run.ID)
	defer unsub()

	log0, err := svc.AppendRunLog(ctx, run.ID, nil, model.SeverityInfo, "starting", nil)
	require.NoError(t, err)
	log1, err := svc.AppendRunLog(ctx, run.ID, nil, "", "next", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(0), log0.Sequence)
	assert.Equal(t, int64(1), log1.Sequence)
	assert.Equal(t, model.SeverityInfo, log1.Severity)

	e := recvEvent(t, ch)
	assert.Equal(t, bus.EventLogAppended, e.Type)
	payload := e.Payload.(model.RunLog)
	assert.Equal(t, int64(0), payload.Sequence)

	logs, err := svc.ListRunLogsAfter(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "next", logs[0].Message)
}

func TestAppendRunLogUnknownRun(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.AppendRunLog(context.Background(), uuid.New(), nil, model.SeverityInfo, "m", nil)
	require.Error(t, err)
}

// ---- Executions ----------------------------------------------------------

func TestExecutionLifecycle(t *testing.T) {
	svc, b := newService(t)
	ctx := context.Background()
	run, _, err := svc.CreateRun(ctx, "r", nil)
	require.NoError(t, err)

	ch, unsub := b.Subscribe(run.ID)
	defer unsub()

	exec, err := svc.StartExecution(ctx, run.ID, nil, "crawler", map[string]any{"depth": float64(2)}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusQueued, exec.Status)
	assert.Equal(t, bus.EventExecutionCreated, recvEvent(t, ch).Type)

	exec, err = svc.UpdateExecution(ctx, exec.ID, model.ExecutionUpdate{Status: ptr(model.ExecutionStatusRunning)})
	require.NoError(t, err)
	require.NotNil(t, exec.StartedAt)
	assert.Equal(t, bus.EventExecutionUpdated, recvEvent(t, ch).Type)

	_, err = svc.AppendExecutionLog(ctx, exec.ID, run.ID, model.SeverityInfo, "fetched page 1", nil)
	require.NoError(t, err)
	assert.Equal(t, bus.EventExecutionLog, recvEvent(t, ch).Type)

	exec, err = svc.UpdateExecution(ctx, exec.ID, model.ExecutionUpdate{
		Status: ptr(model.ExecutionStatusCompleted),
		Result: map[string]any{"pages": float64(1)},
	})
	require.NoError(t, err)
	require.NotNil(t, exec.CompletedAt)

	// Terminal executions are frozen.
	_, err = svc.UpdateExecution(ctx, exec.ID, model.ExecutionUpdate{Status: ptr(model.ExecutionStatusRunning)})
	require.ErrorIs(t, err, orch.ErrInvalidTransition)

	detail, err := svc.GetExecutionDetail(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, detail.Logs, 1)
	assert.Equal(t, int64(0), detail.Logs[0].Sequence)

	details, err := svc.ListExecutionDetails(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, exec.ID, details[0].Execution.ID)
}
