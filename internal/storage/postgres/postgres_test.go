package postgres_test

import (
	"context"
	"flag"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapeherd/scrapeherd/internal/model"
	"github.com/scrapeherd/scrapeherd/internal/storage"
	"github.com/scrapeherd/scrapeherd/internal/storage/postgres"
	"github.com/scrapeherd/scrapeherd/internal/testutil"
)

var testDB *postgres.DB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	code := m.Run()
	_ = testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

func requireDB(t *testing.T) *postgres.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres integration tests skipped in -short mode")
	}
	return testDB
}

func seedRun(t *testing.T, db *postgres.DB) model.Run {
	t.Helper()
	now := time.Now().UTC()
	run := model.Run{
		ID:        uuid.New(),
		Prompt:    "integration seed",
		Status:    model.RunStatusQueued,
		Phase:     model.PhasePlan,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.CreateRun(context.Background(), run))
	return run
}

func TestRunLifecycle(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	run := seedRun(t, db)

	got, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Prompt, got.Prompt)

	got.Status = model.RunStatusRunning
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, db.UpdateRun(ctx, got, model.RunStatusQueued))

	// Stale guard loses.
	got.Status = model.RunStatusCompleted
	err = db.UpdateRun(ctx, got, model.RunStatusQueued)
	require.ErrorIs(t, err, storage.ErrConflict)
}

func TestLogSequenceConstraint(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	run := seedRun(t, db)

	max, err := db.MaxRunLogSequence(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), max)

	log := model.RunLog{
		ID:        uuid.New(),
		RunID:     run.ID,
		Sequence:  0,
		Severity:  model.SeverityInfo,
		Message:   "first",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.InsertRunLog(ctx, log))

	dup := log
	dup.ID = uuid.New()
	err = db.InsertRunLog(ctx, dup)
	require.ErrorIs(t, err, storage.ErrSequenceConflict)

	logs, err := db.ListRunLogsAfter(ctx, run.ID, -1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "first", logs[0].Message)
}

func TestPlanUniquePerRun(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	run := seedRun(t, db)
	now := time.Now().UTC()

	plan := model.Plan{
		ID:        uuid.New(),
		RunID:     run.ID,
		Status:    model.PlanStatusPlanning,
		Prompt:    run.Prompt,
		Sample:    map[string]any{"rows": []any{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.CreatePlan(ctx, plan))

	got, err := db.GetPlanByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)
	assert.Equal(t, plan.Sample, got.Sample)

	second := plan
	second.ID = uuid.New()
	require.ErrorIs(t, db.CreatePlan(ctx, second), storage.ErrConflict, "run_id is unique across plans")
}

func TestExecutionLogsScopedPerExecution(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	run := seedRun(t, db)
	now := time.Now().UTC()

	mkExec := func() model.Execution {
		exec := model.Execution{
			ID: uuid.New(), RunID: run.ID, Engine: "stub",
			Status: model.ExecutionStatusQueued, CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, db.CreateExecution(ctx, exec))
		return exec
	}
	a, b := mkExec(), mkExec()

	for _, exec := range []model.Execution{a, b} {
		require.NoError(t, db.InsertExecutionLog(ctx, model.ExecutionLog{
			ID: uuid.New(), ExecutionID: exec.ID, RunID: run.ID,
			Sequence: 0, Severity: model.SeverityInfo, Message: "start", CreatedAt: now,
		}))
	}

	// Sequence 0 exists in both scopes without conflict.
	maxA, err := db.MaxExecutionLogSequence(ctx, a.ID)
	require.NoError(t, err)
	maxB, err := db.MaxExecutionLogSequence(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), maxA)
	assert.Equal(t, int64(0), maxB)
}
