package sequencer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapeherd/scrapeherd/internal/model"
	"github.com/scrapeherd/scrapeherd/internal/sequencer"
	"github.com/scrapeherd/scrapeherd/internal/storage"
	"github.com/scrapeherd/scrapeherd/internal/testutil"
)

func newRun(t *testing.T, store storage.Store) model.Run {
	t.Helper()
	now := time.Now().UTC()
	run := model.Run{
		ID:        uuid.New(),
		Prompt:    "test run",
		Status:    model.RunStatusQueued,
		Phase:     model.PhasePlan,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateRun(context.Background(), run))
	return run
}

func newExecution(t *testing.T, store storage.Store, runID uuid.UUID) model.Execution {
	t.Helper()
	now := time.Now().UTC()
	exec := model.Execution{
		ID:        uuid.New(),
		RunID:     runID,
		Engine:    "stub",
		Status:    model.ExecutionStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateExecution(context.Background(), exec))
	return exec
}

func TestAppendRunLogDenseSequences(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	seq := sequencer.New(store, testutil.TestLogger())
	run := newRun(t, store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		log, err := seq.AppendRunLog(ctx, model.RunLog{RunID: run.ID, Message: "entry"})
		require.NoError(t, err)
		assert.Equal(t, int64(i), log.Sequence)
		assert.NotEqual(t, uuid.Nil, log.ID)
		assert.Equal(t, model.SeverityInfo, log.Severity, "severity defaults to info")
	}

	logs, err := seq.ListRunLogsAfter(ctx, run.ID, -1)
	require.NoError(t, err)
	require.Len(t, logs, 5)
	for i, l := range logs {
		assert.Equal(t, int64(i), l.Sequence)
	}
}

func TestAppendRunLogScopesAreIndependent(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	seq := sequencer.New(store, testutil.TestLogger())
	runA := newRun(t, store)
	runB := newRun(t, store)
	ctx := context.Background()

	a0, err := seq.AppendRunLog(ctx, model.RunLog{RunID: runA.ID, Message: "a"})
	require.NoError(t, err)
	b0, err := seq.AppendRunLog(ctx, model.RunLog{RunID: runB.ID, Message: "b"})
	require.NoError(t, err)

	// Each run counts from zero regardless of the other's appends.
	assert.Equal(t, int64(0), a0.Sequence)
	assert.Equal(t, int64(0), b0.Sequence)
}

func TestAppendRunLogConcurrent(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	seq := sequencer.New(store, testutil.TestLogger())
	run := newRun(t, store)
	ctx := context.Background()

	// Each conflict means a competitor inserted successfully, so an
	// appender can lose at most n-1 races; n stays within the retry budget.
	const n = 8
	var wg sync.WaitGroup
	seqs := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log, err := seq.AppendRunLog(ctx, model.RunLog{RunID: run.ID, Message: "concurrent"})
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			seqs <- log.Sequence
		}()
	}
	wg.Wait()
	close(seqs)

	// Every sequence 0..n-1 assigned exactly once.
	seen := make(map[int64]bool, n)
	for s := range seqs {
		assert.False(t, seen[s], "duplicate sequence %d", s)
		seen[s] = true
	}
	require.Len(t, seen, n)
	for i := int64(0); i < n; i++ {
		assert.True(t, seen[i], "missing sequence %d", i)
	}
}

func TestAppendExecutionLogDenseSequences(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	seq := sequencer.New(store, testutil.TestLogger())
	run := newRun(t, store)
	exec := newExecution(t, store, run.ID)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		log, err := seq.AppendExecutionLog(ctx, model.ExecutionLog{
			ExecutionID: exec.ID,
			RunID:       run.ID,
			Message:     "progress",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), log.Sequence)
	}

	logs, err := seq.ListExecutionLogsAfter(ctx, exec.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2, "after=0 skips sequence 0")
	assert.Equal(t, int64(1), logs[0].Sequence)
}
