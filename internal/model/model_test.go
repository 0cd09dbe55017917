package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapeherd/scrapeherd/internal/model"
)

// ptr is a convenience helper for pointer literals in test cases.
func ptr[T any](v T) *T { return &v }

// ---- RunStatus / RunPhase ------------------------------------------------

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, model.RunStatusQueued.Terminal())
	assert.False(t, model.RunStatusRunning.Terminal())
	assert.True(t, model.RunStatusCompleted.Terminal())
	assert.True(t, model.RunStatusFailed.Terminal())
	assert.True(t, model.RunStatusCancelled.Terminal())
}

func TestRunStatusValid(t *testing.T) {
	assert.True(t, model.RunStatusQueued.Valid())
	assert.False(t, model.RunStatus("paused").Valid())
	assert.False(t, model.RunStatus("").Valid())
}

func TestRunPhaseOrdering(t *testing.T) {
	assert.True(t, model.PhasePlan.Before(model.PhaseExecute))
	assert.True(t, model.PhaseExecute.Before(model.PhaseStore))
	assert.True(t, model.PhaseStore.Before(model.PhaseFinalizing))
	assert.False(t, model.PhaseFinalizing.Before(model.PhasePlan))
	assert.False(t, model.PhaseExecute.Before(model.PhaseExecute))
}

func TestRunPhaseValid(t *testing.T) {
	assert.True(t, model.PhasePlan.Valid())
	assert.False(t, model.RunPhase("teardown").Valid())
}

// ---- ExecutionStatus -----------------------------------------------------

func TestExecutionStatusCanTransitionTo(t *testing.T) {
	// Forward moves.
	assert.True(t, model.ExecutionStatusQueued.CanTransitionTo(model.ExecutionStatusRunning))
	assert.True(t, model.ExecutionStatusQueued.CanTransitionTo(model.ExecutionStatusFailed))
	assert.True(t, model.ExecutionStatusRunning.CanTransitionTo(model.ExecutionStatusCompleted))
	assert.True(t, model.ExecutionStatusRunning.CanTransitionTo(model.ExecutionStatusCancelled))

	// Repeating the current status is idempotent.
	assert.True(t, model.ExecutionStatusRunning.CanTransitionTo(model.ExecutionStatusRunning))
	assert.True(t, model.ExecutionStatusCompleted.CanTransitionTo(model.ExecutionStatusCompleted))

	// Terminal states never move anywhere else.
	assert.False(t, model.ExecutionStatusCompleted.CanTransitionTo(model.ExecutionStatusRunning))
	assert.False(t, model.ExecutionStatusFailed.CanTransitionTo(model.ExecutionStatusCompleted))
	assert.False(t, model.ExecutionStatusCancelled.CanTransitionTo(model.ExecutionStatusQueued))

	// Skipping backwards from running.
	assert.False(t, model.ExecutionStatusRunning.CanTransitionTo(model.ExecutionStatusQueued))
}

// ---- CreateRunRequest ----------------------------------------------------

func TestCreateRunRequestValidate_HappyPath(t *testing.T) {
	req := model.CreateRunRequest{
		Prompt: "collect product listings",
		Steps: []model.StepSpec{
			{Identifier: "plan", Label: "Plan"},
			{Identifier: "crawl", Label: "Crawl", ParentIdentifier: ptr("plan")},
		},
	}
	assert.NoError(t, req.Validate())
}

func TestCreateRunRequestValidate_EmptyPrompt(t *testing.T) {
	err := model.CreateRunRequest{Prompt: "   "}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt")
}

func TestCreateRunRequestValidate_PromptOverMax(t *testing.T) {
	err := model.CreateRunRequest{Prompt: strings.Repeat("x", model.MaxPromptLen+1)}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt")
}

func TestCreateRunRequestValidate_DuplicateStepIdentifier(t *testing.T) {
	req := model.CreateRunRequest{
		Prompt: "ok",
		Steps: []model.StepSpec{
			{Identifier: "crawl"},
			{Identifier: "crawl"},
		},
	}
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestCreateRunRequestValidate_StepIdentifierMissing(t *testing.T) {
	req := model.CreateRunRequest{
		Prompt: "ok",
		Steps:  []model.StepSpec{{Label: "no identifier"}},
	}
	require.Error(t, req.Validate())
}

// ---- AppendLogRequest ----------------------------------------------------

func TestAppendLogRequestValidate(t *testing.T) {
	assert.NoError(t, model.AppendLogRequest{Message: "hello"}.Validate())
	assert.NoError(t, model.AppendLogRequest{Message: "hello", Severity: model.SeverityWarning}.Validate())

	require.Error(t, model.AppendLogRequest{}.Validate())
	require.Error(t, model.AppendLogRequest{Message: strings.Repeat("x", model.MaxLogMessageLen+1)}.Validate())

	err := model.AppendLogRequest{Message: "m", Severity: "verbose"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "severity")
}
