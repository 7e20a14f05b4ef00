package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portcall/internal/domain"
)

var clock = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func requireRule(t *testing.T, err error, code string) {
	t.Helper()
	var rule *domain.RuleError
	require.True(t, errors.As(err, &rule), "expected rule error %s, got %v", code, err)
	require.Equal(t, code, rule.Code)
}

func newExecution(t *testing.T) *domain.VesselVisitExecution {
	t.Helper()
	code, err := domain.NewExecutionCode(2025, 1)
	require.NoError(t, err)
	exec, err := domain.NewExecution(domain.NewExecutionProps{
		ID:            "exec-1",
		Code:          code,
		VisitID:       "V1",
		VesselID:      "IMO9321483",
		ActualArrival: clock.Add(-2 * time.Hour),
		CreatedBy:     "officer",
	}, clock)
	require.NoError(t, err)
	return exec
}

func TestNewExecution(t *testing.T) {
	exec := newExecution(t)
	snap := exec.Snapshot()
	require.Equal(t, domain.ExecutionInProgress, snap.Status)
	require.Equal(t, "VVE2025000001", snap.Code)
	require.Empty(t, snap.ExecutedOperations)
	require.False(t, exec.AreAllExecutedOperationsCompleted())
}

func TestNewExecutionValidation(t *testing.T) {
	code, _ := domain.NewExecutionCode(2025, 1)
	_, err := domain.NewExecution(domain.NewExecutionProps{ID: "e", Code: code, VesselID: "v", ActualArrival: clock, CreatedBy: "u"}, clock)
	require.True(t, domain.IsFailure(err, domain.FailureInvalid))

	_, err = domain.NewExecution(domain.NewExecutionProps{
		ID: "e", Code: code, VisitID: "V1", VesselID: "v", ActualArrival: clock.Add(time.Minute), CreatedBy: "u",
	}, clock)
	requireRule(t, err, domain.CodeArrivalInFuture)
}

func TestUpdateBerthAndDock(t *testing.T) {
	exec := newExecution(t)
	_, err := exec.UpdateBerthAndDock(clock.Add(-3*time.Hour), "D1", "officer", "", clock)
	requireRule(t, err, domain.CodeBerthBeforeArrival)
	require.Nil(t, exec.Snapshot().ActualBerth)

	entry, err := exec.UpdateBerthAndDock(clock.Add(-time.Hour), "D1", "officer", "pilot late", clock)
	require.NoError(t, err)
	require.Equal(t, domain.ActionUpdateBerthDock, entry.Action)
	require.Equal(t, "", entry.Before["actual_dock_id"])
	require.Equal(t, "D1", entry.After["actual_dock_id"])
	require.Equal(t, "pilot late", exec.Snapshot().DockNote)
}

func TestUpdateExecutedOperationsInfersStatusAndUpserts(t *testing.T) {
	exec := newExecution(t)
	start := clock.Add(-time.Hour)
	end := clock.Add(-10 * time.Minute)

	_, err := exec.UpdateExecutedOperations(nil, "officer", clock)
	require.True(t, domain.IsFailure(err, domain.FailureInvalid))
	_, err = exec.UpdateExecutedOperations([]domain.ExecutedOperation{{ActualStart: &start}}, "officer", clock)
	require.True(t, domain.IsFailure(err, domain.FailureInvalid))

	entry, err := exec.UpdateExecutedOperations([]domain.ExecutedOperation{
		{PlannedOperationID: "op-1", ActualStart: &start},
		{PlannedOperationID: "op-2", ActualStart: &start, ActualEnd: &end},
	}, "officer", clock)
	require.NoError(t, err)
	require.Equal(t, domain.ActionUpdateExecutedOperations, entry.Action)
	ops := exec.Snapshot().ExecutedOperations
	require.Len(t, ops, 2)
	require.Equal(t, domain.OperationStarted, ops[0].Status)
	require.Equal(t, domain.OperationCompleted, ops[1].Status)
	require.False(t, exec.AreAllExecutedOperationsCompleted())

	_, err = exec.UpdateExecutedOperations([]domain.ExecutedOperation{{PlannedOperationID: "op-1", ActualStart: &start, ActualEnd: &end}}, "officer", clock)
	require.NoError(t, err)
	ops = exec.Snapshot().ExecutedOperations
	require.Len(t, ops, 2)
	require.Equal(t, "op-1", ops[0].PlannedOperationID)
	require.True(t, exec.AreAllExecutedOperationsCompleted())
}

func TestSetCompleted(t *testing.T) {
	exec := newExecution(t)
	_, err := exec.SetCompleted(clock, clock.Add(-time.Minute), "officer", clock)
	requireRule(t, err, domain.CodeLeaveBeforeUnberth)
	require.Equal(t, domain.ExecutionInProgress, exec.Status())

	entry, err := exec.SetCompleted(clock, clock, "officer", clock)
	require.NoError(t, err)
	require.Equal(t, domain.ActionSetCompleted, entry.Action)
	require.Equal(t, domain.ExecutionCompleted, exec.Status())

	_, err = exec.SetCompleted(clock, clock.Add(time.Hour), "officer", clock)
	requireRule(t, err, domain.CodeExecutionNotInProgress)
}

func TestCompletedExecutionRejectsUpdates(t *testing.T) {
	exec := newExecution(t)
	_, err := exec.SetCompleted(clock, clock.Add(time.Hour), "officer", clock)
	require.NoError(t, err)
	before := exec.Snapshot()

	_, err = exec.UpdateBerthAndDock(clock, "D2", "officer", "", clock)
	requireRule(t, err, domain.CodeExecutionNotInProgress)
	start := clock
	_, err = exec.UpdateExecutedOperations([]domain.ExecutedOperation{{PlannedOperationID: "op-1", ActualStart: &start}}, "officer", clock)
	requireRule(t, err, domain.CodeExecutionNotInProgress)
	require.Equal(t, before, exec.Snapshot())
}

func TestSnapshotIsDetached(t *testing.T) {
	exec := newExecution(t)
	start := clock.Add(-time.Hour)
	_, err := exec.UpdateExecutedOperations([]domain.ExecutedOperation{{PlannedOperationID: "op-1", ActualStart: &start}}, "officer", clock)
	require.NoError(t, err)

	snap := exec.Snapshot()
	snap.ExecutedOperations[0].Status = domain.OperationCompleted
	*snap.ExecutedOperations[0].ActualStart = clock
	require.Equal(t, domain.OperationStarted, exec.Snapshot().ExecutedOperations[0].Status)
	require.Equal(t, start, *exec.Snapshot().ExecutedOperations[0].ActualStart)
}
