package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portcall/internal/domain"
)

func planOp(id, visit string, startHour int) domain.Operation {
	start := time.Date(2025, 3, 10, startHour, 0, 0, 0, time.UTC)
	return domain.Operation{ID: id, VisitRef: visit, Dock: "D1", Crane: "CR" + id, Start: start, End: start.Add(time.Hour), CraneCountUsed: 1, TotalCranesOnDock: 2}
}

func newPlan(t *testing.T) *domain.OperationPlan {
	t.Helper()
	plan, err := domain.NewPlan(domain.PlanSnapshot{
		ID:        "plan-1",
		Algorithm: "greedy",
		PlanDate:  "2025-03-10",
		Author:    "planner",
		Operations: []domain.Operation{
			planOp("1", "V1", 8),
			planOp("2", "V2", 9),
			planOp("3", "V1", 10),
			planOp("4", "V3", 11),
		},
	}, clock)
	require.NoError(t, err)
	return plan
}

func ids(ops []domain.Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.ID)
	}
	return out
}

func TestNewPlanDefaults(t *testing.T) {
	plan := newPlan(t)
	require.Equal(t, domain.PlanGenerated, plan.Status())

	_, err := domain.NewPlan(domain.PlanSnapshot{ID: "p", Author: "a", PlanDate: "10/03/2025"}, clock)
	require.True(t, domain.IsFailure(err, domain.FailureInvalid))

	_, err = domain.NewPlan(domain.PlanSnapshot{
		ID: "p", Author: "a", PlanDate: "2025-03-10",
		Operations: []domain.Operation{planOp("1", "V1", 8), planOp("1", "V2", 9)},
	}, clock)
	require.True(t, domain.IsFailure(err, domain.FailureInvalid))
}

func TestUpdateForVisitReplacesOnlyThatVisit(t *testing.T) {
	plan := newPlan(t)
	approved := domain.PlanApproved
	replacement := planOp("5", "", 12)

	require.NoError(t, plan.UpdateForVisit("V1", []domain.Operation{replacement}, &approved, clock))
	require.Equal(t, []string{"5", "2", "4"}, ids(plan.Operations()))
	require.Equal(t, "V1", plan.OperationsFor("V1")[0].VisitRef)
	require.Equal(t, domain.PlanApproved, plan.Status())

	require.NoError(t, plan.UpdateForVisit("V9", []domain.Operation{planOp("6", "V9", 13)}, nil, clock))
	require.Equal(t, []string{"5", "2", "4", "6"}, ids(plan.Operations()))

	require.NoError(t, plan.UpdateForVisit("V2", nil, nil, clock))
	require.Equal(t, []string{"5", "4", "6"}, ids(plan.Operations()))
}

func TestUpdateForVisitFailureLeavesPlanUntouched(t *testing.T) {
	plan := newPlan(t)
	before := plan.Snapshot()

	bad := planOp("5", "V1", 12)
	bad.End = bad.Start
	require.True(t, domain.IsFailure(plan.UpdateForVisit("V1", []domain.Operation{bad}, nil, clock), domain.FailureInvalid))
	require.True(t, domain.IsFailure(plan.UpdateForVisit("V1", []domain.Operation{planOp("5", "V2", 12)}, nil, clock), domain.FailureInvalid))
	require.True(t, domain.IsFailure(plan.UpdateForVisit("", nil, nil, clock), domain.FailureInvalid))
	unknown := domain.PlanStatus("Archived")
	require.True(t, domain.IsFailure(plan.UpdateForVisit("V1", nil, &unknown, clock), domain.FailureInvalid))
	// id already used by another visit
	require.True(t, domain.IsFailure(plan.UpdateForVisit("V1", []domain.Operation{planOp("2", "V1", 12)}, nil, clock), domain.FailureInvalid))

	require.Equal(t, before, plan.Snapshot())
}

func TestMirrorExecutionIsIdempotent(t *testing.T) {
	plan := newPlan(t)
	start := clock.Add(-time.Hour)
	end := clock
	executed := []domain.ExecutedOperation{
		{PlannedOperationID: "1", ActualStart: &start, ActualEnd: &end, Status: domain.OperationCompleted},
		{PlannedOperationID: "unknown", ActualStart: &start, Status: domain.OperationStarted},
	}

	require.True(t, plan.MirrorExecution(executed, clock))
	op := plan.OperationsFor("V1")[0]
	require.Equal(t, domain.OperationCompleted, op.ExecutionStatus)
	require.Equal(t, end, *op.ActualEnd)

	before := plan.Snapshot()
	require.False(t, plan.MirrorExecution(executed, clock.Add(time.Hour)))
	require.Equal(t, before, plan.Snapshot())
}

func TestUpdateForVisitKeepsMirroredFacts(t *testing.T) {
	plan := newPlan(t)
	start := clock.Add(-time.Hour)
	end := clock
	require.True(t, plan.MirrorExecution([]domain.ExecutedOperation{
		{PlannedOperationID: "1", ActualStart: &start, ActualEnd: &end, Status: domain.OperationCompleted},
	}, clock))

	// the planner re-sends operation 1 moved to another crane, without execution fields
	moved := planOp("1", "V1", 8)
	moved.Crane = "CR9"
	require.NoError(t, plan.UpdateForVisit("V1", []domain.Operation{moved, planOp("5", "V1", 12)}, nil, clock))

	ops := plan.OperationsFor("V1")
	require.Equal(t, []string{"1", "5"}, ids(ops))
	require.Equal(t, "CR9", ops[0].Crane)
	require.Equal(t, domain.OperationCompleted, ops[0].ExecutionStatus)
	require.Equal(t, end, *ops[0].ActualEnd)
	require.Empty(t, ops[1].ExecutionStatus)
}

func TestOperationExecutionStatusIsValidated(t *testing.T) {
	plan := newPlan(t)
	before := plan.Snapshot()
	bogus := planOp("5", "V1", 12)
	bogus.ExecutionStatus = "bogus"
	require.True(t, domain.IsFailure(plan.UpdateForVisit("V1", []domain.Operation{bogus}, nil, clock), domain.FailureInvalid))
	require.Equal(t, before, plan.Snapshot())

	_, err := domain.NewPlan(domain.PlanSnapshot{
		ID: "p", Author: "a", PlanDate: "2025-03-10",
		Operations: []domain.Operation{bogus},
	}, clock)
	require.True(t, domain.IsFailure(err, domain.FailureInvalid))

	delayed := planOp("6", "V1", 13)
	delayed.ExecutionStatus = domain.OperationDelayed
	require.NoError(t, plan.UpdateForVisit("V1", []domain.Operation{delayed}, nil, clock))
}
