package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portcall/internal/domain"
	"portcall/internal/engine"
	"portcall/internal/events"
	"portcall/internal/repo"
)

func hour(h, m int) time.Time {
	return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC)
}

func importPlan(t *testing.T, env *testEnv) domain.PlanSnapshot {
	t.Helper()
	plan, err := env.Engine.ImportPlan(env.Ctx, domain.PlanSnapshot{
		ID:        "plan-1",
		Algorithm: "genetic",
		PlanDate:  "2025-03-10",
		Author:    "scheduler",
		Operations: []domain.Operation{
			{ID: "op-1", VisitRef: "V1", Dock: "D1", Crane: "CR2", CraneCountUsed: 1, TotalCranesOnDock: 2, Start: hour(8, 0), End: hour(9, 0)},
			{ID: "op-2", VisitRef: "V2", Dock: "D2", Crane: "CR1", CraneCountUsed: 1, TotalCranesOnDock: 2, Start: hour(10, 45), End: hour(11, 15), Staff: []string{"S1"}},
		},
	})
	require.NoError(t, err)
	return plan
}

func TestImportPlan(t *testing.T) {
	env := newTestEnv(t)
	plan := importPlan(t, env)
	require.Equal(t, 1, plan.Version)
	require.Equal(t, domain.PlanGenerated, plan.Status)

	generated, err := env.Engine.ImportPlan(env.Ctx, domain.PlanSnapshot{
		PlanDate:   "2025-03-11",
		Author:     "scheduler",
		Operations: []domain.Operation{{VisitRef: "V1", Dock: "D1", Start: hour(8, 0), End: hour(9, 0)}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, generated.ID)
	require.NotEmpty(t, generated.Operations[0].ID)

	_, err = env.Engine.ImportPlan(env.Ctx, domain.PlanSnapshot{ID: "plan-1", PlanDate: "2025-03-10", Author: "scheduler"})
	requireFailure(t, err, domain.FailureDuplicate)

	plans, err := env.Engine.ListPlans(env.Ctx, "2025-03-10", 0)
	require.NoError(t, err)
	require.Len(t, plans, 1)
}

func TestReviseRequiresReasonBeforeLoading(t *testing.T) {
	env := newTestEnv(t)
	// the plan does not exist; the reason check must fire first
	_, err := env.Engine.ReviseForVisit(env.Ctx, engine.ReviseOptions{PlanID: "missing", VisitRef: "V1", Reason: "  ", Author: "planner"})
	requireFailure(t, err, domain.FailureInvalid)

	_, err = env.Engine.ReviseForVisit(env.Ctx, engine.ReviseOptions{PlanID: "missing", VisitRef: "V1", Reason: "berth swap", Author: "planner"})
	requireFailure(t, err, domain.FailureNotFound)
}

func TestReviseBlockedByCraneOverlapLeavesPlanUnchanged(t *testing.T) {
	env := newTestEnv(t)
	importPlan(t, env)

	_, err := env.Engine.ReviseForVisit(env.Ctx, engine.ReviseOptions{
		PlanID:   "plan-1",
		VisitRef: "V1",
		Reason:   "crane breakdown on CR2",
		Author:   "planner",
		Operations: []domain.Operation{
			{Dock: "D1", Crane: "CR1", CraneCountUsed: 1, TotalCranesOnDock: 2, Start: hour(10, 0), End: hour(11, 0)},
			{Dock: "D1", Crane: "CR1", CraneCountUsed: 1, TotalCranesOnDock: 2, Start: hour(10, 30), End: hour(11, 30)},
		},
	})
	f := requireFailure(t, err, domain.FailureBlocked)
	require.Equal(t, []string{domain.ConflictCraneOverlap}, f.Codes)
	require.Len(t, f.Reports, 1)
	require.Equal(t, []string{"V1", "V2"}, f.Reports[0].RelatedVisits)

	stored, err := env.Engine.GetPlan(env.Ctx, "plan-1")
	require.NoError(t, err)
	require.Equal(t, 1, stored.Version)
	require.Len(t, stored.Operations, 2)
	require.Equal(t, "op-1", stored.Operations[0].ID)

	audit, err := env.Engine.PlanAudit(env.Ctx, "plan-1", "")
	require.NoError(t, err)
	require.Empty(t, audit)
	require.Equal(t, []string{events.PlanImported}, eventTypes(t, env, events.KindPlan))
}

func TestReviseWithWarningsIsSavedAndAudited(t *testing.T) {
	env := newTestEnv(t)
	importPlan(t, env)
	approved := domain.PlanApproved

	res, err := env.Engine.ReviseForVisit(env.Ctx, engine.ReviseOptions{
		PlanID:   "plan-1",
		VisitRef: "V1",
		Reason:   "vessel arrived late",
		Author:   "planner",
		Status:   &approved,
		Operations: []domain.Operation{
			{ID: "op-3", Dock: "D1", Crane: "CR3", CraneCountUsed: 1, TotalCranesOnDock: 2, Start: hour(11, 0), End: hour(12, 0), Staff: []string{"S1", "S5"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Plan.Version)
	require.Equal(t, domain.PlanApproved, res.Plan.Status)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, domain.ConflictStaffOverlap, res.Warnings[0].Code)
	require.Equal(t, domain.SeverityWarning, res.Warnings[0].Severity)

	stored, err := env.Engine.GetPlan(env.Ctx, "plan-1")
	require.NoError(t, err)
	require.Equal(t, 2, stored.Version)
	require.Equal(t, "op-3", stored.Operations[0].ID)
	require.Equal(t, "V1", stored.Operations[0].VisitRef)
	require.Equal(t, "op-2", stored.Operations[1].ID)

	audit, err := env.Engine.PlanAudit(env.Ctx, "plan-1", "V1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	require.Equal(t, "vessel arrived late", audit[0].Reason)
	require.Equal(t, "planner", audit[0].Author)
	require.Equal(t, "op-1", audit[0].Before[0].ID)
	require.Equal(t, "op-3", audit[0].After[0].ID)
}

func TestReviseInvalidOperationsAreRejected(t *testing.T) {
	env := newTestEnv(t)
	importPlan(t, env)
	_, err := env.Engine.ReviseForVisit(env.Ctx, engine.ReviseOptions{
		PlanID:     "plan-1",
		VisitRef:   "V1",
		Reason:     "typo",
		Author:     "planner",
		Operations: []domain.Operation{{Dock: "D1", Start: hour(12, 0), End: hour(11, 0)}},
	})
	requireFailure(t, err, domain.FailureInvalid)

	stored, err := env.Engine.GetPlan(env.Ctx, "plan-1")
	require.NoError(t, err)
	require.Equal(t, 1, stored.Version)
}

func TestPreviewRevisionDoesNotWrite(t *testing.T) {
	env := newTestEnv(t)
	importPlan(t, env)
	reports, err := env.Engine.PreviewRevision(env.Ctx, engine.ReviseOptions{
		PlanID:     "plan-1",
		VisitRef:   "V1",
		Operations: []domain.Operation{{Dock: "D2", Crane: "CR1", CraneCountUsed: 2, TotalCranesOnDock: 2, Start: hour(11, 0), End: hour(12, 0)}},
	})
	require.NoError(t, err)
	codes := []string{}
	for _, r := range reports {
		codes = append(codes, r.Code)
	}
	require.ElementsMatch(t, []string{domain.ConflictCraneCapacityExceeded, domain.ConflictCraneOverlap}, codes)

	stored, err := env.Engine.GetPlan(env.Ctx, "plan-1")
	require.NoError(t, err)
	require.Equal(t, 1, stored.Version)
}

func TestStalePlanWriteIsRejected(t *testing.T) {
	env := newTestEnv(t)
	stale := importPlan(t, env)
	_, err := env.Engine.ReviseForVisit(env.Ctx, engine.ReviseOptions{PlanID: "plan-1", VisitRef: "V2", Reason: "cancelled", Author: "planner"})
	require.NoError(t, err)

	err = env.Engine.Repo.UpdatePlan(env.Ctx, nil, stale)
	require.ErrorIs(t, err, repo.ErrVersionConflict)
}

func TestExecutedOperationsAreMirroredIntoPlan(t *testing.T) {
	env := newTestEnv(t)
	importPlan(t, env)
	exec := env.createExecution(t, "V1")

	start, end := hour(8, 5), hour(9, 10)
	_, err := env.Engine.UpdateExecutedOperations(env.Ctx, engine.ExecutedOperationsOptions{
		ExecutionID: exec.ID,
		Operations:  []domain.ExecutedOperation{{PlannedOperationID: "op-1", ActualStart: &start, ActualEnd: &end}},
		ActorID:     "officer",
	})
	require.NoError(t, err)

	plan, err := env.Engine.GetPlan(env.Ctx, "plan-1")
	require.NoError(t, err)
	require.Equal(t, 2, plan.Version)
	require.Equal(t, domain.OperationCompleted, plan.Operations[0].ExecutionStatus)
	require.True(t, plan.Operations[0].ActualEnd.Equal(end))
	require.Empty(t, plan.Operations[1].ExecutionStatus)

	changed, err := env.Engine.MirrorExecution(env.Ctx, exec.ID)
	require.NoError(t, err)
	require.Zero(t, changed)
	require.Equal(t, []string{events.PlanImported, events.PlanMirrored}, eventTypes(t, env, events.KindPlan))
}

func TestRevisionKeepsMirroredExecutionFacts(t *testing.T) {
	env := newTestEnv(t)
	importPlan(t, env)
	exec := env.createExecution(t, "V1")
	start, end := hour(8, 5), hour(9, 10)
	_, err := env.Engine.UpdateExecutedOperations(env.Ctx, engine.ExecutedOperationsOptions{
		ExecutionID: exec.ID,
		Operations:  []domain.ExecutedOperation{{PlannedOperationID: "op-1", ActualStart: &start, ActualEnd: &end}},
		ActorID:     "officer",
	})
	require.NoError(t, err)

	res, err := env.Engine.ReviseForVisit(env.Ctx, engine.ReviseOptions{
		PlanID:   "plan-1",
		VisitRef: "V1",
		Reason:   "crane swap after the fact",
		Author:   "planner",
		Operations: []domain.Operation{
			{ID: "op-1", Dock: "D1", Crane: "CR3", CraneCountUsed: 1, TotalCranesOnDock: 2, Start: hour(8, 0), End: hour(9, 0)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Plan.Version)

	stored, err := env.Engine.GetPlan(env.Ctx, "plan-1")
	require.NoError(t, err)
	require.Equal(t, "CR3", stored.Operations[0].Crane)
	require.Equal(t, domain.OperationCompleted, stored.Operations[0].ExecutionStatus)
	require.True(t, stored.Operations[0].ActualEnd.Equal(end))

	changed, err := env.Engine.MirrorExecution(env.Ctx, exec.ID)
	require.NoError(t, err)
	require.Zero(t, changed)
}
