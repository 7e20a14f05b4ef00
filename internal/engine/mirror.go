package engine

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"portcall/internal/domain"
	"portcall/internal/events"
	"portcall/internal/repo"
)

// mirrorActor is recorded on events written by mirroring.
const mirrorActor = "system:mirror"

// MirrorExecution copies the execution's recorded operation facts onto every plan holding an
// operation of the same visit and returns how many plans changed. Reapplying is a no-op, so
// it is safe to call again after a crash or a version conflict.
func (e Engine) MirrorExecution(ctx context.Context, executionID string) (changed int, err error) {
	defer e.observe("plan.mirror", &err)
	exec, err := e.Repo.GetExecution(ctx, executionID)
	if err != nil {
		return 0, storeErr(err, "execution "+executionID)
	}
	if len(exec.ExecutedOperations) == 0 {
		return 0, nil
	}
	plans, err := e.Repo.PlansReferencingVisit(ctx, exec.VisitID)
	if err != nil {
		return 0, err
	}
	for _, snap := range plans {
		ok, err := e.mirrorInto(ctx, snap, exec)
		if errors.Is(err, repo.ErrVersionConflict) {
			// the plan moved underneath us; reload once and reapply
			fresh, gerr := e.Repo.GetPlan(ctx, snap.ID)
			if gerr != nil {
				return changed, gerr
			}
			ok, err = e.mirrorInto(ctx, fresh, exec)
		}
		if err != nil {
			return changed, storeErr(err, "plan "+snap.ID)
		}
		if ok {
			changed++
		}
	}
	e.Metrics.Mirrored(changed)
	if changed > 0 {
		e.log().Debug("plans mirrored", zap.String("execution", exec.Code), zap.Int("plans", changed))
	}
	return changed, nil
}

func (e Engine) mirrorInto(ctx context.Context, snap domain.PlanSnapshot, exec domain.ExecutionSnapshot) (bool, error) {
	plan := domain.RestorePlan(snap)
	if !plan.MirrorExecution(exec.ExecutedOperations, e.now()) {
		return false, nil
	}
	next := plan.Snapshot()
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdatePlan(ctx, tx, next); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.PlanMirrored, events.KindPlan, next.ID, mirrorActor, events.EventPayload{
			"execution_id": exec.ID,
			"visit_ref":    exec.VisitID,
		})
	})
	return err == nil, err
}
