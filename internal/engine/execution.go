package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portcall/internal/domain"
	"portcall/internal/events"
	"portcall/internal/repo"
)

type CreateExecutionOptions struct {
	VisitID       string
	ActualArrival time.Time
	CreatorID     string
}

// CreateExecution opens the execution record of a planned visit. A visit has at most one.
func (e Engine) CreateExecution(ctx context.Context, opts CreateExecutionOptions) (snap domain.ExecutionSnapshot, err error) {
	defer e.observe("execution.create", &err)
	if err := required(map[string]string{"visit reference": opts.VisitID, "creator id": opts.CreatorID}); err != nil {
		return domain.ExecutionSnapshot{}, err
	}
	visit, err := e.Repo.GetVisit(ctx, opts.VisitID)
	if err != nil {
		return domain.ExecutionSnapshot{}, storeErr(err, "visit "+opts.VisitID)
	}
	if existing, err := e.Repo.GetExecutionByVisit(ctx, visit.ID); err == nil {
		return domain.ExecutionSnapshot{}, domain.Duplicate("visit %s already has execution %s", visit.ID, existing.Code)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.ExecutionSnapshot{}, err
	}

	now := e.now()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		seq, err := e.Repo.NextExecutionSequence(ctx, tx, now.In(e.config().Location()).Year())
		if err != nil {
			return err
		}
		code, err := domain.NewExecutionCode(now.In(e.config().Location()).Year(), seq)
		if err != nil {
			return err
		}
		exec, err := domain.NewExecution(domain.NewExecutionProps{
			ID:            uuid.NewString(),
			Code:          code,
			VisitID:       visit.ID,
			VesselID:      visit.VesselID,
			ActualArrival: stamp(opts.ActualArrival),
			CreatedBy:     opts.CreatorID,
		}, now)
		if err != nil {
			return err
		}
		snap = exec.Snapshot()
		if err := e.Repo.InsertExecution(ctx, tx, snap); err != nil {
			return storeErr(err, "execution for visit "+visit.ID)
		}
		return e.emit(ctx, tx, events.ExecutionCreated, events.KindExecution, snap.ID, opts.CreatorID, events.EventPayload{
			"code":     snap.Code,
			"visit_id": snap.VisitID,
		})
	})
	if err != nil {
		return domain.ExecutionSnapshot{}, err
	}
	snap.Version = 1
	e.log().Info("execution created", zap.String("code", snap.Code), zap.String("visit_id", snap.VisitID))
	return snap, nil
}

// GetExecution accepts either an execution id or its VVE code.
func (e Engine) GetExecution(ctx context.Context, ref string) (domain.ExecutionSnapshot, error) {
	if _, perr := domain.ParseExecutionCode(ref); perr == nil {
		s, err := e.Repo.GetExecutionByCode(ctx, ref)
		return s, storeErr(err, "execution "+ref)
	}
	s, err := e.Repo.GetExecution(ctx, ref)
	return s, storeErr(err, "execution "+ref)
}

func (e Engine) ListExecutions(ctx context.Context, f repo.ExecutionFilters) ([]domain.ExecutionSnapshot, error) {
	return e.Repo.ListExecutions(ctx, f)
}

func (e Engine) ExecutionAudit(ctx context.Context, ref string) ([]domain.ExecutionAuditEntry, error) {
	s, err := e.GetExecution(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListExecutionAudit(ctx, s.ID)
}

// saveExecution persists an accepted command: row, audit entry and event commit together.
func (e Engine) saveExecution(ctx context.Context, exec *domain.VesselVisitExecution, entry domain.ExecutionAuditEntry, evtType string, payload events.EventPayload) (domain.ExecutionSnapshot, error) {
	snap := exec.Snapshot()
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateExecution(ctx, tx, snap); err != nil {
			return storeErr(err, "execution "+snap.Code)
		}
		if err := e.Repo.AppendExecutionAudit(ctx, tx, entry); err != nil {
			return err
		}
		return e.emit(ctx, tx, evtType, events.KindExecution, snap.ID, entry.ActorID, payload)
	})
	if err != nil {
		return domain.ExecutionSnapshot{}, err
	}
	snap.Version++
	return snap, nil
}

type BerthDockOptions struct {
	ExecutionID string
	BerthTime   time.Time
	DockID      string
	Note        string
	ActorID     string
}

func (e Engine) UpdateBerthAndDock(ctx context.Context, opts BerthDockOptions) (snap domain.ExecutionSnapshot, err error) {
	defer e.observe("execution.berth", &err)
	current, err := e.GetExecution(ctx, opts.ExecutionID)
	if err != nil {
		return domain.ExecutionSnapshot{}, err
	}
	exec := domain.RestoreExecution(current)
	entry, err := exec.UpdateBerthAndDock(stamp(opts.BerthTime), opts.DockID, opts.ActorID, opts.Note, e.now())
	if err != nil {
		return domain.ExecutionSnapshot{}, err
	}
	return e.saveExecution(ctx, exec, entry, events.ExecutionBerthUpdated, events.EventPayload{"dock_id": opts.DockID})
}

type ExecutedOperationsOptions struct {
	ExecutionID string
	Operations  []domain.ExecutedOperation
	ActorID     string
}

// UpdateExecutedOperations records operation facts, then mirrors them onto the plans that
// reference the visit. Mirroring runs after commit; its failure is logged and left to the
// mirror worker.
func (e Engine) UpdateExecutedOperations(ctx context.Context, opts ExecutedOperationsOptions) (snap domain.ExecutionSnapshot, err error) {
	defer e.observe("execution.operations", &err)
	current, err := e.GetExecution(ctx, opts.ExecutionID)
	if err != nil {
		return domain.ExecutionSnapshot{}, err
	}
	exec := domain.RestoreExecution(current)
	entry, err := exec.UpdateExecutedOperations(stampExecutedOperations(opts.Operations), opts.ActorID, e.now())
	if err != nil {
		return domain.ExecutionSnapshot{}, err
	}
	refs := make([]string, 0, len(opts.Operations))
	for _, op := range opts.Operations {
		refs = append(refs, op.PlannedOperationID)
	}
	snap, err = e.saveExecution(ctx, exec, entry, events.ExecutionOperationsUpdated, events.EventPayload{
		"visit_id":   current.VisitID,
		"operations": refs,
	})
	if err != nil {
		return domain.ExecutionSnapshot{}, err
	}
	if _, merr := e.MirrorExecution(ctx, snap.ID); merr != nil {
		e.log().Warn("mirror after operations update failed", zap.String("execution", snap.Code), zap.Error(merr))
	}
	return snap, nil
}

func stampExecutedOperations(ops []domain.ExecutedOperation) []domain.ExecutedOperation {
	out := make([]domain.ExecutedOperation, len(ops))
	copy(out, ops)
	for i := range out {
		out[i].ActualStart = stampPtr(out[i].ActualStart)
		out[i].ActualEnd = stampPtr(out[i].ActualEnd)
	}
	return out
}

type CompleteExecutionOptions struct {
	Code          string
	UnberthTime   time.Time
	LeavePortTime time.Time
	ActorID       string
}

// CompleteExecution closes an execution identified by its VVE code.
func (e Engine) CompleteExecution(ctx context.Context, opts CompleteExecutionOptions) (snap domain.ExecutionSnapshot, err error) {
	defer e.observe("execution.complete", &err)
	code, err := domain.ParseExecutionCode(opts.Code)
	if err != nil {
		return domain.ExecutionSnapshot{}, err
	}
	current, err := e.Repo.GetExecutionByCode(ctx, code.String())
	if err != nil {
		return domain.ExecutionSnapshot{}, storeErr(err, "execution "+code.String())
	}
	exec := domain.RestoreExecution(current)
	entry, err := exec.SetCompleted(stamp(opts.UnberthTime), stamp(opts.LeavePortTime), opts.ActorID, e.now())
	if err != nil {
		return domain.ExecutionSnapshot{}, err
	}
	snap, err = e.saveExecution(ctx, exec, entry, events.ExecutionCompleted, events.EventPayload{
		"all_operations_completed": exec.AreAllExecutedOperationsCompleted(),
	})
	if err != nil {
		return domain.ExecutionSnapshot{}, err
	}
	if !exec.AreAllExecutedOperationsCompleted() {
		e.log().Warn("execution completed with open operations", zap.String("code", snap.Code))
	}
	return snap, nil
}
