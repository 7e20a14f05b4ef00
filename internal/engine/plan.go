package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portcall/internal/conflict"
	"portcall/internal/domain"
	"portcall/internal/events"
)

// ImportPlan stores a plan produced by the external scheduler. Missing plan and operation ids
// are generated.
func (e Engine) ImportPlan(ctx context.Context, in domain.PlanSnapshot) (snap domain.PlanSnapshot, err error) {
	defer e.observe("plan.import", &err)
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	in.Operations = prepareOperations(in.Operations)
	plan, err := domain.NewPlan(in, e.now())
	if err != nil {
		return domain.PlanSnapshot{}, err
	}
	snap = plan.Snapshot()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertPlan(ctx, tx, snap); err != nil {
			return storeErr(err, "plan "+snap.ID)
		}
		return e.emit(ctx, tx, events.PlanImported, events.KindPlan, snap.ID, snap.Author, events.EventPayload{
			"plan_date":  snap.PlanDate,
			"operations": len(snap.Operations),
		})
	})
	if err != nil {
		return domain.PlanSnapshot{}, err
	}
	snap.Version = 1
	return snap, nil
}

// prepareOperations assigns missing operation ids and brings times to the stored precision.
func prepareOperations(ops []domain.Operation) []domain.Operation {
	out := make([]domain.Operation, len(ops))
	copy(out, ops)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
		out[i].Start = stamp(out[i].Start)
		out[i].End = stamp(out[i].End)
		out[i].ActualStart = stampPtr(out[i].ActualStart)
		out[i].ActualEnd = stampPtr(out[i].ActualEnd)
	}
	return out
}

type ReviseOptions struct {
	PlanID     string
	VisitRef   string
	Operations []domain.Operation
	Reason     string
	Author     string
	Status     *domain.PlanStatus
}

// ReviseResult carries the saved plan and every non-blocking report found on the way.
type ReviseResult struct {
	Plan     domain.PlanSnapshot     `json:"plan"`
	Warnings []domain.ConflictReport `json:"warnings"`
}

// ReviseForVisit replaces one visit's operations in a plan. A revision with blocking conflicts
// is rejected with a blocked failure listing their codes and leaves nothing written; otherwise
// the plan and its audit entry are saved together.
func (e Engine) ReviseForVisit(ctx context.Context, opts ReviseOptions) (res ReviseResult, err error) {
	defer e.observe("plan.revise", &err)
	if err := e.validateRevision(opts); err != nil {
		e.Metrics.Revision("invalid")
		return ReviseResult{}, err
	}
	current, err := e.Repo.GetPlan(ctx, opts.PlanID)
	if err != nil {
		return ReviseResult{}, storeErr(err, "plan "+opts.PlanID)
	}

	plan, before, reports, err := e.applyRevision(current, opts)
	if err != nil {
		e.Metrics.Revision("invalid")
		return ReviseResult{}, err
	}
	for _, r := range reports {
		e.Metrics.Conflict(r.Code, string(r.Severity))
	}
	if conflict.HasBlocking(reports) {
		e.Metrics.Revision("blocked")
		blocked := domain.Blocked(reports)
		e.log().Warn("plan revision blocked",
			zap.String("plan", opts.PlanID),
			zap.String("visit", opts.VisitRef),
			zap.Strings("codes", blocked.Codes))
		return ReviseResult{}, blocked
	}

	next := plan.Snapshot()
	entry := domain.PlanAuditEntry{
		PlanID:   next.ID,
		VisitRef: opts.VisitRef,
		At:       e.now(),
		Author:   opts.Author,
		Reason:   strings.TrimSpace(opts.Reason),
		Before:   before,
		After:    plan.OperationsFor(opts.VisitRef),
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdatePlan(ctx, tx, next); err != nil {
			return storeErr(err, "plan "+next.ID)
		}
		if err := e.Repo.AppendPlanAudit(ctx, tx, entry); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.PlanRevised, events.KindPlan, next.ID, opts.Author, events.EventPayload{
			"visit_ref": opts.VisitRef,
			"reason":    entry.Reason,
			"warnings":  len(reports),
		})
	})
	if err != nil {
		return ReviseResult{}, err
	}
	next.Version++
	e.Metrics.Revision("accepted")
	e.log().Info("plan revised",
		zap.String("plan", next.ID),
		zap.String("visit", opts.VisitRef),
		zap.String("author", opts.Author),
		zap.Int("warnings", len(reports)))
	if reports == nil {
		reports = []domain.ConflictReport{}
	}
	return ReviseResult{Plan: next, Warnings: reports}, nil
}

// PreviewRevision runs a revision against the stored plan without saving it and returns every
// report, blocking ones included.
func (e Engine) PreviewRevision(ctx context.Context, opts ReviseOptions) ([]domain.ConflictReport, error) {
	if err := required(map[string]string{"plan id": opts.PlanID, "visit reference": opts.VisitRef}); err != nil {
		return nil, err
	}
	current, err := e.Repo.GetPlan(ctx, opts.PlanID)
	if err != nil {
		return nil, storeErr(err, "plan "+opts.PlanID)
	}
	_, _, reports, err := e.applyRevision(current, opts)
	if err != nil {
		return nil, err
	}
	if reports == nil {
		reports = []domain.ConflictReport{}
	}
	return reports, nil
}

// validateRevision runs before the plan is loaded.
func (e Engine) validateRevision(opts ReviseOptions) error {
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		return domain.Invalid("reason for change is required")
	}
	if minLen := e.config().Revision.ReasonMinLength; len([]rune(reason)) < minLen {
		return domain.Invalid("reason for change must be at least %d characters", minLen)
	}
	return required(map[string]string{"plan id": opts.PlanID, "visit reference": opts.VisitRef, "author": opts.Author})
}

func (e Engine) applyRevision(current domain.PlanSnapshot, opts ReviseOptions) (*domain.OperationPlan, []domain.Operation, []domain.ConflictReport, error) {
	plan := domain.RestorePlan(current)
	before := plan.OperationsFor(opts.VisitRef)
	if err := plan.UpdateForVisit(opts.VisitRef, prepareOperations(opts.Operations), opts.Status, e.now()); err != nil {
		return nil, nil, nil, err
	}
	return plan, before, conflict.Detect(plan.Operations(), opts.VisitRef), nil
}

func (e Engine) GetPlan(ctx context.Context, id string) (domain.PlanSnapshot, error) {
	s, err := e.Repo.GetPlan(ctx, id)
	return s, storeErr(err, "plan "+id)
}

func (e Engine) ListPlans(ctx context.Context, planDate string, limit int) ([]domain.PlanSnapshot, error) {
	return e.Repo.ListPlans(ctx, planDate, limit)
}

func (e Engine) PlanAudit(ctx context.Context, planID, visitRef string) ([]domain.PlanAuditEntry, error) {
	if _, err := e.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return e.Repo.ListPlanAudit(ctx, planID, visitRef)
}
