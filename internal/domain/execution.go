package domain

import (
	"strings"
	"time"
)

type ExecutionStatus string

const (
	ExecutionInProgress ExecutionStatus = "InProgress"
	ExecutionCompleted  ExecutionStatus = "Completed"
)

type OperationStatus string

const (
	OperationStarted   OperationStatus = "started"
	OperationCompleted OperationStatus = "completed"
	OperationDelayed   OperationStatus = "delayed"
)

func (s OperationStatus) valid() bool {
	switch s {
	case OperationStarted, OperationCompleted, OperationDelayed:
		return true
	}
	return false
}

// ExecutionAction names an audited change to a visit execution.
type ExecutionAction string

const (
	ActionUpdateBerthDock          ExecutionAction = "UPDATE_BERTH_DOCK"
	ActionUpdateExecutedOperations ExecutionAction = "UPDATE_EXECUTED_OPERATIONS"
	ActionSetCompleted             ExecutionAction = "SET_COMPLETED"
)

type ResourceUsage struct {
	ResourceID string  `json:"resource_id" yaml:"resource_id"`
	Quantity   float64 `json:"quantity" yaml:"quantity"`
	Hours      float64 `json:"hours" yaml:"hours"`
}

// ExecutedOperation is the factual counterpart of a planned operation.
type ExecutedOperation struct {
	PlannedOperationID string          `json:"planned_operation_id" yaml:"planned_operation_id"`
	ActualStart        *time.Time      `json:"actual_start,omitempty" yaml:"actual_start,omitempty"`
	ActualEnd          *time.Time      `json:"actual_end,omitempty" yaml:"actual_end,omitempty"`
	ResourcesUsed      []ResourceUsage `json:"resources_used,omitempty" yaml:"resources_used,omitempty"`
	Status             OperationStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Note               string          `json:"note,omitempty" yaml:"note,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at" yaml:"-"`
	UpdatedBy          string          `json:"updated_by" yaml:"-"`
}

// ExecutionAuditEntry records one accepted change with prior and new values.
type ExecutionAuditEntry struct {
	ID          int64           `json:"id,omitempty"`
	ExecutionID string          `json:"execution_id"`
	Action      ExecutionAction `json:"action"`
	ActorID     string          `json:"actor_id"`
	At          time.Time       `json:"at"`
	Before      map[string]any  `json:"before"`
	After       map[string]any  `json:"after"`
}

// ExecutionSnapshot is the persisted shape of a VesselVisitExecution.
type ExecutionSnapshot struct {
	ID                 string              `json:"id"`
	Code               string              `json:"code"`
	VisitID            string              `json:"visit_id"`
	VesselID           string              `json:"vessel_id"`
	ActualArrival      time.Time           `json:"actual_arrival"`
	Status             ExecutionStatus     `json:"status"`
	ActualBerth        *time.Time          `json:"actual_berth,omitempty"`
	ActualDockID       string              `json:"actual_dock_id,omitempty"`
	DockNote           string              `json:"dock_note,omitempty"`
	ActualUnberth      *time.Time          `json:"actual_unberth,omitempty"`
	ActualLeavePort    *time.Time          `json:"actual_leave_port,omitempty"`
	ExecutedOperations []ExecutedOperation `json:"executed_operations"`
	CreatedBy          string              `json:"created_by"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	Version            int                 `json:"version"`
}

// VesselVisitExecution owns the lifecycle of the execution record of one planned visit.
// State is only reachable through its commands; each command checks every rule before mutating.
type VesselVisitExecution struct {
	s ExecutionSnapshot
}

type NewExecutionProps struct {
	ID            string
	Code          ExecutionCode
	VisitID       string
	VesselID      string
	ActualArrival time.Time
	CreatedBy     string
}

func NewExecution(p NewExecutionProps, now time.Time) (*VesselVisitExecution, error) {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return nil, Invalid("execution id is required")
	case p.Code.IsZero():
		return nil, Invalid("execution code is required")
	case strings.TrimSpace(p.VisitID) == "":
		return nil, Invalid("visit reference is required")
	case strings.TrimSpace(p.VesselID) == "":
		return nil, Invalid("vessel id is required")
	case p.ActualArrival.IsZero():
		return nil, Invalid("actual arrival time is required")
	case strings.TrimSpace(p.CreatedBy) == "":
		return nil, Invalid("creator id is required")
	}
	if p.ActualArrival.After(now) {
		return nil, ruleErr(CodeArrivalInFuture, "arrival %s is after %s", p.ActualArrival.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return &VesselVisitExecution{s: ExecutionSnapshot{
		ID:                 p.ID,
		Code:               p.Code.String(),
		VisitID:            p.VisitID,
		VesselID:           p.VesselID,
		ActualArrival:      p.ActualArrival.UTC(),
		Status:             ExecutionInProgress,
		ExecutedOperations: []ExecutedOperation{},
		CreatedBy:          p.CreatedBy,
		CreatedAt:          now.UTC(),
		UpdatedAt:          now.UTC(),
	}}, nil
}

// RestoreExecution rebuilds an aggregate from its persisted snapshot.
func RestoreExecution(s ExecutionSnapshot) *VesselVisitExecution {
	s.ExecutedOperations = copyExecutedOperations(s.ExecutedOperations)
	return &VesselVisitExecution{s: s}
}

func (v *VesselVisitExecution) Snapshot() ExecutionSnapshot {
	out := v.s
	out.ExecutedOperations = copyExecutedOperations(v.s.ExecutedOperations)
	return out
}

func (v *VesselVisitExecution) ID() string              { return v.s.ID }
func (v *VesselVisitExecution) Code() string            { return v.s.Code }
func (v *VesselVisitExecution) VisitID() string         { return v.s.VisitID }
func (v *VesselVisitExecution) Status() ExecutionStatus { return v.s.Status }
func (v *VesselVisitExecution) Version() int            { return v.s.Version }

func (v *VesselVisitExecution) requireInProgress(op string) error {
	if v.s.Status != ExecutionInProgress {
		return ruleErr(CodeExecutionNotInProgress, "cannot %s execution %s in status %s", op, v.s.Code, v.s.Status)
	}
	return nil
}

func (v *VesselVisitExecution) UpdateBerthAndDock(berth time.Time, dockID, actorID, note string, now time.Time) (ExecutionAuditEntry, error) {
	if err := v.requireInProgress("update berth of"); err != nil {
		return ExecutionAuditEntry{}, err
	}
	if berth.IsZero() {
		return ExecutionAuditEntry{}, Invalid("berth time is required")
	}
	if strings.TrimSpace(dockID) == "" {
		return ExecutionAuditEntry{}, Invalid("dock id is required")
	}
	if strings.TrimSpace(actorID) == "" {
		return ExecutionAuditEntry{}, Invalid("actor id is required")
	}
	if berth.Before(v.s.ActualArrival) {
		return ExecutionAuditEntry{}, ruleErr(CodeBerthBeforeArrival, "berth %s precedes arrival %s",
			berth.Format(time.RFC3339), v.s.ActualArrival.Format(time.RFC3339))
	}
	before := map[string]any{
		"actual_berth":   v.s.ActualBerth,
		"actual_dock_id": v.s.ActualDockID,
		"dock_note":      v.s.DockNote,
	}
	b := berth.UTC()
	v.s.ActualBerth = &b
	v.s.ActualDockID = dockID
	v.s.DockNote = note
	v.s.UpdatedAt = now.UTC()
	after := map[string]any{
		"actual_berth":   v.s.ActualBerth,
		"actual_dock_id": v.s.ActualDockID,
		"dock_note":      v.s.DockNote,
	}
	return v.audit(ActionUpdateBerthDock, actorID, now, before, after), nil
}

// UpdateExecutedOperations upserts entries by planned operation reference.
// An entry without a status is completed when it carries an end time and started otherwise.
func (v *VesselVisitExecution) UpdateExecutedOperations(entries []ExecutedOperation, actorID string, now time.Time) (ExecutionAuditEntry, error) {
	if err := v.requireInProgress("update operations of"); err != nil {
		return ExecutionAuditEntry{}, err
	}
	if len(entries) == 0 {
		return ExecutionAuditEntry{}, Invalid("at least one executed operation is required")
	}
	if strings.TrimSpace(actorID) == "" {
		return ExecutionAuditEntry{}, Invalid("actor id is required")
	}
	normalized := make([]ExecutedOperation, 0, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.PlannedOperationID) == "" {
			return ExecutionAuditEntry{}, Invalid("operation %d: planned operation reference is required", i)
		}
		if e.ActualStart != nil && e.ActualEnd != nil && e.ActualEnd.Before(*e.ActualStart) {
			return ExecutionAuditEntry{}, Invalid("operation %s: end precedes start", e.PlannedOperationID)
		}
		if e.Status == "" {
			e.Status = OperationStarted
			if e.ActualEnd != nil {
				e.Status = OperationCompleted
			}
		} else if !e.Status.valid() {
			return ExecutionAuditEntry{}, Invalid("operation %s: unknown status %q", e.PlannedOperationID, e.Status)
		}
		e.UpdatedAt = now.UTC()
		e.UpdatedBy = actorID
		normalized = append(normalized, copyExecutedOperations([]ExecutedOperation{e})[0])
	}

	before := copyExecutedOperations(v.s.ExecutedOperations)
	ops := copyExecutedOperations(v.s.ExecutedOperations)
	for _, e := range normalized {
		replaced := false
		for i := range ops {
			if ops[i].PlannedOperationID == e.PlannedOperationID {
				ops[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			ops = append(ops, e)
		}
	}
	v.s.ExecutedOperations = ops
	v.s.UpdatedAt = now.UTC()
	return v.audit(ActionUpdateExecutedOperations, actorID, now,
		map[string]any{"executed_operations": before},
		map[string]any{"executed_operations": copyExecutedOperations(ops)}), nil
}

func (v *VesselVisitExecution) SetCompleted(unberth, leavePort time.Time, actorID string, now time.Time) (ExecutionAuditEntry, error) {
	if err := v.requireInProgress("complete"); err != nil {
		return ExecutionAuditEntry{}, err
	}
	if unberth.IsZero() || leavePort.IsZero() {
		return ExecutionAuditEntry{}, Invalid("un-berth and leave-port times are required")
	}
	if strings.TrimSpace(actorID) == "" {
		return ExecutionAuditEntry{}, Invalid("actor id is required")
	}
	if leavePort.Before(unberth) {
		return ExecutionAuditEntry{}, ruleErr(CodeLeaveBeforeUnberth, "leave port %s precedes un-berth %s",
			leavePort.Format(time.RFC3339), unberth.Format(time.RFC3339))
	}
	before := map[string]any{
		"status":            v.s.Status,
		"actual_unberth":    v.s.ActualUnberth,
		"actual_leave_port": v.s.ActualLeavePort,
	}
	u, l := unberth.UTC(), leavePort.UTC()
	v.s.ActualUnberth = &u
	v.s.ActualLeavePort = &l
	v.s.Status = ExecutionCompleted
	v.s.UpdatedAt = now.UTC()
	after := map[string]any{
		"status":            v.s.Status,
		"actual_unberth":    v.s.ActualUnberth,
		"actual_leave_port": v.s.ActualLeavePort,
	}
	return v.audit(ActionSetCompleted, actorID, now, before, after), nil
}

// AreAllExecutedOperationsCompleted is false when nothing has been recorded yet.
func (v *VesselVisitExecution) AreAllExecutedOperationsCompleted() bool {
	if len(v.s.ExecutedOperations) == 0 {
		return false
	}
	for _, op := range v.s.ExecutedOperations {
		if op.Status != OperationCompleted {
			return false
		}
	}
	return true
}

func (v *VesselVisitExecution) audit(action ExecutionAction, actorID string, now time.Time, before, after map[string]any) ExecutionAuditEntry {
	return ExecutionAuditEntry{
		ExecutionID: v.s.ID,
		Action:      action,
		ActorID:     actorID,
		At:          now.UTC(),
		Before:      before,
		After:       after,
	}
}

func copyExecutedOperations(in []ExecutedOperation) []ExecutedOperation {
	out := make([]ExecutedOperation, len(in))
	for i, op := range in {
		out[i] = op
		out[i].ActualStart = copyTime(op.ActualStart)
		out[i].ActualEnd = copyTime(op.ActualEnd)
		if op.ResourcesUsed != nil {
			out[i].ResourcesUsed = append([]ResourceUsage(nil), op.ResourcesUsed...)
		}
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}
