package server

import (
	"encoding/json"
	"time"

	"portcall/internal/domain"
)

// Request payloads

type RegisterVisitRequest struct {
	ID               string     `json:"id"`
	VesselID         string     `json:"vessel_id"`
	PlannedArrival   time.Time  `json:"planned_arrival"`
	PlannedDeparture *time.Time `json:"planned_departure,omitempty"`
	DockID           string     `json:"dock_id,omitempty"`
}

type CreateExecutionRequest struct {
	VisitID       string    `json:"visit_id"`
	ActualArrival time.Time `json:"actual_arrival"`
}

type BerthDockRequest struct {
	BerthTime time.Time `json:"berth_time"`
	DockID    string    `json:"dock_id"`
	Note      string    `json:"note,omitempty"`
}

type ResourceUsageRequest struct {
	ResourceID string  `json:"resource_id"`
	Quantity   float64 `json:"quantity,omitempty"`
	Hours      float64 `json:"hours,omitempty"`
}

type ExecutedOperationRequest struct {
	PlannedOperationID string                 `json:"planned_operation_id"`
	ActualStart        *time.Time             `json:"actual_start,omitempty"`
	ActualEnd          *time.Time             `json:"actual_end,omitempty"`
	ResourcesUsed      []ResourceUsageRequest `json:"resources_used,omitempty"`
	Status             string                 `json:"status,omitempty" enum:"started,completed,delayed"`
	Note               string                 `json:"note,omitempty"`
}

type ExecutedOperationsRequest struct {
	Operations []ExecutedOperationRequest `json:"operations"`
}

type CompleteExecutionRequest struct {
	UnberthTime   time.Time `json:"unberth_time"`
	LeavePortTime time.Time `json:"leave_port_time"`
}

type CreateTaskRequest struct {
	Category    string     `json:"category"`
	StaffID     string     `json:"staff_id"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	ExecutionID string     `json:"execution_id" doc:"Execution id or code"`
}

type UpdateTaskRequest struct {
	Category    *string    `json:"category,omitempty"`
	StaffID     *string    `json:"staff_id,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	ExecutionID *string    `json:"execution_id,omitempty"`
}

type TaskStatusRequest struct {
	Status string `json:"status" enum:"Scheduled,InProgress,Completed"`
}

type OperationRequest struct {
	ID                string     `json:"id,omitempty"`
	VisitRef          string     `json:"visit_ref,omitempty"`
	Vessel            string     `json:"vessel,omitempty"`
	Dock              string     `json:"dock"`
	Crane             string     `json:"crane,omitempty"`
	CraneCountUsed    int        `json:"crane_count_used,omitempty"`
	TotalCranesOnDock int        `json:"total_cranes_on_dock,omitempty"`
	Start             time.Time  `json:"start"`
	End               time.Time  `json:"end"`
	LoadingMinutes    int        `json:"loading_minutes,omitempty"`
	UnloadingMinutes  int        `json:"unloading_minutes,omitempty"`
	Staff             []string   `json:"staff,omitempty"`
	ExecutionStatus   string     `json:"execution_status,omitempty"`
	ActualStart       *time.Time `json:"actual_start,omitempty"`
	ActualEnd         *time.Time `json:"actual_end,omitempty"`
}

type ImportPlanRequest struct {
	ID         string             `json:"id,omitempty"`
	Algorithm  string             `json:"algorithm,omitempty"`
	TotalDelay float64            `json:"total_delay,omitempty"`
	Status     string             `json:"status,omitempty" enum:"Generated,Approved,InExecution,Closed"`
	PlanDate   string             `json:"plan_date" example:"2025-03-10"`
	Operations []OperationRequest `json:"operations"`
}

type RevisePlanRequest struct {
	ReasonForChange string             `json:"reason_for_change"`
	Operations      []OperationRequest `json:"operations"`
	Status          *string            `json:"status,omitempty" enum:"Generated,Approved,InExecution,Closed"`
}

type PreviewRevisionRequest struct {
	Operations []OperationRequest `json:"operations"`
}

// Response payloads

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedExecutions struct {
	Items      []domain.ExecutionSnapshot `json:"items"`
	NextCursor string                     `json:"next_cursor,omitempty"`
}

type paginatedTasks struct {
	Items      []domain.TaskSnapshot `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type ReviseResponse struct {
	Plan     domain.PlanSnapshot     `json:"plan"`
	Warnings []domain.ConflictReport `json:"warnings"`
}

type PreviewResponse struct {
	Reports  []domain.ConflictReport `json:"reports"`
	Blocking bool                    `json:"blocking"`
}

// Conversion helpers

func executedOperations(in []ExecutedOperationRequest) []domain.ExecutedOperation {
	out := make([]domain.ExecutedOperation, 0, len(in))
	for _, op := range in {
		res := make([]domain.ResourceUsage, 0, len(op.ResourcesUsed))
		for _, r := range op.ResourcesUsed {
			res = append(res, domain.ResourceUsage(r))
		}
		out = append(out, domain.ExecutedOperation{
			PlannedOperationID: op.PlannedOperationID,
			ActualStart:        op.ActualStart,
			ActualEnd:          op.ActualEnd,
			ResourcesUsed:      res,
			Status:             domain.OperationStatus(op.Status),
			Note:               op.Note,
		})
	}
	return out
}

func operations(in []OperationRequest) []domain.Operation {
	out := make([]domain.Operation, 0, len(in))
	for _, op := range in {
		out = append(out, domain.Operation{
			ID:                op.ID,
			VisitRef:          op.VisitRef,
			Vessel:            op.Vessel,
			Dock:              op.Dock,
			Crane:             op.Crane,
			CraneCountUsed:    op.CraneCountUsed,
			TotalCranesOnDock: op.TotalCranesOnDock,
			Start:             op.Start,
			End:               op.End,
			LoadingMinutes:    op.LoadingMinutes,
			UnloadingMinutes:  op.UnloadingMinutes,
			Staff:             op.Staff,
			ExecutionStatus:   domain.OperationStatus(op.ExecutionStatus),
			ActualStart:       op.ActualStart,
			ActualEnd:         op.ActualEnd,
		})
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
