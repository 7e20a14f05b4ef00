package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded by the engine.
const (
	ExecutionCreated           = "execution.created"
	ExecutionBerthUpdated      = "execution.berth.updated"
	ExecutionOperationsUpdated = "execution.operations.updated"
	ExecutionCompleted         = "execution.completed"
	TaskCreated                = "task.created"
	TaskUpdated                = "task.updated"
	TaskStatusChanged          = "task.status.changed"
	PlanImported               = "plan.imported"
	PlanRevised                = "plan.revised"
	PlanMirrored               = "plan.mirrored"
	VisitRegistered            = "visit.registered"
)

// Entity kinds.
const (
	KindExecution = "execution"
	KindTask      = "task"
	KindPlan      = "plan"
	KindVisit     = "visit"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction so it commits with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
