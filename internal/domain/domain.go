package domain

// Visit is the planned vessel call an execution is recorded against.
type Visit struct {
	ID               string `json:"id"`
	VesselID         string `json:"vessel_id"`
	PlannedArrival   string `json:"planned_arrival" format:"date-time"`
	PlannedDeparture string `json:"planned_departure,omitempty" format:"date-time"`
	DockID           string `json:"dock_id,omitempty"`
	CreatedAt        string `json:"created_at" format:"date-time"`
}

// TaskCategory owns the code prefix of its complementary tasks.
type TaskCategory struct {
	Code           string `json:"code"`
	Description    string `json:"description,omitempty"`
	DefaultMinutes int    `json:"default_minutes"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
