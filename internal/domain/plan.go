package domain

import (
	"strings"
	"time"
)

type PlanStatus string

const (
	PlanGenerated   PlanStatus = "Generated"
	PlanApproved    PlanStatus = "Approved"
	PlanInExecution PlanStatus = "InExecution"
	PlanClosed      PlanStatus = "Closed"
)

func (s PlanStatus) valid() bool {
	switch s {
	case PlanGenerated, PlanApproved, PlanInExecution, PlanClosed:
		return true
	}
	return false
}

// PlanDateLayout is the layout of OperationPlan.PlanDate.
const PlanDateLayout = "2006-01-02"

// Operation is one planned resource-to-visit assignment. The execution fields mirror
// what the visit execution recorded for the operation with the same ID.
type Operation struct {
	ID                string          `json:"id" yaml:"id"`
	VisitRef          string          `json:"visit_ref" yaml:"visit_ref"`
	Vessel            string          `json:"vessel" yaml:"vessel"`
	Dock              string          `json:"dock" yaml:"dock"`
	Crane             string          `json:"crane,omitempty" yaml:"crane,omitempty"`
	CraneCountUsed    int             `json:"crane_count_used" yaml:"crane_count_used"`
	TotalCranesOnDock int             `json:"total_cranes_on_dock" yaml:"total_cranes_on_dock"`
	Start             time.Time       `json:"start" yaml:"start"`
	End               time.Time       `json:"end" yaml:"end"`
	LoadingMinutes    int             `json:"loading_minutes" yaml:"loading_minutes"`
	UnloadingMinutes  int             `json:"unloading_minutes" yaml:"unloading_minutes"`
	Staff             []string        `json:"staff,omitempty" yaml:"staff,omitempty"`
	ExecutionStatus   OperationStatus `json:"execution_status,omitempty" yaml:"execution_status,omitempty"`
	ActualStart       *time.Time      `json:"actual_start,omitempty" yaml:"actual_start,omitempty"`
	ActualEnd         *time.Time      `json:"actual_end,omitempty" yaml:"actual_end,omitempty"`
}

// Overlaps uses half-open intervals.
func (o Operation) Overlaps(other Operation) bool {
	return o.Start.Before(other.End) && other.Start.Before(o.End)
}

func (o Operation) validate() error {
	switch {
	case strings.TrimSpace(o.ID) == "":
		return Invalid("operation id is required")
	case strings.TrimSpace(o.VisitRef) == "":
		return Invalid("operation %s: visit reference is required", o.ID)
	case strings.TrimSpace(o.Dock) == "":
		return Invalid("operation %s: dock is required", o.ID)
	case o.Start.IsZero() || o.End.IsZero():
		return Invalid("operation %s: start and end are required", o.ID)
	case !o.Start.Before(o.End):
		return Invalid("operation %s: start must precede end", o.ID)
	case o.CraneCountUsed < 0 || o.TotalCranesOnDock < 0:
		return Invalid("operation %s: crane counts must not be negative", o.ID)
	case o.TotalCranesOnDock > 0 && o.CraneCountUsed > o.TotalCranesOnDock:
		return Invalid("operation %s: uses %d cranes but dock %s has %d", o.ID, o.CraneCountUsed, o.Dock, o.TotalCranesOnDock)
	case o.LoadingMinutes < 0 || o.UnloadingMinutes < 0:
		return Invalid("operation %s: durations must not be negative", o.ID)
	case o.ExecutionStatus != "" && !o.ExecutionStatus.valid():
		return Invalid("operation %s: unknown execution status %q", o.ID, o.ExecutionStatus)
	}
	return nil
}

type PlanSnapshot struct {
	ID         string      `json:"id" yaml:"id"`
	Algorithm  string      `json:"algorithm" yaml:"algorithm"`
	TotalDelay float64     `json:"total_delay" yaml:"total_delay"`
	Status     PlanStatus  `json:"status" yaml:"status"`
	PlanDate   string      `json:"plan_date" yaml:"plan_date"`
	Author     string      `json:"author" yaml:"author"`
	Operations []Operation `json:"operations" yaml:"operations"`
	CreatedAt  time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time   `json:"updated_at" yaml:"-"`
	Version    int         `json:"version" yaml:"-"`
}

// PlanAuditEntry records one accepted revision of a visit's operations.
type PlanAuditEntry struct {
	ID       int64       `json:"id,omitempty"`
	PlanID   string      `json:"plan_id"`
	VisitRef string      `json:"visit_ref"`
	At       time.Time   `json:"at"`
	Author   string      `json:"author"`
	Reason   string      `json:"reason"`
	Before   []Operation `json:"before"`
	After    []Operation `json:"after"`
}

// OperationPlan owns a day's set of operations.
type OperationPlan struct {
	s PlanSnapshot
}

// NewPlan validates an externally produced plan. Operations must already carry ids.
func NewPlan(s PlanSnapshot, now time.Time) (*OperationPlan, error) {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return nil, Invalid("plan id is required")
	case strings.TrimSpace(s.Author) == "":
		return nil, Invalid("plan author is required")
	}
	if _, err := time.Parse(PlanDateLayout, s.PlanDate); err != nil {
		return nil, Invalid("plan date %q must be YYYY-MM-DD", s.PlanDate)
	}
	if s.Status == "" {
		s.Status = PlanGenerated
	}
	if !s.Status.valid() {
		return nil, Invalid("unknown plan status %q", s.Status)
	}
	ops := copyOperations(s.Operations)
	if err := validateOperationSet(ops); err != nil {
		return nil, err
	}
	s.Operations = ops
	s.CreatedAt = now.UTC()
	s.UpdatedAt = now.UTC()
	s.Version = 0
	return &OperationPlan{s: s}, nil
}

func RestorePlan(s PlanSnapshot) *OperationPlan {
	s.Operations = copyOperations(s.Operations)
	return &OperationPlan{s: s}
}

func (p *OperationPlan) Snapshot() PlanSnapshot {
	out := p.s
	out.Operations = copyOperations(p.s.Operations)
	return out
}

func (p *OperationPlan) ID() string         { return p.s.ID }
func (p *OperationPlan) Version() int       { return p.s.Version }
func (p *OperationPlan) Status() PlanStatus { return p.s.Status }

func (p *OperationPlan) Operations() []Operation {
	return copyOperations(p.s.Operations)
}

// OperationsFor returns the subset of operations belonging to visitRef, in plan order.
func (p *OperationPlan) OperationsFor(visitRef string) []Operation {
	var out []Operation
	for _, op := range p.s.Operations {
		if op.VisitRef == visitRef {
			out = append(out, op)
		}
	}
	return copyOperations(out)
}

// UpdateForVisit replaces every operation of visitRef with ops. Replacements take the slot of
// the first replaced operation, or are appended when the visit had none. Operations without a
// visit reference are attributed to visitRef. A replacement that keeps the id of a mirrored
// operation keeps its execution facts. Nothing changes when validation fails.
func (p *OperationPlan) UpdateForVisit(visitRef string, ops []Operation, status *PlanStatus, now time.Time) error {
	if strings.TrimSpace(visitRef) == "" {
		return Invalid("visit reference is required")
	}
	if status != nil && !status.valid() {
		return Invalid("unknown plan status %q", *status)
	}
	incoming := copyOperations(ops)
	for i := range incoming {
		if incoming[i].VisitRef == "" {
			incoming[i].VisitRef = visitRef
		}
		if incoming[i].VisitRef != visitRef {
			return Invalid("operation %s belongs to visit %s, not %s", incoming[i].ID, incoming[i].VisitRef, visitRef)
		}
	}

	mirrored := map[string]Operation{}
	for _, op := range p.s.Operations {
		if op.VisitRef == visitRef && op.ExecutionStatus != "" {
			mirrored[op.ID] = op
		}
	}
	for i := range incoming {
		if prev, ok := mirrored[incoming[i].ID]; ok {
			incoming[i].ExecutionStatus = prev.ExecutionStatus
			incoming[i].ActualStart = copyTime(prev.ActualStart)
			incoming[i].ActualEnd = copyTime(prev.ActualEnd)
		}
	}

	next := make([]Operation, 0, len(p.s.Operations)+len(incoming))
	inserted := false
	for _, op := range p.s.Operations {
		if op.VisitRef != visitRef {
			next = append(next, op)
			continue
		}
		if !inserted {
			next = append(next, incoming...)
			inserted = true
		}
	}
	if !inserted {
		next = append(next, incoming...)
	}
	if err := validateOperationSet(next); err != nil {
		return err
	}

	p.s.Operations = copyOperations(next)
	if status != nil {
		p.s.Status = *status
	}
	p.s.UpdatedAt = now.UTC()
	return nil
}

// MirrorExecution copies execution facts onto the operations they reference. Applying the same
// facts twice is a no-op; it reports whether anything changed.
func (p *OperationPlan) MirrorExecution(executed []ExecutedOperation, now time.Time) bool {
	changed := false
	for _, e := range executed {
		for i := range p.s.Operations {
			op := &p.s.Operations[i]
			if op.ID != e.PlannedOperationID {
				continue
			}
			if op.ExecutionStatus != e.Status || !sameTime(op.ActualStart, e.ActualStart) || !sameTime(op.ActualEnd, e.ActualEnd) {
				op.ExecutionStatus = e.Status
				op.ActualStart = copyTime(e.ActualStart)
				op.ActualEnd = copyTime(e.ActualEnd)
				changed = true
			}
		}
	}
	if changed {
		p.s.UpdatedAt = now.UTC()
	}
	return changed
}

func validateOperationSet(ops []Operation) error {
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		if err := op.validate(); err != nil {
			return err
		}
		if _, dup := seen[op.ID]; dup {
			return Invalid("duplicate operation id %s", op.ID)
		}
		seen[op.ID] = struct{}{}
	}
	return nil
}

func copyOperations(in []Operation) []Operation {
	out := make([]Operation, len(in))
	for i, op := range in {
		out[i] = op
		if op.Staff != nil {
			out[i].Staff = append([]string(nil), op.Staff...)
		}
		out[i].ActualStart = copyTime(op.ActualStart)
		out[i].ActualEnd = copyTime(op.ActualEnd)
	}
	return out
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
