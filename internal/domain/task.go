package domain

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskScheduled  TaskStatus = "Scheduled"
	TaskInProgress TaskStatus = "InProgress"
	TaskCompleted  TaskStatus = "Completed"
)

func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case TaskScheduled, TaskInProgress, TaskCompleted:
		return TaskStatus(s), nil
	}
	return "", Invalid("unknown task status %q", s)
}

// TimeWindow is the half-open scheduling window of a complementary task.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w TimeWindow) validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return Invalid("time window start and end are required")
	}
	if !w.Start.Before(w.End) {
		return ruleErr(CodeInvalidTimeWindow, "start %s must precede end %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// Contains is inclusive at both ends.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

type TaskSnapshot struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	CategoryCode string     `json:"category_code"`
	StaffID      string     `json:"staff_id"`
	Window       TimeWindow `json:"window"`
	Status       TaskStatus `json:"status"`
	ExecutionID  string     `json:"execution_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int        `json:"version"`
}

// ComplementaryTask is an auxiliary activity scheduled against a visit execution.
type ComplementaryTask struct {
	s TaskSnapshot
}

type NewTaskProps struct {
	ID          string
	Code        TaskCode
	StaffID     string
	Window      TimeWindow
	ExecutionID string
}

// NewTask requires a complete window; callers derive a missing end from the category default.
func NewTask(p NewTaskProps, now time.Time) (*ComplementaryTask, error) {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return nil, Invalid("task id is required")
	case p.Code.IsZero():
		return nil, Invalid("task code is required")
	case strings.TrimSpace(p.StaffID) == "":
		return nil, Invalid("staff id is required")
	case strings.TrimSpace(p.ExecutionID) == "":
		return nil, Invalid("visit execution reference is required")
	}
	if err := p.Window.validate(); err != nil {
		return nil, err
	}
	if p.Window.Start.Before(now) {
		return nil, ruleErr(CodeWindowInPast, "start %s is before %s", p.Window.Start.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return &ComplementaryTask{s: TaskSnapshot{
		ID:           p.ID,
		Code:         p.Code.String(),
		CategoryCode: p.Code.Prefix(),
		StaffID:      p.StaffID,
		Window:       TimeWindow{Start: p.Window.Start.UTC(), End: p.Window.End.UTC()},
		Status:       TaskScheduled,
		ExecutionID:  p.ExecutionID,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}}, nil
}

func RestoreTask(s TaskSnapshot) *ComplementaryTask {
	return &ComplementaryTask{s: s}
}

func (t *ComplementaryTask) Snapshot() TaskSnapshot { return t.s }
func (t *ComplementaryTask) Code() string           { return t.s.Code }
func (t *ComplementaryTask) Status() TaskStatus     { return t.s.Status }
func (t *ComplementaryTask) Version() int           { return t.s.Version }

func (t *ComplementaryTask) requireNotCompleted() error {
	if t.s.Status == TaskCompleted {
		return ruleErr(CodeTaskCompleted, "task %s is completed", t.s.Code)
	}
	return nil
}

func (t *ComplementaryTask) ChangeStatus(target TaskStatus, now time.Time) error {
	if err := t.requireNotCompleted(); err != nil {
		return err
	}
	switch target {
	case TaskScheduled:
		return t.toScheduled(now)
	case TaskInProgress:
		return t.toInProgress(now)
	case TaskCompleted:
		return t.toCompleted(now)
	}
	return Invalid("unknown task status %q", target)
}

func (t *ComplementaryTask) toScheduled(now time.Time) error {
	t.s.Status = TaskScheduled
	t.s.UpdatedAt = now.UTC()
	return nil
}

func (t *ComplementaryTask) toInProgress(now time.Time) error {
	if t.s.Status != TaskScheduled {
		return ruleErr(CodeInvalidTransition, "%s -> %s", t.s.Status, TaskInProgress)
	}
	if !t.s.Window.Contains(now) {
		return ruleErr(CodeOutsideTimeWindow, "%s is outside [%s, %s]", now.Format(time.RFC3339),
			t.s.Window.Start.Format(time.RFC3339), t.s.Window.End.Format(time.RFC3339))
	}
	t.s.Status = TaskInProgress
	t.s.UpdatedAt = now.UTC()
	return nil
}

func (t *ComplementaryTask) toCompleted(now time.Time) error {
	if t.s.Status != TaskInProgress {
		return ruleErr(CodeInvalidTransition, "%s -> %s", t.s.Status, TaskCompleted)
	}
	if now.Before(t.s.Window.End) {
		return ruleErr(CodeWindowNotElapsed, "window ends at %s", t.s.Window.End.Format(time.RFC3339))
	}
	t.s.Status = TaskCompleted
	t.s.UpdatedAt = now.UTC()
	return nil
}

// TaskDetails lists the editable fields; nil means unchanged.
type TaskDetails struct {
	CategoryCode *string
	StaffID      *string
	Window       *TimeWindow
	ExecutionID  *string
}

// ChangeDetails re-validates the window with the creation rule but not against the clock.
// Changing the category does not rename the task code.
func (t *ComplementaryTask) ChangeDetails(d TaskDetails, now time.Time) error {
	if err := t.requireNotCompleted(); err != nil {
		return err
	}
	next := t.s
	if d.CategoryCode != nil {
		c := strings.ToUpper(strings.TrimSpace(*d.CategoryCode))
		if c == "" {
			return Invalid("category code must not be empty")
		}
		next.CategoryCode = c
	}
	if d.StaffID != nil {
		if strings.TrimSpace(*d.StaffID) == "" {
			return Invalid("staff id must not be empty")
		}
		next.StaffID = *d.StaffID
	}
	if d.Window != nil {
		if err := d.Window.validate(); err != nil {
			return err
		}
		next.Window = TimeWindow{Start: d.Window.Start.UTC(), End: d.Window.End.UTC()}
	}
	if d.ExecutionID != nil {
		if strings.TrimSpace(*d.ExecutionID) == "" {
			return Invalid("visit execution reference must not be empty")
		}
		next.ExecutionID = *d.ExecutionID
	}
	next.UpdatedAt = now.UTC()
	t.s = next
	return nil
}
