package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"portcall/internal/domain"
	"portcall/internal/events"
	"portcall/internal/repo"
)

type CreateTaskOptions struct {
	CategoryCode string
	StaffID      string
	Start        time.Time
	// End defaults to Start plus the category's default duration.
	End         *time.Time
	ExecutionID string
	ActorID     string
}

// CreateTask schedules a complementary task. Its code is the category code followed by the next
// number issued under that prefix.
func (e Engine) CreateTask(ctx context.Context, opts CreateTaskOptions) (snap domain.TaskSnapshot, err error) {
	defer e.observe("task.create", &err)
	if err := required(map[string]string{"category": opts.CategoryCode, "actor id": opts.ActorID, "visit execution": opts.ExecutionID}); err != nil {
		return domain.TaskSnapshot{}, err
	}
	if opts.Start.IsZero() {
		return domain.TaskSnapshot{}, domain.Invalid("start time is required")
	}
	category, err := e.Repo.GetTaskCategory(ctx, strings.ToUpper(opts.CategoryCode))
	if err != nil {
		return domain.TaskSnapshot{}, storeErr(err, "task category "+opts.CategoryCode)
	}
	exec, err := e.GetExecution(ctx, opts.ExecutionID)
	if err != nil {
		return domain.TaskSnapshot{}, err
	}
	window, err := defaultWindow(stamp(opts.Start), stampPtr(opts.End), category)
	if err != nil {
		return domain.TaskSnapshot{}, err
	}

	now := e.now()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		n, err := e.Repo.NextTaskNumber(ctx, tx, category.Code)
		if err != nil {
			return err
		}
		code, err := domain.NewTaskCode(category.Code, n)
		if err != nil {
			return err
		}
		task, err := domain.NewTask(domain.NewTaskProps{
			ID:          uuid.NewString(),
			Code:        code,
			StaffID:     opts.StaffID,
			Window:      window,
			ExecutionID: exec.ID,
		}, now)
		if err != nil {
			return err
		}
		snap = task.Snapshot()
		if err := e.Repo.InsertTask(ctx, tx, snap); err != nil {
			return storeErr(err, "task "+snap.Code)
		}
		return e.emit(ctx, tx, events.TaskCreated, events.KindTask, snap.ID, opts.ActorID, events.EventPayload{
			"code":         snap.Code,
			"execution_id": snap.ExecutionID,
		})
	})
	if err != nil {
		return domain.TaskSnapshot{}, err
	}
	snap.Version = 1
	return snap, nil
}

func defaultWindow(start time.Time, end *time.Time, category domain.TaskCategory) (domain.TimeWindow, error) {
	if end != nil {
		return domain.TimeWindow{Start: start, End: *end}, nil
	}
	if category.DefaultMinutes <= 0 {
		return domain.TimeWindow{}, domain.Invalid("end time is required: category %s has no default duration", category.Code)
	}
	return domain.TimeWindow{Start: start, End: start.Add(time.Duration(category.DefaultMinutes) * time.Minute)}, nil
}

type UpdateTaskOptions struct {
	Code         string
	CategoryCode *string
	StaffID      *string
	Start        *time.Time
	End          *time.Time
	ExecutionID  *string
	ActorID      string
}

func (e Engine) UpdateTask(ctx context.Context, opts UpdateTaskOptions) (snap domain.TaskSnapshot, err error) {
	defer e.observe("task.update", &err)
	if err := required(map[string]string{"actor id": opts.ActorID}); err != nil {
		return domain.TaskSnapshot{}, err
	}
	task, err := e.loadTask(ctx, opts.Code)
	if err != nil {
		return domain.TaskSnapshot{}, err
	}
	current := task.Snapshot()
	details := domain.TaskDetails{StaffID: opts.StaffID}
	if opts.CategoryCode != nil {
		category, err := e.Repo.GetTaskCategory(ctx, strings.ToUpper(*opts.CategoryCode))
		if err != nil {
			return domain.TaskSnapshot{}, storeErr(err, "task category "+*opts.CategoryCode)
		}
		details.CategoryCode = &category.Code
	}
	if opts.ExecutionID != nil {
		exec, err := e.GetExecution(ctx, *opts.ExecutionID)
		if err != nil {
			return domain.TaskSnapshot{}, err
		}
		details.ExecutionID = &exec.ID
	}
	if opts.Start != nil || opts.End != nil {
		w := current.Window
		if opts.Start != nil {
			w.Start = stamp(*opts.Start)
		}
		if opts.End != nil {
			w.End = stamp(*opts.End)
		}
		details.Window = &w
	}
	if err := task.ChangeDetails(details, e.now()); err != nil {
		return domain.TaskSnapshot{}, err
	}
	return e.saveTask(ctx, task, events.TaskUpdated, opts.ActorID, events.EventPayload{"code": current.Code})
}

type ChangeTaskStatusOptions struct {
	Code    string
	Status  string
	ActorID string
}

func (e Engine) ChangeTaskStatus(ctx context.Context, opts ChangeTaskStatusOptions) (snap domain.TaskSnapshot, err error) {
	defer e.observe("task.status", &err)
	if err := required(map[string]string{"actor id": opts.ActorID}); err != nil {
		return domain.TaskSnapshot{}, err
	}
	target, err := domain.ParseTaskStatus(opts.Status)
	if err != nil {
		return domain.TaskSnapshot{}, err
	}
	task, err := e.loadTask(ctx, opts.Code)
	if err != nil {
		return domain.TaskSnapshot{}, err
	}
	from := task.Status()
	if err := task.ChangeStatus(target, e.now()); err != nil {
		return domain.TaskSnapshot{}, err
	}
	return e.saveTask(ctx, task, events.TaskStatusChanged, opts.ActorID, events.EventPayload{
		"code": task.Code(),
		"from": from,
		"to":   target,
	})
}

func (e Engine) GetTask(ctx context.Context, code string) (domain.TaskSnapshot, error) {
	task, err := e.loadTask(ctx, code)
	if err != nil {
		return domain.TaskSnapshot{}, err
	}
	return task.Snapshot(), nil
}

// ListTasks resolves an execution code filter to its id.
func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.TaskSnapshot, error) {
	if f.ExecutionID != "" {
		exec, err := e.GetExecution(ctx, f.ExecutionID)
		if err != nil {
			return nil, err
		}
		f.ExecutionID = exec.ID
	}
	return e.Repo.ListTasks(ctx, f)
}

func (e Engine) loadTask(ctx context.Context, raw string) (*domain.ComplementaryTask, error) {
	code, err := domain.ParseTaskCode(raw)
	if err != nil {
		return nil, err
	}
	snap, err := e.Repo.GetTaskByCode(ctx, code.String())
	if err != nil {
		return nil, storeErr(err, "task "+code.String())
	}
	return domain.RestoreTask(snap), nil
}

func (e Engine) saveTask(ctx context.Context, task *domain.ComplementaryTask, evtType, actorID string, payload events.EventPayload) (domain.TaskSnapshot, error) {
	snap := task.Snapshot()
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateTask(ctx, tx, snap); err != nil {
			return storeErr(err, "task "+snap.Code)
		}
		return e.emit(ctx, tx, evtType, events.KindTask, snap.ID, actorID, payload)
	})
	if err != nil {
		return domain.TaskSnapshot{}, err
	}
	snap.Version++
	return snap, nil
}
