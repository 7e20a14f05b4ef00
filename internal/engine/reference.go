package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"portcall/internal/domain"
	"portcall/internal/events"
	"portcall/internal/repo"
)

type RegisterVisitOptions struct {
	ID               string
	VesselID         string
	PlannedArrival   time.Time
	PlannedDeparture *time.Time
	DockID           string
	ActorID          string
}

// RegisterVisit records a planned visit so executions can reference it.
func (e Engine) RegisterVisit(ctx context.Context, opts RegisterVisitOptions) (v domain.Visit, err error) {
	defer e.observe("visit.register", &err)
	if err := required(map[string]string{"visit id": opts.ID, "vessel id": opts.VesselID, "actor id": opts.ActorID}); err != nil {
		return domain.Visit{}, err
	}
	if opts.PlannedArrival.IsZero() {
		return domain.Visit{}, domain.Invalid("planned arrival is required")
	}
	v = domain.Visit{
		ID:             opts.ID,
		VesselID:       opts.VesselID,
		PlannedArrival: opts.PlannedArrival.UTC().Format(time.RFC3339),
		DockID:         opts.DockID,
		CreatedAt:      e.now().Format(time.RFC3339),
	}
	if opts.PlannedDeparture != nil {
		if opts.PlannedDeparture.Before(opts.PlannedArrival) {
			return domain.Visit{}, domain.Invalid("planned departure precedes planned arrival")
		}
		v.PlannedDeparture = opts.PlannedDeparture.UTC().Format(time.RFC3339)
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertVisit(ctx, tx, v); err != nil {
			return storeErr(err, "visit "+opts.ID)
		}
		return e.emit(ctx, tx, events.VisitRegistered, events.KindVisit, v.ID, opts.ActorID, events.EventPayload{"vessel_id": v.VesselID})
	})
	if err != nil {
		return domain.Visit{}, err
	}
	return v, nil
}

func (e Engine) GetVisit(ctx context.Context, id string) (domain.Visit, error) {
	v, err := e.Repo.GetVisit(ctx, id)
	return v, storeErr(err, "visit "+id)
}

func (e Engine) ListVisits(ctx context.Context, limit int) ([]domain.Visit, error) {
	return e.Repo.ListVisits(ctx, limit)
}

// SyncTaskCategories upserts the configured category catalog.
func (e Engine) SyncTaskCategories(ctx context.Context) error {
	for _, c := range e.config().TaskCategories {
		cat := domain.TaskCategory{
			Code:           strings.ToUpper(c.Code),
			Description:    c.Description,
			DefaultMinutes: int(c.DefaultDuration / time.Minute),
		}
		if err := e.Repo.UpsertTaskCategory(ctx, cat); err != nil {
			return err
		}
	}
	return nil
}

func (e Engine) ListTaskCategories(ctx context.Context) ([]domain.TaskCategory, error) {
	return e.Repo.ListTaskCategories(ctx)
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
