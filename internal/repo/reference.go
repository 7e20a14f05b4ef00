package repo

import (
	"context"
	"database/sql"
	"errors"

	"portcall/internal/domain"
)

func (r Repo) InsertVisit(ctx context.Context, tx *sql.Tx, v domain.Visit) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO visits(id,vessel_id,planned_arrival,planned_departure,dock_id,created_at) VALUES (?,?,?,?,?,?)`,
		v.ID, v.VesselID, v.PlannedArrival, nullable(v.PlannedDeparture), nullable(v.DockID), v.CreatedAt)
	return mapConstraint(err)
}

func (r Repo) GetVisit(ctx context.Context, id string) (domain.Visit, error) {
	var (
		v               domain.Visit
		departure, dock sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,vessel_id,planned_arrival,planned_departure,dock_id,created_at FROM visits WHERE id=?`, id).
		Scan(&v.ID, &v.VesselID, &v.PlannedArrival, &departure, &dock, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	v.PlannedDeparture = departure.String
	v.DockID = dock.String
	return v, err
}

func (r Repo) ListVisits(ctx context.Context, limit int) ([]domain.Visit, error) {
	query := `SELECT id,vessel_id,planned_arrival,COALESCE(planned_departure,''),COALESCE(dock_id,''),created_at FROM visits ORDER BY planned_arrival DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Visit
	for rows.Next() {
		var v domain.Visit
		if err := rows.Scan(&v.ID, &v.VesselID, &v.PlannedArrival, &v.PlannedDeparture, &v.DockID, &v.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// UpsertTaskCategory inserts or refreshes a category from the configured catalog.
func (r Repo) UpsertTaskCategory(ctx context.Context, c domain.TaskCategory) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO task_categories(code,description,default_minutes) VALUES (?,?,?)
ON CONFLICT(code) DO UPDATE SET description=excluded.description, default_minutes=excluded.default_minutes`,
		c.Code, nullable(c.Description), c.DefaultMinutes)
	return err
}

func (r Repo) GetTaskCategory(ctx context.Context, code string) (domain.TaskCategory, error) {
	var c domain.TaskCategory
	err := r.DB.QueryRowContext(ctx, `SELECT code,COALESCE(description,''),default_minutes FROM task_categories WHERE code=?`, code).
		Scan(&c.Code, &c.Description, &c.DefaultMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListTaskCategories(ctx context.Context) ([]domain.TaskCategory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT code,COALESCE(description,''),default_minutes FROM task_categories ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskCategory
	for rows.Next() {
		var c domain.TaskCategory
		if err := rows.Scan(&c.Code, &c.Description, &c.DefaultMinutes); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
