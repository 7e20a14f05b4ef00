package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"portcall/internal/domain"
)

const planColumns = `id,algorithm,total_delay,status,plan_date,author,operations_json,created_at,updated_at,version`

func scanPlan(row rowScanner) (domain.PlanSnapshot, error) {
	var (
		s                         domain.PlanSnapshot
		ops, createdAt, updatedAt string
	)
	err := row.Scan(&s.ID, &s.Algorithm, &s.TotalDelay, &s.Status, &s.PlanDate, &s.Author, &ops, &createdAt, &updatedAt, &s.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(ops), &s.Operations); err != nil {
		return s, fmt.Errorf("plan %s operations: %w", s.ID, err)
	}
	return s, nil
}

func (r Repo) InsertPlan(ctx context.Context, tx *sql.Tx, s domain.PlanSnapshot) error {
	ops, err := json.Marshal(s.Operations)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO plans(`+planColumns+`) VALUES (?,?,?,?,?,?,?,?,?,1)`,
		s.ID, s.Algorithm, s.TotalDelay, s.Status, s.PlanDate, s.Author, string(ops), formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	return mapConstraint(err)
}

// UpdatePlan writes s when the stored version still equals s.Version and bumps it.
func (r Repo) UpdatePlan(ctx context.Context, tx *sql.Tx, s domain.PlanSnapshot) error {
	ops, err := json.Marshal(s.Operations)
	if err != nil {
		return err
	}
	return checkVersioned(r.q(tx).ExecContext(ctx, `UPDATE plans SET status=?, total_delay=?, operations_json=?, updated_at=?, version=version+1 WHERE id=? AND version=?`,
		s.Status, s.TotalDelay, string(ops), formatTime(s.UpdatedAt), s.ID, s.Version))
}

func (r Repo) GetPlan(ctx context.Context, id string) (domain.PlanSnapshot, error) {
	return scanPlan(r.DB.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id=?`, id))
}

// ListPlans returns plans newest first, optionally restricted to one plan date.
func (r Repo) ListPlans(ctx context.Context, planDate string, limit int) ([]domain.PlanSnapshot, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	var args []any
	if planDate != "" {
		query += ` WHERE plan_date=?`
		args = append(args, planDate)
	}
	query += ` ORDER BY plan_date DESC, created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanSnapshot
	for rows.Next() {
		s, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// PlansReferencingVisit returns plans holding at least one operation of visitRef.
func (r Repo) PlansReferencingVisit(ctx context.Context, visitRef string) ([]domain.PlanSnapshot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+planColumns+` FROM plans
WHERE EXISTS (SELECT 1 FROM json_each(plans.operations_json) WHERE json_extract(json_each.value,'$.visit_ref')=?)
ORDER BY id`, visitRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanSnapshot
	for rows.Next() {
		s, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) AppendPlanAudit(ctx context.Context, tx *sql.Tx, e domain.PlanAuditEntry) error {
	before, err := json.Marshal(e.Before)
	if err != nil {
		return err
	}
	after, err := json.Marshal(e.After)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO plan_audit(plan_id,visit_ref,ts,author,reason,before_json,after_json) VALUES (?,?,?,?,?,?,?)`,
		e.PlanID, e.VisitRef, formatTime(e.At), e.Author, e.Reason, string(before), string(after))
	return err
}

func (r Repo) ListPlanAudit(ctx context.Context, planID, visitRef string) ([]domain.PlanAuditEntry, error) {
	query := `SELECT id,plan_id,visit_ref,ts,author,reason,before_json,after_json FROM plan_audit WHERE plan_id=?`
	args := []any{planID}
	if visitRef != "" {
		query += ` AND visit_ref=?`
		args = append(args, visitRef)
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanAuditEntry
	for rows.Next() {
		var (
			e                 domain.PlanAuditEntry
			ts, before, after string
		)
		if err := rows.Scan(&e.ID, &e.PlanID, &e.VisitRef, &ts, &e.Author, &e.Reason, &before, &after); err != nil {
			return nil, err
		}
		if e.At, err = parseTime(ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(before), &e.Before); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(after), &e.After); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
