package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"portcall/internal/domain"
)

const executionColumns = `id,code,visit_id,vessel_id,arrival_at,status,berth_at,dock_id,dock_note,unberth_at,leave_at,executed_ops_json,created_by,created_at,updated_at,version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (domain.ExecutionSnapshot, error) {
	var (
		s                                  domain.ExecutionSnapshot
		arrival, createdAt, updatedAt, ops string
		berth, dock, note, unberth, leave  sql.NullString
	)
	err := row.Scan(&s.ID, &s.Code, &s.VisitID, &s.VesselID, &arrival, &s.Status, &berth, &dock, &note, &unberth, &leave, &ops, &s.CreatedBy, &createdAt, &updatedAt, &s.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if s.ActualArrival, err = parseTime(arrival); err != nil {
		return s, fmt.Errorf("execution %s arrival: %w", s.ID, err)
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return s, err
	}
	if s.ActualBerth, err = parseNullTime(berth); err != nil {
		return s, err
	}
	if s.ActualUnberth, err = parseNullTime(unberth); err != nil {
		return s, err
	}
	if s.ActualLeavePort, err = parseNullTime(leave); err != nil {
		return s, err
	}
	s.ActualDockID = dock.String
	s.DockNote = note.String
	if err := json.Unmarshal([]byte(ops), &s.ExecutedOperations); err != nil {
		return s, fmt.Errorf("execution %s operations: %w", s.ID, err)
	}
	return s, nil
}

func (r Repo) InsertExecution(ctx context.Context, tx *sql.Tx, s domain.ExecutionSnapshot) error {
	ops, err := json.Marshal(s.ExecutedOperations)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO executions(`+executionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,1)`,
		s.ID, s.Code, s.VisitID, s.VesselID, formatTime(s.ActualArrival), s.Status, nullableTime(s.ActualBerth), nullable(s.ActualDockID),
		nullable(s.DockNote), nullableTime(s.ActualUnberth), nullableTime(s.ActualLeavePort), string(ops), s.CreatedBy,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	return mapConstraint(err)
}

// UpdateExecution writes s when the stored version still equals s.Version and bumps it.
func (r Repo) UpdateExecution(ctx context.Context, tx *sql.Tx, s domain.ExecutionSnapshot) error {
	ops, err := json.Marshal(s.ExecutedOperations)
	if err != nil {
		return err
	}
	return checkVersioned(r.q(tx).ExecContext(ctx, `UPDATE executions SET status=?, berth_at=?, dock_id=?, dock_note=?, unberth_at=?, leave_at=?, executed_ops_json=?, updated_at=?, version=version+1
WHERE id=? AND version=?`,
		s.Status, nullableTime(s.ActualBerth), nullable(s.ActualDockID), nullable(s.DockNote), nullableTime(s.ActualUnberth),
		nullableTime(s.ActualLeavePort), string(ops), formatTime(s.UpdatedAt), s.ID, s.Version))
}

func (r Repo) GetExecution(ctx context.Context, id string) (domain.ExecutionSnapshot, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id=?`, id))
}

func (r Repo) GetExecutionByCode(ctx context.Context, code string) (domain.ExecutionSnapshot, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE code=?`, code))
}

func (r Repo) GetExecutionByVisit(ctx context.Context, visitID string) (domain.ExecutionSnapshot, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE visit_id=?`, visitID))
}

// NextExecutionSequence returns one more than the highest sequence used in year.
func (r Repo) NextExecutionSequence(ctx context.Context, tx *sql.Tx, year int) (int, error) {
	var last sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT MAX(code) FROM executions WHERE code LIKE ?`, domain.ExecutionCodePrefixForYear(year)+"%").Scan(&last)
	if err != nil {
		return 0, err
	}
	if !last.Valid {
		return 1, nil
	}
	code, err := domain.ParseExecutionCode(last.String)
	if err != nil {
		return 0, err
	}
	return code.Sequence() + 1, nil
}

type ExecutionFilters struct {
	Status          string
	VesselID        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListExecutions(ctx context.Context, f ExecutionFilters) ([]domain.ExecutionSnapshot, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.VesselID != "" {
		clauses = append(clauses, "vessel_id=?")
		args = append(args, f.VesselID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + executionColumns + ` FROM executions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExecutionSnapshot
	for rows.Next() {
		s, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) AppendExecutionAudit(ctx context.Context, tx *sql.Tx, e domain.ExecutionAuditEntry) error {
	before, err := json.Marshal(e.Before)
	if err != nil {
		return err
	}
	after, err := json.Marshal(e.After)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO execution_audit(execution_id,action,actor_id,ts,before_json,after_json) VALUES (?,?,?,?,?,?)`,
		e.ExecutionID, e.Action, e.ActorID, formatTime(e.At), string(before), string(after))
	return err
}

func (r Repo) ListExecutionAudit(ctx context.Context, executionID string) ([]domain.ExecutionAuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,execution_id,action,actor_id,ts,before_json,after_json FROM execution_audit WHERE execution_id=? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExecutionAuditEntry
	for rows.Next() {
		var (
			e                 domain.ExecutionAuditEntry
			ts, before, after string
		)
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Action, &e.ActorID, &ts, &before, &after); err != nil {
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
