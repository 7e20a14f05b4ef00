package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"portcall/internal/domain"
)

const taskColumns = `id,code,category_code,staff_id,start_at,end_at,status,execution_id,created_at,updated_at,version`

func scanTask(row rowScanner) (domain.TaskSnapshot, error) {
	var (
		s                                domain.TaskSnapshot
		start, end, createdAt, updatedAt string
	)
	err := row.Scan(&s.ID, &s.Code, &s.CategoryCode, &s.StaffID, &start, &end, &s.Status, &s.ExecutionID, &createdAt, &updatedAt, &s.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if s.Window.Start, err = parseTime(start); err != nil {
		return s, err
	}
	if s.Window.End, err = parseTime(end); err != nil {
		return s, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return s, err
	}
	return s, nil
}

// InsertTask stores a new task; prefix and number are split out of code for sequencing.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, s domain.TaskSnapshot) error {
	code, err := domain.ParseTaskCode(s.Code)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,code,prefix,number,category_code,staff_id,start_at,end_at,status,execution_id,created_at,updated_at,version)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,1)`,
		s.ID, s.Code, code.Prefix(), code.Number(), s.CategoryCode, s.StaffID, formatTime(s.Window.Start), formatTime(s.Window.End),
		s.Status, s.ExecutionID, formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	return mapConstraint(err)
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, s domain.TaskSnapshot) error {
	return checkVersioned(r.q(tx).ExecContext(ctx, `UPDATE tasks SET category_code=?, staff_id=?, start_at=?, end_at=?, status=?, execution_id=?, updated_at=?, version=version+1
WHERE id=? AND version=?`,
		s.CategoryCode, s.StaffID, formatTime(s.Window.Start), formatTime(s.Window.End), s.Status, s.ExecutionID,
		formatTime(s.UpdatedAt), s.ID, s.Version))
}

func (r Repo) GetTaskByCode(ctx context.Context, code string) (domain.TaskSnapshot, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE code=?`, code))
}

// NextTaskNumber returns one more than the highest number issued under prefix.
func (r Repo) NextTaskNumber(ctx context.Context, tx *sql.Tx, prefix string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(number),0) FROM tasks WHERE prefix=?`, prefix).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

type TaskFilters struct {
	ExecutionID     string
	Status          string
	StaffID         string
	CategoryCode    string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.TaskSnapshot, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ExecutionID != "" {
		clauses = append(clauses, "execution_id=?")
		args = append(args, f.ExecutionID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.StaffID != "" {
		clauses = append(clauses, "staff_id=?")
		args = append(args, f.StaffID)
	}
	if f.CategoryCode != "" {
		clauses = append(clauses, "category_code=?")
		args = append(args, strings.ToUpper(f.CategoryCode))
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskSnapshot
	for rows.Next() {
		s, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
