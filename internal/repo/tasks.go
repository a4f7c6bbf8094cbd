package repo

import (
	"context"
	"database/sql"
	"strings"

	"stageline/internal/domain"
)

const taskColumns = `id,org_id,project_id,title,description,stage,owner_email,owner_name,priority,due_date,created_at,updated_at`

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrgID, t.ProjectID, t.Title, nullable(t.Description), nullable(t.Stage),
		nullable(t.OwnerEmail), nullable(t.OwnerName), nullableIntPtr(t.Priority), nullableStringPtr(t.DueDate),
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, stage=?, owner_email=?, owner_name=?, priority=?, due_date=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), nullable(t.Stage), nullable(t.OwnerEmail), nullable(t.OwnerName),
		nullableIntPtr(t.Priority), nullableStringPtr(t.DueDate), t.UpdatedAt, t.ID)
	return err
}

// UpdateTaskStageTx moves the task's current-stage pointer. Used by the
// progress engine on auto-advance.
func (r Repo) UpdateTaskStageTx(ctx context.Context, tx *sql.Tx, taskID, stage, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET stage=?, updated_at=? WHERE id=?`, nullable(stage), now, taskID)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func scanTask(row *sql.Row) (domain.Task, error) {
	var t domain.Task
	var description, stage, ownerEmail, ownerName, dueDate sql.NullString
	var priority sql.NullInt64
	err := row.Scan(&t.ID, &t.OrgID, &t.ProjectID, &t.Title, &description, &stage, &ownerEmail, &ownerName, &priority, &dueDate, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if stage.Valid {
		t.Stage = stage.String
	}
	if ownerEmail.Valid {
		t.OwnerEmail = ownerEmail.String
	}
	if ownerName.Valid {
		t.OwnerName = ownerName.String
	}
	if priority.Valid {
		p := int(priority.Int64)
		t.Priority = &p
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	return t, nil
}

type TaskFilters struct {
	ProjectID       string
	Stage           string
	OwnerEmail      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"project_id=?"}
	args := []any{f.ProjectID}
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.OwnerEmail != "" {
		clauses = append(clauses, "owner_email=? COLLATE NOCASE")
		args = append(args, f.OwnerEmail)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var description, stage, ownerEmail, ownerName, dueDate sql.NullString
		var priority sql.NullInt64
		if err := rows.Scan(&t.ID, &t.OrgID, &t.ProjectID, &t.Title, &description, &stage, &ownerEmail, &ownerName, &priority, &dueDate, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			t.Description = description.String
		}
		if stage.Valid {
			t.Stage = stage.String
		}
		if ownerEmail.Valid {
			t.OwnerEmail = ownerEmail.String
		}
		if ownerName.Valid {
			t.OwnerName = ownerName.String
		}
		if priority.Valid {
			p := int(priority.Int64)
			t.Priority = &p
		}
		if dueDate.Valid {
			t.DueDate = &dueDate.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountTasksByStage(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT COALESCE(stage,''), count(*) FROM tasks WHERE project_id=? GROUP BY stage`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		res[stage] = count
	}
	return res, rows.Err()
}
