package repo

import (
	"context"
	"database/sql"

	"stageline/internal/domain"
)

// UpsertProgressTx writes one ledger row in a single atomic statement.
// Insert takes the row as given; on conflict the status, assignment and
// sort_order are overwritten while started_at/completed_at only ever fill a
// NULL (first entry into In Progress / first completion wins). The
// conditional update keeps two concurrent transitions from racing a
// read-then-write.
func (r Repo) UpsertProgressTx(ctx context.Context, tx *sql.Tx, p domain.StageProgress) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stage_progress(task_id,stage_name,status,assigned_to,assigned_to_email,sort_order,started_at,completed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(task_id,stage_name) DO UPDATE SET
    status=excluded.status,
    assigned_to=excluded.assigned_to,
    assigned_to_email=excluded.assigned_to_email,
    sort_order=excluded.sort_order,
    started_at=CASE WHEN excluded.status='In Progress'
        THEN COALESCE(stage_progress.started_at, excluded.updated_at)
        ELSE stage_progress.started_at END,
    completed_at=CASE WHEN excluded.status='Done'
        THEN COALESCE(stage_progress.completed_at, excluded.updated_at)
        ELSE stage_progress.completed_at END,
    updated_at=excluded.updated_at`,
		p.TaskID, p.StageName, p.Status, nullable(p.AssignedTo), nullable(p.AssignedToEmail),
		p.SortOrder, nullableStringPtr(p.StartedAt), nullableStringPtr(p.CompletedAt),
		p.CreatedAt, p.UpdatedAt)
	return err
}

// InsertProgressIfAbsentTx pre-creates a ledger row (used when auto-advance
// seeds the next stage). Existing rows are left untouched.
func (r Repo) InsertProgressIfAbsentTx(ctx context.Context, tx *sql.Tx, p domain.StageProgress) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stage_progress(task_id,stage_name,status,assigned_to,assigned_to_email,sort_order,started_at,completed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(task_id,stage_name) DO NOTHING`,
		p.TaskID, p.StageName, p.Status, nullable(p.AssignedTo), nullable(p.AssignedToEmail),
		p.SortOrder, nullableStringPtr(p.StartedAt), nullableStringPtr(p.CompletedAt),
		p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProgress(ctx context.Context, taskID, stageName string) (domain.StageProgress, error) {
	return scanProgress(r.DB.QueryRowContext(ctx, `SELECT task_id,stage_name,status,assigned_to,assigned_to_email,sort_order,started_at,completed_at,created_at,updated_at
FROM stage_progress WHERE task_id=? AND stage_name=?`, taskID, stageName))
}

func (r Repo) GetProgressTx(ctx context.Context, tx *sql.Tx, taskID, stageName string) (domain.StageProgress, error) {
	return scanProgress(tx.QueryRowContext(ctx, `SELECT task_id,stage_name,status,assigned_to,assigned_to_email,sort_order,started_at,completed_at,created_at,updated_at
FROM stage_progress WHERE task_id=? AND stage_name=?`, taskID, stageName))
}

func scanProgress(row *sql.Row) (domain.StageProgress, error) {
	var p domain.StageProgress
	var assignedTo, assignedToEmail, startedAt, completedAt sql.NullString
	err := row.Scan(&p.TaskID, &p.StageName, &p.Status, &assignedTo, &assignedToEmail, &p.SortOrder, &startedAt, &completedAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	fillProgressNullables(&p, assignedTo, assignedToEmail, startedAt, completedAt)
	return p, nil
}

// ListProgress returns the full ledger for a task. Rows are ordered by the
// live registry's sort_order when the stage is still registered, falling
// back to the denormalized copy for orphaned rows, so a registry reorder is
// reflected immediately in listings.
func (r Repo) ListProgress(ctx context.Context, taskID string) ([]domain.StageProgress, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT p.task_id, p.stage_name, p.status, p.assigned_to, p.assigned_to_email,
COALESCE(s.sort_order, p.sort_order) AS sort_order, p.started_at, p.completed_at, p.created_at, p.updated_at
FROM stage_progress p
JOIN tasks t ON t.id = p.task_id
LEFT JOIN stages s ON s.project_id = t.project_id AND s.name = p.stage_name
WHERE p.task_id = ?
ORDER BY COALESCE(s.sort_order, p.sort_order) ASC, p.stage_name ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageProgress
	for rows.Next() {
		var p domain.StageProgress
		var assignedTo, assignedToEmail, startedAt, completedAt sql.NullString
		if err := rows.Scan(&p.TaskID, &p.StageName, &p.Status, &assignedTo, &assignedToEmail, &p.SortOrder, &startedAt, &completedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		fillProgressNullables(&p, assignedTo, assignedToEmail, startedAt, completedAt)
		res = append(res, p)
	}
	return res, rows.Err()
}

func fillProgressNullables(p *domain.StageProgress, assignedTo, assignedToEmail, startedAt, completedAt sql.NullString) {
	if assignedTo.Valid {
		p.AssignedTo = assignedTo.String
	}
	if assignedToEmail.Valid {
		p.AssignedToEmail = assignedToEmail.String
	}
	if startedAt.Valid {
		p.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.String
	}
}
