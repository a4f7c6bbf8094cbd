package repo

import (
	"context"
	"database/sql"

	"stageline/internal/domain"
)

// ListStages returns the stage registry for a project ordered by sort_order,
// ties broken by rowid (insertion order of last save).
func (r Repo) ListStages(ctx context.Context, projectID string) ([]domain.Stage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,name,sort_order,owner_email FROM stages WHERE project_id=? ORDER BY sort_order ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStages(rows)
}

func (r Repo) ListStagesTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Stage, error) {
	rows, err := tx.QueryContext(ctx, `SELECT project_id,name,sort_order,owner_email FROM stages WHERE project_id=? ORDER BY sort_order ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStages(rows)
}

func scanStages(rows *sql.Rows) ([]domain.Stage, error) {
	var res []domain.Stage
	for rows.Next() {
		var s domain.Stage
		var owner sql.NullString
		if err := rows.Scan(&s.ProjectID, &s.Name, &s.SortOrder, &owner); err != nil {
			return nil, err
		}
		if owner.Valid {
			s.OwnerEmail = owner.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetStage looks up a single registry row by name (case-insensitive).
func (r Repo) GetStage(ctx context.Context, projectID, name string) (domain.Stage, error) {
	var s domain.Stage
	var owner sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT project_id,name,sort_order,owner_email FROM stages WHERE project_id=? AND name=?`, projectID, name).
		Scan(&s.ProjectID, &s.Name, &s.SortOrder, &owner)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if owner.Valid {
		s.OwnerEmail = owner.String
	}
	return s, nil
}

// ReplaceStagesTx deletes the whole registry for a project and reinserts the
// given stages in order. Callers are responsible for dedup and sort orders.
func (r Repo) ReplaceStagesTx(ctx context.Context, tx *sql.Tx, projectID string, stages []domain.Stage) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM stages WHERE project_id=?`, projectID); err != nil {
		return err
	}
	for _, s := range stages {
		if _, err := tx.ExecContext(ctx, `INSERT INTO stages(project_id,name,sort_order,owner_email) VALUES (?,?,?,?)`,
			projectID, s.Name, s.SortOrder, nullable(s.OwnerEmail)); err != nil {
			return err
		}
	}
	return nil
}

// UpdateStageOrderTx rewrites a single row's sort_order without touching
// name or owner.
func (r Repo) UpdateStageOrderTx(ctx context.Context, tx *sql.Tx, projectID, name string, sortOrder int) error {
	res, err := tx.ExecContext(ctx, `UPDATE stages SET sort_order=? WHERE project_id=? AND name=?`, sortOrder, projectID, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
