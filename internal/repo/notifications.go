package repo

import (
	"context"
	"database/sql"

	"stageline/internal/domain"
)

func (r Repo) InsertNotificationTx(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,org_id,recipient_email,task_id,kind,message,read,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.OrgID, n.RecipientEmail, nullable(n.TaskID), n.Kind, n.Message, boolToInt(n.Read), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, orgID, recipientEmail string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,org_id,recipient_email,task_id,kind,message,read,created_at FROM notifications WHERE org_id=? AND recipient_email=? COLLATE NOCASE`
	args := []any{orgID, recipientEmail}
	if unreadOnly {
		query += ` AND read=0`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var taskID sql.NullString
		var read int
		if err := rows.Scan(&n.ID, &n.OrgID, &n.RecipientEmail, &taskID, &n.Kind, &n.Message, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if taskID.Valid {
			n.TaskID = taskID.String
		}
		n.Read = read != 0
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead flips the read flag for one notification owned by the
// recipient.
func (r Repo) MarkNotificationRead(ctx context.Context, id, recipientEmail string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=? AND recipient_email=? COLLATE NOCASE`, id, recipientEmail)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
