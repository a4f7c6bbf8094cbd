package repo

import (
	"context"
	"database/sql"

	"stageline/internal/domain"
)

func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,task_id,author_email,author_name,body,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.AuthorEmail, nullable(c.AuthorName), c.Body, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,author_email,author_name,body,created_at FROM comments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var authorName sql.NullString
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorEmail, &authorName, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		if authorName.Valid {
			c.AuthorName = authorName.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertAttachmentTx(ctx context.Context, tx *sql.Tx, a domain.Attachment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO attachments(id,task_id,file_name,content_type,size_bytes,storage_key,uploaded_by,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.FileName, nullable(a.ContentType), a.SizeBytes, a.StorageKey, a.UploadedBy, a.CreatedAt)
	return err
}

func (r Repo) ListAttachments(ctx context.Context, taskID string) ([]domain.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,file_name,content_type,size_bytes,storage_key,uploaded_by,created_at FROM attachments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		var contentType sql.NullString
		var size sql.NullInt64
		if err := rows.Scan(&a.ID, &a.TaskID, &a.FileName, &contentType, &size, &a.StorageKey, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		if contentType.Valid {
			a.ContentType = contentType.String
		}
		if size.Valid {
			a.SizeBytes = size.Int64
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
