package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"stageline/internal/domain"
	"stageline/internal/events"
)

func (e Engine) AddComment(ctx context.Context, actor domain.Actor, taskID, body string) (domain.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Comment{}, errors.New("body is required")
	}
	task, err := e.GetTask(ctx, actor, taskID)
	if err != nil {
		return domain.Comment{}, err
	}
	now := e.nowRFC3339()
	c := domain.Comment{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		AuthorEmail: actor.Email,
		AuthorName:  actor.DisplayName,
		Body:        body,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := e.eventsWriter().Append(ctx, tx, "comment.added", actor.OrgID, task.ProjectID, "task", task.ID, actor.Email, events.EventPayload{"comment_id": c.ID}); err != nil {
		return domain.Comment{}, err
	}
	if task.OwnerEmail != "" && !strings.EqualFold(task.OwnerEmail, strings.TrimSpace(actor.Email)) {
		if err := e.notifyTx(ctx, tx, task, task.OwnerEmail, "comment.added",
			fmt.Sprintf("New comment on %s", task.Title), now); err != nil {
			return domain.Comment{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

func (e Engine) ListComments(ctx context.Context, actor domain.Actor, taskID string) ([]domain.Comment, error) {
	if _, err := e.GetTask(ctx, actor, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, taskID)
}

// AttachmentCreateOptions are parameters for registering an attachment.
type AttachmentCreateOptions struct {
	TaskID      string
	FileName    string
	ContentType string
	SizeBytes   int64
}

// CreateAttachment records attachment metadata; the bytes themselves are
// fetched through a signed download URL minted by the server layer.
func (e Engine) CreateAttachment(ctx context.Context, actor domain.Actor, opts AttachmentCreateOptions) (domain.Attachment, error) {
	if strings.TrimSpace(opts.FileName) == "" {
		return domain.Attachment{}, errors.New("file name is required")
	}
	task, err := e.GetTask(ctx, actor, opts.TaskID)
	if err != nil {
		return domain.Attachment{}, err
	}
	now := e.nowRFC3339()
	a := domain.Attachment{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		FileName:    opts.FileName,
		ContentType: opts.ContentType,
		SizeBytes:   opts.SizeBytes,
		UploadedBy:  actor.Email,
		CreatedAt:   now,
	}
	a.StorageKey = fmt.Sprintf("%s/%s/%s", task.ProjectID, task.ID, a.ID)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Attachment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAttachmentTx(ctx, tx, a); err != nil {
		return domain.Attachment{}, err
	}
	if err := e.eventsWriter().Append(ctx, tx, "attachment.added", actor.OrgID, task.ProjectID, "task", task.ID, actor.Email, events.EventPayload{"attachment_id": a.ID, "file_name": a.FileName}); err != nil {
		return domain.Attachment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Attachment{}, err
	}
	return a, nil
}

func (e Engine) ListAttachments(ctx context.Context, actor domain.Actor, taskID string) ([]domain.Attachment, error) {
	if _, err := e.GetTask(ctx, actor, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListAttachments(ctx, taskID)
}

func (e Engine) ListNotifications(ctx context.Context, actor domain.Actor, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.Repo.ListNotifications(ctx, actor.OrgID, actor.Email, unreadOnly, limit)
}

func (e Engine) MarkNotificationRead(ctx context.Context, actor domain.Actor, id string) error {
	return e.Repo.MarkNotificationRead(ctx, id, actor.Email)
}

// ListEvents returns recent audit events for the actor's org, newest first.
func (e Engine) ListEvents(ctx context.Context, actor domain.Actor, limit int, projectID, evtType string) ([]domain.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if projectID != "" {
		if _, err := e.GetProject(ctx, actor, projectID); err != nil {
			return nil, err
		}
	}
	evts, err := e.Repo.LatestEvents(ctx, limit, projectID, evtType, "", "")
	if err != nil {
		return nil, err
	}
	filtered := evts[:0]
	for _, ev := range evts {
		if ev.OrgID == actor.OrgID {
			filtered = append(filtered, ev)
		}
	}
	return filtered, nil
}
