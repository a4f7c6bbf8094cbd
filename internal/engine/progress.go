package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stageline/internal/domain"
	"stageline/internal/engine/access"
	"stageline/internal/events"
	"stageline/internal/repo"
)

// AdvanceOptions are parameters for recording progress on a stage.
type AdvanceOptions struct {
	TaskID          string
	StageName       string
	Status          string
	AssignedTo      string
	AssignedToEmail string
	AdvanceToNext   bool
}

// AdvanceStage records progress for one stage of a task and returns the
// task's full ledger in registry order.
//
// The target stage does not have to be the task's current stage: progress
// may be recorded on any stage, including ones no longer in the registry
// (their ledger rows survive as orphans). started_at is filled the first
// time the row enters In Progress and completed_at the first time it is
// Done; neither is ever cleared or overwritten, so reopening a finished
// stage keeps its original completion time. When no assignee is given the
// acting user is recorded.
//
// When status is Done and AdvanceToNext is set, the task's current-stage
// pointer moves to the registry stage right after the target one and a
// fresh To Do row is seeded there. At the last stage, or when the target
// stage is not registered, this is a no-op.
func (e Engine) AdvanceStage(ctx context.Context, actor domain.Actor, opts AdvanceOptions) ([]domain.StageProgress, error) {
	if strings.TrimSpace(opts.TaskID) == "" {
		return nil, errors.New("task is required")
	}
	stageName := strings.TrimSpace(opts.StageName)
	if stageName == "" {
		return nil, errors.New("stage name is required")
	}
	if !domain.ValidStatus(opts.Status) {
		return nil, fmt.Errorf("invalid status %q", opts.Status)
	}

	task, err := e.GetTask(ctx, actor, opts.TaskID)
	if err != nil {
		return nil, err
	}
	stages, err := e.Repo.ListStages(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	stageIdx := -1
	stageOwner := ""
	for i, s := range stages {
		if strings.EqualFold(s.Name, stageName) {
			stageIdx = i
			stageOwner = s.OwnerEmail
			stageName = s.Name
			break
		}
	}
	if !access.CanOperateStage(actor, task, stageOwner) {
		return nil, access.ForbiddenError{Action: fmt.Sprintf("update stage %q on task %s", stageName, task.ID)}
	}

	assignedTo := strings.TrimSpace(opts.AssignedTo)
	assignedToEmail := strings.TrimSpace(opts.AssignedToEmail)
	if assignedTo == "" && assignedToEmail == "" {
		assignedTo = actor.DisplayName
		assignedToEmail = actor.Email
	}

	now := e.now().UTC().Format(time.RFC3339)
	row := domain.StageProgress{
		TaskID:          task.ID,
		StageName:       stageName,
		Status:          opts.Status,
		AssignedTo:      assignedTo,
		AssignedToEmail: assignedToEmail,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if opts.Status != domain.StatusToDo {
		row.StartedAt = &now
	}
	if opts.Status == domain.StatusDone {
		row.CompletedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if stageIdx >= 0 {
		row.SortOrder = stages[stageIdx].SortOrder
	} else if prev, err := e.Repo.GetProgressTx(ctx, tx, task.ID, stageName); err == nil {
		// Orphaned stage: keep the denormalized order it was recorded with.
		row.SortOrder = prev.SortOrder
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	if err := e.Repo.UpsertProgressTx(ctx, tx, row); err != nil {
		return nil, fmt.Errorf("upsert progress: %w", err)
	}

	if opts.Status == domain.StatusDone && opts.AdvanceToNext && stageIdx >= 0 && stageIdx+1 < len(stages) {
		next := stages[stageIdx+1]
		if err := e.Repo.UpdateTaskStageTx(ctx, tx, task.ID, next.Name, now); err != nil {
			return nil, fmt.Errorf("advance task stage: %w", err)
		}
		seed := domain.StageProgress{
			TaskID:    task.ID,
			StageName: next.Name,
			Status:    domain.StatusToDo,
			SortOrder: next.SortOrder,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertProgressIfAbsentTx(ctx, tx, seed); err != nil {
			return nil, fmt.Errorf("seed next stage: %w", err)
		}
		if next.OwnerEmail != "" && !access.EqualEmail(next.OwnerEmail, actor.Email) {
			if err := e.notifyTx(ctx, tx, task, next.OwnerEmail, "stage.ready",
				fmt.Sprintf("%s moved to %s", task.Title, next.Name), now); err != nil {
				return nil, err
			}
		}
	}

	if opts.Status == domain.StatusDone && task.OwnerEmail != "" && !access.EqualEmail(task.OwnerEmail, actor.Email) {
		if err := e.notifyTx(ctx, tx, task, task.OwnerEmail, "stage.done",
			fmt.Sprintf("%s completed on %s", stageName, task.Title), now); err != nil {
			return nil, err
		}
	}

	if err := e.eventsWriter().Append(ctx, tx, "stage.advanced", actor.OrgID, task.ProjectID, "task", task.ID, actor.Email, events.EventPayload{
		"stage":           stageName,
		"status":          opts.Status,
		"advance_to_next": opts.AdvanceToNext,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Repo.ListProgress(ctx, task.ID)
}

// GetTaskProgress returns the ledger for a task in registry order.
func (e Engine) GetTaskProgress(ctx context.Context, actor domain.Actor, taskID string) ([]domain.StageProgress, error) {
	if _, err := e.GetTask(ctx, actor, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListProgress(ctx, taskID)
}

func (e Engine) notifyTx(ctx context.Context, tx *sql.Tx, task domain.Task, recipient, kind, message, now string) error {
	return e.Repo.InsertNotificationTx(ctx, tx, domain.Notification{
		ID:             uuid.NewString(),
		OrgID:          task.OrgID,
		RecipientEmail: recipient,
		TaskID:         task.ID,
		Kind:           kind,
		Message:        message,
		CreatedAt:      now,
	})
}
