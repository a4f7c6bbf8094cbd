package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Stage       string
	OwnerEmail  string
	OwnerName   string
	Priority    *int
	DueDate     *string
}

func (e Engine) CreateTask(ctx context.Context, actor domain.Actor, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, errors.New("project is required")
	}
	p, err := e.GetProject(ctx, actor, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	stages, err := e.Repo.ListStages(ctx, p.ID)
	if err != nil {
		return domain.Task{}, err
	}
	stage := strings.TrimSpace(opts.Stage)
	if stage == "" && len(stages) > 0 {
		stage = stages[0].Name
	} else if stage != "" {
		found, ok := findStage(stages, stage)
		if !ok {
			return domain.Task{}, fmt.Errorf("invalid stage %q", stage)
		}
		stage = found.Name
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.nowRFC3339()
	t := domain.Task{
		ID:          id,
		OrgID:       actor.OrgID,
		ProjectID:   p.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Stage:       stage,
		OwnerEmail:  strings.TrimSpace(opts.OwnerEmail),
		OwnerName:   opts.OwnerName,
		Priority:    opts.Priority,
		DueDate:     opts.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.OwnerEmail == "" {
		t.OwnerEmail = actor.Email
		if t.OwnerName == "" {
			t.OwnerName = actor.DisplayName
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if stage != "" {
		s, _ := findStage(stages, stage)
		seed := domain.StageProgress{
			TaskID:    t.ID,
			StageName: s.Name,
			Status:    domain.StatusToDo,
			SortOrder: s.SortOrder,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertProgressIfAbsentTx(ctx, tx, seed); err != nil {
			return domain.Task{}, fmt.Errorf("seed progress: %w", err)
		}
	}
	if err := e.eventsWriter().Append(ctx, tx, "task.created", actor.OrgID, p.ID, "task", t.ID, actor.Email, events.EventPayload{"title": t.Title, "stage": t.Stage}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, actor domain.Actor, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.OrgID != actor.OrgID {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}

func (e Engine) ListTasks(ctx context.Context, actor domain.Actor, f repo.TaskFilters) ([]domain.Task, error) {
	if _, err := e.GetProject(ctx, actor, f.ProjectID); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, f)
}

// TaskUpdateOptions carries optional field updates; nil means unchanged.
type TaskUpdateOptions struct {
	Title       *string
	Description *string
	OwnerEmail  *string
	OwnerName   *string
	Priority    *int
	DueDate     *string
}

func (e Engine) UpdateTask(ctx context.Context, actor domain.Actor, id string, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.GetTask(ctx, actor, id)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Task{}, errors.New("title is required")
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.OwnerEmail != nil {
		t.OwnerEmail = strings.TrimSpace(*opts.OwnerEmail)
	}
	if opts.OwnerName != nil {
		t.OwnerName = *opts.OwnerName
	}
	if opts.Priority != nil {
		t.Priority = opts.Priority
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			t.DueDate = nil
		} else {
			t.DueDate = opts.DueDate
		}
	}
	t.UpdatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.eventsWriter().Append(ctx, tx, "task.updated", actor.OrgID, t.ProjectID, "task", t.ID, actor.Email, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, actor domain.Actor, id string) error {
	t, err := e.GetTask(ctx, actor, id)
	if err != nil {
		return err
	}
	if !actor.IsOrgAdmin && t.OwnerEmail != "" && !strings.EqualFold(strings.TrimSpace(actor.Email), t.OwnerEmail) {
		return accessForbidden("task", id)
	}
	return e.Repo.DeleteTask(ctx, id)
}

func findStage(stages []domain.Stage, name string) (domain.Stage, bool) {
	for _, s := range stages {
		if strings.EqualFold(s.Name, strings.TrimSpace(name)) {
			return s, true
		}
	}
	return domain.Stage{}, false
}
