package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) eventsWriter() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// EnsureOrg creates the org row if it does not exist yet. Orgs are
// provisioned lazily from the token's org claim.
func (e Engine) EnsureOrg(ctx context.Context, orgID, name string) error {
	if orgID == "" {
		return errors.New("org is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureOrg(ctx, tx, orgID, name, e.nowRFC3339()); err != nil {
		return err
	}
	return tx.Commit()
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID          string
	Name        string
	Description string
	Stages      []domain.Stage
}

// CreateProject creates a project and seeds its stage registry. When no
// stages are given the configured template is used.
func (e Engine) CreateProject(ctx context.Context, actor domain.Actor, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	if actor.OrgID == "" {
		return domain.Project{}, errors.New("org is required")
	}
	id := opts.ID
	now := e.nowRFC3339()
	if id == "" {
		id = uuid.NewString()
	}
	stages := opts.Stages
	if len(stages) == 0 && e.Config != nil {
		for _, t := range e.Config.Stages.Template {
			stages = append(stages, domain.Stage{Name: t.Name, OwnerEmail: t.OwnerEmail})
		}
	}
	normalized, err := normalizeStages(id, stages)
	if err != nil {
		return domain.Project{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureOrg(ctx, tx, actor.OrgID, "", now); err != nil {
		return domain.Project{}, err
	}
	p := domain.Project{
		ID:          id,
		OrgID:       actor.OrgID,
		Name:        opts.Name,
		Description: opts.Description,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.ReplaceStagesTx(ctx, tx, id, normalized); err != nil {
		return domain.Project{}, fmt.Errorf("seed stages: %w", err)
	}
	if err := e.eventsWriter().Append(ctx, tx, "project.created", actor.OrgID, id, "project", id, actor.Email, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, actor domain.Actor, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if p.OrgID != actor.OrgID {
		return domain.Project{}, repo.ErrNotFound
	}
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context, actor domain.Actor) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, actor.OrgID)
}

// ProjectUpdateOptions carries optional field updates; nil means unchanged.
type ProjectUpdateOptions struct {
	Name        *string
	Description *string
	Status      *string
}

func (e Engine) UpdateProject(ctx context.Context, actor domain.Actor, id string, opts ProjectUpdateOptions) (domain.Project, error) {
	p, err := e.GetProject(ctx, actor, id)
	if err != nil {
		return domain.Project{}, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return domain.Project{}, errors.New("name is required")
		}
		p.Name = *opts.Name
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.Status != nil {
		switch *opts.Status {
		case "active", "archived":
		default:
			return domain.Project{}, fmt.Errorf("invalid status %q", *opts.Status)
		}
		p.Status = *opts.Status
	}
	p.UpdatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.eventsWriter().Append(ctx, tx, "project.updated", actor.OrgID, id, "project", id, actor.Email, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) DeleteProject(ctx context.Context, actor domain.Actor, id string) error {
	if !actor.IsOrgAdmin {
		return accessForbidden("project", id)
	}
	if _, err := e.GetProject(ctx, actor, id); err != nil {
		return err
	}
	return e.Repo.DeleteProject(ctx, id)
}
