package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stageline/internal/domain"
	"stageline/internal/engine/access"
	"stageline/internal/events"
	"stageline/internal/repo"
)

func accessForbidden(kind, id string) error {
	return access.ForbiddenError{Action: fmt.Sprintf("modify %s %s", kind, id)}
}

// normalizeStages trims names, drops case-insensitive duplicates keeping the
// first occurrence, and renumbers sort orders as (position+1)*10.
func normalizeStages(projectID string, in []domain.Stage) ([]domain.Stage, error) {
	var out []domain.Stage
	seen := map[string]bool{}
	for _, s := range in {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, errors.New("stage name is required")
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, domain.Stage{
			ProjectID:  projectID,
			Name:       name,
			SortOrder:  (len(out) + 1) * 10,
			OwnerEmail: strings.TrimSpace(s.OwnerEmail),
		})
	}
	if len(out) == 0 {
		return nil, errors.New("at least one stage is required")
	}
	return out, nil
}

func (e Engine) ListStages(ctx context.Context, actor domain.Actor, projectID string) ([]domain.Stage, error) {
	if _, err := e.GetProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListStages(ctx, projectID)
}

// ReplaceStages saves the whole registry for a project: the submitted list
// becomes the registry, in the submitted order. Ledger rows referencing
// removed stages are kept as orphans.
func (e Engine) ReplaceStages(ctx context.Context, actor domain.Actor, projectID string, stages []domain.Stage) ([]domain.Stage, error) {
	if _, err := e.GetProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	normalized, err := normalizeStages(projectID, stages)
	if err != nil {
		return nil, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceStagesTx(ctx, tx, projectID, normalized); err != nil {
		return nil, err
	}
	names := make([]string, len(normalized))
	for i, s := range normalized {
		names[i] = s.Name
	}
	if err := e.eventsWriter().Append(ctx, tx, "stages.replaced", actor.OrgID, projectID, "project", projectID, actor.Email, events.EventPayload{"stages": names}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return normalized, nil
}

// ReorderStages rewrites the registry order from a full ordered list of
// existing stage names. Every registered stage must appear exactly once;
// names match case-insensitively. Sort orders are renumbered as
// (position+1)*10 in a single transaction.
func (e Engine) ReorderStages(ctx context.Context, actor domain.Actor, projectID string, names []string) ([]domain.Stage, error) {
	if _, err := e.GetProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.New("at least one stage name is required")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	stages, err := e.Repo.ListStagesTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]domain.Stage, len(stages))
	for _, s := range stages {
		byName[strings.ToLower(s.Name)] = s
	}
	ordered := make([]domain.Stage, 0, len(names))
	orderedNames := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		name := strings.TrimSpace(n)
		if name == "" {
			return nil, errors.New("stage name is required")
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("invalid order: stage %q listed twice", name)
		}
		seen[key] = true
		s, ok := byName[key]
		if !ok {
			return nil, fmt.Errorf("stage %q: %w", name, repo.ErrNotFound)
		}
		ordered = append(ordered, s)
		orderedNames = append(orderedNames, s.Name)
	}
	if len(ordered) != len(stages) {
		return nil, fmt.Errorf("invalid order: %d of %d stages listed", len(ordered), len(stages))
	}
	for i := range ordered {
		ordered[i].SortOrder = (i + 1) * 10
		if err := e.Repo.UpdateStageOrderTx(ctx, tx, projectID, ordered[i].Name, ordered[i].SortOrder); err != nil {
			return nil, err
		}
	}
	if err := e.eventsWriter().Append(ctx, tx, "stages.reordered", actor.OrgID, projectID, "project", projectID, actor.Email, events.EventPayload{"stages": orderedNames}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ordered, nil
}

// MoveStage moves one stage to a zero-based position, keeping the relative
// order of the rest. Positions past the end clamp to the last slot.
func (e Engine) MoveStage(ctx context.Context, actor domain.Actor, projectID, name string, position int) ([]domain.Stage, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("stage name is required")
	}
	stages, err := e.ListStages(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	from := -1
	for i, s := range stages {
		if strings.EqualFold(s.Name, name) {
			from = i
			break
		}
	}
	if from == -1 {
		return nil, fmt.Errorf("stage %q: %w", name, repo.ErrNotFound)
	}
	if position < 0 {
		position = 0
	}
	if position >= len(stages) {
		position = len(stages) - 1
	}
	names := make([]string, 0, len(stages))
	for i, s := range stages {
		if i != from {
			names = append(names, s.Name)
		}
	}
	names = append(names[:position], append([]string{stages[from].Name}, names[position:]...)...)
	return e.ReorderStages(ctx, actor, projectID, names)
}
