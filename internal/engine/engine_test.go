package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/engine/access"
	"stageline/internal/migrate"
)

var (
	admin  = domain.Actor{Email: "admin@example.dev", DisplayName: "Admin", OrgID: "org-1", IsOrgAdmin: true}
	design = domain.Actor{Email: "design@example.dev", DisplayName: "Dana", OrgID: "org-1"}
	owner  = domain.Actor{Email: "owner@example.dev", DisplayName: "Olga", OrgID: "org-1"}
	random = domain.Actor{Email: "random@example.dev", DisplayName: "Rex", OrgID: "org-1"}
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Clock   *time.Time
	Project domain.Project
	Task    domain.Task
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return now }
	ctx := context.Background()

	p, err := eng.CreateProject(ctx, admin, engine.ProjectCreateOptions{
		Name: "Website",
		Stages: []domain.Stage{
			{Name: "Design", OwnerEmail: design.Email},
			{Name: "Build"},
			{Name: "Ship"},
		},
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	task, err := eng.CreateTask(ctx, admin, engine.TaskCreateOptions{
		ProjectID:  p.ID,
		Title:      "Landing page",
		OwnerEmail: owner.Email,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: &now, Project: p, Task: task}
}

func (env *testEnv) advance(t *testing.T, actor domain.Actor, opts engine.AdvanceOptions) []domain.StageProgress {
	t.Helper()
	opts.TaskID = env.Task.ID
	ledger, err := env.Engine.AdvanceStage(env.Ctx, actor, opts)
	if err != nil {
		t.Fatalf("advance %s -> %s: %v", opts.StageName, opts.Status, err)
	}
	return ledger
}

func findRow(t *testing.T, ledger []domain.StageProgress, stage string) domain.StageProgress {
	t.Helper()
	for _, p := range ledger {
		if p.StageName == stage {
			return p
		}
	}
	t.Fatalf("no ledger row for stage %q", stage)
	return domain.StageProgress{}
}

func TestAdvanceStageUpsertsSingleRow(t *testing.T) {
	env := newTestEnv(t)

	ledger := env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusInProgress})
	row := findRow(t, ledger, "Design")
	if row.Status != domain.StatusInProgress {
		t.Fatalf("status = %q, want In Progress", row.Status)
	}
	if row.StartedAt == nil {
		t.Fatal("started_at not set on first In Progress")
	}
	firstStart := *row.StartedAt

	*env.Clock = env.Clock.Add(time.Hour)
	ledger = env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusInProgress, AssignedTo: "Dana"})
	count := 0
	for _, p := range ledger {
		if p.StageName == "Design" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected a single Design row, got %d", count)
	}
	row = findRow(t, ledger, "Design")
	if row.StartedAt == nil || *row.StartedAt != firstStart {
		t.Fatalf("started_at changed on repeat In Progress: %v", row.StartedAt)
	}
	if row.AssignedTo != "Dana" {
		t.Fatalf("assignment not updated: %q", row.AssignedTo)
	}
}

func TestReopenKeepsFirstCompletion(t *testing.T) {
	env := newTestEnv(t)

	ledger := env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusDone})
	row := findRow(t, ledger, "Design")
	if row.CompletedAt == nil {
		t.Fatal("completed_at not set on Done")
	}
	firstDone := *row.CompletedAt

	*env.Clock = env.Clock.Add(2 * time.Hour)
	ledger = env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusInProgress})
	row = findRow(t, ledger, "Design")
	if row.Status != domain.StatusInProgress {
		t.Fatalf("status = %q after reopen", row.Status)
	}
	if row.CompletedAt == nil || *row.CompletedAt != firstDone {
		t.Fatalf("completed_at changed on reopen: %v", row.CompletedAt)
	}

	// Completing again keeps the original completion time.
	*env.Clock = env.Clock.Add(time.Hour)
	ledger = env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusDone})
	row = findRow(t, ledger, "Design")
	if *row.CompletedAt != firstDone {
		t.Fatalf("completed_at overwritten on second Done")
	}
}

func TestAutoAdvanceSeedsNextStage(t *testing.T) {
	env := newTestEnv(t)

	ledger := env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusDone, AdvanceToNext: true})
	next := findRow(t, ledger, "Build")
	if next.Status != domain.StatusToDo {
		t.Fatalf("seeded Build status = %q, want To Do", next.Status)
	}
	if next.SortOrder != 20 {
		t.Fatalf("seeded Build sort_order = %d, want 20", next.SortOrder)
	}
	if next.StartedAt != nil || next.CompletedAt != nil {
		t.Fatal("seeded row should have no timestamps")
	}
	task, err := env.Engine.GetTask(env.Ctx, admin, env.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Stage != "Build" {
		t.Fatalf("task stage = %q, want Build", task.Stage)
	}
}

func TestAutoAdvanceDoesNotResetExistingNextRow(t *testing.T) {
	env := newTestEnv(t)

	env.advance(t, admin, engine.AdvanceOptions{StageName: "Build", Status: domain.StatusInProgress})
	ledger := env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusDone, AdvanceToNext: true})
	row := findRow(t, ledger, "Build")
	if row.Status != domain.StatusInProgress {
		t.Fatalf("existing Build row was reset to %q", row.Status)
	}
}

func TestAutoAdvanceNoopAtLastStage(t *testing.T) {
	env := newTestEnv(t)

	ledger := env.advance(t, admin, engine.AdvanceOptions{StageName: "Ship", Status: domain.StatusDone, AdvanceToNext: true})
	for _, p := range ledger {
		if p.StageName != "Ship" && p.StageName != "Design" {
			t.Fatalf("unexpected ledger row %q", p.StageName)
		}
	}
	task, err := env.Engine.GetTask(env.Ctx, admin, env.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Stage != "Design" {
		t.Fatalf("task stage moved at last stage: %q", task.Stage)
	}
}

func TestAdvanceToNextIgnoredUnlessDone(t *testing.T) {
	env := newTestEnv(t)

	env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusInProgress, AdvanceToNext: true})
	task, err := env.Engine.GetTask(env.Ctx, admin, env.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Stage != "Design" {
		t.Fatalf("task advanced without Done: %q", task.Stage)
	}
}

func TestAdvanceValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []engine.AdvanceOptions{
		{TaskID: "", StageName: "Design", Status: domain.StatusDone},
		{TaskID: env.Task.ID, StageName: "  ", Status: domain.StatusDone},
		{TaskID: env.Task.ID, StageName: "Design", Status: "finished"},
	}
	for _, opts := range cases {
		if _, err := env.Engine.AdvanceStage(env.Ctx, admin, opts); err == nil {
			t.Fatalf("expected validation error for %+v", opts)
		}
	}
	if _, err := env.Engine.AdvanceStage(env.Ctx, admin, engine.AdvanceOptions{
		TaskID: "nope", StageName: "Design", Status: domain.StatusDone,
	}); err == nil {
		t.Fatal("expected not found for missing task")
	}
}

func TestAdvanceForbiddenLeavesLedgerUnchanged(t *testing.T) {
	env := newTestEnv(t)

	before := env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusInProgress})
	_, err := env.Engine.AdvanceStage(env.Ctx, random, engine.AdvanceOptions{
		TaskID: env.Task.ID, StageName: "Design", Status: domain.StatusDone,
	})
	var fe access.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	after, err := env.Engine.GetTaskProgress(env.Ctx, admin, env.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) || findRow(t, after, "Design").Status != domain.StatusInProgress {
		t.Fatal("ledger changed by forbidden request")
	}
}

func TestStageOwnerAndTaskOwnerMayAdvance(t *testing.T) {
	env := newTestEnv(t)

	// Stage owner on their stage, with a differently-cased email.
	actor := design
	actor.Email = "DESIGN@Example.Dev"
	if _, err := env.Engine.AdvanceStage(env.Ctx, actor, engine.AdvanceOptions{
		TaskID: env.Task.ID, StageName: "Design", Status: domain.StatusInProgress,
	}); err != nil {
		t.Fatalf("stage owner denied: %v", err)
	}
	// Stage owner of Design has no authority over Build.
	if _, err := env.Engine.AdvanceStage(env.Ctx, design, engine.AdvanceOptions{
		TaskID: env.Task.ID, StageName: "Build", Status: domain.StatusInProgress,
	}); err == nil {
		t.Fatal("stage owner allowed on foreign stage")
	}
	// Task owner may touch any stage.
	if _, err := env.Engine.AdvanceStage(env.Ctx, owner, engine.AdvanceOptions{
		TaskID: env.Task.ID, StageName: "Build", Status: domain.StatusDone,
	}); err != nil {
		t.Fatalf("task owner denied: %v", err)
	}
}

func TestAdvanceDefaultsAssignmentToActor(t *testing.T) {
	env := newTestEnv(t)

	// No assignee given: the acting user is recorded.
	ledger := env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusInProgress})
	row := findRow(t, ledger, "Design")
	if row.AssignedToEmail != admin.Email || row.AssignedTo != admin.DisplayName {
		t.Fatalf("assignment = %q/%q, want acting user %q/%q", row.AssignedTo, row.AssignedToEmail, admin.DisplayName, admin.Email)
	}

	// An explicit assignee wins over the default.
	ledger = env.advance(t, admin, engine.AdvanceOptions{
		StageName:       "Design",
		Status:          domain.StatusDone,
		AssignedTo:      "Dana",
		AssignedToEmail: design.Email,
	})
	row = findRow(t, ledger, "Design")
	if row.AssignedTo != "Dana" || row.AssignedToEmail != design.Email {
		t.Fatalf("explicit assignment overridden: %q/%q", row.AssignedTo, row.AssignedToEmail)
	}
}

func TestAdvanceCaseInsensitiveStageName(t *testing.T) {
	env := newTestEnv(t)

	ledger := env.advance(t, admin, engine.AdvanceOptions{StageName: "design", Status: domain.StatusInProgress})
	row := findRow(t, ledger, "Design")
	if row.Status != domain.StatusInProgress {
		t.Fatal("lowercase stage name did not match registry entry")
	}
}

func TestReplaceStagesDedupAndRenumber(t *testing.T) {
	env := newTestEnv(t)

	saved, err := env.Engine.ReplaceStages(env.Ctx, admin, env.Project.ID, []domain.Stage{
		{Name: "  Plan "},
		{Name: "Execute", OwnerEmail: "exec@example.dev"},
		{Name: "plan"}, // duplicate, first wins
		{Name: "Verify"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 3 {
		t.Fatalf("got %d stages, want 3", len(saved))
	}
	want := []struct {
		name string
		ord  int
	}{{"Plan", 10}, {"Execute", 20}, {"Verify", 30}}
	for i, w := range want {
		if saved[i].Name != w.name || saved[i].SortOrder != w.ord {
			t.Fatalf("stage[%d] = %q/%d, want %q/%d", i, saved[i].Name, saved[i].SortOrder, w.name, w.ord)
		}
	}

	if _, err := env.Engine.ReplaceStages(env.Ctx, admin, env.Project.ID, []domain.Stage{{Name: "   "}}); err == nil {
		t.Fatal("expected error for blank stage name")
	}
}

func TestReorderStages(t *testing.T) {
	env := newTestEnv(t)

	// Full permutation, case-insensitive names.
	stages, err := env.Engine.ReorderStages(env.Ctx, admin, env.Project.ID, []string{"ship", "Design", "Build"})
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		name string
		ord  int
	}{{"Ship", 10}, {"Design", 20}, {"Build", 30}}
	for i, w := range want {
		if stages[i].Name != w.name || stages[i].SortOrder != w.ord {
			t.Fatalf("stage[%d] = %q/%d, want %q/%d", i, stages[i].Name, stages[i].SortOrder, w.name, w.ord)
		}
	}

	if _, err := env.Engine.ReorderStages(env.Ctx, admin, env.Project.ID, nil); err == nil {
		t.Fatal("empty order accepted")
	}
	if _, err := env.Engine.ReorderStages(env.Ctx, admin, env.Project.ID, []string{"Ship", "Design", "Nope"}); err == nil {
		t.Fatal("unknown stage accepted")
	}
	if _, err := env.Engine.ReorderStages(env.Ctx, admin, env.Project.ID, []string{"Ship", "Design"}); err == nil {
		t.Fatal("incomplete order accepted")
	}
	if _, err := env.Engine.ReorderStages(env.Ctx, admin, env.Project.ID, []string{"Ship", "ship", "Design"}); err == nil {
		t.Fatal("duplicate name accepted")
	}
}

func TestMoveStage(t *testing.T) {
	env := newTestEnv(t)

	stages, err := env.Engine.MoveStage(env.Ctx, admin, env.Project.ID, "Ship", 0)
	if err != nil {
		t.Fatal(err)
	}
	if stages[0].Name != "Ship" || stages[0].SortOrder != 10 {
		t.Fatalf("stage[0] = %q/%d", stages[0].Name, stages[0].SortOrder)
	}
	if stages[1].Name != "Design" || stages[1].SortOrder != 20 {
		t.Fatalf("stage[1] = %q/%d", stages[1].Name, stages[1].SortOrder)
	}

	// Positions past the end clamp to the last slot.
	stages, err = env.Engine.MoveStage(env.Ctx, admin, env.Project.ID, "Ship", 99)
	if err != nil {
		t.Fatal(err)
	}
	if stages[len(stages)-1].Name != "Ship" {
		t.Fatalf("stage[last] = %q, want Ship", stages[len(stages)-1].Name)
	}
}

func TestOrphanLedgerRowsSurviveRegistryChange(t *testing.T) {
	env := newTestEnv(t)

	env.advance(t, admin, engine.AdvanceOptions{StageName: "Build", Status: domain.StatusDone})
	if _, err := env.Engine.ReplaceStages(env.Ctx, admin, env.Project.ID, []domain.Stage{
		{Name: "Design"},
		{Name: "Ship"},
	}); err != nil {
		t.Fatal(err)
	}
	ledger, err := env.Engine.GetTaskProgress(env.Ctx, admin, env.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	row := findRow(t, ledger, "Build")
	if row.Status != domain.StatusDone {
		t.Fatalf("orphan row lost: %+v", row)
	}
}

func TestLedgerFollowsRegistryOrder(t *testing.T) {
	env := newTestEnv(t)

	env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusDone})
	env.advance(t, admin, engine.AdvanceOptions{StageName: "Ship", Status: domain.StatusInProgress})
	if _, err := env.Engine.ReorderStages(env.Ctx, admin, env.Project.ID, []string{"Ship", "Design", "Build"}); err != nil {
		t.Fatal(err)
	}
	ledger, err := env.Engine.GetTaskProgress(env.Ctx, admin, env.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger) != 2 || ledger[0].StageName != "Ship" || ledger[1].StageName != "Design" {
		t.Fatalf("ledger not in live registry order: %+v", ledger)
	}
}

func TestCreateProjectSeedsTemplate(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.Engine.CreateProject(env.Ctx, admin, engine.ProjectCreateOptions{Name: "Defaults"})
	if err != nil {
		t.Fatal(err)
	}
	stages, err := env.Engine.ListStages(env.Ctx, admin, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) == 0 {
		t.Fatal("no stages seeded from template")
	}
	if stages[0].Name != "Intake" || stages[0].SortOrder != 10 {
		t.Fatalf("stage[0] = %q/%d", stages[0].Name, stages[0].SortOrder)
	}
}

func TestTaskSeedsFirstStageProgress(t *testing.T) {
	env := newTestEnv(t)

	ledger, err := env.Engine.GetTaskProgress(env.Ctx, admin, env.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger) != 1 {
		t.Fatalf("got %d seeded rows, want 1", len(ledger))
	}
	if ledger[0].StageName != "Design" || ledger[0].Status != domain.StatusToDo {
		t.Fatalf("seed row = %+v", ledger[0])
	}
}

func TestNotificationOnCompletion(t *testing.T) {
	env := newTestEnv(t)

	// Admin completes a stage on a task owned by someone else.
	env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusDone})
	notifications, err := env.Engine.ListNotifications(env.Ctx, owner, false, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notifications) == 0 {
		t.Fatal("task owner got no completion notification")
	}
	if notifications[0].Kind != "stage.done" {
		t.Fatalf("kind = %q", notifications[0].Kind)
	}
}

func TestEventAppendedOnAdvance(t *testing.T) {
	env := newTestEnv(t)

	env.advance(t, admin, engine.AdvanceOptions{StageName: "Design", Status: domain.StatusInProgress})
	events, err := env.Engine.ListEvents(env.Ctx, admin, 10, env.Project.ID, "stage.advanced")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d stage.advanced events, want 1", len(events))
	}
	if events[0].EntityID != env.Task.ID || events[0].ActorEmail != admin.Email {
		t.Fatalf("event = %+v", events[0])
	}
}
