package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/engine"
	"stageline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, DevLogin: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func token(t *testing.T, email, name, org string, admin bool) string {
	t.Helper()
	tok, err := signDevToken(testSecret, email, name, org, admin)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func doJSON(t *testing.T, client *http.Client, method, url, bearer string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	res, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/projects", "", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401: %s", res.StatusCode, body)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("bad error envelope: %v: %s", err, body)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}

	res, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/health", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}
}

func TestProgressFlow(t *testing.T) {
	ts := newTestServer(t)
	adminTok := token(t, "admin@x.dev", "Admin", "org-1", true)

	// Project with explicit stages.
	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects", adminTok, map[string]any{
		"name": "Website",
		"stages": []map[string]any{
			{"name": "Design", "owner_email": "design@x.dev"},
			{"name": "Build"},
		},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, body)
	}
	var project struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &project); err != nil {
		t.Fatal(err)
	}

	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects/"+project.ID+"/tasks", adminTok, map[string]any{
		"title":       "Landing page",
		"owner_email": "owner@x.dev",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, body)
	}
	var task struct {
		ID    string `json:"id"`
		Stage string `json:"stage"`
	}
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatal(err)
	}
	if task.Stage != "Design" {
		t.Fatalf("task stage = %q, want Design", task.Stage)
	}

	// Complete Design with auto-advance.
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/tasks/"+task.ID+"/progress", adminTok, map[string]any{
		"stage_name":      "Design",
		"status":          "Done",
		"advance_to_next": true,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance: %d %s", res.StatusCode, body)
	}
	var ledger struct {
		Progress []struct {
			StageName   string  `json:"stage_name"`
			Status      string  `json:"status"`
			SortOrder   int     `json:"sort_order"`
			CompletedAt *string `json:"completed_at"`
		} `json:"progress"`
	}
	if err := json.Unmarshal(body, &ledger); err != nil {
		t.Fatal(err)
	}
	if len(ledger.Progress) != 2 {
		t.Fatalf("ledger rows = %d, want 2: %s", len(ledger.Progress), body)
	}
	if ledger.Progress[0].StageName != "Design" || ledger.Progress[0].Status != "Done" || ledger.Progress[0].CompletedAt == nil {
		t.Fatalf("design row = %+v", ledger.Progress[0])
	}
	if ledger.Progress[1].StageName != "Build" || ledger.Progress[1].Status != "To Do" {
		t.Fatalf("build row = %+v", ledger.Progress[1])
	}

	// A stranger in the same org may not touch the stage.
	strangerTok := token(t, "stranger@x.dev", "", "org-1", false)
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/tasks/"+task.ID+"/progress", strangerTok, map[string]any{
		"stage_name": "Build",
		"status":     "Done",
	})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger advance: %d %s", res.StatusCode, body)
	}

	// Another org cannot even see the task.
	otherOrgTok := token(t, "admin@y.dev", "", "org-2", true)
	res, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks/"+task.ID, otherOrgTok, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-org read: %d", res.StatusCode)
	}
}

func TestWriteEndpointsResolveIDs(t *testing.T) {
	ts := newTestServer(t)
	adminTok := token(t, "admin@x.dev", "Admin", "org-1", true)

	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects", adminTok, map[string]any{"name": "Site"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, body)
	}
	var project struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &project); err != nil {
		t.Fatal(err)
	}

	// PATCH project by path id.
	res, body = doJSON(t, ts.client, http.MethodPatch, ts.URL+"/v1/projects/"+project.ID, adminTok, map[string]any{"name": "Site v2"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update project: %d %s", res.StatusCode, body)
	}
	var updated struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Site v2" {
		t.Fatalf("project name = %q", updated.Name)
	}

	// PUT replaces the registry for that project.
	res, body = doJSON(t, ts.client, http.MethodPut, ts.URL+"/v1/projects/"+project.ID+"/stages", adminTok, map[string]any{
		"stages": []map[string]any{{"name": "Plan"}, {"name": "Execute"}},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("replace stages: %d %s", res.StatusCode, body)
	}
	var stages []struct {
		Name      string `json:"name"`
		SortOrder int    `json:"sort_order"`
	}
	if err := json.Unmarshal(body, &stages); err != nil {
		t.Fatal(err)
	}
	if len(stages) != 2 || stages[0].Name != "Plan" || stages[0].SortOrder != 10 {
		t.Fatalf("stages = %+v", stages)
	}

	// Full-list reorder renumbers.
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects/"+project.ID+"/stages/reorder", adminTok, map[string]any{
		"stages": []string{"Execute", "Plan"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reorder stages: %d %s", res.StatusCode, body)
	}
	if err := json.Unmarshal(body, &stages); err != nil {
		t.Fatal(err)
	}
	if stages[0].Name != "Execute" || stages[0].SortOrder != 10 || stages[1].Name != "Plan" || stages[1].SortOrder != 20 {
		t.Fatalf("reordered stages = %+v", stages)
	}

	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects/"+project.ID+"/tasks", adminTok, map[string]any{"title": "Kickoff"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, body)
	}
	var task struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatal(err)
	}

	// PATCH task by path id.
	res, body = doJSON(t, ts.client, http.MethodPatch, ts.URL+"/v1/tasks/"+task.ID, adminTok, map[string]any{"title": "Kickoff v2"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update task: %d %s", res.StatusCode, body)
	}
	var taskOut struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(body, &taskOut); err != nil {
		t.Fatal(err)
	}
	if taskOut.Title != "Kickoff v2" {
		t.Fatalf("task title = %q", taskOut.Title)
	}

	// Comment lands on the addressed task.
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/tasks/"+task.ID+"/comments", adminTok, map[string]any{"body": "looks good"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add comment: %d %s", res.StatusCode, body)
	}
	var comment struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(body, &comment); err != nil {
		t.Fatal(err)
	}
	if comment.TaskID != task.ID {
		t.Fatalf("comment task_id = %q, want %q", comment.TaskID, task.ID)
	}
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t)
	adminTok := token(t, "admin@x.dev", "", "org-1", true)

	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects", adminTok, map[string]any{"name": "P"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, body)
	}
	var project struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &project); err != nil {
		t.Fatal(err)
	}
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects/"+project.ID+"/tasks", adminTok, map[string]any{"title": "T"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, body)
	}
	var task struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatal(err)
	}

	// Bad status is rejected by schema validation as 400.
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/tasks/"+task.ID+"/progress", adminTok, map[string]any{
		"stage_name": "Intake",
		"status":     "finished",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/tasks/nope/progress", adminTok, map[string]any{
		"stage_name": "Intake",
		"status":     "Done",
	})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task: %d %s", res.StatusCode, body)
	}
}

func TestDevLogin(t *testing.T) {
	ts := newTestServer(t)

	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/auth/dev/login", "", map[string]any{
		"email": "dev@x.dev",
		"org":   "org-1",
		"admin": true,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		t.Fatalf("no token: %v %s", err, body)
	}
	res, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/me", resp.Token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, body)
	}
	var me struct {
		Email string `json:"email"`
		OrgID string `json:"org_id"`
		Admin bool   `json:"admin"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatal(err)
	}
	if me.Email != "dev@x.dev" || me.OrgID != "org-1" || !me.Admin {
		t.Fatalf("me = %+v", me)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c := encodeCursor("2024-01-01T00:00:00Z", "task-9")
	createdAt, id, err := decodeCursor(c)
	if err != nil {
		t.Fatal(err)
	}
	if createdAt != "2024-01-01T00:00:00Z" || id != "task-9" {
		t.Fatalf("got %q %q", createdAt, id)
	}
	if _, _, err := decodeCursor("%%%"); err == nil {
		t.Fatal("garbage cursor accepted")
	}
}
