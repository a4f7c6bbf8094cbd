package stagelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Stageline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Stage is one registry row.
type Stage struct {
	Name       string `json:"name"`
	SortOrder  int    `json:"sort_order"`
	OwnerEmail string `json:"owner_email,omitempty"`
}

// Task represents the API task model.
type Task struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Title      string `json:"title"`
	Stage      string `json:"stage,omitempty"`
	OwnerEmail string `json:"owner_email,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// TaskPage wraps a task listing with its pagination cursor.
type TaskPage struct {
	Tasks      []Task `json:"tasks"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// StageProgress is one ledger row.
type StageProgress struct {
	TaskID          string  `json:"task_id"`
	StageName       string  `json:"stage_name"`
	Status          string  `json:"status"`
	AssignedTo      string  `json:"assigned_to,omitempty"`
	AssignedToEmail string  `json:"assigned_to_email,omitempty"`
	SortOrder       int     `json:"sort_order"`
	StartedAt       *string `json:"started_at,omitempty"`
	CompletedAt     *string `json:"completed_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// Ledger is a task's progress rows in registry order.
type Ledger struct {
	TaskID   string          `json:"task_id"`
	Progress []StageProgress `json:"progress"`
}

// AdvanceRequest mirrors the advance-stage request body.
type AdvanceRequest struct {
	StageName       string `json:"stage_name"`
	Status          string `json:"status"`
	AssignedTo      string `json:"assigned_to,omitempty"`
	AssignedToEmail string `json:"assigned_to_email,omitempty"`
	AdvanceToNext   bool   `json:"advance_to_next,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	body := map[string]any{"name": name}
	if description != "" {
		body["description"] = description
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v1/projects", body, &resp)
	return resp, err
}

// ListProjects lists the caller's org projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v1/projects", nil, &resp)
	return resp, err
}

// Stages returns the project's stage registry.
func (c *Client) Stages(ctx context.Context, projectID string) ([]Stage, error) {
	var resp []Stage
	endpoint := fmt.Sprintf("v1/projects/%s/stages", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ReplaceStages saves the whole stage registry.
func (c *Client) ReplaceStages(ctx context.Context, projectID string, stages []Stage) ([]Stage, error) {
	body := map[string]any{"stages": stages}
	var resp []Stage
	endpoint := fmt.Sprintf("v1/projects/%s/stages", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID, title string) (Task, error) {
	body := map[string]any{"title": title}
	var resp Task
	endpoint := fmt.Sprintf("v1/projects/%s/tasks", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Tasks returns one page of a project's tasks.
func (c *Client) Tasks(ctx context.Context, projectID string, limit int, cursor string) (TaskPage, error) {
	endpoint := fmt.Sprintf("v1/projects/%s/tasks", url.PathEscape(projectID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AdvanceStage records progress on a stage and returns the full ledger.
func (c *Client) AdvanceStage(ctx context.Context, taskID string, req AdvanceRequest) (Ledger, error) {
	var resp Ledger
	endpoint := fmt.Sprintf("v1/tasks/%s/progress", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, req, &resp)
	return resp, err
}

// Progress returns the task's ledger.
func (c *Client) Progress(ctx context.Context, taskID string) (Ledger, error) {
	var resp Ledger
	endpoint := fmt.Sprintf("v1/tasks/%s/progress", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
