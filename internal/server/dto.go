package server

import (
	"stageline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          *string              `json:"id,omitempty"`
	Name        string               `json:"name"`
	Description *string              `json:"description,omitempty"`
	Stages      []StageRequest       `json:"stages,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"active,archived"`
}

type StageRequest struct {
	Name       string `json:"name"`
	OwnerEmail string `json:"owner_email,omitempty" format:"email"`
}

type ReplaceStagesRequest struct {
	Stages []StageRequest `json:"stages"`
}

type ReorderStageRequest struct {
	Position int `json:"position" minimum:"0"`
}

type ReorderStagesRequest struct {
	Stages []string `json:"stages" minItems:"1"`
}

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Stage       *string `json:"stage,omitempty"`
	OwnerEmail  *string `json:"owner_email,omitempty" format:"email"`
	OwnerName   *string `json:"owner_name,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	OwnerEmail  *string `json:"owner_email,omitempty"`
	OwnerName   *string `json:"owner_name,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

type AdvanceStageRequest struct {
	StageName       string  `json:"stage_name"`
	Status          string  `json:"status" enum:"To Do,In Progress,Done"`
	AssignedTo      *string `json:"assigned_to,omitempty"`
	AssignedToEmail *string `json:"assigned_to_email,omitempty" format:"email"`
	AdvanceToNext   bool    `json:"advance_to_next,omitempty"`
}

type CreateCommentRequest struct {
	Body string `json:"body"`
}

type CreateAttachmentRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty" minimum:"0"`
}

type DevLoginRequest struct {
	Email string `json:"email" format:"email"`
	Name  string `json:"name,omitempty"`
	Org   string `json:"org"`
	Admin bool   `json:"admin,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"active,archived"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type StageResponse struct {
	Name       string `json:"name"`
	SortOrder  int    `json:"sort_order"`
	OwnerEmail string `json:"owner_email,omitempty"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Stage       string  `json:"stage,omitempty"`
	OwnerEmail  string  `json:"owner_email,omitempty"`
	OwnerName   string  `json:"owner_name,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type TaskListResponse struct {
	Tasks      []TaskResponse `json:"tasks"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type ProgressResponse struct {
	TaskID          string  `json:"task_id"`
	StageName       string  `json:"stage_name"`
	Status          string  `json:"status" enum:"To Do,In Progress,Done"`
	AssignedTo      string  `json:"assigned_to,omitempty"`
	AssignedToEmail string  `json:"assigned_to_email,omitempty"`
	SortOrder       int     `json:"sort_order"`
	StartedAt       *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type LedgerResponse struct {
	TaskID   string             `json:"task_id"`
	Progress []ProgressResponse `json:"progress"`
}

type CommentResponse struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	AuthorEmail string `json:"author_email"`
	AuthorName  string `json:"author_name,omitempty"`
	Body        string `json:"body"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type AttachmentResponse struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	UploadedBy  string `json:"uploaded_by"`
	DownloadURL string `json:"download_url,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type NotificationResponse struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id,omitempty"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorEmail string `json:"actor_email"`
	Payload    string `json:"payload,omitempty"`
}

type WhoAmIResponse struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	OrgID string `json:"org_id"`
	Admin bool   `json:"admin"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Converters

func toProjectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		OrgID:       p.OrgID,
		Name:        p.Name,
		Description: p.Description,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toStageResponse(s domain.Stage) StageResponse {
	return StageResponse{Name: s.Name, SortOrder: s.SortOrder, OwnerEmail: s.OwnerEmail}
}

func toStageResponses(stages []domain.Stage) []StageResponse {
	out := make([]StageResponse, 0, len(stages))
	for _, s := range stages {
		out = append(out, toStageResponse(s))
	}
	return out
}

func toTaskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Description: t.Description,
		Stage:       t.Stage,
		OwnerEmail:  t.OwnerEmail,
		OwnerName:   t.OwnerName,
		Priority:    t.Priority,
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func toProgressResponse(p domain.StageProgress) ProgressResponse {
	return ProgressResponse{
		TaskID:          p.TaskID,
		StageName:       p.StageName,
		Status:          p.Status,
		AssignedTo:      p.AssignedTo,
		AssignedToEmail: p.AssignedToEmail,
		SortOrder:       p.SortOrder,
		StartedAt:       p.StartedAt,
		CompletedAt:     p.CompletedAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func toLedgerResponse(taskID string, rows []domain.StageProgress) LedgerResponse {
	out := LedgerResponse{TaskID: taskID, Progress: make([]ProgressResponse, 0, len(rows))}
	for _, p := range rows {
		out.Progress = append(out.Progress, toProgressResponse(p))
	}
	return out
}

func toCommentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:          c.ID,
		TaskID:      c.TaskID,
		AuthorEmail: c.AuthorEmail,
		AuthorName:  c.AuthorName,
		Body:        c.Body,
		CreatedAt:   c.CreatedAt,
	}
}

func toAttachmentResponse(a domain.Attachment, downloadURL string) AttachmentResponse {
	return AttachmentResponse{
		ID:          a.ID,
		TaskID:      a.TaskID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		SizeBytes:   a.SizeBytes,
		UploadedBy:  a.UploadedBy,
		DownloadURL: downloadURL,
		CreatedAt:   a.CreatedAt,
	}
}

func toNotificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		TaskID:    n.TaskID,
		Kind:      n.Kind,
		Message:   n.Message,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

func toEventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorEmail: e.ActorEmail,
		Payload:    e.Payload,
	}
}
