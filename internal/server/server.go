package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/engine/access"
	"stageline/internal/presign"
	"stageline/internal/repo"
)

const downloadURLTTL = 15 * time.Minute

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Signer   presign.Signer
	Log      *logrus.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"not allowed to update stage"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stageline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(cfg.Log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Stageline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerProjects(group, cfg.Engine)
	registerStages(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerProgress(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerAttachments(group, cfg.Engine, cfg.Signer)
	registerNotifications(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
}

func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).String(),
			}).Info("request")
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe access.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			Email: actor.Email,
			Name:  actor.DisplayName,
			OrgID: actor.OrgID,
			Admin: actor.IsOrgAdmin,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !authCfg.DevLogin {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		email := strings.TrimSpace(input.Body.Email)
		org := strings.TrimSpace(input.Body.Org)
		if email == "" || org == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email and org are required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, email, input.Body.Name, org, input.Body.Admin)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ProjectCreateOptions{Name: input.Body.Name}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		for _, s := range input.Body.Stages {
			opts.Stages = append(opts.Stages, domain.Stage{Name: s.Name, OwnerEmail: s.OwnerEmail})
		}
		p, err := e.CreateProject(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: toProjectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projects, err := e.ListProjects(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ProjectResponse, 0, len(projects))
		for _, p := range projects {
			out = append(out, toProjectResponse(p))
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: toProjectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, actor, input.ProjectID, engine.ProjectUpdateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Status:      input.Body.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: toProjectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, actor, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Task counts by stage",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountTasksByStage(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"project_id":  p.ID,
			"status":      p.Status,
			"task_counts": counts,
		}}, nil
	})
}

func registerStages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stages",
		Summary:     "List stage registry",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []StageResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stages, err := e.ListStages(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StageResponse `json:"body"`
		}{Body: toStageResponses(stages)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-stages",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/stages",
		Summary:     "Replace stage registry",
		Description: "Saves the whole registry. Names are deduplicated case-insensitively keeping the first occurrence and sort orders are renumbered.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      ReplaceStagesRequest `json:"body"`
	}) (*struct {
		Body []StageResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var stages []domain.Stage
		for _, s := range input.Body.Stages {
			stages = append(stages, domain.Stage{Name: s.Name, OwnerEmail: s.OwnerEmail})
		}
		saved, err := e.ReplaceStages(ctx, actor, input.ProjectID, stages)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StageResponse `json:"body"`
		}{Body: toStageResponses(saved)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-stages",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/stages/reorder",
		Summary:     "Reorder the stage registry",
		Description: "Takes the full ordered list of registered stage names and renumbers sort orders to match.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      ReorderStagesRequest `json:"body"`
	}) (*struct {
		Body []StageResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stages, err := e.ReorderStages(ctx, actor, input.ProjectID, input.Body.Stages)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StageResponse `json:"body"`
		}{Body: toStageResponses(stages)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-stage",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/stages/{stage_name}/reorder",
		Summary:     "Move a stage to a new position",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		StageName string              `path:"stage_name"`
		Body      ReorderStageRequest `json:"body"`
	}) (*struct {
		Body []StageResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stages, err := e.MoveStage(ctx, actor, input.ProjectID, input.StageName, input.Body.Position)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StageResponse `json:"body"`
		}{Body: toStageResponses(stages)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			ProjectID: input.ProjectID,
			Title:     input.Body.Title,
			Priority:  input.Body.Priority,
			DueDate:   input.Body.DueDate,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.Stage != nil {
			opts.Stage = *input.Body.Stage
		}
		if input.Body.OwnerEmail != nil {
			opts.OwnerEmail = *input.Body.OwnerEmail
		}
		if input.Body.OwnerName != nil {
			opts.OwnerName = *input.Body.OwnerName
		}
		t, err := e.CreateTask(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: toTaskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Stage     string `query:"stage"`
		Owner     string `query:"owner"`
		Limit     int    `query:"limit" minimum:"1" maximum:"200"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		filters := repo.TaskFilters{
			ProjectID:  input.ProjectID,
			Stage:      input.Stage,
			OwnerEmail: input.Owner,
			Limit:      limit,
		}
		if input.Cursor != "" {
			createdAt, id, err := decodeCursor(input.Cursor)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			filters.CursorCreatedAt = createdAt
			filters.CursorID = id
		}
		tasks, err := e.ListTasks(ctx, actor, filters)
		if err != nil {
			return nil, handleError(err)
		}
		out := TaskListResponse{Tasks: make([]TaskResponse, 0, len(tasks))}
		for _, t := range tasks {
			out.Tasks = append(out.Tasks, toTaskResponse(t))
		}
		if len(tasks) == limit {
			last := tasks[len(tasks)-1]
			out.NextCursor = encodeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: toTaskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, actor, input.TaskID, engine.TaskUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			OwnerEmail:  input.Body.OwnerEmail,
			OwnerName:   input.Body.OwnerName,
			Priority:    input.Body.Priority,
			DueDate:     input.Body.DueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: toTaskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, actor, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProgress(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "advance-stage",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/progress",
		Summary:     "Record stage progress",
		Description: "Upserts the ledger row for the stage and optionally advances the task to the next registry stage. Returns the full ledger in registry order.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   AdvanceStageRequest `json:"body"`
	}) (*struct {
		Body LedgerResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.AdvanceOptions{
			TaskID:        input.TaskID,
			StageName:     input.Body.StageName,
			Status:        input.Body.Status,
			AdvanceToNext: input.Body.AdvanceToNext,
		}
		if input.Body.AssignedTo != nil {
			opts.AssignedTo = *input.Body.AssignedTo
		}
		if input.Body.AssignedToEmail != nil {
			opts.AssignedToEmail = *input.Body.AssignedToEmail
		}
		ledger, err := e.AdvanceStage(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LedgerResponse `json:"body"`
		}{Body: toLedgerResponse(input.TaskID, ledger)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-progress",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/progress",
		Summary:     "Get the task's progress ledger",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body LedgerResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ledger, err := e.GetTaskProgress(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LedgerResponse `json:"body"`
		}{Body: toLedgerResponse(input.TaskID, ledger)}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/comments",
		Summary:       "Add comment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   CreateCommentRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, actor, input.TaskID, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: toCommentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/comments",
		Summary:     "List comments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body []CommentResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comments, err := e.ListComments(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]CommentResponse, 0, len(comments))
		for _, c := range comments {
			out = append(out, toCommentResponse(c))
		}
		return &struct {
			Body []CommentResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerAttachments(api huma.API, e engine.Engine, signer presign.Signer) {
	signedURL := func(key string) string {
		if signer == nil {
			return ""
		}
		u, err := signer.SignedURL(key, downloadURLTTL)
		if err != nil {
			return ""
		}
		return u
	}

	huma.Register(api, huma.Operation{
		OperationID:   "add-attachment",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/attachments",
		Summary:       "Register attachment metadata",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string                  `path:"task_id"`
		Body   CreateAttachmentRequest `json:"body"`
	}) (*struct {
		Body AttachmentResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAttachment(ctx, actor, engine.AttachmentCreateOptions{
			TaskID:      input.TaskID,
			FileName:    input.Body.FileName,
			ContentType: input.Body.ContentType,
			SizeBytes:   input.Body.SizeBytes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttachmentResponse `json:"body"`
		}{Body: toAttachmentResponse(a, signedURL(a.StorageKey))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-attachments",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/attachments",
		Summary:     "List attachments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body []AttachmentResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		attachments, err := e.ListAttachments(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AttachmentResponse, 0, len(attachments))
		for _, a := range attachments {
			out = append(out, toAttachmentResponse(a, signedURL(a.StorageKey)))
		}
		return &struct {
			Body []AttachmentResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List notifications for the caller",
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit" minimum:"1" maximum:"200"`
	}) (*struct {
		Body []NotificationResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		notifications, err := e.ListNotifications(ctx, actor, input.Unread, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]NotificationResponse, 0, len(notifications))
		for _, n := range notifications {
			out = append(out, toNotificationResponse(n))
		}
		return &struct {
			Body []NotificationResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "read-notification",
		Method:        http.MethodPost,
		Path:          "/notifications/{notification_id}/read",
		Summary:       "Mark notification read",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkNotificationRead(ctx, actor, input.NotificationID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recent audit events",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		events, err := e.ListEvents(ctx, actor, input.Limit, input.ProjectID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(events))
		for _, evt := range events {
			out = append(out, toEventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func encodeCursor(createdAt, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(createdAt + "|" + id))
}

func decodeCursor(cursor string) (createdAt, id string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed cursor")
	}
	return parts[0], parts[1], nil
}
