package domain

// Stage progress statuses. These are display values and part of the API
// contract; anything else is rejected.
const (
	StatusToDo       = "To Do"
	StatusInProgress = "In Progress"
	StatusDone       = "Done"
)

// ValidStatus reports whether s is one of the three canonical statuses.
func ValidStatus(s string) bool {
	return s == StatusToDo || s == StatusInProgress || s == StatusDone
}

type Org struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"active,archived"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// Stage is one step of a project's workflow template. The name is the key;
// ledger rows and tasks reference stages by name, not by surrogate id.
type Stage struct {
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	SortOrder  int    `json:"sort_order"`
	OwnerEmail string `json:"owner_email,omitempty"`
}

type Task struct {
	ID          string  `json:"id"`
	OrgID       string  `json:"org_id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Stage       string  `json:"stage,omitempty"`
	OwnerEmail  string  `json:"owner_email,omitempty"`
	OwnerName   string  `json:"owner_name,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// StageProgress is one ledger row: the latest status of one task at one
// stage. StartedAt and CompletedAt are first-touch stamps and never move
// once set.
type StageProgress struct {
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

type Comment struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	AuthorEmail string `json:"author_email"`
	AuthorName  string `json:"author_name,omitempty"`
	Body        string `json:"body"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Attachment struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	StorageKey  string `json:"storage_key"`
	UploadedBy  string `json:"uploaded_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID             string `json:"id"`
	OrgID          string `json:"org_id"`
	RecipientEmail string `json:"recipient_email"`
	TaskID         string `json:"task_id,omitempty"`
	Kind           string `json:"kind"`
	Message        string `json:"message"`
	Read           bool   `json:"read"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorEmail string `json:"actor_email"`
	Payload    string `json:"payload_json"`
}

// Actor is the authenticated principal acting on a request. Identity token
// verification happens upstream; the engine only consumes this.
type Actor struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	OrgID       string `json:"org_id"`
	IsOrgAdmin  bool   `json:"is_org_admin"`
}
