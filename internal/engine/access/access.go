package access

import (
	"fmt"
	"strings"

	"stageline/internal/domain"
)

// ForbiddenError indicates the actor lacks authority for the action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// CanOperateStage reports whether the actor may record progress on the given
// stage of the task. Org admins always may; otherwise the actor must own the
// stage or the task.
func CanOperateStage(actor domain.Actor, task domain.Task, stageOwnerEmail string) bool {
	if actor.IsOrgAdmin {
		return true
	}
	if EqualEmail(actor.Email, stageOwnerEmail) {
		return true
	}
	return EqualEmail(actor.Email, task.OwnerEmail)
}

// EqualEmail compares two addresses case-insensitively after trimming.
// Empty addresses never match anything.
func EqualEmail(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return a == b
}
