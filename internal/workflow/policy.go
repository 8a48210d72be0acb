package workflow

import "github.com/mtlprog/taskflow/internal/domain"

// Authorization policy for the workflow. The engine consumes these checks as
// the authoritative source; UI layers may call the same functions to hide
// controls, but the engine never trusts a caller to have done so.

// CanTransition reports whether a role may drive the from -> to transition.
// Verdict targets are reserved for privileged roles; other targets only need
// the transition to be legal (ownership is checked separately against the
// task's assignee).
func CanTransition(role domain.Role, from, to domain.TaskStatus) bool {
	if !CanFollow(from, to) {
		return false
	}
	if to.IsVerdict() {
		return role.IsPrivileged()
	}
	return true
}

// CanMutateTodos reports whether an actor may edit a task's checklist:
// privileged roles always, ordinary users only on their own tasks.
func CanMutateTodos(role domain.Role, actorID string, assigneeID *string) bool {
	if role.IsPrivileged() {
		return true
	}
	return assigneeID != nil && *assigneeID == actorID
}
