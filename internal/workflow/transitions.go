package workflow

import "github.com/mtlprog/taskflow/internal/domain"

// transitions is the legal transition graph: source -> allowed targets.
// Any pair not listed here is rejected with ErrInvalidTransition.
var transitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.TaskStatusPending:    {domain.TaskStatusInProgress},
	domain.TaskStatusInProgress: {domain.TaskStatusQAReady},
	domain.TaskStatusQAReady:    {domain.TaskStatusQA},
	domain.TaskStatusQA: {
		domain.TaskStatusApproved,
		domain.TaskStatusRejected,
		domain.TaskStatusFixingRequired,
	},
	domain.TaskStatusApproved: {domain.TaskStatusCompleted},
	domain.TaskStatusRejected: {
		domain.TaskStatusBackToQA,
		domain.TaskStatusCompleted,
	},
	domain.TaskStatusFixingRequired: {
		domain.TaskStatusBackToQA,
		domain.TaskStatusCompleted,
	},
	domain.TaskStatusBackToQA:  {domain.TaskStatusQA},
	domain.TaskStatusCompleted: {},
}

// CanFollow reports whether the transition graph lists to as a legal target
// of from, regardless of who attempts it.
func CanFollow(from, to domain.TaskStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Statuses returns every status in the workflow. Used by the boundary
// validators and by property tests enumerating the full graph.
func Statuses() []domain.TaskStatus {
	return []domain.TaskStatus{
		domain.TaskStatusPending,
		domain.TaskStatusInProgress,
		domain.TaskStatusQAReady,
		domain.TaskStatusQA,
		domain.TaskStatusApproved,
		domain.TaskStatusRejected,
		domain.TaskStatusFixingRequired,
		domain.TaskStatusBackToQA,
		domain.TaskStatusCompleted,
	}
}
