package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mtlprog/taskflow/internal/domain"
	"github.com/mtlprog/taskflow/internal/workflow"
)

func TestCanTransitionVerdictsArePrivileged(t *testing.T) {
	verdicts := []domain.TaskStatus{
		domain.TaskStatusApproved,
		domain.TaskStatusRejected,
		domain.TaskStatusFixingRequired,
	}

	for _, to := range verdicts {
		assert.False(t, workflow.CanTransition(domain.RoleUser, domain.TaskStatusQA, to),
			"user may not apply verdict %s", to)
		assert.True(t, workflow.CanTransition(domain.RoleAdmin, domain.TaskStatusQA, to))
		assert.True(t, workflow.CanTransition(domain.RoleSuperAdmin, domain.TaskStatusQA, to))
	}
}

func TestCanTransitionRegularHops(t *testing.T) {
	assert.True(t, workflow.CanTransition(domain.RoleUser, domain.TaskStatusPending, domain.TaskStatusInProgress))
	assert.True(t, workflow.CanTransition(domain.RoleUser, domain.TaskStatusInProgress, domain.TaskStatusQAReady))
	assert.True(t, workflow.CanTransition(domain.RoleUser, domain.TaskStatusRejected, domain.TaskStatusBackToQA))
	assert.True(t, workflow.CanTransition(domain.RoleUser, domain.TaskStatusRejected, domain.TaskStatusCompleted))

	// Graph violations fail for every role.
	assert.False(t, workflow.CanTransition(domain.RoleSuperAdmin, domain.TaskStatusPending, domain.TaskStatusQAReady))
	assert.False(t, workflow.CanTransition(domain.RoleAdmin, domain.TaskStatusCompleted, domain.TaskStatusQA))
}

func TestCanMutateTodos(t *testing.T) {
	assignee := "u1"
	other := "u2"

	assert.True(t, workflow.CanMutateTodos(domain.RoleUser, assignee, &assignee))
	assert.False(t, workflow.CanMutateTodos(domain.RoleUser, other, &assignee))
	assert.False(t, workflow.CanMutateTodos(domain.RoleUser, other, nil))
	assert.True(t, workflow.CanMutateTodos(domain.RoleAdmin, other, &assignee))
	assert.True(t, workflow.CanMutateTodos(domain.RoleSuperAdmin, other, nil))
}
