package bus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/taskflow/internal/bus"
	"github.com/mtlprog/taskflow/internal/domain"
)

type recordedSend struct {
	users []string
	roles []domain.Role
	event *domain.Event
}

// fakeSink records deliveries for assertions.
type fakeSink struct {
	mu    sync.Mutex
	sends []recordedSend
}

func (f *fakeSink) SendToUsers(userIDs []string, event *domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, recordedSend{users: userIDs, event: event})
}

func (f *fakeSink) SendToRoles(roles []domain.Role, event *domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, recordedSend{roles: roles, event: event})
}

func (f *fakeSink) snapshot() []recordedSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedSend(nil), f.sends...)
}

func (f *fakeSink) waitForSends(t *testing.T, n int) []recordedSend {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sends := f.snapshot(); len(sends) >= n {
			return sends
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sends, got %d", n, len(f.snapshot()))
	return nil
}

func TestDispatcherRoutesToAssigneeAndReviewers(t *testing.T) {
	b := bus.New()
	sink := &fakeSink{}
	d := bus.NewDispatcher(b, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// Give the dispatcher a beat to subscribe.
	time.Sleep(20 * time.Millisecond)

	assignee := "dev-1"
	b.Publish(&domain.Event{
		Type:     domain.EventTypeStatusChanged,
		TaskID:   "t1",
		Sequence: 1,
		Payload:  domain.EventPayload{Task: &domain.Task{ID: "t1", AssigneeID: &assignee}},
	})

	sends := sink.waitForSends(t, 2)
	require.Len(t, sends, 2)
	assert.Equal(t, []string{"dev-1"}, sends[0].users)
	assert.Equal(t, []domain.Role{domain.RoleAdmin, domain.RoleSuperAdmin}, sends[1].roles)
}

func TestDispatcherUnassignedTaskGoesToReviewersOnly(t *testing.T) {
	b := bus.New()
	sink := &fakeSink{}
	d := bus.NewDispatcher(b, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	b.Publish(&domain.Event{
		Type:     domain.EventTypeTaskCreated,
		TaskID:   "t1",
		Sequence: 1,
		Payload:  domain.EventPayload{Task: &domain.Task{ID: "t1"}},
	})

	sends := sink.waitForSends(t, 1)
	require.Len(t, sends, 1)
	assert.Nil(t, sends[0].users)
	assert.NotEmpty(t, sends[0].roles)
}

func TestDispatcherDeletionReachesAssignee(t *testing.T) {
	b := bus.New()
	sink := &fakeSink{}
	d := bus.NewDispatcher(b, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	assignee := "dev-1"
	b.Publish(&domain.Event{
		Type:     domain.EventTypeTaskDeleted,
		TaskID:   "t1",
		Sequence: 4,
		Payload:  domain.EventPayload{Task: &domain.Task{ID: "t1", AssigneeID: &assignee}},
	})

	sends := sink.waitForSends(t, 2)
	require.Len(t, sends, 2)
	assert.Equal(t, []string{"dev-1"}, sends[0].users,
		"the assignee must learn their task is gone without waiting for a refetch")
	assert.NotEmpty(t, sends[1].roles)
}

func TestDispatcherRedZoneAlertIsRoleBroadcast(t *testing.T) {
	b := bus.New()
	sink := &fakeSink{}
	d := bus.NewDispatcher(b, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	assignee := "dev-1"
	b.Publish(&domain.Event{
		Type:     domain.EventTypeRedZoneAlert,
		TaskID:   "t1",
		Sequence: 9,
		Payload:  domain.EventPayload{Task: &domain.Task{ID: "t1", AssigneeID: &assignee}},
	})

	sends := sink.waitForSends(t, 1)
	require.Len(t, sends, 1)
	assert.Equal(t, []domain.Role{domain.RoleAdmin, domain.RoleSuperAdmin}, sends[0].roles)
	assert.Nil(t, sends[0].users, "alerts do not go to the assignee directly")
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	b := bus.New()
	sink := &fakeSink{}
	d := bus.NewDispatcher(b, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop on context cancel")
	}
}
