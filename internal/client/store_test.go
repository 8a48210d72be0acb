package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/taskflow/internal/client"
	"github.com/mtlprog/taskflow/internal/domain"
	"github.com/mtlprog/taskflow/internal/handler/dto"
	"github.com/mtlprog/taskflow/internal/realtime"
)

// fakeServer is a minimal HTTP stand-in for the task API.
type fakeServer struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
}

func newFakeServer() (*fakeServer, *httptest.Server) {
	fs := &fakeServer{tasks: make(map[string]*domain.Task)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		tasks := make([]*domain.Task, 0, len(fs.tasks))
		for _, t := range fs.tasks {
			tasks = append(tasks, t)
		}
		json.NewEncoder(w).Encode(dto.NewTasksListResponse(tasks))
	})
	mux.HandleFunc("GET /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		t, ok := fs.tasks[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(dto.NewErrorResponse("TASK_NOT_FOUND", "task not found"))
			return
		}
		json.NewEncoder(w).Encode(dto.TaskResponse{Task: t})
	})
	return fs, httptest.NewServer(mux)
}

func (fs *fakeServer) put(t *domain.Task) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.tasks[t.ID] = t
}

func serverTask(id string, status domain.TaskStatus) *domain.Task {
	return &domain.Task{
		ID:     id,
		Title:  "Task " + id,
		Status: status,
		Todos:  []domain.Todo{{ID: "td-1", Text: "step one"}},
	}
}

func serverTaskAtSeq(id string, status domain.TaskStatus, seq int64) *domain.Task {
	t := serverTask(id, status)
	t.EventSeq = seq
	return t
}

func eventMsg(taskID string, seq int64, task *domain.Task) realtime.Message {
	return realtime.Message{
		Type: "task.updated",
		Event: &domain.Event{
			Type:     domain.EventTypeTaskUpdated,
			TaskID:   taskID,
			Sequence: seq,
			Payload:  domain.EventPayload{Task: task},
		},
	}
}

func TestStoreRefreshAndRead(t *testing.T) {
	fs, srv := newFakeServer()
	defer srv.Close()
	fs.put(serverTask("t1", domain.TaskStatusPending))
	fs.put(serverTask("t2", domain.TaskStatusQA))

	store := client.NewStore(client.NewAPIClient(srv.URL, "token"))
	require.NoError(t, store.Refresh(context.Background()))

	assert.Len(t, store.Tasks(), 2)
	got := store.Task("t1")
	require.NotNil(t, got)
	assert.Equal(t, domain.TaskStatusPending, got.Status)

	// Reads hand out copies, not cache references.
	got.Status = domain.TaskStatusCompleted
	assert.Equal(t, domain.TaskStatusPending, store.Task("t1").Status)
}

func TestStoreAppliesEventSnapshots(t *testing.T) {
	fs, srv := newFakeServer()
	defer srv.Close()
	fs.put(serverTask("t1", domain.TaskStatusPending))

	store := client.NewStore(client.NewAPIClient(srv.URL, "token"))
	require.NoError(t, store.Refresh(context.Background()))

	store.HandleMessage(eventMsg("t1", 1, serverTask("t1", domain.TaskStatusInProgress)))
	assert.Equal(t, domain.TaskStatusInProgress, store.Task("t1").Status)

	// Duplicate and stale sequences are dropped.
	store.HandleMessage(eventMsg("t1", 1, serverTask("t1", domain.TaskStatusQA)))
	assert.Equal(t, domain.TaskStatusInProgress, store.Task("t1").Status)

	store.HandleMessage(eventMsg("t1", 2, serverTask("t1", domain.TaskStatusQAReady)))
	assert.Equal(t, domain.TaskStatusQAReady, store.Task("t1").Status)
}

func TestStoreDeleteEventEvictsTask(t *testing.T) {
	fs, srv := newFakeServer()
	defer srv.Close()
	fs.put(serverTask("t1", domain.TaskStatusPending))

	store := client.NewStore(client.NewAPIClient(srv.URL, "token"))
	require.NoError(t, store.Refresh(context.Background()))

	store.HandleMessage(realtime.Message{
		Type: "task.deleted",
		Event: &domain.Event{
			Type:     domain.EventTypeTaskDeleted,
			TaskID:   "t1",
			Sequence: 1,
		},
	})
	assert.Nil(t, store.Task("t1"))
}

func TestStoreOptimisticMutationSuccess(t *testing.T) {
	fs, srv := newFakeServer()
	defer srv.Close()
	fs.put(serverTask("t1", domain.TaskStatusInProgress))

	store := client.NewStore(client.NewAPIClient(srv.URL, "token"))
	require.NoError(t, store.Refresh(context.Background()))

	var optimisticSeen domain.TaskStatus
	err := store.Mutate(context.Background(), "t1",
		func(t *domain.Task) { t.Status = domain.TaskStatusQAReady },
		func(ctx context.Context) (*domain.Task, error) {
			// Mid-flight the local cache already shows the optimistic state.
			optimisticSeen = store.Task("t1").Status
			return serverTask("t1", domain.TaskStatusQAReady), nil
		})
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusQAReady, optimisticSeen)
	assert.Equal(t, domain.TaskStatusQAReady, store.Task("t1").Status)
}

func TestStoreBuffersEventsDuringMutation(t *testing.T) {
	fs, srv := newFakeServer()
	defer srv.Close()
	fs.put(serverTask("t1", domain.TaskStatusInProgress))

	store := client.NewStore(client.NewAPIClient(srv.URL, "token"))
	require.NoError(t, store.Refresh(context.Background()))

	err := store.Mutate(context.Background(), "t1",
		nil,
		func(ctx context.Context) (*domain.Task, error) {
			// A faster event with a newer snapshot lands while the HTTP
			// round-trip is still in flight. It must win over the
			// response snapshot below.
			store.HandleMessage(eventMsg("t1", 5, serverTask("t1", domain.TaskStatusQA)))
			assert.Equal(t, domain.TaskStatusInProgress, store.Task("t1").Status,
				"buffered event must not apply mid-flight")
			return serverTaskAtSeq("t1", domain.TaskStatusQAReady, 4), nil
		})
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusQA, store.Task("t1").Status,
		"buffered event replays on top of the confirmed snapshot")
}

func TestStoreDropsBufferedEventsOlderThanConfirmation(t *testing.T) {
	fs, srv := newFakeServer()
	defer srv.Close()
	fs.put(serverTask("t1", domain.TaskStatusQA))

	store := client.NewStore(client.NewAPIClient(srv.URL, "token"))
	require.NoError(t, store.Refresh(context.Background()))

	confirmed := serverTaskAtSeq("t1", domain.TaskStatusQA, 7)
	confirmed.Todos[0].Completed = true

	err := store.Mutate(context.Background(), "t1",
		nil,
		func(ctx context.Context) (*domain.Task, error) {
			// This event committed before the in-flight mutation; its
			// snapshot predates the confirmed one and must be discarded
			// on replay, not clobber it.
			store.HandleMessage(eventMsg("t1", 6, serverTask("t1", domain.TaskStatusQA)))
			return confirmed, nil
		})
	require.NoError(t, err)

	got := store.Task("t1")
	assert.True(t, got.Todos[0].Completed, "confirmed snapshot survives stale buffered event")
	assert.EqualValues(t, 7, got.EventSeq)

	// Subsequent stale deliveries are also dropped.
	store.HandleMessage(eventMsg("t1", 7, serverTask("t1", domain.TaskStatusRejected)))
	assert.Equal(t, domain.TaskStatusQA, store.Task("t1").Status)
}

func TestStoreFailedMutationRollsBack(t *testing.T) {
	fs, srv := newFakeServer()
	defer srv.Close()
	fs.put(serverTask("t1", domain.TaskStatusInProgress))

	store := client.NewStore(client.NewAPIClient(srv.URL, "token"))
	require.NoError(t, store.Refresh(context.Background()))

	wantErr := &client.APIError{Status: http.StatusConflict, Code: "INVALID_TRANSITION"}
	err := store.Mutate(context.Background(), "t1",
		func(t *domain.Task) { t.Status = domain.TaskStatusCompleted },
		func(ctx context.Context) (*domain.Task, error) {
			return nil, wantErr
		})
	require.ErrorIs(t, err, wantErr)

	// The optimistic state is gone; the cache holds the server's truth.
	assert.Equal(t, domain.TaskStatusInProgress, store.Task("t1").Status)
}

func TestStoreMutationOnDeletedTaskEvicts(t *testing.T) {
	fs, srv := newFakeServer()
	defer srv.Close()
	fs.put(serverTask("t1", domain.TaskStatusInProgress))

	store := client.NewStore(client.NewAPIClient(srv.URL, "token"))
	require.NoError(t, store.Refresh(context.Background()))

	err := store.Mutate(context.Background(), "t1", nil,
		func(ctx context.Context) (*domain.Task, error) {
			return nil, &client.APIError{Status: http.StatusNotFound, Code: "TASK_NOT_FOUND"}
		})
	require.Error(t, err)
	assert.Nil(t, store.Task("t1"))
}

func TestStoreRejectsOverlappingMutations(t *testing.T) {
	fs, srv := newFakeServer()
	defer srv.Close()
	fs.put(serverTask("t1", domain.TaskStatusInProgress))

	store := client.NewStore(client.NewAPIClient(srv.URL, "token"))
	require.NoError(t, store.Refresh(context.Background()))

	err := store.Mutate(context.Background(), "t1", nil,
		func(ctx context.Context) (*domain.Task, error) {
			inner := store.Mutate(ctx, "t1", nil, func(ctx context.Context) (*domain.Task, error) {
				return nil, nil
			})
			assert.ErrorIs(t, inner, domain.ErrConflictStale)
			return serverTask("t1", domain.TaskStatusInProgress), nil
		})
	require.NoError(t, err)
}
