package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/mtlprog/taskflow/internal/domain"
	"github.com/mtlprog/taskflow/internal/realtime"
)

// Store is an optimistic local task cache. Reads are served from memory;
// mutations are applied locally first, then confirmed against the server.
// Incoming realtime events for a task with a mutation in flight are buffered
// and replayed once the mutation resolves, so a slower HTTP response can
// never clobber a newer event snapshot.
type Store struct {
	api *APIClient

	mu       sync.Mutex
	tasks    map[string]*domain.Task
	lastSeq  map[string]int64
	pending  map[string]bool
	inflight map[string][]*domain.Event
}

// NewStore creates a Store over the given API client.
func NewStore(api *APIClient) *Store {
	return &Store{
		api:      api,
		tasks:    make(map[string]*domain.Task),
		lastSeq:  make(map[string]int64),
		pending:  make(map[string]bool),
		inflight: make(map[string][]*domain.Event),
	}
}

// Refresh replaces the cache with the server's current task list. Called on
// startup and after every reconnect, since events missed while the link was
// down are not replayed.
func (s *Store) Refresh(ctx context.Context) error {
	tasks, err := s.api.ListTasks(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = make(map[string]*domain.Task, len(tasks))
	for _, t := range tasks {
		s.tasks[t.ID] = t
		if t.EventSeq > s.lastSeq[t.ID] {
			s.lastSeq[t.ID] = t.EventSeq
		}
	}
	return nil
}

// Task returns a copy of the cached task, or nil if unknown.
func (s *Store) Task(taskID string) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	return t.Clone()
}

// Tasks returns copies of all cached tasks.
func (s *Store) Tasks() []*domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// HandleMessage feeds a realtime message into the cache. Non-event messages
// are ignored; wire it to Listener.OnMessage.
func (s *Store) HandleMessage(msg realtime.Message) {
	if msg.Event == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending[msg.Event.TaskID] {
		s.inflight[msg.Event.TaskID] = append(s.inflight[msg.Event.TaskID], msg.Event)
		return
	}
	s.integrate(msg.Event)
}

// integrate applies one event to the cache. Events at or below the last seen
// sequence are duplicates from overlapping delivery paths and are dropped.
// Caller holds the lock.
func (s *Store) integrate(e *domain.Event) {
	if e.Sequence <= s.lastSeq[e.TaskID] {
		return
	}
	s.lastSeq[e.TaskID] = e.Sequence

	if e.Type == domain.EventTypeTaskDeleted {
		delete(s.tasks, e.TaskID)
		return
	}
	if e.Payload.Task != nil {
		s.tasks[e.TaskID] = e.Payload.Task.Clone()
	}
}

// Mutate runs one optimistic mutation: optimistic patches the cached copy
// immediately, do performs the server call. On success the confirmed
// snapshot lands in the cache and buffered events replay on top of it. On
// failure the optimistic state is discarded and the task refetched.
func (s *Store) Mutate(
	ctx context.Context,
	taskID string,
	optimistic func(*domain.Task),
	do func(context.Context) (*domain.Task, error),
) error {
	s.mu.Lock()
	if s.pending[taskID] {
		s.mu.Unlock()
		return domain.ErrConflictStale
	}
	s.pending[taskID] = true
	if t, ok := s.tasks[taskID]; ok && optimistic != nil {
		patched := t.Clone()
		optimistic(patched)
		s.tasks[taskID] = patched
	}
	s.mu.Unlock()

	confirmed, err := do(ctx)

	s.mu.Lock()
	defer func() {
		delete(s.pending, taskID)
		delete(s.inflight, taskID)
		s.mu.Unlock()
	}()

	if err != nil {
		s.rollback(ctx, taskID, err)
		return err
	}

	if confirmed != nil {
		s.tasks[taskID] = confirmed.Clone()
		// The confirmed snapshot carries its own sequence; buffered
		// events that committed before the mutation are now stale and
		// must not clobber it during the replay below.
		if confirmed.EventSeq > s.lastSeq[taskID] {
			s.lastSeq[taskID] = confirmed.EventSeq
		}
	}
	buffered := s.inflight[taskID]
	sort.Slice(buffered, func(i, j int) bool {
		return buffered[i].Sequence < buffered[j].Sequence
	})
	for _, e := range buffered {
		s.integrate(e)
	}
	return nil
}

// rollback discards optimistic state after a failed mutation. Caller holds
// the lock; the refetch briefly drops it.
func (s *Store) rollback(ctx context.Context, taskID string, cause error) {
	var apiErr *APIError
	if errors.As(cause, &apiErr) && apiErr.Status == http.StatusNotFound {
		delete(s.tasks, taskID)
		return
	}

	s.mu.Unlock()
	fresh, err := s.api.GetTask(ctx, taskID)
	s.mu.Lock()

	if err != nil {
		slog.Debug("refetch after failed mutation", "task_id", taskID, "error", err)
		delete(s.tasks, taskID)
		return
	}
	s.tasks[taskID] = fresh
	if fresh.EventSeq > s.lastSeq[taskID] {
		s.lastSeq[taskID] = fresh.EventSeq
	}
}
