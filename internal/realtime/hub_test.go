package realtime_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/taskflow/internal/config"
	"github.com/mtlprog/taskflow/internal/domain"
	"github.com/mtlprog/taskflow/internal/realtime"
)

type fakeUsers struct {
	byToken map[string]*domain.User
}

// GetByToken fails on a canceled context the way a pgx-backed repository
// would, so the handshake tests catch pumps inheriting the request context.
func (f *fakeUsers) GetByToken(ctx context.Context, token string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, ok := f.byToken[token]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

type commandCall struct {
	op     string
	taskID string
	arg    string
	actor  *domain.User
}

type fakeCommander struct {
	mu    sync.Mutex
	calls []commandCall
	err   error
}

func (f *fakeCommander) record(op, taskID, arg string, actor *domain.User) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, commandCall{op: op, taskID: taskID, arg: arg, actor: actor})
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Task{ID: taskID}, nil
}

func (f *fakeCommander) ToggleTodo(ctx context.Context, taskID, todoID string, actor *domain.User) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.record("toggle", taskID, todoID, actor)
}

func (f *fakeCommander) AddTodo(ctx context.Context, taskID, text string, actor *domain.User) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.record("add", taskID, text, actor)
}

func (f *fakeCommander) RemoveTodo(ctx context.Context, taskID, todoID string, actor *domain.User) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.record("remove", taskID, todoID, actor)
}

func (f *fakeCommander) waitForCalls(t *testing.T, n int) []commandCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.calls) >= n {
			calls := append([]commandCall(nil), f.calls...)
			f.mu.Unlock()
			return calls
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d commander calls", n)
	return nil
}

func testConfig() config.Realtime {
	return config.Realtime{
		SendBuffer:     8,
		AuthTimeout:    time.Second,
		PingInterval:   50 * time.Millisecond,
		PongWait:       time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 65536,
	}
}

func newTestHub(t *testing.T, commander realtime.Commander) (*realtime.Hub, string) {
	t.Helper()

	users := &fakeUsers{byToken: map[string]*domain.User{
		"dev-token":   {ID: "dev-1", Name: "Dev", Token: "dev-token", Role: domain.RoleUser, IsActive: true},
		"admin-token": {ID: "admin-1", Name: "Lead", Token: "admin-token", Role: domain.RoleAdmin, IsActive: true},
		"dead-token":  {ID: "dev-9", Name: "Gone", Token: "dead-token", Role: domain.RoleUser, IsActive: false},
	}}

	hub := realtime.NewHub(testConfig(), users, commander)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func authAs(t *testing.T, ws *websocket.Conn, userID, token string) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(realtime.Inbound{Type: "auth", UserID: userID, Token: token}))
}

func waitForUser(t *testing.T, hub *realtime.Hub, userID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, id := range hub.ConnectedUsers() {
			if id == userID {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s never registered", userID)
}

func readMessage(t *testing.T, ws *websocket.Conn) realtime.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg realtime.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestAuthHandshake(t *testing.T) {
	hub, url := newTestHub(t, &fakeCommander{})

	ws := dial(t, url)
	authAs(t, ws, "dev-1", "dev-token")
	waitForUser(t, hub, "dev-1")

	assert.Contains(t, hub.ConnectedUsers(), "dev-1")
}

func TestAuthHandshakeOutlivesRequestContext(t *testing.T) {
	commander := &fakeCommander{}
	hub, url := newTestHub(t, commander)

	ws := dial(t, url)
	// ServeWS has long returned by the time the auth frame arrives; the
	// handshake must not run against the request's canceled context.
	time.Sleep(100 * time.Millisecond)
	authAs(t, ws, "dev-1", "dev-token")
	waitForUser(t, hub, "dev-1")

	require.NoError(t, ws.WriteJSON(realtime.Inbound{Type: "toggle_todo", TaskID: "t1", TodoID: "td-1"}))
	calls := commander.waitForCalls(t, 1)
	assert.Equal(t, "toggle", calls[0].op)
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	_, url := newTestHub(t, &fakeCommander{})

	ws := dial(t, url)
	authAs(t, ws, "dev-1", "wrong-token")

	expectClose(t, ws)
}

func TestAuthRejectsInactiveUser(t *testing.T) {
	_, url := newTestHub(t, &fakeCommander{})

	ws := dial(t, url)
	authAs(t, ws, "dev-9", "dead-token")

	expectClose(t, ws)
}

func TestAuthRejectsMismatchedUserID(t *testing.T) {
	_, url := newTestHub(t, &fakeCommander{})

	ws := dial(t, url)
	authAs(t, ws, "someone-else", "dev-token")

	expectClose(t, ws)
}

func TestFirstMessageMustBeAuth(t *testing.T) {
	_, url := newTestHub(t, &fakeCommander{})

	ws := dial(t, url)
	require.NoError(t, ws.WriteJSON(realtime.Inbound{Type: "toggle_todo", TaskID: "t1", TodoID: "td-1"}))

	expectClose(t, ws)
}

func expectClose(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation) ||
				websocket.IsUnexpectedCloseError(err), "expected close, got %v", err)
			return
		}
	}
}

func TestTargetedDelivery(t *testing.T) {
	hub, url := newTestHub(t, &fakeCommander{})

	devWS := dial(t, url)
	authAs(t, devWS, "dev-1", "dev-token")
	adminWS := dial(t, url)
	authAs(t, adminWS, "admin-1", "admin-token")
	waitForUser(t, hub, "dev-1")
	waitForUser(t, hub, "admin-1")

	assignee := "dev-1"
	from, to := domain.TaskStatusInProgress, domain.TaskStatusQAReady
	hub.SendToUsers([]string{"dev-1"}, &domain.Event{
		Type:     domain.EventTypeStatusChanged,
		TaskID:   "t1",
		Sequence: 3,
		Payload: domain.EventPayload{
			Task:      &domain.Task{ID: "t1", AssigneeID: &assignee},
			OldStatus: &from,
			NewStatus: &to,
		},
	})

	msg := readMessage(t, devWS)
	assert.Equal(t, realtime.MessageTypeStatusUpdate, msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, "t1", msg.Event.TaskID)
	assert.EqualValues(t, 3, msg.Event.Sequence)

	// The admin was not addressed and receives nothing.
	require.NoError(t, adminWS.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := adminWS.ReadMessage()
	assert.Error(t, err, "admin should not receive a user-targeted event")
}

func TestRoleDelivery(t *testing.T) {
	hub, url := newTestHub(t, &fakeCommander{})

	adminWS := dial(t, url)
	authAs(t, adminWS, "admin-1", "admin-token")
	waitForUser(t, hub, "admin-1")

	hub.SendToRoles([]domain.Role{domain.RoleAdmin, domain.RoleSuperAdmin}, &domain.Event{
		Type:     domain.EventTypeRedZoneAlert,
		TaskID:   "t1",
		Sequence: 7,
		Payload:  domain.EventPayload{Message: "Task is past its due date"},
	})

	msg := readMessage(t, adminWS)
	assert.Equal(t, realtime.MessageTypeNotification, msg.Type)
	assert.Equal(t, "Task is past its due date", msg.Message)
}

func TestInboundCommandsReachCommander(t *testing.T) {
	commander := &fakeCommander{}
	hub, url := newTestHub(t, commander)

	ws := dial(t, url)
	authAs(t, ws, "dev-1", "dev-token")
	waitForUser(t, hub, "dev-1")

	require.NoError(t, ws.WriteJSON(realtime.Inbound{Type: "toggle_todo", TaskID: "t1", TodoID: "td-1"}))
	require.NoError(t, ws.WriteJSON(realtime.Inbound{Type: "add_todo", TaskID: "t1", Text: "new item"}))

	calls := commander.waitForCalls(t, 2)
	assert.Equal(t, "toggle", calls[0].op)
	assert.Equal(t, "t1", calls[0].taskID)
	assert.Equal(t, "td-1", calls[0].arg)
	require.NotNil(t, calls[0].actor)
	assert.Equal(t, "dev-1", calls[0].actor.ID)
	assert.Equal(t, domain.RoleUser, calls[0].actor.Role)

	assert.Equal(t, "add", calls[1].op)
	assert.Equal(t, "new item", calls[1].arg)
}

func TestCommandErrorsComeBackAsErrorMessages(t *testing.T) {
	commander := &fakeCommander{err: fmt.Errorf("%w: nope", domain.ErrForbidden)}
	hub, url := newTestHub(t, commander)

	ws := dial(t, url)
	authAs(t, ws, "dev-1", "dev-token")
	waitForUser(t, hub, "dev-1")

	require.NoError(t, ws.WriteJSON(realtime.Inbound{Type: "remove_todo", TaskID: "t1", TodoID: "td-1"}))

	msg := readMessage(t, ws)
	assert.Equal(t, realtime.MessageTypeError, msg.Type)
	assert.Contains(t, msg.Message, "nope")
}

func TestUnknownInboundTypesAreIgnored(t *testing.T) {
	commander := &fakeCommander{}
	hub, url := newTestHub(t, commander)

	ws := dial(t, url)
	authAs(t, ws, "dev-1", "dev-token")
	waitForUser(t, hub, "dev-1")

	require.NoError(t, ws.WriteJSON(realtime.Inbound{Type: "future_feature", TaskID: "t1"}))
	require.NoError(t, ws.WriteJSON(realtime.Inbound{Type: "toggle_todo", TaskID: "t1", TodoID: "td-1"}))

	calls := commander.waitForCalls(t, 1)
	assert.Equal(t, "toggle", calls[0].op, "unknown type skipped, next command still processed")
}

func TestUnregisterOnDisconnect(t *testing.T) {
	hub, url := newTestHub(t, &fakeCommander{})

	ws := dial(t, url)
	authAs(t, ws, "dev-1", "dev-token")
	waitForUser(t, hub, "dev-1")

	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(hub.ConnectedUsers()) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("connection was not unregistered after disconnect")
}
