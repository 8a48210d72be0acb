// Package realtime owns the persistent client connections: the websocket
// upgrade, the auth handshake, heartbeat, inbound command routing and
// outbound event delivery. Connections live in flat maps keyed by id; the
// event dispatcher addresses them by user id or role, never by reference.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/mtlprog/taskflow/internal/config"
	"github.com/mtlprog/taskflow/internal/domain"
)

// UserSource resolves an opaque token into a user during the handshake.
type UserSource interface {
	GetByToken(ctx context.Context, token string) (*domain.User, error)
}

// Commander executes todo commands arriving over the realtime channel.
// Implemented by the task service.
type Commander interface {
	ToggleTodo(ctx context.Context, taskID, todoID string, actor *domain.User) (*domain.Task, error)
	AddTodo(ctx context.Context, taskID, text string, actor *domain.User) (*domain.Task, error)
	RemoveTodo(ctx context.Context, taskID, todoID string, actor *domain.User) (*domain.Task, error)
}

// Hub registers live connections and delivers events to them. It implements
// bus.Sink.
type Hub struct {
	cfg       config.Realtime
	users     UserSource
	commander Commander
	upgrader  websocket.Upgrader

	// ctx outlives individual requests: net/http cancels the request
	// context once the handler returns, which happens immediately after
	// the upgrade hijacks the connection. Pumps must not inherit it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	conns  map[string]*Conn
	byUser map[string]map[string]*Conn
}

// NewHub creates a Hub with the given realtime configuration.
func NewHub(cfg config.Realtime, users UserSource, commander Commander) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:       cfg,
		users:     users,
		commander: commander,
		ctx:       ctx,
		cancel:    cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The portal frontend is served from a different origin;
			// the auth handshake is the access check, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:  make(map[string]*Conn),
		byUser: make(map[string]map[string]*Conn),
	}
}

// ServeWS upgrades the request and starts the connection pumps. The
// connection stays unregistered until the auth handshake succeeds.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Conn{
		id:    ulid.Make().String(),
		hub:   h,
		ws:    ws,
		send:  make(chan []byte, h.cfg.SendBuffer),
		done:  make(chan struct{}),
		state: stateAuthenticating,
	}

	go c.writePump()
	go c.readPump(h.ctx)
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[string]*Conn)
	}
	h.byUser[c.userID][c.id] = c
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	if peers, ok := h.byUser[c.userID]; ok {
		delete(peers, c.id)
		if len(peers) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	slog.Info("websocket connection closed", "conn_id", c.id, "user_id", c.userID)
}

// SendToUsers delivers the event to every live connection of the given users.
func (h *Hub) SendToUsers(userIDs []string, event *domain.Event) {
	payload, err := json.Marshal(MessageFor(event))
	if err != nil {
		slog.Error("failed to marshal event", "event_id", event.ID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, userID := range userIDs {
		for _, c := range h.byUser[userID] {
			c.enqueue(payload)
		}
	}
}

// SendToRoles delivers the event to every live connection whose user holds
// one of the given roles.
func (h *Hub) SendToRoles(roles []domain.Role, event *domain.Event) {
	payload, err := json.Marshal(MessageFor(event))
	if err != nil {
		slog.Error("failed to marshal event", "event_id", event.ID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		for _, role := range roles {
			if c.role == role {
				c.enqueue(payload)
				break
			}
		}
	}
}

// ConnectedUsers returns the ids of users with at least one open connection.
func (h *Hub) ConnectedUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.byUser))
	for id := range h.byUser {
		out = append(out, id)
	}
	return out
}

// Close tears down every connection, typically during shutdown.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}
