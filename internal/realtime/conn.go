package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtlprog/taskflow/internal/domain"
)

// connState tracks the per-connection lifecycle:
// Connecting -> Authenticating -> Open -> Closed.
type connState int32

const (
	stateAuthenticating connState = iota
	stateOpen
	stateClosed
)

// Conn is one client's persistent connection. Owned exclusively by the Hub;
// the dispatcher only addresses it through the Hub's index.
type Conn struct {
	id  string
	hub *Hub
	ws  *websocket.Conn

	// send is the bounded outbound queue. enqueue drops the oldest message
	// on overflow so a slow consumer never blocks a publish.
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	state  connState
	userID string
	role   domain.Role
}

func (c *Conn) setIdentity(u *domain.User) {
	c.mu.Lock()
	c.state = stateOpen
	c.userID = u.ID
	c.role = u.Role
	c.mu.Unlock()
}

func (c *Conn) identity() (string, domain.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.role, c.state == stateOpen
}

// enqueue adds a marshaled message to the outbound queue, evicting the
// oldest entry when full. Best-effort: a closed connection discards.
func (c *Conn) enqueue(msg []byte) {
	for {
		select {
		case <-c.done:
			return
		case c.send <- msg:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	already := c.state == stateClosed
	c.state = stateClosed
	c.mu.Unlock()
	if already {
		return
	}
	close(c.done)
	c.ws.Close()
}

// readPump drives the inbound side: the auth handshake first, then command
// routing. It runs until the connection drops and always unregisters itself.
func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.ws.SetReadLimit(c.hub.cfg.MaxMessageSize)

	// The identity message must arrive within the auth deadline.
	if err := c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.AuthTimeout)); err != nil {
		return
	}
	if !c.authenticate(ctx) {
		return
	}

	// Heartbeat: the write side pings, pongs extend the read deadline so
	// half-open sockets time out within PongWait.
	if err := c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait)); err != nil {
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		c.handleInbound(ctx, raw)
	}
}

// authenticate reads the first frame and resolves the identity. Any failure
// sends a close frame; the client's reconnect loop handles retry.
func (c *Conn) authenticate(ctx context.Context) bool {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return false
	}

	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != inboundTypeAuth {
		c.closeWith(websocket.ClosePolicyViolation, "auth message required")
		return false
	}

	user, err := c.hub.users.GetByToken(ctx, msg.Token)
	if err != nil || !user.IsActive || (msg.UserID != "" && msg.UserID != user.ID) {
		slog.Warn("websocket auth rejected", "conn_id", c.id, "user_id", msg.UserID)
		c.closeWith(websocket.ClosePolicyViolation, "invalid identity")
		return false
	}

	c.setIdentity(user)
	c.hub.register(c)
	slog.Info("websocket connection opened", "conn_id", c.id, "user_id", user.ID, "role", user.Role)
	return true
}

// handleInbound routes post-auth commands. Unknown types are ignored, not
// errors: forward compatibility.
func (c *Conn) handleInbound(ctx context.Context, raw []byte) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("discarding malformed inbound message", "conn_id", c.id, "error", err)
		return
	}

	userID, role, open := c.identity()
	if !open {
		return
	}
	actor := &domain.User{ID: userID, Role: role, IsActive: true}

	var err error
	switch msg.Type {
	case inboundTypeToggleTodo:
		_, err = c.hub.commander.ToggleTodo(ctx, msg.TaskID, msg.TodoID, actor)
	case inboundTypeAddTodo:
		_, err = c.hub.commander.AddTodo(ctx, msg.TaskID, msg.Text, actor)
	case inboundTypeRemoveTodo:
		_, err = c.hub.commander.RemoveTodo(ctx, msg.TaskID, msg.TodoID, actor)
	case inboundTypeAuth:
		// Already authenticated; a second handshake is a no-op.
		return
	default:
		slog.Debug("ignoring unknown inbound message type", "conn_id", c.id, "type", msg.Type)
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.sendError(msg.TaskID, err)
	}
}

func (c *Conn) sendError(taskID string, err error) {
	payload, mErr := json.Marshal(Message{Type: MessageTypeError, Message: err.Error(), Event: &domain.Event{TaskID: taskID}})
	if mErr != nil {
		return
	}
	c.enqueue(payload)
}

func (c *Conn) closeWith(code int, reason string) {
	deadline := time.Now().Add(c.hub.cfg.WriteWait)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// writePump drains the outbound queue and keeps the heartbeat alive.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
