package realtime

import (
	"github.com/mtlprog/taskflow/internal/domain"
)

// Message types pushed to clients. Workflow events keep their own type
// string; the aliases below match what the portal UI listens for. Clients
// must ignore message types they do not recognize.
const (
	MessageTypeNotification = "notification"
	MessageTypeTaskAssigned = "task_assigned"
	MessageTypeStatusUpdate = "status_update"
	MessageTypeError        = "error"
)

// Inbound message types.
const (
	inboundTypeAuth       = "auth"
	inboundTypeToggleTodo = "toggle_todo"
	inboundTypeAddTodo    = "add_todo"
	inboundTypeRemoveTodo = "remove_todo"
)

// Message is the server -> client envelope. Event is present for workflow
// events; Message carries human-readable text for toast notifications.
type Message struct {
	Type    string        `json:"type"`
	Event   *domain.Event `json:"event,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Inbound is the client -> server envelope. The first message on every
// connection must be type "auth"; everything else is rejected until then.
type Inbound struct {
	Type     string `json:"type"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
	Token    string `json:"token,omitempty"`
	TaskID   string `json:"taskId,omitempty"`
	TodoID   string `json:"todoId,omitempty"`
	Text     string `json:"text,omitempty"`
}

// MessageFor wraps a domain event in its wire envelope.
func MessageFor(e *domain.Event) Message {
	msg := Message{Event: e, Message: e.Payload.Message}
	switch e.Type {
	case domain.EventTypeTaskAssigned:
		msg.Type = MessageTypeTaskAssigned
	case domain.EventTypeStatusChanged:
		msg.Type = MessageTypeStatusUpdate
	case domain.EventTypeRedZoneAlert:
		msg.Type = MessageTypeNotification
	default:
		msg.Type = string(e.Type)
	}
	return msg
}
