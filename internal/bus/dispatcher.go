package bus

import (
	"context"
	"log/slog"

	"github.com/mtlprog/taskflow/internal/domain"
)

// Sink receives events routed to a recipient set. The realtime hub implements
// it; the dispatcher never owns connections, it only addresses them.
type Sink interface {
	SendToUsers(userIDs []string, event *domain.Event)
	SendToRoles(roles []domain.Role, event *domain.Event)
}

// privilegedRoles is the broadcast group for reviewer-facing events.
var privilegedRoles = []domain.Role{domain.RoleAdmin, domain.RoleSuperAdmin}

// Dispatcher resolves each published event to its recipients and forwards it
// to the sink, decoupling the workflow engine from transport concerns.
type Dispatcher struct {
	bus  *Bus
	sink Sink
}

// NewDispatcher creates a Dispatcher reading from bus and writing to sink.
func NewDispatcher(bus *Bus, sink Sink) *Dispatcher {
	return &Dispatcher{bus: bus, sink: sink}
}

// Run consumes events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	subID, ch := d.bus.Subscribe(256)
	defer d.bus.Unsubscribe(subID)

	slog.Info("event dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("event dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			d.dispatch(event)
		}
	}
}

// dispatch resolves the recipient set from the event payload: the task's
// assignee plus the privileged role group, or a pure role broadcast for
// red-zone alerts.
func (d *Dispatcher) dispatch(e *domain.Event) {
	if e.Type == domain.EventTypeRedZoneAlert {
		d.sink.SendToRoles(privilegedRoles, e)
		return
	}

	if e.Payload.Task != nil && e.Payload.Task.AssigneeID != nil {
		d.sink.SendToUsers([]string{*e.Payload.Task.AssigneeID}, e)
	}
	d.sink.SendToRoles(privilegedRoles, e)
}
