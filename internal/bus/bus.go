// Package bus provides the in-process pub/sub layer between the workflow
// engine and the realtime connections. Delivery is best-effort and
// at-most-once per subscriber per publish: a full subscriber buffer drops the
// event rather than blocking the publisher. Clients recover missed events by
// refetching over HTTP after reconnect.
package bus

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/mtlprog/taskflow/internal/domain"
)

// Bus fans out domain events to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *domain.Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *domain.Event),
	}
}

// Subscribe registers a buffered subscription and returns its id and channel.
func (b *Bus) Subscribe(bufSize int) (string, <-chan *domain.Event) {
	id := ulid.Make().String()
	ch := make(chan *domain.Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Publish forwards the event to every subscriber without blocking.
func (b *Bus) Publish(event *domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}
