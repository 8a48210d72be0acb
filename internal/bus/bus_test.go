package bus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/taskflow/internal/bus"
	"github.com/mtlprog/taskflow/internal/domain"
)

func event(taskID string, seq int64) *domain.Event {
	return &domain.Event{
		ID:       "ev-" + taskID,
		Type:     domain.EventTypeTaskUpdated,
		TaskID:   taskID,
		Sequence: seq,
	}
}

func TestPublishFanOut(t *testing.T) {
	b := bus.New()

	_, ch1 := b.Subscribe(4)
	_, ch2 := b.Subscribe(4)

	ev := event("t1", 1)
	b.Publish(ev)

	assert.Same(t, ev, <-ch1)
	assert.Same(t, ev, <-ch2)
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	b := bus.New()
	_, ch := b.Subscribe(8)

	for i := int64(1); i <= 5; i++ {
		b.Publish(event("t1", i))
	}

	for i := int64(1); i <= 5; i++ {
		got := <-ch
		assert.Equal(t, i, got.Sequence)
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := bus.New()
	_, ch := b.Subscribe(2)

	for i := int64(1); i <= 5; i++ {
		b.Publish(event("t1", i))
	}

	// The two oldest events survived; the rest were dropped, and the
	// publisher never blocked.
	assert.EqualValues(t, 1, (<-ch).Sequence)
	assert.EqualValues(t, 2, (<-ch).Sequence)
	select {
	case ev := <-ch:
		t.Fatalf("expected empty channel, got sequence %d", ev.Sequence)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := bus.New()
	id, ch := b.Subscribe(1)

	b.Unsubscribe(id)
	_, ok := <-ch
	require.False(t, ok)

	// A second unsubscribe and further publishes are no-ops.
	b.Unsubscribe(id)
	b.Publish(event("t1", 1))
}
