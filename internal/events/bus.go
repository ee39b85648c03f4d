package events

import (
	"sync"

	"github.com/fieldops/ftc-queueing/internal/telemetry"
)

// Handler processes an event. Returning an error logs it but does not stop dispatch.
type Handler func(Event) error

// Bus is a synchronous in-process event bus.
// Subscribers are invoked in registration order on the publisher's goroutine,
// which keeps per-stream processing sequential: no two events from the same
// stream are ever handled concurrently.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
	}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish dispatches an event to all registered handlers for its type.
// A failing handler never blocks the rest.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := b.handlers[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(e); err != nil {
			telemetry.Warnf("bus: handler for %s failed: %v", e.Type, err)
		}
	}
}
