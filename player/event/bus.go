// Package event defines the engine's typed publish/subscribe bus, the event
// names, and their payload shapes. The bus is the sole coupling between
// components: each controller subscribes on construction and unsubscribes on
// destroy.
package event

import (
	"sync"

	"github.com/google/uuid"

	"github.com/RyanBlaney/hls-player-core/logging"
)

// Event names an engine event
type Event string

// Handler receives a dispatched event with its payload
type Handler func(event Event, data any)

// Subscription identifies one registered handler so it can be removed
type Subscription struct {
	event Event
	id    uuid.UUID
}

type registration struct {
	id      uuid.UUID
	handler Handler
}

// Bus is a synchronous publish/subscribe channel. Dispatch happens on the
// emitting goroutine, in subscription order, against a snapshot of the
// handler list, so handlers may subscribe or unsubscribe during dispatch
// without affecting the current emission. The bus never re-enters a handler.
type Bus struct {
	mu       sync.Mutex
	handlers map[Event][]registration
	logger   logging.Logger
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Event][]registration),
		logger: logging.WithFields(logging.Fields{
			"component": "event_bus",
		}),
	}
}

// Subscribe registers a handler for an event and returns its subscription
// token
func (b *Bus) Subscribe(event Event, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New()
	b.handlers[event] = append(b.handlers[event], registration{id: id, handler: handler})
	return Subscription{event: event, id: id}
}

// Unsubscribe removes a previously registered handler. Removing an unknown
// subscription is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[sub.event]
	for i, reg := range regs {
		if reg.id == sub.id {
			b.handlers[sub.event] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Emit dispatches an event to all current subscribers, in subscription order,
// on the calling goroutine
func (b *Bus) Emit(event Event, data any) {
	b.mu.Lock()
	regs := b.handlers[event]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	b.mu.Unlock()

	for _, reg := range snapshot {
		reg.handler(event, data)
	}
}
