// Package bus provides event distribution between gateway components.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope carried on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler receives published events.
type Handler func(ctx context.Context, event *Event)

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish delivers an event to all subscribers of the subject.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe registers a handler for a subject. The returned function
	// removes the subscription.
	Subscribe(subject string, handler Handler) (func(), error)

	Close()
}

// MemoryEventBus is the in-process EventBus used by default.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
}

// NewMemoryEventBus creates an in-process event bus.
func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{subs: make(map[string]map[int]Handler)}
}

// Publish delivers the event to subject subscribers and to "*" subscribers.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	handlers := make([]Handler, 0, len(b.subs[subject])+len(b.subs["*"]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	for _, h := range b.subs["*"] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}
	return nil
}

// Subscribe registers a handler; subject "*" receives everything.
func (b *MemoryEventBus) Subscribe(subject string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[subject][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[subject], id)
	}, nil
}

// Close stops delivery.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
