// Package events is the in-process bus routing decisions are announced on.
// Subscribers such as the SSE notifier and the RabbitMQ forwarder react to
// assignments, transfers and conversation lifecycle changes without the
// router knowing about them.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is implemented by everything published on a Bus.
type Event interface {
	// EventName is the routing key subscribers register for.
	EventName() string
	OccurredAt() time.Time
}

// Identified is implemented by events that carry a stable ID, so a
// republished event can be recognized downstream.
type Identified interface {
	EventID() uuid.UUID
}

// BaseEvent is embedded by concrete events.
type BaseEvent struct {
	ID        uuid.UUID `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt implements Event.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// EventID implements Identified.
func (e BaseEvent) EventID() uuid.UUID {
	return e.ID
}

// NewBaseEvent stamps a fresh ID and the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{ID: uuid.New(), Timestamp: time.Now().UTC()}
}

// Handler processes events of one name.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus delivers published events to the handlers subscribed to their name.
type Bus interface {
	// Publish hands event to its handlers without waiting for them.
	Publish(ctx context.Context, event Event)

	// PublishSync runs the handlers in order and returns the first error.
	PublishSync(ctx context.Context, event Event) error

	// Subscribe registers handler for events whose EventName is eventName.
	Subscribe(eventName string, handler Handler)
}
