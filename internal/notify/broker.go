// Package notify is the notification fan-out channel: an explicit pub/sub
// broker decoupling transports from consumers. Connected clients get events
// pushed; an event published while nobody listens is simply dropped, because
// polling against the session registry guarantees eventual discovery.
package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/tutorhall/backend/internal/models"
)

// Handler consumes notification events for one course subscription.
type Handler func(event models.NotificationEvent)

// Broker fans session-transition events out to course subscribers.
// Delivery is at-least-once and tolerant of reordering; consumers dedup by
// event ID and resolve ordering by state ordinal, never by arrival order.
type Broker interface {
	// Subscribe registers a handler for a course's events and returns a
	// cancel func removing it.
	Subscribe(courseID uuid.UUID, fn Handler) (cancel func())
	// Publish delivers the event to current subscribers of its course.
	Publish(ctx context.Context, event models.NotificationEvent)
}

// EventLog records published events for audit. Append failures never block
// delivery.
type EventLog interface {
	Append(ctx context.Context, event models.NotificationEvent) error
}
