package port

import (
	"context"
)

// EventPublisher defines the interface for publishing events to a message broker
type EventPublisher interface {
	// PublishEvent publishes an event to the specified subject.
	// Implementations must not block the capture response on broker latency.
	PublishEvent(ctx context.Context, subject string, event interface{}) error

	// Close drains pending publishes and closes the connection
	Close() error
}
