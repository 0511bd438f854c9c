package history

import (
	"context"
	"time"

	"github.com/omnix-ai/omnixd/internal/store"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	// EventLaunch is emitted when a service process is spawned.
	EventLaunch EventType = "launch"
	// EventHealthy is emitted when a service passes its health wait.
	EventHealthy EventType = "healthy"
	// EventUnhealthy is emitted when a previously healthy service stops
	// answering its health endpoint.
	EventUnhealthy EventType = "unhealthy"
	// EventStop is emitted when an operator-requested stop completes.
	EventStop EventType = "stop"
	// EventUnexpectedExit is emitted when a service dies without a stop
	// having been requested.
	EventUnexpectedExit EventType = "unexpected_exit"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Record     store.Record `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
