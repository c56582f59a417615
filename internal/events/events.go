package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies what kind of state change an event announces.
type Type string

const (
	// TypeJobQueued fires after a job descriptor lands in a project queue.
	TypeJobQueued Type = "job_queued"

	// TypeVersionAdded fires after a bundle version is stored.
	TypeVersionAdded Type = "version_added"

	// TypeVersionDeleted fires after a bundle version, or a whole project,
	// is removed.
	TypeVersionDeleted Type = "version_deleted"
)

// Event carries one state-change notification between components. It
// contains the necessary information for consumers to react without
// direct dependencies on the producing package.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type indicates what happened
	Type Type `json:"type"`

	// Project is the project the change applies to
	Project string `json:"project"`

	// Job carries the job id for job-related events
	Job string `json:"job,omitempty"`

	// Version carries the bundle version for version-related events
	Version string `json:"version,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// New creates an Event of the given type for a project. Callers fill in
// Job or Version when the event concerns one.
func New(eventType Type, project string) *Event {
	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Project:   project,
		CreatedAt: time.Now(),
	}
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows producers to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *Event) error
}
