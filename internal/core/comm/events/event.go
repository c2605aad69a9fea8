package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plugmesh/plugmesh/internal/core/comm"
	"github.com/plugmesh/plugmesh/pkg/variant"
)

// DeliveryMode is the timing policy for event dispatch.
type DeliveryMode uint8

const (
	// Immediate resolves subscribers and delivers at publish time.
	Immediate DeliveryMode = iota
	// Queued appends to a FIFO drained oldest-first by the fast tick.
	Queued
	// Deferred holds an event until its age exceeds the configured delay.
	Deferred
	// Batched accumulates events and delivers the whole batch on the slow tick.
	Batched
)

func (m DeliveryMode) String() string {
	switch m {
	case Immediate:
		return "immediate"
	case Queued:
		return "queued"
	case Deferred:
		return "deferred"
	case Batched:
		return "batched"
	default:
		return "unknown"
	}
}

// Event is the typed-event counterpart of a bus message, addressed by a
// string event type. Immutable once published.
type Event struct {
	ID        string
	Type      string
	Source    string
	Priority  comm.Priority
	Payload   variant.Value
	Timestamp time.Time
	Metadata  map[string]string
}

// NewEvent builds an event with a fresh id and the current timestamp.
func NewEvent(eventType, source string, payload variant.Value, priority comm.Priority) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Priority:  priority,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", comm.ErrInvalidMessage)
	}
	if e.ID == "" || e.Type == "" || e.Source == "" {
		return fmt.Errorf("%w: event identity fields must be non-empty", comm.ErrInvalidMessage)
	}
	return nil
}

// Record renders the event as a structured tree for history and journal.
func (e *Event) Record() variant.Value {
	meta := make(map[string]variant.Value, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = variant.NewString(v)
	}
	return variant.NewObject(map[string]variant.Value{
		"id":        variant.NewString(e.ID),
		"type":      variant.NewString(e.Type),
		"source":    variant.NewString(e.Source),
		"priority":  variant.NewInt(int64(e.Priority)),
		"payload":   e.Payload,
		"timestamp": variant.NewString(e.Timestamp.UTC().Format(time.RFC3339Nano)),
		"metadata":  variant.NewObject(meta),
	})
}

// pendingEvent wraps an event waiting in one of the timing queues.
type pendingEvent struct {
	event      *Event
	mode       DeliveryMode
	routing    comm.RoutingMode
	recipients []string
	enqueuedAt time.Time
}
