package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plugmesh/plugmesh/internal/core/comm"
	"github.com/plugmesh/plugmesh/pkg/variant"
)

// Message is the unit of transport on the bus. Immutable once published.
type Message struct {
	ID        string
	Type      string
	Sender    string
	Priority  comm.Priority
	Payload   variant.Value
	CreatedAt time.Time
}

// NewMessage builds a message with a fresh id and the current timestamp.
func NewMessage(msgType, sender string, payload variant.Value, priority comm.Priority) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Sender:    sender,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Validate rejects messages with empty identity fields.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", comm.ErrInvalidMessage)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: empty id", comm.ErrInvalidMessage)
	}
	if m.Type == "" {
		return fmt.Errorf("%w: empty type", comm.ErrInvalidMessage)
	}
	if m.Sender == "" {
		return fmt.Errorf("%w: empty sender", comm.ErrInvalidMessage)
	}
	return nil
}

// Record renders the message as a structured tree for the journal.
func (m *Message) Record() variant.Value {
	return variant.NewObject(map[string]variant.Value{
		"id":       variant.NewString(m.ID),
		"type":     variant.NewString(m.Type),
		"sender":   variant.NewString(m.Sender),
		"priority": variant.NewInt(int64(m.Priority)),
		"payload":  m.Payload,
		"created":  variant.NewString(m.CreatedAt.UTC().Format(time.RFC3339Nano)),
	})
}
