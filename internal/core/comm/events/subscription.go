package events

import (
	"sync/atomic"
	"time"

	"github.com/plugmesh/plugmesh/internal/core/comm"
)

// Handler consumes one delivered event.
type Handler func(ev *Event) error

// Filter decides per event whether a subscription wants it, applied after
// the priority gate.
type Filter func(ev *Event) bool

// Subscription is a typed-event registration. It is indexed independently of
// the message bus; the two systems never share storage.
type Subscription struct {
	id           string
	subscriberID string
	eventType    string
	handler      Handler
	filter       Filter
	minPriority  comm.Priority
	enabled      atomic.Bool
	createdAt    time.Time
}

func (s *Subscription) ID() string                 { return s.id }
func (s *Subscription) SubscriberID() string       { return s.subscriberID }
func (s *Subscription) EventType() string          { return s.eventType }
func (s *Subscription) MinPriority() comm.Priority { return s.minPriority }
func (s *Subscription) Enabled() bool              { return s.enabled.Load() }
func (s *Subscription) CreatedAt() time.Time       { return s.createdAt }

// Disable stops future deliveries without removing the registration.
func (s *Subscription) Disable() { s.enabled.Store(false) }

// Enable re-allows deliveries.
func (s *Subscription) Enable() { s.enabled.Store(true) }

// matches applies the enabled flag, the priority gate, and the filter.
func (s *Subscription) matches(ev *Event) bool {
	if !s.enabled.Load() {
		return false
	}
	if ev.Priority < s.minPriority {
		return false
	}
	if s.filter != nil && !s.filter(ev) {
		return false
	}
	return true
}
