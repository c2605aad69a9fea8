package bus

import (
	"sync/atomic"
	"time"
)

// Handler consumes one delivered message. A non-nil error counts the delivery
// as failed; it never aborts delivery to other subscribers.
type Handler func(msg *Message) error

// Filter decides per message whether a subscription wants it.
type Filter func(msg *Message) bool

// Subscription is a standing registration in the bus registry. The active
// flag is atomic: Cancel flips it immediately, physical removal from the
// indices happens under the registry write lock.
type Subscription struct {
	id           string
	subscriberID string
	messageType  string
	handler      Handler
	filter       Filter

	active       atomic.Bool
	delivered    atomic.Uint64
	failed       atomic.Uint64
	lastDelivery atomic.Int64 // unix nanos, zero until first delivery
	createdAt    time.Time

	remove func() // detaches from the registry indices
}

func (s *Subscription) ID() string           { return s.id }
func (s *Subscription) SubscriberID() string { return s.subscriberID }
func (s *Subscription) MessageType() string  { return s.messageType }
func (s *Subscription) IsActive() bool       { return s.active.Load() }
func (s *Subscription) Delivered() uint64    { return s.delivered.Load() }
func (s *Subscription) Failed() uint64       { return s.failed.Load() }
func (s *Subscription) CreatedAt() time.Time { return s.createdAt }

// LastDelivery returns the time of the most recent delivery attempt, or the
// creation time when nothing has been delivered yet.
func (s *Subscription) LastDelivery() time.Time {
	ns := s.lastDelivery.Load()
	if ns == 0 {
		return s.createdAt
	}
	return time.Unix(0, ns)
}

// Cancel deactivates the subscription and detaches it from the registry.
// In-flight deliveries that already passed the active check still complete.
// Multiple calls are safe.
func (s *Subscription) Cancel() {
	if !s.active.Swap(false) {
		return
	}
	if s.remove != nil {
		s.remove()
	}
}

// wants applies the active flag and the optional filter.
func (s *Subscription) wants(msg *Message) bool {
	if !s.active.Load() {
		return false
	}
	if s.filter != nil && !s.filter(msg) {
		return false
	}
	return true
}

func (s *Subscription) markDelivered(ok bool) {
	s.lastDelivery.Store(time.Now().UnixNano())
	if ok {
		s.delivered.Add(1)
	} else {
		s.failed.Add(1)
	}
}
