package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plugmesh/plugmesh/internal/core/comm"
)

// SubscriptionListener is notified after a subscription is added to or
// removed from the registry. Callbacks run outside the registry lock.
type SubscriptionListener interface {
	SubscriptionAdded(sub *Subscription)
	SubscriptionRemoved(sub *Subscription)
}

// Registry owns the canonical subscription set. Subscriptions live in a
// single backing arena keyed by id; the by-subscriber and by-type indices
// hold ids only, so an entry can never be present in one index and missing
// from another. One RWMutex guards all three structures.
type Registry struct {
	mu           sync.RWMutex
	arena        map[string]*Subscription
	bySubscriber map[string]map[string]struct{}
	byType       map[string][]string // insertion-ordered, drives delivery order

	listener SubscriptionListener
}

func NewRegistry(listener SubscriptionListener) *Registry {
	return &Registry{
		arena:        make(map[string]*Subscription),
		bySubscriber: make(map[string]map[string]struct{}),
		byType:       make(map[string][]string),
		listener:     listener,
	}
}

// Subscribe validates and registers a new subscription.
func (r *Registry) Subscribe(subscriberID, messageType string, handler Handler, filter Filter) (*Subscription, error) {
	if subscriberID == "" {
		return nil, fmt.Errorf("%w: empty subscriber id", comm.ErrInvalidHandler)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler", comm.ErrInvalidHandler)
	}
	if messageType == "" || messageType == comm.VoidType {
		return nil, fmt.Errorf("%w: message type %q not subscribable", comm.ErrInvalidHandler, messageType)
	}

	sub := &Subscription{
		id:           uuid.NewString(),
		subscriberID: subscriberID,
		messageType:  messageType,
		handler:      handler,
		filter:       filter,
		createdAt:    time.Now(),
	}
	sub.active.Store(true)
	sub.remove = func() { _ = r.Unsubscribe(sub.id) }

	r.mu.Lock()
	r.arena[sub.id] = sub
	if r.bySubscriber[subscriberID] == nil {
		r.bySubscriber[subscriberID] = make(map[string]struct{})
	}
	r.bySubscriber[subscriberID][sub.id] = struct{}{}
	r.byType[messageType] = append(r.byType[messageType], sub.id)
	r.mu.Unlock()

	if r.listener != nil {
		r.listener.SubscriptionAdded(sub)
	}
	return sub, nil
}

// Unsubscribe removes a subscription from all indices atomically. A second
// call on the same id reports ErrNotFound, never a crash.
func (r *Registry) Unsubscribe(id string) error {
	r.mu.Lock()
	sub, ok := r.arena[id]
	if ok {
		r.dropLocked(sub)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: subscription %s", comm.ErrNotFound, id)
	}
	sub.active.Store(false)
	if r.listener != nil {
		r.listener.SubscriptionRemoved(sub)
	}
	return nil
}

// UnsubscribeAll removes every subscription held by a subscriber and returns
// the count removed.
func (r *Registry) UnsubscribeAll(subscriberID string) int {
	r.mu.Lock()
	ids := r.bySubscriber[subscriberID]
	removed := make([]*Subscription, 0, len(ids))
	for id := range ids {
		if sub, ok := r.arena[id]; ok {
			r.dropLocked(sub)
			removed = append(removed, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range removed {
		sub.active.Store(false)
		if r.listener != nil {
			r.listener.SubscriptionRemoved(sub)
		}
	}
	return len(removed)
}

// ByType returns the subscriptions for a message type in registration order.
func (r *Registry) ByType(messageType string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byType[messageType]
	out := make([]*Subscription, 0, len(ids))
	for _, id := range ids {
		if sub, ok := r.arena[id]; ok {
			out = append(out, sub)
		}
	}
	return out
}

// BySubscriber returns every subscription held by a subscriber.
func (r *Registry) BySubscriber(subscriberID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.bySubscriber[subscriberID]))
	for id := range r.bySubscriber[subscriberID] {
		if sub, ok := r.arena[id]; ok {
			out = append(out, sub)
		}
	}
	return out
}

// Get looks a subscription up by id.
func (r *Registry) Get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.arena[id]
	return sub, ok
}

// Len reports the total subscription count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.arena)
}

// Counts reports per-type subscription counts and the unique subscriber count.
func (r *Registry) Counts() (perType map[string]int, subscribers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	perType = make(map[string]int, len(r.byType))
	for t, ids := range r.byType {
		if len(ids) > 0 {
			perType[t] = len(ids)
		}
	}
	return perType, len(r.bySubscriber)
}

// SweepIdle removes subscriptions that are inactive or idle beyond the
// timeout. Returns the number removed.
func (r *Registry) SweepIdle(idleTimeout time.Duration) int {
	cutoff := time.Now().Add(-idleTimeout)

	r.mu.Lock()
	var stale []*Subscription
	for _, sub := range r.arena {
		if !sub.IsActive() || sub.LastDelivery().Before(cutoff) {
			stale = append(stale, sub)
		}
	}
	for _, sub := range stale {
		r.dropLocked(sub)
	}
	r.mu.Unlock()

	for _, sub := range stale {
		sub.active.Store(false)
		if r.listener != nil {
			r.listener.SubscriptionRemoved(sub)
		}
	}
	return len(stale)
}

// dropLocked detaches a subscription from all three structures. Caller holds
// the write lock.
func (r *Registry) dropLocked(sub *Subscription) {
	delete(r.arena, sub.id)
	if set := r.bySubscriber[sub.subscriberID]; set != nil {
		delete(set, sub.id)
		if len(set) == 0 {
			delete(r.bySubscriber, sub.subscriberID)
		}
	}
	ids := r.byType[sub.messageType]
	for i, id := range ids {
		if id == sub.id {
			r.byType[sub.messageType] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byType[sub.messageType]) == 0 {
		delete(r.byType, sub.messageType)
	}
}
