package bus

import (
	"fmt"

	"github.com/plugmesh/plugmesh/internal/core/comm"
)

// Router resolves the candidate subscription set for a message.
type Router struct {
	registry *Registry
}

func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// FindSubscribers returns the active subscriptions a message should reach, in
// registry index order. Unicast and Multicast intersect the match set with
// the supplied recipient ids. An empty result is ErrNoSubscribers.
func (r *Router) FindSubscribers(msg *Message, mode comm.RoutingMode, recipients []string) ([]*Subscription, error) {
	candidates := r.registry.ByType(msg.Type)

	var allow map[string]struct{}
	switch mode {
	case comm.Broadcast:
	case comm.Unicast, comm.Multicast:
		allow = make(map[string]struct{}, len(recipients))
		for _, id := range recipients {
			allow[id] = struct{}{}
		}
	default:
		return nil, fmt.Errorf("%w: unknown routing mode %d", comm.ErrInvalidMessage, mode)
	}

	out := make([]*Subscription, 0, len(candidates))
	for _, sub := range candidates {
		if !sub.wants(msg) {
			continue
		}
		if allow != nil {
			if _, ok := allow[sub.SubscriberID()]; !ok {
				continue
			}
		}
		out = append(out, sub)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: type %q", comm.ErrNoSubscribers, msg.Type)
	}
	return out, nil
}
