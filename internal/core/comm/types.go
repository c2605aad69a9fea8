package comm

// Priority orders messages and gates typed-event delivery. Higher is more
// urgent.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 10
	PriorityHigh     Priority = 20
	PriorityCritical Priority = 30
)

// RoutingMode selects the candidate recipient set for a publish.
type RoutingMode uint8

const (
	// Broadcast delivers to every active subscription matching the type.
	Broadcast RoutingMode = iota
	// Unicast delivers to at most one explicitly named recipient.
	Unicast
	// Multicast delivers to the intersection of matches and the recipient set.
	Multicast
)

func (m RoutingMode) String() string {
	switch m {
	case Broadcast:
		return "broadcast"
	case Unicast:
		return "unicast"
	case Multicast:
		return "multicast"
	default:
		return "unknown"
	}
}

// VoidType is the reserved message type no subscription may bind to.
const VoidType = "void"
