package comm

import "errors"

// Shared error taxonomy for the communication core. Every public operation
// returns one of these (possibly wrapped with context); handler panics never
// cross the API boundary.
var (
	// Message and handler validation

	ErrInvalidMessage = errors.New("invalid message")
	ErrInvalidHandler = errors.New("invalid handler")

	// Routing and delivery

	ErrNoSubscribers  = errors.New("no subscribers for message type")
	ErrDeliveryFailed = errors.New("delivery failed")
	ErrTimeoutExpired = errors.New("timeout expired")

	// Generic internal failures

	ErrSystem          = errors.New("system error")
	ErrQueueFull       = errors.New("queue is full")
	ErrClosed          = errors.New("communication core is closed")
	ErrServiceExists   = errors.New("service already registered")
	ErrServiceNotFound = errors.New("service not found")
	ErrNotFound        = errors.New("not found")

	// Contract registry

	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrDuplicateContract    = errors.New("contract already registered")
	ErrIncompatibleVersion  = errors.New("incompatible version")
	ErrDependencyMissing    = errors.New("dependency missing")
)
