package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats accumulates delivery counters under its own lock so the hot publish
// path never contends with the registry lock.
type Stats struct {
	mu              sync.Mutex
	published       uint64
	delivered       uint64
	failed          uint64
	noSubscribers   uint64
	deliverySamples uint64
	avgDeliveryTime time.Duration
	activeWorkers   atomic.Int64
	poolSize        int
}

func NewStats(poolSize int) *Stats {
	return &Stats{poolSize: poolSize}
}

// StatsSnapshot is the observability surface of the bus.
type StatsSnapshot struct {
	TotalSubscriptions  int            `json:"total_subscriptions"`
	ActiveSubscriptions int            `json:"active_subscriptions"`
	UniqueSubscribers   int            `json:"unique_subscribers"`
	PerType             map[string]int `json:"per_type"`
	MessagesPublished   uint64         `json:"messages_published"`
	MessagesDelivered   uint64         `json:"messages_delivered"`
	MessagesFailed      uint64         `json:"messages_failed"`
	NoSubscriberDrops   uint64         `json:"no_subscriber_drops"`
	AvgDeliveryTime     time.Duration  `json:"avg_delivery_time"`
	WorkerPoolSize      int            `json:"worker_pool_size"`
	ActiveWorkers       int64          `json:"active_workers"`
}

func (s *Stats) incPublished() {
	s.mu.Lock()
	s.published++
	s.mu.Unlock()
}

func (s *Stats) incNoSubscribers() {
	s.mu.Lock()
	s.noSubscribers++
	s.mu.Unlock()
}

// recordDelivery folds one delivery attempt into the counters and the running
// average delivery time.
func (s *Stats) recordDelivery(ok bool, elapsed time.Duration) {
	s.mu.Lock()
	if ok {
		s.delivered++
	} else {
		s.failed++
	}
	s.deliverySamples++
	s.avgDeliveryTime += (elapsed - s.avgDeliveryTime) / time.Duration(s.deliverySamples)
	s.mu.Unlock()
}

func (s *Stats) workerStarted() { s.activeWorkers.Add(1) }
func (s *Stats) workerDone()    { s.activeWorkers.Add(-1) }

func (s *Stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	out := StatsSnapshot{
		MessagesPublished: s.published,
		MessagesDelivered: s.delivered,
		MessagesFailed:    s.failed,
		NoSubscriberDrops: s.noSubscribers,
		AvgDeliveryTime:   s.avgDeliveryTime,
		WorkerPoolSize:    s.poolSize,
	}
	s.mu.Unlock()
	out.ActiveWorkers = s.activeWorkers.Load()
	return out
}
