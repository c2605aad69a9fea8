package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plugmesh/plugmesh/internal/core/comm"
	"github.com/plugmesh/plugmesh/internal/core/observability/log"
	"github.com/plugmesh/plugmesh/pkg/sequence"
)

// DeliveryResult reports one delivery pass. Pending results come back from
// Queued/Deferred/Batched publishes, whose delivery happens on a later tick.
type DeliveryResult struct {
	EventID   string
	Mode      DeliveryMode
	Pending   bool
	Matched   int
	Delivered int
	Failed    int
	Outcomes  map[string]error // subscription id -> nil or failure
	Elapsed   time.Duration
}

// StatsSnapshot is the observability surface of the event system.
type StatsSnapshot struct {
	Subscriptions     int           `json:"subscriptions"`
	UniqueSubscribers int           `json:"unique_subscribers"`
	EventsPublished   uint64        `json:"events_published"`
	EventsDelivered   uint64        `json:"events_delivered"`
	EventsFailed      uint64        `json:"events_failed"`
	QueuedBacklog     int           `json:"queued_backlog"`
	DeferredBacklog   int           `json:"deferred_backlog"`
	BatchBacklog      int           `json:"batch_backlog"`
	AvgDeliveryTime   time.Duration `json:"avg_delivery_time"`
}

// System is the typed-event channel: string-typed pub/sub with four delivery
// timing modes driven by a single coordinating goroutine. Delivery is always
// synchronous per matched subscriber; there is no worker-pool branch here.
type System struct {
	cfg     comm.Config
	lg      log.Log
	journal *comm.Journal

	mu           sync.RWMutex
	arena        map[string]*Subscription
	byType       map[string][]string
	bySubscriber map[string]map[string]struct{}

	pmu      sync.Mutex
	queued   *sequence.Queue[*pendingEvent]
	deferred *sequence.Queue[*pendingEvent]
	batch    []*pendingEvent

	smu             sync.Mutex
	published       uint64
	delivered       uint64
	failed          uint64
	deliverySamples uint64
	avgDeliveryTime time.Duration

	hist *history

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg comm.Config, lg log.Log, journal *comm.Journal) *System {
	cfg = cfg.Normalize()
	if lg == nil {
		lg = log.Nop()
	}
	return &System{
		cfg:          cfg,
		lg:           lg.With(log.String("component", "events")),
		journal:      journal,
		arena:        make(map[string]*Subscription),
		byType:       make(map[string][]string),
		bySubscriber: make(map[string]map[string]struct{}),
		queued:       sequence.NewQueue[*pendingEvent](),
		deferred:     sequence.NewQueue[*pendingEvent](),
		hist:         newHistory(cfg.HistorySize),
		stop:         make(chan struct{}),
	}
}

// Subscribe registers a handler for an event type with a priority gate.
func (s *System) Subscribe(subscriberID, eventType string, handler Handler, filter Filter, minPriority comm.Priority) (string, error) {
	if subscriberID == "" {
		return "", fmt.Errorf("%w: empty subscriber id", comm.ErrInvalidHandler)
	}
	if handler == nil {
		return "", fmt.Errorf("%w: nil handler", comm.ErrInvalidHandler)
	}
	if eventType == "" {
		return "", fmt.Errorf("%w: empty event type", comm.ErrInvalidHandler)
	}

	sub := &Subscription{
		id:           uuid.NewString(),
		subscriberID: subscriberID,
		eventType:    eventType,
		handler:      handler,
		filter:       filter,
		minPriority:  minPriority,
		createdAt:    time.Now(),
	}
	sub.enabled.Store(true)

	s.mu.Lock()
	s.arena[sub.id] = sub
	s.byType[eventType] = append(s.byType[eventType], sub.id)
	if s.bySubscriber[subscriberID] == nil {
		s.bySubscriber[subscriberID] = make(map[string]struct{})
	}
	s.bySubscriber[subscriberID][sub.id] = struct{}{}
	s.mu.Unlock()

	return sub.id, nil
}

// Unsubscribe removes one registration by id.
func (s *System) Unsubscribe(id string) error {
	s.mu.Lock()
	sub, ok := s.arena[id]
	if ok {
		s.dropLocked(sub)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: event subscription %s", comm.ErrNotFound, id)
	}
	sub.enabled.Store(false)
	return nil
}

// UnsubscribeAll removes every registration of a subscriber and returns the
// count removed.
func (s *System) UnsubscribeAll(subscriberID string) int {
	s.mu.Lock()
	ids := s.bySubscriber[subscriberID]
	dropped := make([]*Subscription, 0, len(ids))
	for id := range ids {
		if sub, ok := s.arena[id]; ok {
			s.dropLocked(sub)
			dropped = append(dropped, sub)
		}
	}
	s.mu.Unlock()
	for _, sub := range dropped {
		sub.enabled.Store(false)
	}
	return len(dropped)
}

// Get looks up a subscription by id.
func (s *System) Get(id string) (*Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.arena[id]
	return sub, ok
}

func (s *System) dropLocked(sub *Subscription) {
	delete(s.arena, sub.id)
	ids := s.byType[sub.eventType]
	for i, id := range ids {
		if id == sub.id {
			s.byType[sub.eventType] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byType[sub.eventType]) == 0 {
		delete(s.byType, sub.eventType)
	}
	if set := s.bySubscriber[sub.subscriberID]; set != nil {
		delete(set, sub.id)
		if len(set) == 0 {
			delete(s.bySubscriber, sub.subscriberID)
		}
	}
}

// Publish records the event into history and dispatches it according to the
// delivery mode. Immediate events are delivered inline; the other modes
// return a pending result and are delivered on a later tick.
func (s *System) Publish(ev *Event, mode DeliveryMode, routing comm.RoutingMode, recipients ...string) (*DeliveryResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	switch mode {
	case Immediate, Queued, Deferred, Batched:
	default:
		return nil, fmt.Errorf("%w: unknown delivery mode %d", comm.ErrInvalidMessage, mode)
	}

	s.smu.Lock()
	s.published++
	s.smu.Unlock()

	s.hist.record(ev)
	if s.journal.Enabled() {
		s.journal.Append("event", ev.Record())
	}

	pe := &pendingEvent{event: ev, mode: mode, routing: routing, recipients: recipients, enqueuedAt: time.Now()}
	switch mode {
	case Immediate:
		return s.deliver(pe), nil
	case Queued:
		s.pmu.Lock()
		s.queued.Enqueue(pe)
		s.pmu.Unlock()
	case Deferred:
		s.pmu.Lock()
		s.deferred.Enqueue(pe)
		s.pmu.Unlock()
	case Batched:
		s.pmu.Lock()
		s.batch = append(s.batch, pe)
		s.pmu.Unlock()
	}
	return &DeliveryResult{EventID: ev.ID, Mode: mode, Pending: true}, nil
}

// deliver resolves matching subscriptions and invokes each handler
// synchronously, isolating per-handler failures.
func (s *System) deliver(pe *pendingEvent) *DeliveryResult {
	start := time.Now()
	ev := pe.event

	var allow map[string]struct{}
	if pe.routing == comm.Unicast || pe.routing == comm.Multicast {
		allow = make(map[string]struct{}, len(pe.recipients))
		for _, id := range pe.recipients {
			allow[id] = struct{}{}
		}
	}

	s.mu.RLock()
	ids := s.byType[ev.Type]
	matched := make([]*Subscription, 0, len(ids))
	for _, id := range ids {
		sub, ok := s.arena[id]
		if !ok {
			continue
		}
		if allow != nil {
			if _, want := allow[sub.subscriberID]; !want {
				continue
			}
		}
		matched = append(matched, sub)
	}
	s.mu.RUnlock()

	res := &DeliveryResult{
		EventID:  ev.ID,
		Mode:     pe.mode,
		Outcomes: make(map[string]error),
	}
	for _, sub := range matched {
		if !sub.matches(ev) {
			continue
		}
		res.Matched++
		err := s.invoke(sub, ev)
		res.Outcomes[sub.id] = err
		if err == nil {
			res.Delivered++
		} else {
			res.Failed++
			s.lg.Error("event delivery failed",
				log.String("subscription", sub.id),
				log.String("subscriber", sub.subscriberID),
				log.String("event", ev.ID),
				log.Error(err))
		}
	}
	res.Elapsed = time.Since(start)

	s.smu.Lock()
	s.delivered += uint64(res.Delivered)
	s.failed += uint64(res.Failed)
	if res.Matched > 0 {
		s.deliverySamples++
		s.avgDeliveryTime += (res.Elapsed - s.avgDeliveryTime) / time.Duration(s.deliverySamples)
	}
	s.smu.Unlock()
	return res
}

func (s *System) invoke(sub *Subscription, ev *Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: handler panic: %v", comm.ErrDeliveryFailed, rec)
		}
	}()
	return sub.handler(ev)
}

// Start launches the coordinating goroutine: a fast tick drains the queued
// and deferred FIFOs, a slow tick swaps out and delivers the batch list.
func (s *System) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fast := time.NewTicker(s.cfg.QueueTickInterval)
		slow := time.NewTicker(s.cfg.BatchTickInterval)
		defer fast.Stop()
		defer slow.Stop()
		for {
			select {
			case <-fast.C:
				s.drainQueued()
				s.drainDeferred()
			case <-slow.C:
				s.drainBatch()
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()
}

// Close stops the tick loop. Events still pending are not delivered.
func (s *System) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}

// drainQueued delivers up to QueueDrainLimit queued events, oldest first.
func (s *System) drainQueued() {
	for i := 0; i < s.cfg.QueueDrainLimit; i++ {
		s.pmu.Lock()
		pe, ok := s.queued.Dequeue()
		s.pmu.Unlock()
		if !ok {
			return
		}
		s.deliver(pe)
	}
}

// drainDeferred delivers deferred events whose delay elapsed. The FIFO keeps
// arrival order, so stopping at the first young event preserves relative age
// ordering.
func (s *System) drainDeferred() {
	cutoff := time.Now().Add(-s.cfg.DeferredDelay)
	for {
		s.pmu.Lock()
		pe, ok := s.deferred.Peek()
		if !ok || pe.enqueuedAt.After(cutoff) {
			s.pmu.Unlock()
			return
		}
		s.deferred.Dequeue()
		s.pmu.Unlock()
		s.deliver(pe)
	}
}

// drainBatch swaps the whole batch list out atomically and delivers every
// member in one pass.
func (s *System) drainBatch() {
	s.pmu.Lock()
	batch := s.batch
	s.batch = nil
	s.pmu.Unlock()
	for _, pe := range batch {
		s.deliver(pe)
	}
}

// History returns the retained event trees, oldest first.
func (s *System) History() []HistoryEntry { return s.hist.snapshot() }

// Stats returns the current observability snapshot.
func (s *System) Stats() StatsSnapshot {
	s.mu.RLock()
	subs := len(s.arena)
	uniq := len(s.bySubscriber)
	s.mu.RUnlock()

	s.pmu.Lock()
	queued := s.queued.Len()
	deferred := s.deferred.Len()
	batch := len(s.batch)
	s.pmu.Unlock()

	s.smu.Lock()
	defer s.smu.Unlock()
	return StatsSnapshot{
		Subscriptions:     subs,
		UniqueSubscribers: uniq,
		EventsPublished:   s.published,
		EventsDelivered:   s.delivered,
		EventsFailed:      s.failed,
		QueuedBacklog:     queued,
		DeferredBacklog:   deferred,
		BatchBacklog:      batch,
		AvgDeliveryTime:   s.avgDeliveryTime,
	}
}
