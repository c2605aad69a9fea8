package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plugmesh/plugmesh/internal/core/comm"
	"github.com/plugmesh/plugmesh/internal/core/observability/log"
	"github.com/plugmesh/plugmesh/pkg/concurrent"
)

// Observer receives bus lifecycle notifications. Callbacks run synchronously
// on the publishing goroutine and should return quickly.
type Observer interface {
	OnSubscriptionAdded(sub *Subscription)
	OnSubscriptionRemoved(sub *Subscription)
	OnPublish(msg *Message, matched int)
	OnDelivered(msg *Message, delivered, failed uint64, elapsed time.Duration)
}

// Receipt reports the outcome of one publish. For the asynchronous path the
// counters settle when Done is closed; Wait blocks until then.
type Receipt struct {
	MessageID string
	Matched   int
	Async     bool

	delivered atomic.Uint64
	failed    atomic.Uint64
	done      chan struct{}
}

func newReceipt(msgID string, matched int, async bool) *Receipt {
	return &Receipt{MessageID: msgID, Matched: matched, Async: async, done: make(chan struct{})}
}

func (r *Receipt) Delivered() uint64     { return r.delivered.Load() }
func (r *Receipt) Failed() uint64        { return r.failed.Load() }
func (r *Receipt) Done() <-chan struct{} { return r.done }

// Wait blocks until every delivery attempt settled or the context ends.
func (r *Receipt) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for delivery of %s", comm.ErrTimeoutExpired, r.MessageID)
	}
}

// Bus accepts messages, chooses a synchronous or pooled asynchronous delivery
// strategy, and records outcomes. Per-recipient failures are isolated: they
// are counted and logged but never abort delivery to the remaining
// recipients and never fail the publish call itself.
type Bus struct {
	cfg      comm.Config
	lg       log.Log
	registry *Registry
	router   *Router
	stats    *Stats
	journal  *comm.Journal

	obsMu     sync.RWMutex
	observers []Observer

	closed atomic.Bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New builds a bus with its own registry and router. The journal may be nil.
func New(cfg comm.Config, lg log.Log, journal *comm.Journal) *Bus {
	cfg = cfg.Normalize()
	if lg == nil {
		lg = log.Nop()
	}
	b := &Bus{
		cfg:     cfg,
		lg:      lg.With(log.String("component", "bus")),
		stats:   NewStats(cfg.WorkerPoolSize),
		journal: journal,
		stop:    make(chan struct{}),
	}
	b.registry = NewRegistry(b)
	b.router = NewRouter(b.registry)
	return b
}

// Registry exposes the subscription registry for direct management.
func (b *Bus) Registry() *Registry { return b.registry }

// Subscribe registers a handler for a message type.
func (b *Bus) Subscribe(subscriberID, messageType string, handler Handler, filter Filter) (*Subscription, error) {
	if b.closed.Load() {
		return nil, comm.ErrClosed
	}
	return b.registry.Subscribe(subscriberID, messageType, handler, filter)
}

// Unsubscribe cancels one subscription by id.
func (b *Bus) Unsubscribe(id string) error { return b.registry.Unsubscribe(id) }

// UnsubscribeAll cancels every subscription of a subscriber.
func (b *Bus) UnsubscribeAll(subscriberID string) int {
	return b.registry.UnsubscribeAll(subscriberID)
}

// Publish validates, routes and delivers a message. Matching zero
// subscribers is a soft outcome: the receipt reports Matched == 0 and the
// error is nil. Fewer matches than the async threshold are delivered
// sequentially on the caller goroutine in index order; at or above it,
// delivery fans out onto the bounded worker pool and the receipt settles
// asynchronously.
func (b *Bus) Publish(msg *Message, mode comm.RoutingMode, recipients ...string) (*Receipt, error) {
	if b.closed.Load() {
		return nil, comm.ErrClosed
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	b.stats.incPublished()
	if b.journal.Enabled() {
		b.journal.Append("message", msg.Record())
	}

	subs, err := b.router.FindSubscribers(msg, mode, recipients)
	if err != nil {
		if isNoSubscribers(err) {
			b.stats.incNoSubscribers()
			b.lg.Debug("no subscribers", log.String("type", msg.Type), log.String("id", msg.ID))
			rcpt := newReceipt(msg.ID, 0, false)
			close(rcpt.done)
			b.notifyPublish(msg, 0)
			return rcpt, nil
		}
		return nil, err
	}

	b.notifyPublish(msg, len(subs))

	if len(subs) >= b.cfg.AsyncThreshold {
		rcpt := newReceipt(msg.ID, len(subs), true)
		b.wg.Add(1)
		go b.deliverAsync(msg, subs, rcpt)
		return rcpt, nil
	}

	rcpt := newReceipt(msg.ID, len(subs), false)
	start := time.Now()
	for _, sub := range subs {
		b.deliverOne(msg, sub, rcpt)
	}
	close(rcpt.done)
	b.notifyDelivered(msg, rcpt, time.Since(start))
	return rcpt, nil
}

// deliverAsync fans deliveries out with at most WorkerPoolSize in flight and
// a real per-delivery timeout (the original design waited on each delivery
// without one).
func (b *Bus) deliverAsync(msg *Message, subs []*Subscription, rcpt *Receipt) {
	defer b.wg.Done()
	start := time.Now()

	concurrent.ForEachMute(subs, b.cfg.WorkerPoolSize, func(s *Subscription) {
		b.stats.workerStarted()
		defer b.stats.workerDone()
		b.deliverOneTimed(msg, s, rcpt)
	})

	close(rcpt.done)
	b.notifyDelivered(msg, rcpt, time.Since(start))
}

// deliverOneTimed bounds a single delivery by the configured timeout. The
// handler goroutine cannot be interrupted mid-flight; on overrun the attempt
// is settled as a failure immediately and a late handler result is dropped,
// so each attempt settles the receipt and statistics exactly once.
func (b *Bus) deliverOneTimed(msg *Message, sub *Subscription, rcpt *Receipt) {
	if !sub.wants(msg) {
		return
	}
	var settled atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		start := time.Now()
		err := invoke(sub.handler, msg)
		if settled.Swap(true) {
			return
		}
		b.settleDelivery(msg, sub, rcpt, err, time.Since(start))
	}()
	timer := time.NewTimer(b.cfg.DeliveryTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		if settled.Swap(true) {
			return
		}
		err := fmt.Errorf("%w: timed out after %v", comm.ErrDeliveryFailed, b.cfg.DeliveryTimeout)
		b.settleDelivery(msg, sub, rcpt, err, b.cfg.DeliveryTimeout)
	}
}

// deliverOne performs one delivery attempt with panic isolation.
func (b *Bus) deliverOne(msg *Message, sub *Subscription, rcpt *Receipt) {
	if !sub.wants(msg) {
		return
	}
	start := time.Now()
	err := invoke(sub.handler, msg)
	b.settleDelivery(msg, sub, rcpt, err, time.Since(start))
}

// settleDelivery records the outcome of one attempt on the subscription, the
// bus statistics and the receipt.
func (b *Bus) settleDelivery(msg *Message, sub *Subscription, rcpt *Receipt, err error, elapsed time.Duration) {
	ok := err == nil
	sub.markDelivered(ok)
	b.stats.recordDelivery(ok, elapsed)
	if ok {
		rcpt.delivered.Add(1)
		return
	}
	rcpt.failed.Add(1)
	b.lg.Error("delivery failed",
		log.String("subscription", sub.ID()),
		log.String("subscriber", sub.SubscriberID()),
		log.String("message", msg.ID),
		log.Error(err))
}

// invoke runs a handler, converting a panic into ErrDeliveryFailed.
func invoke(h Handler, msg *Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: handler panic: %v", comm.ErrDeliveryFailed, rec)
		}
	}()
	return h(msg)
}

// Stats returns the current observability snapshot.
func (b *Bus) Stats() StatsSnapshot {
	snap := b.stats.snapshot()
	perType, subscribers := b.registry.Counts()
	snap.PerType = perType
	snap.UniqueSubscribers = subscribers
	snap.TotalSubscriptions = b.registry.Len()
	active := 0
	for _, n := range perType {
		active += n
	}
	snap.ActiveSubscriptions = active
	return snap
}

// AddObserver registers a lifecycle observer.
func (b *Bus) AddObserver(obs Observer) {
	b.obsMu.Lock()
	b.observers = append(b.observers, obs)
	b.obsMu.Unlock()
}

// RemoveObserver unregisters a previously added observer.
func (b *Bus) RemoveObserver(obs Observer) {
	b.obsMu.Lock()
	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			break
		}
	}
	b.obsMu.Unlock()
}

// Start launches the periodic sweep that evicts inactive and idle
// subscriptions. It returns immediately.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := b.registry.SweepIdle(b.cfg.IdleTimeout); n > 0 {
					b.lg.Info("swept stale subscriptions", log.Int("count", n))
				}
			case <-ctx.Done():
				return
			case <-b.stop:
				return
			}
		}
	}()
}

// Close stops the sweep, waits for in-flight async deliveries and rejects
// further publishes.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	close(b.stop)
	b.wg.Wait()
	return nil
}

// SubscriptionAdded implements SubscriptionListener for the registry.
func (b *Bus) SubscriptionAdded(sub *Subscription) {
	b.obsMu.RLock()
	obs := b.observers
	b.obsMu.RUnlock()
	for _, o := range obs {
		o.OnSubscriptionAdded(sub)
	}
}

// SubscriptionRemoved implements SubscriptionListener for the registry.
func (b *Bus) SubscriptionRemoved(sub *Subscription) {
	b.obsMu.RLock()
	obs := b.observers
	b.obsMu.RUnlock()
	for _, o := range obs {
		o.OnSubscriptionRemoved(sub)
	}
}

func (b *Bus) notifyPublish(msg *Message, matched int) {
	b.obsMu.RLock()
	obs := b.observers
	b.obsMu.RUnlock()
	for _, o := range obs {
		o.OnPublish(msg, matched)
	}
}

func (b *Bus) notifyDelivered(msg *Message, rcpt *Receipt, elapsed time.Duration) {
	b.obsMu.RLock()
	obs := b.observers
	b.obsMu.RUnlock()
	for _, o := range obs {
		o.OnDelivered(msg, rcpt.Delivered(), rcpt.Failed(), elapsed)
	}
}

func isNoSubscribers(err error) bool {
	return errors.Is(err, comm.ErrNoSubscribers)
}
