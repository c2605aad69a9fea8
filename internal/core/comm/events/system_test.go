package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plugmesh/plugmesh/internal/core/comm"
	"github.com/plugmesh/plugmesh/pkg/variant"
)

func fastConfig() comm.Config {
	cfg := comm.DefaultConfig()
	cfg.QueueTickInterval = 5 * time.Millisecond
	cfg.BatchTickInterval = 20 * time.Millisecond
	cfg.DeferredDelay = 30 * time.Millisecond
	return cfg
}

func startedSystem(t *testing.T) *System {
	t.Helper()
	s := New(fastConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = s.Close()
	})
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestImmediateDelivery(t *testing.T) {
	s := New(fastConfig(), nil, nil)
	var hits atomic.Int64
	_, err := s.Subscribe("p1", "user.login", func(*Event) error {
		hits.Add(1)
		return nil
	}, nil, comm.PriorityLow)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	res, err := s.Publish(NewEvent("user.login", "auth", variant.NullValue, comm.PriorityNormal), Immediate, comm.Broadcast)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Pending || res.Delivered != 1 || hits.Load() != 1 {
		t.Fatalf("result = %+v, hits = %d", res, hits.Load())
	}
}

func TestPriorityGating(t *testing.T) {
	s := New(fastConfig(), nil, nil)
	var hits atomic.Int64
	_, _ = s.Subscribe("p1", "alert", func(*Event) error {
		hits.Add(1)
		return nil
	}, nil, comm.PriorityHigh)

	res, err := s.Publish(NewEvent("alert", "src", variant.NullValue, comm.PriorityNormal), Immediate, comm.Broadcast)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Matched != 0 || hits.Load() != 0 {
		t.Fatal("low-priority event delivered past a higher min_priority gate")
	}

	res, _ = s.Publish(NewEvent("alert", "src", variant.NullValue, comm.PriorityCritical), Immediate, comm.Broadcast)
	if res.Delivered != 1 {
		t.Fatalf("critical event not delivered: %+v", res)
	}
}

func TestFilterAndDisable(t *testing.T) {
	s := New(fastConfig(), nil, nil)
	var hits atomic.Int64
	id, _ := s.Subscribe("p1", "tick", func(*Event) error {
		hits.Add(1)
		return nil
	}, func(ev *Event) bool { return ev.Payload.Get("keep").Bool() }, comm.PriorityLow)

	keep := variant.NewObject(map[string]variant.Value{"keep": variant.NewBool(true)})
	drop := variant.NewObject(map[string]variant.Value{"keep": variant.NewBool(false)})
	_, _ = s.Publish(NewEvent("tick", "src", keep, comm.PriorityNormal), Immediate, comm.Broadcast)
	_, _ = s.Publish(NewEvent("tick", "src", drop, comm.PriorityNormal), Immediate, comm.Broadcast)
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}

	sub, _ := s.Get(id)
	sub.Disable()
	_, _ = s.Publish(NewEvent("tick", "src", keep, comm.PriorityNormal), Immediate, comm.Broadcast)
	if hits.Load() != 1 {
		t.Fatal("disabled subscription still delivered to")
	}
}

func TestQueuedDeliveryInOrder(t *testing.T) {
	s := startedSystem(t)
	var mu sync.Mutex
	var order []int64
	_, _ = s.Subscribe("p1", "seq", func(ev *Event) error {
		mu.Lock()
		order = append(order, ev.Payload.Get("n").Int64())
		mu.Unlock()
		return nil
	}, nil, comm.PriorityLow)

	for i := int64(0); i < 8; i++ {
		payload := variant.NewObject(map[string]variant.Value{"n": variant.NewInt(i)})
		res, err := s.Publish(NewEvent("seq", "src", payload, comm.PriorityNormal), Queued, comm.Broadcast)
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		if !res.Pending {
			t.Fatal("queued publish should be pending")
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 8
	})
	mu.Lock()
	defer mu.Unlock()
	for i, n := range order {
		if n != int64(i) {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
}

func TestDeferredRespectsDelay(t *testing.T) {
	s := startedSystem(t)
	var deliveredAt atomic.Int64
	_, _ = s.Subscribe("p1", "later", func(*Event) error {
		deliveredAt.Store(time.Now().UnixNano())
		return nil
	}, nil, comm.PriorityLow)

	published := time.Now()
	_, _ = s.Publish(NewEvent("later", "src", variant.NullValue, comm.PriorityNormal), Deferred, comm.Broadcast)

	waitFor(t, 2*time.Second, func() bool { return deliveredAt.Load() != 0 })
	elapsed := time.Duration(deliveredAt.Load() - published.UnixNano())
	if elapsed < 30*time.Millisecond {
		t.Fatalf("deferred event delivered after %v, want >= 30ms", elapsed)
	}
}

func TestUnknownModeLeavesNoTrace(t *testing.T) {
	s := New(fastConfig(), nil, nil)
	_, err := s.Publish(NewEvent("t", "src", variant.NullValue, comm.PriorityNormal), DeliveryMode(99), comm.Broadcast)
	if !errors.Is(err, comm.ErrInvalidMessage) {
		t.Fatalf("err = %v, want ErrInvalidMessage", err)
	}
	if got := s.Stats().EventsPublished; got != 0 {
		t.Fatalf("published = %d after rejected publish, want 0", got)
	}
	if hist := s.History(); len(hist) != 0 {
		t.Fatalf("history = %d entries after rejected publish, want 0", len(hist))
	}
}

func TestDeferredKeepsArrivalOrder(t *testing.T) {
	s := startedSystem(t)
	var mu sync.Mutex
	var order []int64
	_, _ = s.Subscribe("p1", "later", func(ev *Event) error {
		mu.Lock()
		order = append(order, ev.Payload.Get("n").Int64())
		mu.Unlock()
		return nil
	}, nil, comm.PriorityLow)

	// published back to back, so all become due on the same tick
	for i := int64(0); i < 5; i++ {
		payload := variant.NewObject(map[string]variant.Value{"n": variant.NewInt(i)})
		if _, err := s.Publish(NewEvent("later", "src", payload, comm.PriorityNormal), Deferred, comm.Broadcast); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	})
	mu.Lock()
	defer mu.Unlock()
	for i, n := range order {
		if n != int64(i) {
			t.Fatalf("order = %v, want enqueue order", order)
		}
	}
}

func TestBatchedDeliveredTogether(t *testing.T) {
	s := startedSystem(t)
	var hits atomic.Int64
	_, _ = s.Subscribe("p1", "bulk", func(*Event) error {
		hits.Add(1)
		return nil
	}, nil, comm.PriorityLow)

	for i := 0; i < 5; i++ {
		_, _ = s.Publish(NewEvent("bulk", "src", variant.NullValue, comm.PriorityNormal), Batched, comm.Broadcast)
	}
	waitFor(t, 2*time.Second, func() bool { return hits.Load() == 5 })
}

func TestHandlerPanicIsolated(t *testing.T) {
	s := New(fastConfig(), nil, nil)
	var hits atomic.Int64
	_, _ = s.Subscribe("bad", "x", func(*Event) error { panic("boom") }, nil, comm.PriorityLow)
	_, _ = s.Subscribe("good", "x", func(*Event) error {
		hits.Add(1)
		return nil
	}, nil, comm.PriorityLow)

	res, err := s.Publish(NewEvent("x", "src", variant.NullValue, comm.PriorityNormal), Immediate, comm.Broadcast)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Failed != 1 || res.Delivered != 1 || hits.Load() != 1 {
		t.Fatalf("result = %+v", res)
	}
	for _, outcome := range res.Outcomes {
		if outcome != nil && !errors.Is(outcome, comm.ErrDeliveryFailed) {
			t.Fatalf("panic outcome = %v, want ErrDeliveryFailed", outcome)
		}
	}
}

func TestMulticastRouting(t *testing.T) {
	s := New(fastConfig(), nil, nil)
	counts := map[string]*atomic.Int64{"a": {}, "b": {}}
	for id := range counts {
		c := counts[id]
		_, _ = s.Subscribe(id, "t", func(*Event) error {
			c.Add(1)
			return nil
		}, nil, comm.PriorityLow)
	}
	res, _ := s.Publish(NewEvent("t", "src", variant.NullValue, comm.PriorityNormal), Immediate, comm.Multicast, "b")
	if res.Delivered != 1 || counts["a"].Load() != 0 || counts["b"].Load() != 1 {
		t.Fatalf("a=%d b=%d res=%+v", counts["a"].Load(), counts["b"].Load(), res)
	}
}

func TestUnsubscribeAllCount(t *testing.T) {
	s := New(fastConfig(), nil, nil)
	_, _ = s.Subscribe("p1", "a", func(*Event) error { return nil }, nil, comm.PriorityLow)
	_, _ = s.Subscribe("p1", "b", func(*Event) error { return nil }, nil, comm.PriorityLow)
	_, _ = s.Subscribe("p2", "a", func(*Event) error { return nil }, nil, comm.PriorityLow)

	if n := s.UnsubscribeAll("p1"); n != 2 {
		t.Fatalf("removed = %d, want 2", n)
	}
	if snap := s.Stats(); snap.Subscriptions != 1 || snap.UniqueSubscribers != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestUnsubscribeIdempotentEvents(t *testing.T) {
	s := New(fastConfig(), nil, nil)
	id, _ := s.Subscribe("p1", "a", func(*Event) error { return nil }, nil, comm.PriorityLow)
	if err := s.Unsubscribe(id); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := s.Unsubscribe(id); !errors.Is(err, comm.ErrNotFound) {
		t.Fatalf("second unsubscribe: %v", err)
	}
}

func TestHistoryIndependentOfMatching(t *testing.T) {
	s := New(fastConfig(), nil, nil)
	// no subscriptions at all
	_, err := s.Publish(NewEvent("ghost", "src", variant.NewString("payload"), comm.PriorityNormal), Immediate, comm.Broadcast)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	hist := s.History()
	if len(hist) != 1 {
		t.Fatalf("history = %d entries, want 1", len(hist))
	}
	if hist[0].Record.Get("type").Str() != "ghost" {
		t.Fatalf("record = %v", hist[0].Record)
	}
	if hist[0].Fingerprint == 0 {
		t.Fatal("missing fingerprint")
	}
}

func TestHistoryBounded(t *testing.T) {
	cfg := fastConfig()
	cfg.HistorySize = 3
	s := New(cfg, nil, nil)
	for i := 0; i < 10; i++ {
		_, _ = s.Publish(NewEvent("e", "src", variant.NewInt(int64(i)), comm.PriorityNormal), Immediate, comm.Broadcast)
	}
	hist := s.History()
	if len(hist) != 3 {
		t.Fatalf("history = %d entries, want 3", len(hist))
	}
	if hist[2].Record.Get("payload").Int64() != 9 {
		t.Fatalf("newest entry = %v", hist[2].Record)
	}
}

func TestStatsAverages(t *testing.T) {
	s := New(fastConfig(), nil, nil)
	_, _ = s.Subscribe("p1", "t", func(*Event) error { return nil }, nil, comm.PriorityLow)
	for i := 0; i < 3; i++ {
		_, _ = s.Publish(NewEvent("t", "src", variant.NullValue, comm.PriorityNormal), Immediate, comm.Broadcast)
	}
	snap := s.Stats()
	if snap.EventsPublished != 3 || snap.EventsDelivered != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
