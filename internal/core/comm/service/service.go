package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plugmesh/plugmesh/internal/core/comm"
	"github.com/plugmesh/plugmesh/internal/core/observability/log"
	"github.com/plugmesh/plugmesh/pkg/variant"
)

// Handler answers one request. Panics are caught at the call boundary and
// surfaced as ErrSystem.
type Handler func(ctx context.Context, req variant.Value) (variant.Value, error)

// Future resolves exactly once with the response of an asynchronous call.
type Future struct {
	once     sync.Once
	done     chan struct{}
	val      variant.Value
	err      error
	deadline time.Time
}

func newFuture(deadline time.Time) *Future {
	return &Future{done: make(chan struct{}), deadline: deadline}
}

func (f *Future) resolve(val variant.Value, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

// Done is closed when the future has resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Get blocks until the future resolves or the context ends.
func (f *Future) Get(ctx context.Context) (variant.Value, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return variant.NullValue, fmt.Errorf("%w: awaiting async call", comm.ErrTimeoutExpired)
	}
}

// Registry is the named-service request/response layer: synchronous calls
// with per-call timeouts, future-based asynchronous calls, and a background
// sweep that resolves overdue futures with ErrTimeoutExpired.
type Registry struct {
	cfg comm.Config
	lg  log.Log

	mu       sync.RWMutex
	handlers map[string]Handler

	pmu     sync.Mutex
	pending map[string]*Future

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRegistry(cfg comm.Config, lg log.Log) *Registry {
	cfg = cfg.Normalize()
	if lg == nil {
		lg = log.Nop()
	}
	return &Registry{
		cfg:      cfg,
		lg:       lg.With(log.String("component", "service")),
		handlers: make(map[string]Handler),
		pending:  make(map[string]*Future),
		stop:     make(chan struct{}),
	}
}

// Register binds a handler to a service name. Names are first-come,
// first-served; a duplicate registration is rejected.
func (r *Registry) Register(name string, handler Handler) error {
	if name == "" || handler == nil {
		return fmt.Errorf("%w: service name and handler required", comm.ErrInvalidHandler)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %q", comm.ErrServiceExists, name)
	}
	r.handlers[name] = handler
	return nil
}

// Unregister removes a service binding.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; !exists {
		return fmt.Errorf("%w: service %q", comm.ErrNotFound, name)
	}
	delete(r.handlers, name)
	return nil
}

// List returns the registered service names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes a service synchronously. The handler runs on its own
// goroutine so a hung handler cannot stall the caller past the timeout.
func (r *Registry) Call(ctx context.Context, name string, req variant.Value, timeout time.Duration) (variant.Value, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return variant.NullValue, fmt.Errorf("%w: %q", comm.ErrServiceNotFound, name)
	}
	if timeout <= 0 {
		timeout = r.cfg.DefaultCallTimeout
	}

	type outcome struct {
		val variant.Value
		err error
	}
	resCh := make(chan outcome, 1)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	go func() {
		val, err := safeInvoke(callCtx, handler, req)
		resCh <- outcome{val, err}
	}()

	select {
	case out := <-resCh:
		return out.val, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return variant.NullValue, fmt.Errorf("%w: call to %q cancelled", comm.ErrTimeoutExpired, name)
		}
		return variant.NullValue, fmt.Errorf("%w: call to %q after %v", comm.ErrTimeoutExpired, name, timeout)
	}
}

// CallAsync performs the same call on a detached goroutine and returns a
// future. The future resolves with the response, or with ErrTimeoutExpired
// once its deadline passes, whichever happens first.
func (r *Registry) CallAsync(ctx context.Context, name string, req variant.Value, timeout time.Duration) *Future {
	if timeout <= 0 {
		timeout = r.cfg.DefaultCallTimeout
	}
	fut := newFuture(time.Now().Add(timeout))

	id := uuid.NewString()
	r.pmu.Lock()
	r.pending[id] = fut
	r.pmu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		val, err := r.Call(ctx, name, req, timeout)
		fut.resolve(val, err)
		r.pmu.Lock()
		delete(r.pending, id)
		r.pmu.Unlock()
	}()
	return fut
}

// Start launches the timeout sweep over outstanding async calls.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.RequestSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweepExpired()
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			}
		}
	}()
}

// Close stops the sweep and waits for outstanding call goroutines.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
	return nil
}

// sweepExpired resolves every overdue pending future with a timeout error.
func (r *Registry) sweepExpired() {
	now := time.Now()
	r.pmu.Lock()
	var expired []*Future
	for id, fut := range r.pending {
		if now.After(fut.deadline) {
			expired = append(expired, fut)
			delete(r.pending, id)
		}
	}
	r.pmu.Unlock()

	for _, fut := range expired {
		fut.resolve(variant.NullValue, fmt.Errorf("%w: pending call past deadline", comm.ErrTimeoutExpired))
	}
	if len(expired) > 0 {
		r.lg.Warn("expired pending service calls", log.Int("count", len(expired)))
	}
}

// safeInvoke runs a handler with panic recovery; the panic text travels back
// to the caller inside an ErrSystem.
func safeInvoke(ctx context.Context, handler Handler, req variant.Value) (val variant.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			val = variant.NullValue
			err = fmt.Errorf("%w: service handler panic: %v", comm.ErrSystem, rec)
		}
	}()
	return handler(ctx, req)
}
