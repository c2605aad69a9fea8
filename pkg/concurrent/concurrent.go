package concurrent

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ForEachLimit runs action for every element with at most limit goroutines in
// flight and waits for all of them. Errors are aggregated by errgroup: the
// first non-nil error is returned, but every action still runs.
func ForEachLimit[T any](ctx context.Context, items []T, limit int, action func(context.Context, T) error) error {
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		item := item
		g.Go(func() error {
			return action(gctx, item)
		})
	}
	return g.Wait()
}

// ForEachMute is ForEachLimit for actions whose errors are handled in-band by
// the action itself; it never fails and never cancels siblings.
func ForEachMute[T any](items []T, limit int, action func(T)) {
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, item := range items {
		item := item
		g.Go(func() error {
			action(item)
			return nil
		})
	}
	_ = g.Wait()
}

// FanOut invokes every handler with the value concurrently and waits.
func FanOut[T any](value T, handlers ...func(T)) {
	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(fn func(T)) {
			defer wg.Done()
			fn(value)
		}(h)
	}
	wg.Wait()
}
