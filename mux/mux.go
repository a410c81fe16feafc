// Package mux provides the grouped subscription multiplexer: it fans a
// heterogeneous set of sources, partitioned by concurrency group, into one
// merged output stream while bounding how many sources in each group are
// subscribed at once.
package mux

import (
	"context"
	"sync"
)

// Hooks carries per-source observability callbacks. They are purely
// diagnostic and must not affect ordering or backpressure. Either field may
// be nil.
type Hooks[T any] struct {
	// OnSubscribe fires when a source's subscription becomes active, i.e.
	// after its group slot has been acquired.
	OnSubscribe func(source T)

	// OnTerminate fires when a source's subscription ends, with the error
	// that ended it (nil on normal completion). The group slot is released
	// regardless of err, so one failing source cannot wedge its group.
	OnTerminate func(source T, err error)
}

// Subscribe partitions sources by group key, subscribes to each source's
// output stream with at most limitOf(group) concurrently active
// subscriptions per group (0 = unbounded), and merges everything into one
// output channel.
//
// Ordering: elements from different sources interleave arbitrarily;
// elements from the same source are forwarded in the order the source emits
// them. A bounded group does not guarantee which of its sources starts
// first.
//
// Failure: an error from open ends only that source's subscription - the
// hook observes it, the slot is released, and siblings (same group or
// otherwise) continue. Zero sources yields an immediately closed channel.
//
// The returned channel is closed once every subscription has terminated.
func Subscribe[T any, R any](
	ctx context.Context,
	sources []T,
	groupKeyOf func(T) string,
	limitOf func(string) int,
	open func(context.Context, T) (<-chan R, error),
	hooks Hooks[T],
) <-chan R {
	out := make(chan R)

	// Buffer all sources up front and partition by group. Sources are few
	// and cheap to enumerate; records are the high-volume stream.
	byGroup := make(map[string][]T)
	var order []string
	for _, src := range sources {
		key := groupKeyOf(src)
		if _, ok := byGroup[key]; !ok {
			order = append(order, key)
		}
		byGroup[key] = append(byGroup[key], src)
	}

	var wg sync.WaitGroup
	for _, key := range order {
		group := byGroup[key]

		// A nil semaphore means the group is unbounded.
		var sem chan struct{}
		if limit := limitOf(key); limit > 0 {
			sem = make(chan struct{}, limit)
		}

		for _, src := range group {
			wg.Add(1)
			go runSource(ctx, src, sem, out, open, hooks, &wg)
		}
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func runSource[T any, R any](
	ctx context.Context,
	src T,
	sem chan struct{},
	out chan<- R,
	open func(context.Context, T) (<-chan R, error),
	hooks Hooks[T],
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	if sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			terminate(hooks, src, ctx.Err())
			return
		}
	}

	if hooks.OnSubscribe != nil {
		hooks.OnSubscribe(src)
	}

	ch, err := open(ctx, src)
	if err != nil {
		terminate(hooks, src, err)
		return
	}

	for {
		select {
		case r, ok := <-ch:
			if !ok {
				terminate(hooks, src, nil)
				return
			}
			select {
			case out <- r:
			case <-ctx.Done():
				terminate(hooks, src, ctx.Err())
				return
			}
		case <-ctx.Done():
			terminate(hooks, src, ctx.Err())
			return
		}
	}
}

func terminate[T any](hooks Hooks[T], src T, err error) {
	if hooks.OnTerminate != nil {
		hooks.OnTerminate(src, err)
	}
}
