package mux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name  string
	group string
}

type record struct {
	source string
	seq    int
}

func groupOf(s fakeSource) string { return s.group }

// emit returns an open function that emits n records per source with a
// small delay so subscriptions overlap in time.
func emit(n int, delay time.Duration, active *int64, maxActive *int64) func(context.Context, fakeSource) (<-chan record, error) {
	return func(ctx context.Context, s fakeSource) (<-chan record, error) {
		ch := make(chan record)
		go func() {
			defer close(ch)
			cur := atomic.AddInt64(active, 1)
			for {
				prev := atomic.LoadInt64(maxActive)
				if cur <= prev || atomic.CompareAndSwapInt64(maxActive, prev, cur) {
					break
				}
			}
			defer atomic.AddInt64(active, -1)

			for i := 0; i < n; i++ {
				if delay > 0 {
					time.Sleep(delay)
				}
				select {
				case ch <- record{source: s.name, seq: i}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}
}

func limits(m map[string]int) func(string) int {
	return func(key string) int { return m[key] }
}

func drain(ch <-chan record) []record {
	var out []record
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func TestSubscribe_ZeroSources(t *testing.T) {
	out := Subscribe(context.Background(), nil, groupOf, limits(nil),
		func(context.Context, fakeSource) (<-chan record, error) { return nil, nil },
		Hooks[fakeSource]{})

	select {
	case _, ok := <-out:
		assert.False(t, ok, "channel must be closed with no elements")
	case <-time.After(time.Second):
		t.Fatal("empty multiplexer did not close its output")
	}
}

func TestSubscribe_MergesAllRecords(t *testing.T) {
	sources := []fakeSource{
		{name: "sierra-main", group: "default"},
		{name: "polaris-east", group: "default"},
		{name: "folio-west", group: "default"},
	}

	var active, maxActive int64
	out := Subscribe(context.Background(), sources, groupOf, limits(nil),
		emit(10, 0, &active, &maxActive), Hooks[fakeSource]{})

	records := drain(out)
	assert.Len(t, records, 30)

	counts := map[string]int{}
	for _, r := range records {
		counts[r.source]++
	}
	for _, s := range sources {
		assert.Equal(t, 10, counts[s.name])
	}
}

func TestSubscribe_PerSourceOrderPreserved(t *testing.T) {
	sources := []fakeSource{
		{name: "a", group: "default"},
		{name: "b", group: "default"},
	}

	var active, maxActive int64
	out := Subscribe(context.Background(), sources, groupOf, limits(nil),
		emit(50, 0, &active, &maxActive), Hooks[fakeSource]{})

	next := map[string]int{}
	for r := range out {
		assert.Equal(t, next[r.source], r.seq,
			"records from one source must arrive in emission order")
		next[r.source]++
	}
	assert.Equal(t, 50, next["a"])
	assert.Equal(t, 50, next["b"])
}

func TestSubscribe_ConcurrencyBoundRespected(t *testing.T) {
	var sources []fakeSource
	for i := 0; i < 5; i++ {
		sources = append(sources, fakeSource{name: fmt.Sprintf("src-%d", i), group: "bounded"})
	}

	var active, maxActive int64
	out := Subscribe(context.Background(), sources, groupOf,
		limits(map[string]int{"bounded": 2}),
		emit(5, 2*time.Millisecond, &active, &maxActive), Hooks[fakeSource]{})

	records := drain(out)
	assert.Len(t, records, 25)
	assert.LessOrEqual(t, maxActive, int64(2),
		"no more than 2 sources of a limit-2 group may be active at once")
}

func TestSubscribe_UnboundedGroupNotConstrainedBySibling(t *testing.T) {
	// 3 sources in an unbounded group; each blocks until all 3 are
	// subscribed. The test only completes if the group really is unbounded.
	sources := []fakeSource{
		{name: "u1", group: "open"},
		{name: "u2", group: "open"},
		{name: "u3", group: "open"},
	}

	var ready sync.WaitGroup
	ready.Add(3)
	open := func(ctx context.Context, s fakeSource) (<-chan record, error) {
		ch := make(chan record)
		go func() {
			defer close(ch)
			ready.Done()
			ready.Wait() // rendezvous: requires all 3 active concurrently
			ch <- record{source: s.name}
		}()
		return ch, nil
	}

	out := Subscribe(context.Background(), sources, groupOf,
		limits(map[string]int{"bounded": 1, "open": 0}), open, Hooks[fakeSource]{})

	done := make(chan []record, 1)
	go func() { done <- drain(out) }()

	select {
	case records := <-done:
		assert.Len(t, records, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("unbounded group appears to be constrained")
	}
}

func TestSubscribe_SingleSourceGroupIgnoresLimit(t *testing.T) {
	sources := []fakeSource{{name: "solo", group: "tight"}}

	var active, maxActive int64
	out := Subscribe(context.Background(), sources, groupOf,
		limits(map[string]int{"tight": 1}),
		emit(10, 0, &active, &maxActive), Hooks[fakeSource]{})

	assert.Len(t, drain(out), 10)
}

func TestSubscribe_SourceErrorDoesNotCancelSiblings(t *testing.T) {
	sources := []fakeSource{
		{name: "healthy-1", group: "default"},
		{name: "broken", group: "other"},
		{name: "healthy-2", group: "default"},
	}

	var active, maxActive int64
	healthy := emit(10, 0, &active, &maxActive)
	open := func(ctx context.Context, s fakeSource) (<-chan record, error) {
		if s.name == "broken" {
			return nil, errors.New("host lms unreachable")
		}
		return healthy(ctx, s)
	}

	var mu sync.Mutex
	failures := map[string]error{}
	hooks := Hooks[fakeSource]{
		OnTerminate: func(s fakeSource, err error) {
			mu.Lock()
			failures[s.name] = err
			mu.Unlock()
		},
	}

	out := Subscribe(context.Background(), sources, groupOf, limits(nil), open, hooks)
	records := drain(out)

	assert.Len(t, records, 20, "records from healthy sources must survive a sibling failure")
	mu.Lock()
	defer mu.Unlock()
	assert.Error(t, failures["broken"])
	assert.NoError(t, failures["healthy-1"])
	assert.NoError(t, failures["healthy-2"])
}

func TestSubscribe_FailedSourceReleasesGroupSlot(t *testing.T) {
	// Group limit 1: the failing source must release its slot or the
	// second source never starts.
	sources := []fakeSource{
		{name: "broken", group: "serial"},
		{name: "after", group: "serial"},
	}

	var active, maxActive int64
	healthy := emit(3, 0, &active, &maxActive)
	open := func(ctx context.Context, s fakeSource) (<-chan record, error) {
		if s.name == "broken" {
			return nil, errors.New("boom")
		}
		return healthy(ctx, s)
	}

	out := Subscribe(context.Background(), sources, groupOf,
		limits(map[string]int{"serial": 1}), open, Hooks[fakeSource]{})

	done := make(chan []record, 1)
	go func() { done <- drain(out) }()

	select {
	case records := <-done:
		assert.Len(t, records, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("failed source did not release its concurrency slot")
	}
}

func TestSubscribe_HooksObserveEverySource(t *testing.T) {
	sources := []fakeSource{
		{name: "a", group: "default"},
		{name: "b", group: "default"},
	}

	var subscribed, terminated int64
	hooks := Hooks[fakeSource]{
		OnSubscribe: func(fakeSource) { atomic.AddInt64(&subscribed, 1) },
		OnTerminate: func(fakeSource, error) { atomic.AddInt64(&terminated, 1) },
	}

	var active, maxActive int64
	out := Subscribe(context.Background(), sources, groupOf, limits(nil),
		emit(2, 0, &active, &maxActive), hooks)
	drain(out)

	assert.Equal(t, int64(2), atomic.LoadInt64(&subscribed))
	assert.Equal(t, int64(2), atomic.LoadInt64(&terminated))
}

func TestSubscribe_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sources := []fakeSource{{name: "slow", group: "default"}}

	open := func(ctx context.Context, s fakeSource) (<-chan record, error) {
		ch := make(chan record)
		go func() {
			defer close(ch)
			for i := 0; ; i++ {
				select {
				case ch <- record{source: s.name, seq: i}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}

	out := Subscribe(ctx, sources, groupOf, limits(nil), open, Hooks[fakeSource]{})

	// Consume a few, then cancel; the stream must close promptly.
	for i := 0; i < 5; i++ {
		_, ok := <-out
		require.True(t, ok)
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("output not closed after cancellation")
		}
	}
}
