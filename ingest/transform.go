package ingest

import (
	"context"
	"sync"
)

// Transform is one pluggable stream stage: it consumes an input channel and
// returns its output channel. Implementations must close their output when
// the input closes and must honor context cancellation.
type Transform[T any] func(ctx context.Context, in <-chan T) <-chan T

// Chain is a named, ordered list of transforms composed strictly in
// registration order. Two well-known chains exist per pass: one over raw
// ingest records, one over canonical bib records.
type Chain[T any] struct {
	mu     sync.Mutex
	name   string
	stages []Transform[T]
}

// NewChain creates an empty named chain.
func NewChain[T any](name string) *Chain[T] {
	return &Chain[T]{name: name}
}

// Name returns the chain's registration name.
func (c *Chain[T]) Name() string { return c.name }

// Append registers a transform at the end of the chain.
func (c *Chain[T]) Append(t Transform[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = append(c.stages, t)
}

// Len returns the number of registered transforms.
func (c *Chain[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stages)
}

// Apply composes every registered transform over in, in registration order.
// An empty chain returns in unchanged.
func (c *Chain[T]) Apply(ctx context.Context, in <-chan T) <-chan T {
	c.mu.Lock()
	stages := make([]Transform[T], len(c.stages))
	copy(stages, c.stages)
	c.mu.Unlock()

	out := in
	for _, stage := range stages {
		out = stage(ctx, out)
	}
	return out
}

// Limiter returns a transform that forwards at most n elements, then stops
// forwarding while continuing to drain its input so upstream stages are
// never blocked. Used by demo and test profiles to cap a pass.
func Limiter[T any](n int) Transform[T] {
	return func(ctx context.Context, in <-chan T) <-chan T {
		out := make(chan T)
		go func() {
			defer close(out)
			forwarded := 0
			for v := range in {
				if forwarded >= n {
					continue // drain
				}
				select {
				case out <- v:
					forwarded++
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}
