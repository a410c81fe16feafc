package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openlibraryenvironment/dcb-service-sub007/metric"
	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

// Instrumented decorates a Runner with per-source throughput counters
// (records per minute). It tees the single underlying stream - it never
// triggers a second, independent fetch - and does not alter ordering,
// backpressure, or termination semantics.
type Instrumented struct {
	next     Runner
	metrics  *metric.Metrics
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	counts map[string]int64 // per-source totals for the current pass
	window map[string]int64 // per-source counts within the current interval
}

// NewInstrumented wraps a runner. The throughput gauges are refreshed every
// interval; 0 means a 10 second refresh.
func NewInstrumented(next Runner, metrics *metric.Metrics, logger *slog.Logger, interval time.Duration) *Instrumented {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Instrumented{
		next:     next,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		counts:   make(map[string]int64),
		window:   make(map[string]int64),
	}
}

// Run starts the underlying pass and forwards its stream while counting
// records per source.
func (i *Instrumented) Run(ctx context.Context) (<-chan types.BibRecord, error) {
	in, err := i.next.Run(ctx)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.counts = make(map[string]int64)
	i.window = make(map[string]int64)
	i.mu.Unlock()

	out := make(chan types.BibRecord)
	done := make(chan struct{})

	go i.refreshLoop(ctx, done)

	go func() {
		defer close(out)
		defer close(done)
		for bib := range in {
			i.observe(bib.SourceSystemID)
			select {
			case out <- bib:
			case <-ctx.Done():
				return
			}
		}
		i.flush()
	}()

	return out, nil
}

// Counts returns a copy of the per-source record totals observed so far in
// the current pass.
func (i *Instrumented) Counts() map[string]int64 {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make(map[string]int64, len(i.counts))
	for source, n := range i.counts {
		out[source] = n
	}
	return out
}

func (i *Instrumented) observe(source string) {
	i.mu.Lock()
	i.counts[source]++
	i.window[source]++
	i.mu.Unlock()
}

// refreshLoop converts each interval's window counts into records/minute.
func (i *Instrumented) refreshLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			i.flush()
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (i *Instrumented) flush() {
	i.mu.Lock()
	window := i.window
	i.window = make(map[string]int64)
	i.mu.Unlock()

	scale := float64(time.Minute) / float64(i.interval)
	for source, n := range window {
		perMinute := float64(n) * scale
		i.logger.Debug("source throughput", "source", source, "records_per_minute", perMinute)
		if i.metrics != nil {
			i.metrics.RecordSourceThroughput(source, perMinute)
		}
	}
}
