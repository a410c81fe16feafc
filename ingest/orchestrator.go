// Package ingest drives one ingestion pass: it enumerates the registered
// source providers, fans the enabled sources through the grouped
// subscription multiplexer, applies the configured transform chains,
// converts raw records into canonical bib records, and reconciles each
// bib's matchpoints before re-emitting it.
package ingest

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync/atomic"

	"github.com/openlibraryenvironment/dcb-service-sub007/errors"
	"github.com/openlibraryenvironment/dcb-service-sub007/groups"
	"github.com/openlibraryenvironment/dcb-service-sub007/health"
	"github.com/openlibraryenvironment/dcb-service-sub007/match"
	"github.com/openlibraryenvironment/dcb-service-sub007/metric"
	"github.com/openlibraryenvironment/dcb-service-sub007/mux"
	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

// DefaultRecordLimit is the soft record-count threshold that triggers a
// graceful stop of the pass.
const DefaultRecordLimit = 100_000

// Chain registration names for the two well-known transform chains.
const (
	RawChainName = "raw-record"
	BibChainName = "bib"
)

// RecordService converts a raw ingest record into its canonical bib record.
// Implementations are expected to be idempotent keyed by the record's
// stable UUID (upsert semantics).
type RecordService interface {
	Process(ctx context.Context, rec types.RawIngestRecord) (types.BibRecord, error)
}

// ClusterNotifier is told about every successfully reconciled bib so an
// external clustering consumer (shared index, request router) can react.
// Notification failures are logged, never fatal.
type ClusterNotifier interface {
	NotifyClusterChange(ctx context.Context, bib types.BibRecord, points []types.MatchPoint) error
}

// Runner is the ingestion pass contract. Orchestrator implements it; the
// Instrumented decorator wraps it.
type Runner interface {
	Run(ctx context.Context) (<-chan types.BibRecord, error)
}

// Config wires an Orchestrator. Providers, Groups, Records, Engine and
// Store are required; everything else is optional.
type Config struct {
	Providers []types.SourceProvider
	Groups    *groups.Registry
	Records   RecordService
	Engine    *match.Engine
	Store     match.Store

	RawChain *Chain[types.RawIngestRecord]
	BibChain *Chain[types.BibRecord]

	// RecordLimit is the soft threshold; 0 means DefaultRecordLimit and a
	// negative value disables the threshold entirely.
	RecordLimit int64

	Logger   *slog.Logger
	Metrics  *metric.Metrics
	Health   *health.Monitor
	Notifier ClusterNotifier
}

// Orchestrator runs ingestion passes.
type Orchestrator struct {
	cfg     Config
	logger  *slog.Logger
	running atomic.Bool
}

// New validates the configuration and creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Groups == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Orchestrator", "New", "group registry check")
	}
	if cfg.Records == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Orchestrator", "New", "record service check")
	}
	if cfg.Engine == nil || cfg.Store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Orchestrator", "New", "matchpoint engine check")
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RawChain == nil {
		cfg.RawChain = NewChain[types.RawIngestRecord](RawChainName)
	}
	if cfg.BibChain == nil {
		cfg.BibChain = NewChain[types.BibRecord](BibChainName)
	}
	if cfg.RecordLimit == 0 {
		cfg.RecordLimit = DefaultRecordLimit
	}

	return &Orchestrator{cfg: cfg, logger: cfg.Logger}, nil
}

// Run executes one ingestion pass and returns the stream of canonical bib
// records it produced. The pass ends when every source is exhausted or when
// the record-count threshold fires the shared terminator; either way the
// returned channel is closed once the pass has quiesced.
//
// Only one pass may run at a time.
func (o *Orchestrator) Run(ctx context.Context) (<-chan types.BibRecord, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, errors.WrapInvalid(errors.ErrPassAlreadyRunning, "Orchestrator", "Run", "pass state check")
	}

	sources := o.enabledSources(ctx)
	term := NewTerminator()

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordPassStatus(metric.PassRunning)
	}

	merged := mux.Subscribe(ctx, sources,
		func(s types.Source) string { return s.ConcurrencyGroup() },
		o.cfg.Groups.LimitFor,
		func(ctx context.Context, s types.Source) (<-chan types.RawIngestRecord, error) {
			// Full re-fetch every pass: the since watermark is passed as
			// absent on purpose, relying on idempotent downstream upsert.
			return s.Fetch(ctx, nil, term.Done())
		},
		mux.Hooks[types.Source]{
			OnSubscribe: o.onSubscribe,
			OnTerminate: o.onTerminate,
		},
	)

	raw := o.cfg.RawChain.Apply(ctx, merged)
	counted := o.countAndTerminate(ctx, raw, term)
	bibs := o.convert(ctx, counted)
	out := o.cfg.BibChain.Apply(ctx, bibs)

	final := make(chan types.BibRecord)
	go func() {
		defer close(final)
		defer o.running.Store(false)
		defer func() {
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.RecordPassStatus(metric.PassIdle)
			}
		}()
		for bib := range out {
			select {
			case final <- bib:
			case <-ctx.Done():
				return
			}
		}
	}()
	return final, nil
}

// enabledSources flattens every provider's sources and filters out disabled
// ones. Provider failures degrade to "no sources from that provider".
func (o *Orchestrator) enabledSources(ctx context.Context) []types.Source {
	var enabled []types.Source
	for _, provider := range o.cfg.Providers {
		sources, err := provider.Sources(ctx)
		if err != nil {
			o.logger.Error("source provider failed, skipping",
				"provider", provider.Name(), "error", err)
			continue
		}
		for _, src := range sources {
			if !src.Enabled() {
				o.logger.Info("skipping disabled source", "source", src.Name())
				continue
			}
			enabled = append(enabled, src)
		}
	}
	o.logger.Info("ingestion pass starting", "sources", len(enabled))
	return enabled
}

func (o *Orchestrator) onSubscribe(s types.Source) {
	o.logger.Debug("source subscription started",
		"source", s.Name(), "group", s.ConcurrencyGroup())
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordSourceStarted(s.ConcurrencyGroup())
	}
}

func (o *Orchestrator) onTerminate(s types.Source, err error) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordSourceStopped(s.ConcurrencyGroup())
	}
	if err != nil && ctxUnrelated(err) {
		// Source-level failure: swallowed into an empty sub-stream so one
		// failing Host LMS cannot stop the rest of the pass.
		o.logger.Error("source subscription failed",
			"source", s.Name(), "error", err)
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordIngestError(s.Name(), "fetch")
		}
		if o.cfg.Health != nil {
			o.cfg.Health.UpdateUnhealthy(s.Name(), "fetch failed", err)
		}
		return
	}
	o.logger.Debug("source subscription complete", "source", s.Name())
	if o.cfg.Health != nil {
		o.cfg.Health.UpdateHealthy(s.Name(), "fetch complete")
	}
}

// ctxUnrelated filters cancellation noise out of failure handling: a source
// ending because the pass was cancelled is not a source failure.
func ctxUnrelated(err error) bool {
	return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
}

// countAndTerminate forwards records while counting them; the first record
// to reach the threshold fires the terminator, exactly once, regardless of
// how many records arrive afterwards while sources quiesce.
func (o *Orchestrator) countAndTerminate(ctx context.Context, in <-chan types.RawIngestRecord, term *Terminator) <-chan types.RawIngestRecord {
	out := make(chan types.RawIngestRecord)
	go func() {
		defer close(out)
		var seen int64
		for rec := range in {
			seen++
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.RecordIngested(rec.SourceSystemID)
				o.cfg.Metrics.RecordPassRecords(seen)
			}
			if o.cfg.RecordLimit > 0 && seen == o.cfg.RecordLimit {
				o.logger.Info("record threshold reached, terminating pass gracefully",
					"threshold", o.cfg.RecordLimit)
				term.Fire()
				if o.cfg.Metrics != nil {
					o.cfg.Metrics.RecordPassStatus(metric.PassTerminating)
				}
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// convert turns each raw record into its canonical bib and reconciles the
// bib's matchpoints inside one store transaction before emitting it. A
// record that fails either step is logged and dropped; the stream continues.
func (o *Orchestrator) convert(ctx context.Context, in <-chan types.RawIngestRecord) <-chan types.BibRecord {
	out := make(chan types.BibRecord)
	go func() {
		defer close(out)
		for rec := range in {
			bib, err := o.cfg.Records.Process(ctx, rec)
			if err != nil {
				o.logger.Error("record conversion failed, dropping record",
					"source", rec.SourceSystemID, "remote_id", rec.RemoteID, "error", err)
				if o.cfg.Metrics != nil {
					o.cfg.Metrics.RecordIngestError(rec.SourceSystemID, "convert")
				}
				continue
			}

			points, err := o.reconcile(ctx, &bib)
			if err != nil {
				o.logger.Error("matchpoint reconciliation failed, dropping record",
					"source", rec.SourceSystemID, "bib", bib.ID, "error", err)
				if o.cfg.Metrics != nil {
					o.cfg.Metrics.RecordIngestError(rec.SourceSystemID, "reconcile")
				}
				continue
			}

			if o.cfg.Notifier != nil {
				if err := o.cfg.Notifier.NotifyClusterChange(ctx, bib, points); err != nil {
					o.logger.Warn("cluster change notification failed",
						"bib", bib.ID, "error", err)
				}
			}

			select {
			case out <- bib:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// reconcile runs one bib's matchpoint reconciliation in its own store
// transaction, committing on success and rolling back on failure so a
// half-written matchpoint set is never left behind.
func (o *Orchestrator) reconcile(ctx context.Context, bib *types.BibRecord) ([]types.MatchPoint, error) {
	tx, err := o.cfg.Store.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Orchestrator", "reconcile", "begin transaction")
	}

	points, err := o.cfg.Engine.Reconcile(ctx, tx, bib)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, "Orchestrator", "reconcile", "commit transaction")
	}
	return points, nil
}
