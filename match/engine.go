package match

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub007/errors"
	"github.com/openlibraryenvironment/dcb-service-sub007/metric"
	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

// NamespaceMatchPoints is the UUID namespace for matchpoint value
// derivation. Fixed so values stay stable across processes and over time.
var NamespaceMatchPoints = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("matchpoints.dcb"))

// DeriveValue computes the deterministic matchpoint value for one
// identifier. It is a pure function of (namespace, identifierValue) - never
// of the owning bib.
func DeriveValue(namespace, identifierValue string) uuid.UUID {
	return uuid.NewSHA1(NamespaceMatchPoints,
		[]byte("MatchPoint:id:"+namespace+":"+identifierValue))
}

// KeyDeriver is the record-level matching extension point: it may derive
// additional matchpoints from the record itself (e.g. a Goldrush-style
// approximate key) rather than from its identifiers. The engine runs
// without one by default.
type KeyDeriver interface {
	MatchPoints(bib *types.BibRecord) []types.MatchPoint
}

// Engine derives matchpoints from bib identifiers and reconciles them
// against the persisted set.
type Engine struct {
	logger  *slog.Logger
	keys    KeyDeriver // nil = identifier-only matching
	metrics *metric.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeyDeriver enables a record-level matching strategy.
func WithKeyDeriver(kd KeyDeriver) Option {
	return func(e *Engine) { e.keys = kd }
}

// WithMetrics enables matchpoint metrics recording.
func WithMetrics(m *metric.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a matchpoint engine.
func NewEngine(logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Derive computes the candidate matchpoint set for a bib. Identifiers with
// a blank namespace or value are skipped with a log line; namespaces that
// classify as rejected yield nothing. The result is a set keyed by derived
// value: a bib carrying the same identifier in two fields yields one
// matchpoint. Every returned matchpoint is stamped with the bib's ID.
func (e *Engine) Derive(bib *types.BibRecord) []types.MatchPoint {
	points := make([]types.MatchPoint, 0, len(bib.Identifiers))
	seen := make(map[uuid.UUID]struct{}, len(bib.Identifiers))

	for _, ident := range bib.Identifiers {
		ns := strings.TrimSpace(ident.Namespace)
		value := strings.TrimSpace(ident.Value)
		if ns == "" || value == "" {
			e.logger.Debug("skipping incomplete identifier",
				"bib", bib.ID, "namespace", ident.Namespace)
			continue
		}

		if ClassifyNamespace(ns) == CertaintyRejected {
			continue
		}

		mpValue := DeriveValue(ns, value)
		if _, dup := seen[mpValue]; dup {
			continue
		}
		seen[mpValue] = struct{}{}

		points = append(points, types.MatchPoint{
			ID:          uuid.New(),
			Value:       mpValue,
			SourceValue: ns + ":" + value,
		})
	}

	if e.keys != nil {
		for _, mp := range e.keys.MatchPoints(bib) {
			if _, dup := seen[mp.Value]; dup {
				continue
			}
			seen[mp.Value] = struct{}{}
			points = append(points, mp)
		}
	}

	for i := range points {
		points[i].BibID = bib.ID
	}
	return points
}

// Reconcile derives the matchpoint set for bib and reconciles it against
// the persisted set inside the caller's transaction: persisted values no
// longer derived are deleted, newly derived values not yet persisted are
// inserted, and values present in both sets are left untouched.
//
// The full newly derived set is returned so the caller observes a result
// consistent with what was just computed, independent of any
// read-your-own-write guarantee on the store.
//
// A nil transaction fails fast: the engine never opens one on its own.
func (e *Engine) Reconcile(ctx context.Context, tx Tx, bib *types.BibRecord) ([]types.MatchPoint, error) {
	if tx == nil {
		return nil, errors.WrapInvalid(errors.ErrTxRequired, "Engine", "Reconcile", "transaction check")
	}

	start := time.Now()
	derived := e.Derive(bib)

	persisted, err := tx.MatchPointsFor(ctx, bib.ID)
	if err != nil {
		return nil, errors.Wrap(err, "Engine", "Reconcile", "load persisted matchpoints")
	}

	derivedValues := make(map[uuid.UUID]struct{}, len(derived))
	for _, mp := range derived {
		derivedValues[mp.Value] = struct{}{}
	}
	persistedValues := make(map[uuid.UUID]struct{}, len(persisted))
	for _, mp := range persisted {
		persistedValues[mp.Value] = struct{}{}
	}

	// Persisted values no longer derived are stale.
	var stale []uuid.UUID
	for _, mp := range persisted {
		if _, ok := derivedValues[mp.Value]; !ok {
			stale = append(stale, mp.Value)
		}
	}
	if len(stale) > 0 {
		if err := tx.Delete(ctx, bib.ID, stale); err != nil {
			return nil, errors.Wrap(err, "Engine", "Reconcile", "delete stale matchpoints")
		}
		e.logger.Debug("deleted stale matchpoints", "bib", bib.ID, "count", len(stale))
		if e.metrics != nil {
			e.metrics.RecordMatchPointsDeleted(len(stale))
		}
	}

	// Derived values not yet persisted are new.
	var fresh []types.MatchPoint
	for _, mp := range derived {
		if _, ok := persistedValues[mp.Value]; !ok {
			fresh = append(fresh, mp)
		}
	}
	if len(fresh) > 0 {
		if err := tx.Insert(ctx, fresh); err != nil {
			return nil, errors.Wrap(err, "Engine", "Reconcile", "insert new matchpoints")
		}
		if e.metrics != nil {
			e.metrics.RecordMatchPointsInserted(len(fresh))
		}
	}

	if e.metrics != nil {
		e.metrics.RecordReconcileDuration(time.Since(start))
	}
	return derived, nil
}

// FindCandidates returns every matchpoint owned by a bib other than the
// given one whose value is in valueSet. It runs in the caller's transaction
// so it composes with a reconcile in the same unit of work.
func (e *Engine) FindCandidates(ctx context.Context, tx Tx, bib *types.BibRecord, valueSet []uuid.UUID) ([]types.MatchPoint, error) {
	if tx == nil {
		return nil, errors.WrapInvalid(errors.ErrTxRequired, "Engine", "FindCandidates", "transaction check")
	}
	hits, err := tx.FindCandidates(ctx, bib.ID, valueSet)
	if err != nil {
		return nil, errors.Wrap(err, "Engine", "FindCandidates", "query candidate matchpoints")
	}
	return hits, nil
}
