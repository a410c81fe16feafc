package types

import (
	"context"
	"time"
)

// DefaultConcurrencyGroup is the group assigned to sources that do not
// declare one. The group registry always knows this group and treats its
// limit as unbounded unless configured otherwise.
const DefaultConcurrencyGroup = "default"

// Source is a named, independently togglable producer of raw ingest records
// for one Host LMS or external feed. Implementations live outside the core
// (Sierra, Polaris, Alma, FOLIO, OAI-PMH clients); the core only drives them.
//
// Fetch returns a channel of records and must honor both the context and the
// stop signal: once stop is closed the source must finish the record it is
// emitting, stop requesting further records, and close the channel. The
// since watermark is structural - the orchestrator passes nil and relies on
// downstream idempotent upsert for full re-ingestion.
type Source interface {
	Name() string
	Enabled() bool
	ConcurrencyGroup() string
	Fetch(ctx context.Context, since *time.Time, stop <-chan struct{}) (<-chan RawIngestRecord, error)
}

// SourceProvider exposes a collection of sources. Providers are registered
// explicitly at bootstrap; there is no runtime discovery.
type SourceProvider interface {
	Name() string
	Sources(ctx context.Context) ([]Source, error)
}
