// Package bibstream is the ingestion-and-clustering core of a consortial
// resource-sharing broker. It pulls bibliographic records concurrently from a
// dynamically configured set of heterogeneous sources, normalizes them into
// canonical bib records, and resolves each record against previously seen
// records using deterministic, identifier-based matchpoints.
//
// # Architecture
//
// The core is a streaming pipeline built from small, independently testable
// packages:
//
//	┌─────────────────────────────────────┐
//	│       Ingestion Orchestrator        │  pass lifecycle, terminator,
//	│             (ingest)                │  transform chains
//	└─────────────────────────────────────┘
//	           ↓ drives
//	┌─────────────────────────────────────┐
//	│  Grouped Subscription Multiplexer   │  per-group bounded concurrency,
//	│          (mux + groups)             │  merged record stream
//	└─────────────────────────────────────┘
//	           ↓ emits
//	┌─────────────────────────────────────┐
//	│     Entity-Resolution Engine        │  matchpoint derivation and
//	│         (match + matchkey)          │  reconciliation
//	└─────────────────────────────────────┘
//
// Sources are tagged with a concurrency-group key; each group carries its own
// parallelism budget so a slow or rate-limited Host LMS cannot starve the
// rest of the consortium. Record streams from different sources interleave
// arbitrarily; within one source emission order is preserved end to end.
//
// Matchpoints are pure functions of (namespace, identifier value), so two
// bibs carrying the same ISBN always hash to the same matchpoint value
// regardless of which source reported them. Reconciliation is a symmetric
// difference against the persisted set: stale matchpoints are deleted, new
// ones inserted, unchanged ones never rewritten.
//
// # Failure model
//
// Every failure path degrades to "fewer records processed". A failing source
// is swallowed into an empty stream; a record that fails conversion or
// reconciliation is logged and dropped. A pass that hits every failure mode
// still completes and reports how many records it processed.
//
// Supporting packages: errors (classified error handling), metric
// (Prometheus registry and core metrics), config (platform configuration),
// natsclient (NATS connection and JetStream KV), health (per-source health
// monitoring), pkg/retry (exponential backoff).
package bibstream
