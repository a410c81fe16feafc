// Package types defines the shared data model of the ingestion and
// clustering core: sources, raw ingest records, canonical bib records,
// identifiers, and matchpoints.
//
// The types here are deliberately free of behavior beyond identity
// derivation and metadata accessors so that every pipeline package can
// depend on them without cycles.
package types
