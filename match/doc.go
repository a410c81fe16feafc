// Package match implements the entity-resolution (matchpoint) engine.
//
// For each canonical bib record the engine derives a set of deterministic
// matchpoints from the record's identifiers, persists them through a
// caller-owned transaction, and reconciles the persisted set against the
// newly derived one: stale matchpoints are deleted, new ones inserted,
// unchanged ones never rewritten. Re-running reconciliation on an unmodified
// bib produces zero writes.
//
// Identifier namespaces are classified as high-certainty (standard numbers:
// ISBN, ISSN, LCCN, OCLC control numbers), secondary/blocking (weaker
// signals such as a Goldrush key or a normalized-title blocking key), or
// rejected. Only the first two yield matchpoints.
//
// A record-level (non-identifier) matching strategy is a pluggable
// KeyDeriver extension point and is disabled by default; identifier-based
// matching is the only active strategy.
//
// Two Store implementations are provided: an in-memory transactional store
// (the reference implementation) and a NATS JetStream KV-backed store whose
// per-bib compare-and-swap gives per-bib atomic reconciliation.
package match
