package types

import "github.com/google/uuid"

// MatchPoint is a single deterministic fingerprint tying one bib to one
// cluster-matching dimension. Two bibs sharing a matchpoint with equal Value
// are candidates for the same cluster.
//
// Value is a pure function of (namespace, identifier value) - never of the
// owning bib - so identical identifiers always hash identically regardless
// of which bib carries them. Matchpoints are insert/delete only; there is no
// update in place.
type MatchPoint struct {
	ID    uuid.UUID `json:"id"`
	Value uuid.UUID `json:"value"`
	BibID uuid.UUID `json:"bib_id"`

	// SourceValue is the human-readable string the hash was derived from.
	// Kept for observability only.
	SourceValue string `json:"source_value,omitempty"`
}
