package match

import (
	"context"

	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

// Store opens transactions against the matchpoint store. Reconciliation
// never opens a transaction on its own: the caller owns the transaction so
// matchpoint writes stay atomic with whatever triggered re-processing of
// the bib.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one unit of work against the matchpoint store. Implementations must
// make the read-then-write reconciliation of a single bib atomic: two
// concurrent transactions touching the same bib must not lose updates.
// Transactions touching different bibs run in parallel.
//
// Reads within a transaction observe the transaction's own staged writes.
type Tx interface {
	// MatchPointsFor loads the currently persisted matchpoints of one bib.
	MatchPointsFor(ctx context.Context, bibID uuid.UUID) ([]types.MatchPoint, error)

	// Insert stages new matchpoint rows.
	Insert(ctx context.Context, points []types.MatchPoint) error

	// Delete stages removal of the given matchpoint values for one bib.
	Delete(ctx context.Context, bibID uuid.UUID, values []uuid.UUID) error

	// FindCandidates returns every matchpoint owned by a different bib
	// whose value is in the given set. This is the read path an external
	// clustering decision uses to find cluster co-members.
	FindCandidates(ctx context.Context, bibID uuid.UUID, values []uuid.UUID) ([]types.MatchPoint, error)

	// Commit applies the staged writes. The transaction is unusable after.
	Commit(ctx context.Context) error

	// Rollback discards the staged writes. Safe to call after Commit.
	Rollback() error
}
