package match

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

func mp(bibID uuid.UUID, value string) types.MatchPoint {
	return types.MatchPoint{
		ID:          uuid.New(),
		Value:       DeriveValue("ISBN", value),
		BibID:       bibID,
		SourceValue: "ISBN:" + value,
	}
}

func TestMemoryStore_CommitAppliesStagedWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	bibID := uuid.New()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, []types.MatchPoint{mp(bibID, "A"), mp(bibID, "B")}))

	// Not visible outside the transaction before commit
	other, err := store.Begin(ctx)
	require.NoError(t, err)
	// Use a different bib to avoid blocking on the per-bib lock
	got, err := other.MatchPointsFor(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, other.Rollback())

	require.NoError(t, tx.Commit(ctx))
	assert.Len(t, store.Snapshot(), 2)
}

func TestMemoryStore_ReadYourOwnWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	bibID := uuid.New()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, []types.MatchPoint{mp(bibID, "A")}))

	got, err := tx.MatchPointsFor(ctx, bibID)
	require.NoError(t, err)
	assert.Len(t, got, 1, "staged inserts are visible within the transaction")
	require.NoError(t, tx.Rollback())

	assert.Empty(t, store.Snapshot(), "rollback discards staged writes")
}

func TestMemoryStore_DeleteHidesRowsInTx(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	bibID := uuid.New()

	seed, err := store.Begin(ctx)
	require.NoError(t, err)
	a, b := mp(bibID, "A"), mp(bibID, "B")
	require.NoError(t, seed.Insert(ctx, []types.MatchPoint{a, b}))
	require.NoError(t, seed.Commit(ctx))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Delete(ctx, bibID, []uuid.UUID{a.Value}))

	got, err := tx.MatchPointsFor(ctx, bibID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.Value, got[0].Value)

	require.NoError(t, tx.Commit(ctx))
	require.Len(t, store.Snapshot(), 1)
}

func TestMemoryStore_TxUnusableAfterCommit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.Error(t, tx.Commit(ctx))
	_, err = tx.MatchPointsFor(ctx, uuid.New())
	assert.Error(t, err)
	assert.NoError(t, tx.Rollback(), "rollback after commit is a no-op")
}

func TestMemoryStore_FindCandidatesExcludesSelf(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	self := uuid.New()
	peer := uuid.New()
	shared := mp(self, "SHARED")
	peerPoint := types.MatchPoint{ID: uuid.New(), Value: shared.Value, BibID: peer}

	seed, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, seed.Insert(ctx, []types.MatchPoint{shared, peerPoint}))
	require.NoError(t, seed.Commit(ctx))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	hits, err := tx.FindCandidates(ctx, self, []uuid.UUID{shared.Value})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, peer, hits[0].BibID)
}

func TestMemoryStore_ConcurrentDifferentBibs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bibID := uuid.New()
			tx, err := store.Begin(ctx)
			if !assert.NoError(t, err) {
				return
			}
			if !assert.NoError(t, tx.Insert(ctx, []types.MatchPoint{mp(bibID, bibID.String())})) {
				return
			}
			assert.NoError(t, tx.Commit(ctx))
		}()
	}
	wg.Wait()

	assert.Len(t, store.Snapshot(), n)
}

func TestMemoryStore_SameBibSerialized(t *testing.T) {
	// Two transactions over the same bib: the second must observe the
	// first's committed writes, not a stale snapshot.
	ctx := context.Background()
	store := NewMemoryStore()
	bibID := uuid.New()

	first, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Insert(ctx, []types.MatchPoint{mp(bibID, "A")}))

	secondDone := make(chan int, 1)
	go func() {
		second, err := store.Begin(ctx)
		if err != nil {
			secondDone <- -1
			return
		}
		got, err := second.MatchPointsFor(ctx, bibID) // blocks until first commits
		if err != nil {
			secondDone <- -1
			return
		}
		_ = second.Rollback()
		secondDone <- len(got)
	}()

	require.NoError(t, first.Commit(ctx))
	assert.Equal(t, 1, <-secondDone, "second tx must see the first tx's committed matchpoints")
}
