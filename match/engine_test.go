package match

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

func newBib(t *testing.T, source, remote string, idents ...types.Identifier) *types.BibRecord {
	t.Helper()
	bib := types.NewBibRecord(source, remote)
	bib.Identifiers = idents
	return &bib
}

func reconcile(t *testing.T, e *Engine, store Store, bib *types.BibRecord) []types.MatchPoint {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	mps, err := e.Reconcile(ctx, tx, bib)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return mps
}

func TestDeriveValue_Deterministic(t *testing.T) {
	a := DeriveValue("ISBN", "978-0-13-468599-1")
	b := DeriveValue("ISBN", "978-0-13-468599-1")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, DeriveValue("ISSN", "978-0-13-468599-1"),
		"namespace participates in the hash")
	assert.NotEqual(t, a, DeriveValue("ISBN", "978-0-13-468599-2"))
}

func TestDeriveValue_IndependentOfBib(t *testing.T) {
	e := NewEngine(slog.Default())

	one := newBib(t, "sierra-main", "b1", types.Identifier{Namespace: "ISBN", Value: "978-0-13-468599-1"})
	two := newBib(t, "polaris-east", "p9", types.Identifier{Namespace: "ISBN", Value: "978-0-13-468599-1"})

	mpsOne := e.Derive(one)
	mpsTwo := e.Derive(two)
	require.Len(t, mpsOne, 1)
	require.Len(t, mpsTwo, 1)

	assert.Equal(t, mpsOne[0].Value, mpsTwo[0].Value,
		"identical identifiers must hash identically regardless of owning bib")
	assert.NotEqual(t, mpsOne[0].BibID, mpsTwo[0].BibID)
}

func TestClassifyNamespace(t *testing.T) {
	assert.Equal(t, CertaintyHigh, ClassifyNamespace("ISBN"))
	assert.Equal(t, CertaintyHigh, ClassifyNamespace("ISBN-N"))
	assert.Equal(t, CertaintyHigh, ClassifyNamespace("isbn-13"))
	assert.Equal(t, CertaintyHigh, ClassifyNamespace("OCLC"))
	assert.Equal(t, CertaintyHigh, ClassifyNamespace("OCoLC"))
	assert.Equal(t, CertaintyHigh, ClassifyNamespace("LCCN"))
	assert.Equal(t, CertaintySecondary, ClassifyNamespace("GOLDRUSH"))
	assert.Equal(t, CertaintySecondary, ClassifyNamespace("BLOCKING_TITLE"))
	assert.Equal(t, CertaintyRejected, ClassifyNamespace("RANDOM-UNKNOWN"))
	assert.Equal(t, CertaintyRejected, ClassifyNamespace(""))
}

func TestDerive_NamespaceFiltering(t *testing.T) {
	e := NewEngine(slog.Default())

	bib := newBib(t, "sierra-main", "b1",
		types.Identifier{Namespace: "ISBN-N", Value: "978-0-13-468599-1"},
		types.Identifier{Namespace: "RANDOM-UNKNOWN", Value: "xyz"},
		types.Identifier{Namespace: "ISSN", Value: "   "},
		types.Identifier{Namespace: "", Value: "no-namespace"},
	)

	mps := e.Derive(bib)
	require.Len(t, mps, 1, "only the high-certainty, non-blank identifier yields a matchpoint")
	assert.Equal(t, DeriveValue("ISBN-N", "978-0-13-468599-1"), mps[0].Value)
	assert.Equal(t, bib.ID, mps[0].BibID)
}

func TestDerive_DuplicateIdentifiersCollapse(t *testing.T) {
	e := NewEngine(slog.Default())

	// The same ISBN in two fields (e.g. 020$a and 776$z) is one matchpoint.
	isbn := types.Identifier{Namespace: "ISBN", Value: "978-0-13-468599-1"}
	bib := newBib(t, "sierra-main", "b1", isbn, isbn)

	mps := e.Derive(bib)
	require.Len(t, mps, 1, "duplicate identifiers must collapse to one matchpoint")
	assert.Equal(t, DeriveValue("ISBN", "978-0-13-468599-1"), mps[0].Value)

	store := NewMemoryStore()
	derived := reconcile(t, e, store, bib)
	assert.Len(t, derived, 1)
	assert.Len(t, store.Snapshot(), 1, "only one row may be staged and persisted")
}

func TestDerive_KeyDeriverDuplicateCollapses(t *testing.T) {
	key := DeriveValue("ISBN", "978-0-13-468599-1")
	e := NewEngine(slog.Default(), WithKeyDeriver(staticKeys{
		points: []types.MatchPoint{{ID: uuid.New(), Value: key, SourceValue: "ISBN:978-0-13-468599-1"}},
	}))

	bib := newBib(t, "sierra-main", "b1",
		types.Identifier{Namespace: "ISBN", Value: "978-0-13-468599-1"})

	mps := e.Derive(bib)
	require.Len(t, mps, 1, "a record-level point duplicating an identifier point must collapse")
}

func TestReconcile_RequiresTransaction(t *testing.T) {
	e := NewEngine(slog.Default())
	bib := newBib(t, "sierra-main", "b1")

	_, err := e.Reconcile(context.Background(), nil, bib)
	assert.Error(t, err, "standalone reconcile must fail fast instead of opening its own transaction")
}

func TestReconcile_Idempotent(t *testing.T) {
	e := NewEngine(slog.Default())
	store := NewMemoryStore()

	bib := newBib(t, "sierra-main", "b1",
		types.Identifier{Namespace: "ISBN", Value: "978-0-13-468599-1"},
		types.Identifier{Namespace: "OCLC", Value: "ocm01234567"},
	)

	first := reconcile(t, e, store, bib)
	require.Len(t, first, 2)
	firstSnapshot := store.Snapshot()
	require.Len(t, firstSnapshot, 2)

	// Second pass with unchanged identifiers: zero inserts, zero deletes
	second := reconcile(t, e, store, bib)
	require.Len(t, second, 2)

	secondSnapshot := store.Snapshot()
	require.Len(t, secondSnapshot, 2)
	ids := func(mps []types.MatchPoint) map[uuid.UUID]struct{} {
		out := map[uuid.UUID]struct{}{}
		for _, mp := range mps {
			out[mp.ID] = struct{}{}
		}
		return out
	}
	assert.Equal(t, ids(firstSnapshot), ids(secondSnapshot),
		"unchanged matchpoint rows must not be rewritten")
}

func TestReconcile_SymmetricDifference(t *testing.T) {
	e := NewEngine(slog.Default())
	store := NewMemoryStore()

	// Persist {A, B, C}
	bib := newBib(t, "sierra-main", "b1",
		types.Identifier{Namespace: "ISBN", Value: "A"},
		types.Identifier{Namespace: "ISBN", Value: "B"},
		types.Identifier{Namespace: "ISBN", Value: "C"},
	)
	reconcile(t, e, store, bib)

	rowIDsByValue := func() map[uuid.UUID]uuid.UUID {
		out := map[uuid.UUID]uuid.UUID{}
		for _, mp := range store.Snapshot() {
			out[mp.Value] = mp.ID
		}
		return out
	}
	before := rowIDsByValue()

	// Re-derive {B, C, D}
	bib.Identifiers = []types.Identifier{
		{Namespace: "ISBN", Value: "B"},
		{Namespace: "ISBN", Value: "C"},
		{Namespace: "ISBN", Value: "D"},
	}
	reconcile(t, e, store, bib)

	after := rowIDsByValue()
	require.Len(t, after, 3)

	valueA := DeriveValue("ISBN", "A")
	valueD := DeriveValue("ISBN", "D")
	assert.NotContains(t, after, valueA, "A must be deleted")
	assert.Contains(t, after, valueD, "D must be inserted")

	for _, v := range []string{"B", "C"} {
		value := DeriveValue("ISBN", v)
		assert.Equal(t, before[value], after[value],
			"unchanged matchpoint %s must keep its row", v)
	}
}

func TestReconcile_IdentifierRemoved(t *testing.T) {
	e := NewEngine(slog.Default())
	store := NewMemoryStore()

	bib := newBib(t, "sierra-main", "b1",
		types.Identifier{Namespace: "ISBN", Value: "978-0-13-468599-1"},
	)
	reconcile(t, e, store, bib)
	require.Len(t, store.Snapshot(), 1)

	bib.Identifiers = nil
	mps := reconcile(t, e, store, bib)
	assert.Empty(t, mps)
	assert.Empty(t, store.Snapshot(), "matchpoints of removed identifiers must be deleted")
}

func TestFindCandidates_SharedISBN(t *testing.T) {
	e := NewEngine(slog.Default())
	store := NewMemoryStore()
	ctx := context.Background()

	isbn := types.Identifier{Namespace: "ISBN", Value: "978-0-13-468599-1"}
	one := newBib(t, "sierra-main", "b1", isbn)
	two := newBib(t, "polaris-east", "p9", isbn)

	mpsOne := reconcile(t, e, store, one)
	reconcile(t, e, store, two)

	values := []uuid.UUID{mpsOne[0].Value}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	hits, err := e.FindCandidates(ctx, tx, one, values)
	require.NoError(t, err)
	require.Len(t, hits, 1, "exactly the counterpart bib must be found")
	assert.Equal(t, two.ID, hits[0].BibID)

	// And symmetrically from the other side
	hits, err = e.FindCandidates(ctx, tx, two, values)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, one.ID, hits[0].BibID)
}

type staticKeys struct{ points []types.MatchPoint }

func (s staticKeys) MatchPoints(*types.BibRecord) []types.MatchPoint { return s.points }

func TestEngine_KeyDeriverExtensionPoint(t *testing.T) {
	key := DeriveValue("GOLDRUSH", "somefixedwidthkey")
	e := NewEngine(slog.Default(), WithKeyDeriver(staticKeys{
		points: []types.MatchPoint{{ID: uuid.New(), Value: key, SourceValue: "GOLDRUSH:somefixedwidthkey"}},
	}))

	bib := newBib(t, "sierra-main", "b1")
	mps := e.Derive(bib)
	require.Len(t, mps, 1)
	assert.Equal(t, key, mps[0].Value)
	assert.Equal(t, bib.ID, mps[0].BibID, "record-level matchpoints are stamped with the bib id")
}
