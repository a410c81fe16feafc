package match

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub007/errors"
	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

// MemoryStore is the in-memory reference implementation of Store. It keeps
// two indexes - by owning bib and by matchpoint value - and serializes
// transactions per bib with keyed locks, so concurrent reconciliation of
// different bibs runs in parallel while two transactions over the same bib
// cannot lose updates.
type MemoryStore struct {
	mu      sync.RWMutex
	byBib   map[uuid.UUID]map[uuid.UUID]types.MatchPoint // bibID -> value -> matchpoint
	byValue map[uuid.UUID]map[uuid.UUID]types.MatchPoint // value -> bibID -> matchpoint
	locks   *keyedLocks
}

// NewMemoryStore creates an empty in-memory matchpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byBib:   make(map[uuid.UUID]map[uuid.UUID]types.MatchPoint),
		byValue: make(map[uuid.UUID]map[uuid.UUID]types.MatchPoint),
		locks:   newKeyedLocks(),
	}
}

// Begin opens a transaction. Writes are staged and applied atomically at
// Commit; the per-bib lock is taken lazily on first access to a bib.
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	return &memTx{
		store:   s,
		inserts: make(map[uuid.UUID][]types.MatchPoint),
		deletes: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		held:    make(map[uuid.UUID]struct{}),
	}, nil
}

// Snapshot returns a copy of every persisted matchpoint, for tests and
// diagnostics.
func (s *MemoryStore) Snapshot() []types.MatchPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.MatchPoint
	for _, byValue := range s.byBib {
		for _, mp := range byValue {
			out = append(out, mp)
		}
	}
	return out
}

type memTx struct {
	store   *MemoryStore
	inserts map[uuid.UUID][]types.MatchPoint       // bibID -> staged inserts
	deletes map[uuid.UUID]map[uuid.UUID]struct{}   // bibID -> staged value deletions
	held    map[uuid.UUID]struct{}                 // bib locks held by this tx
	closed  bool
}

// lockBib acquires the per-bib lock once per transaction.
func (tx *memTx) lockBib(bibID uuid.UUID) {
	if _, ok := tx.held[bibID]; ok {
		return
	}
	tx.store.locks.Acquire(bibID)
	tx.held[bibID] = struct{}{}
}

func (tx *memTx) releaseLocks() {
	for bibID := range tx.held {
		tx.store.locks.Release(bibID)
	}
	tx.held = make(map[uuid.UUID]struct{})
}

func (tx *memTx) MatchPointsFor(_ context.Context, bibID uuid.UUID) ([]types.MatchPoint, error) {
	if tx.closed {
		return nil, errors.ErrTxClosed
	}
	tx.lockBib(bibID)

	tx.store.mu.RLock()
	committed := tx.store.byBib[bibID]
	out := make([]types.MatchPoint, 0, len(committed))
	for value, mp := range committed {
		if staged, ok := tx.deletes[bibID]; ok {
			if _, gone := staged[value]; gone {
				continue
			}
		}
		out = append(out, mp)
	}
	tx.store.mu.RUnlock()

	// Read-your-own-writes: staged inserts are visible within the tx.
	out = append(out, tx.inserts[bibID]...)
	return out, nil
}

func (tx *memTx) Insert(_ context.Context, points []types.MatchPoint) error {
	if tx.closed {
		return errors.ErrTxClosed
	}
	for _, mp := range points {
		tx.lockBib(mp.BibID)
		tx.inserts[mp.BibID] = append(tx.inserts[mp.BibID], mp)
	}
	return nil
}

func (tx *memTx) Delete(_ context.Context, bibID uuid.UUID, values []uuid.UUID) error {
	if tx.closed {
		return errors.ErrTxClosed
	}
	tx.lockBib(bibID)

	staged, ok := tx.deletes[bibID]
	if !ok {
		staged = make(map[uuid.UUID]struct{}, len(values))
		tx.deletes[bibID] = staged
	}
	for _, v := range values {
		staged[v] = struct{}{}
	}
	return nil
}

func (tx *memTx) FindCandidates(_ context.Context, bibID uuid.UUID, values []uuid.UUID) ([]types.MatchPoint, error) {
	if tx.closed {
		return nil, errors.ErrTxClosed
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	var hits []types.MatchPoint
	for _, value := range values {
		for owner, mp := range tx.store.byValue[value] {
			if owner == bibID {
				continue
			}
			hits = append(hits, mp)
		}
	}
	return hits, nil
}

func (tx *memTx) Commit(_ context.Context) error {
	if tx.closed {
		return errors.ErrTxClosed
	}
	tx.closed = true

	tx.store.mu.Lock()
	for bibID, values := range tx.deletes {
		for value := range values {
			delete(tx.store.byBib[bibID], value)
			if owners, ok := tx.store.byValue[value]; ok {
				delete(owners, bibID)
				if len(owners) == 0 {
					delete(tx.store.byValue, value)
				}
			}
		}
	}
	for bibID, points := range tx.inserts {
		byValue, ok := tx.store.byBib[bibID]
		if !ok {
			byValue = make(map[uuid.UUID]types.MatchPoint)
			tx.store.byBib[bibID] = byValue
		}
		for _, mp := range points {
			byValue[mp.Value] = mp

			owners, ok := tx.store.byValue[mp.Value]
			if !ok {
				owners = make(map[uuid.UUID]types.MatchPoint)
				tx.store.byValue[mp.Value] = owners
			}
			owners[bibID] = mp
		}
	}
	tx.store.mu.Unlock()

	tx.releaseLocks()
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	tx.inserts = nil
	tx.deletes = nil
	tx.releaseLocks()
	return nil
}

// keyedLocks provides one mutex per bib, created on demand and removed when
// no transaction holds or waits on it.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[uuid.UUID]*lockEntry)}
}

func (kl *keyedLocks) Acquire(key uuid.UUID) {
	kl.mu.Lock()
	entry, ok := kl.locks[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		kl.locks[key] = entry
	}
	entry.refs++
	kl.mu.Unlock()

	entry.sem <- struct{}{}
}

func (kl *keyedLocks) Release(key uuid.UUID) {
	kl.mu.Lock()
	entry, ok := kl.locks[key]
	if !ok {
		kl.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(kl.locks, key)
	}
	kl.mu.Unlock()

	<-entry.sem
}
